package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

// SelectionRepository handles persistence of course selections.
type SelectionRepository struct {
	db    *sqlx.DB
	seats *SeatLedger
}

// NewSelectionRepository constructs the repository.
func NewSelectionRepository(db *sqlx.DB, seats *SeatLedger) *SelectionRepository {
	if seats == nil {
		seats = NewSeatLedger()
	}
	return &SelectionRepository{db: db, seats: seats}
}

const selectionColumns = `id, student_id, offering_id, semester, academic_year_id, status, seat_consumed, selected_at, updated_at`

// FindByStudentAndOffering returns the selection row for one claimed
// offering, regardless of status.
func (r *SelectionRepository) FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.CourseSelection, error) {
	query := `SELECT ` + selectionColumns + ` FROM course_selections WHERE student_id = $1 AND offering_id = $2`
	var selection models.CourseSelection
	if err := r.db.GetContext(ctx, &selection, query, studentID, offeringID); err != nil {
		return nil, err
	}
	return &selection, nil
}

// ListDetailsByTuple returns enriched selections for one registration tuple.
func (r *SelectionRepository) ListDetailsByTuple(ctx context.Context, tuple models.RegistrationTuple) ([]models.SelectionDetail, error) {
	const query = `SELECT cs.id, cs.student_id, cs.offering_id, cs.semester, cs.academic_year_id, cs.status, cs.seat_consumed, cs.selected_at, cs.updated_at,
        co.course_code, co.course_title, f.full_name AS faculty_name
        FROM course_selections cs
        JOIN course_offerings co ON co.id = cs.offering_id
        LEFT JOIN faculty f ON f.id = co.faculty_id
        WHERE cs.student_id = $1 AND cs.semester = $2 AND cs.academic_year_id = $3
        ORDER BY co.course_code ASC`
	var selections []models.SelectionDetail
	if err := r.db.SelectContext(ctx, &selections, query, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	return selections, nil
}

// DropPending releases a not-yet-finalized selection. Seats were never
// consumed for Pending rows, so the ledger is not touched.
func (r *SelectionRepository) DropPending(ctx context.Context, id string) error {
	const query = `UPDATE course_selections SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, models.SelectionStatusDropped, models.SelectionStatusPending)
	if err != nil {
		return fmt.Errorf("drop pending selection: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("selection %s not pending", id)
	}
	return nil
}

// DropCompleted releases a finalized selection and, when finalize
// actually consumed a seat for it, returns that seat in the same
// transaction. Seatless completions (pool was empty at finalize) never
// credit the ledger. The increment is capped at max_seats; when the
// offering is already full the status change still commits.
func (r *SelectionRepository) DropCompleted(ctx context.Context, id, offeringID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seatConsumed bool
	const query = `UPDATE course_selections SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3 RETURNING seat_consumed`
	if err = sqlx.GetContext(ctx, tx, &seatConsumed, query, id, models.SelectionStatusDropped, models.SelectionStatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("selection %s not completed", id)
		}
		return err
	}

	if seatConsumed {
		if _, err = r.seats.Increment(ctx, tx, offeringID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit drop tx: %w", err)
	}
	return nil
}
