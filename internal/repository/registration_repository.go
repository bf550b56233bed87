package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

// FinalizeOutcome reports what the finalize transaction did.
type FinalizeOutcome struct {
	Finalized        bool
	AlreadyCompleted bool
	CompletedCourses int
	// SeatlessOfferings lists offerings whose conditional decrement was
	// a no-op because capacity ran out between selection and finalize.
	SeatlessOfferings []string
}

// RegistrationRepository owns the semester_registrations header and the
// multi-table transactions of the dual-approval workflow. Every write
// sequence here commits or rolls back as one unit.
type RegistrationRepository struct {
	db    *sqlx.DB
	seats *SeatLedger
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB, seats *SeatLedger) *RegistrationRepository {
	if seats == nil {
		seats = NewSeatLedger()
	}
	return &RegistrationRepository{db: db, seats: seats}
}

const registrationColumns = `id, student_id, semester, academic_year_id, status, created_at, updated_at`

// FindByTuple returns the registration header for one tuple.
func (r *RegistrationRepository) FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.SemesterRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM semester_registrations WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3`
	var registration models.SemesterRegistration
	if err := r.db.GetContext(ctx, &registration, query, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, err
	}
	return &registration, nil
}

// EnsureInProgress upserts the header to In Progress for the tuple.
func (r *RegistrationRepository) EnsureInProgress(ctx context.Context, tuple models.RegistrationTuple) error {
	return r.ensureInProgress(ctx, r.db, tuple)
}

func (r *RegistrationRepository) ensureInProgress(ctx context.Context, ext sqlx.ExtContext, tuple models.RegistrationTuple) error {
	const query = `INSERT INTO semester_registrations (id, student_id, semester, academic_year_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        ON CONFLICT (student_id, semester, academic_year_id)
        DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
        WHERE semester_registrations.status <> 'Completed'`
	if _, err := ext.ExecContext(ctx, query, uuid.NewString(), tuple.StudentID, tuple.Semester, tuple.AcademicYearID, models.RegistrationStatusInProgress); err != nil {
		return fmt.Errorf("ensure registration header: %w", err)
	}
	return nil
}

// RegisterSelection lazily creates the In Progress header and inserts a
// Pending selection in one transaction. A Dropped row for the same
// offering is revived instead of duplicated; a row already Pending is
// left untouched.
func (r *RegistrationRepository) RegisterSelection(ctx context.Context, selection *models.CourseSelection) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin select tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tuple := models.RegistrationTuple{StudentID: selection.StudentID, Semester: selection.Semester, AcademicYearID: selection.AcademicYearID}
	if err = r.ensureInProgress(ctx, tx, tuple); err != nil {
		return err
	}

	if selection.ID == "" {
		selection.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if selection.SelectedAt.IsZero() {
		selection.SelectedAt = now
	}
	selection.UpdatedAt = now
	selection.Status = models.SelectionStatusPending
	selection.SeatConsumed = false

	const query = `INSERT INTO course_selections (id, student_id, offering_id, semester, academic_year_id, status, seat_consumed, selected_at, updated_at)
        VALUES (:id, :student_id, :offering_id, :semester, :academic_year_id, :status, :seat_consumed, :selected_at, :updated_at)
        ON CONFLICT (student_id, offering_id, semester, academic_year_id)
        DO UPDATE SET status = EXCLUDED.status, seat_consumed = EXCLUDED.seat_consumed, updated_at = EXCLUDED.updated_at
        WHERE course_selections.status = 'Dropped'`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, selection); err != nil {
		return fmt.Errorf("upsert selection: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit select tx: %w", err)
	}
	return nil
}

// Finalize runs the idempotent finalize-check for one tuple. It locks
// the registration header row, re-reads both approval tracks under the
// lock and, only when fee = Paid and faculty = Approved, moves every
// Pending selection to Completed, consumes seats and stamps the header
// Completed, all in one transaction. A second invocation finds no
// Pending rows (or an already Completed header) and writes nothing.
func (r *RegistrationRepository) Finalize(ctx context.Context, tuple models.RegistrationTuple, message string) (*FinalizeOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var header models.SemesterRegistration
	const lockQuery = `SELECT ` + registrationColumns + ` FROM semester_registrations
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 FOR UPDATE`
	if err = sqlx.GetContext(ctx, tx, &header, lockQuery, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, err
	}

	outcome := &FinalizeOutcome{}
	if header.Status == models.RegistrationStatusCompleted {
		outcome.AlreadyCompleted = true
		err = tx.Commit()
		if err != nil {
			return nil, fmt.Errorf("commit finalize tx: %w", err)
		}
		return outcome, nil
	}

	var feePaid bool
	const feeQuery = `SELECT EXISTS (SELECT 1 FROM fee_transactions WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 AND status = 'Paid')`
	if err = sqlx.GetContext(ctx, tx, &feePaid, feeQuery, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, fmt.Errorf("read fee status: %w", err)
	}

	var facultyApproved bool
	const facultyQuery = `SELECT EXISTS (SELECT 1 FROM faculty_registration_approvals WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 AND status = 'Approved')`
	if err = sqlx.GetContext(ctx, tx, &facultyApproved, facultyQuery, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, fmt.Errorf("read faculty approval: %w", err)
	}

	if !feePaid || !facultyApproved {
		err = tx.Commit()
		if err != nil {
			return nil, fmt.Errorf("commit finalize tx: %w", err)
		}
		return outcome, nil
	}

	type pendingRow struct {
		ID         string `db:"id"`
		OfferingID string `db:"offering_id"`
	}
	var pending []pendingRow
	const pendingQuery = `SELECT id, offering_id FROM course_selections
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 AND status = 'Pending' FOR UPDATE`
	if err = sqlx.SelectContext(ctx, tx, &pending, pendingQuery, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, fmt.Errorf("lock pending selections: %w", err)
	}

	for _, row := range pending {
		var consumed bool
		consumed, err = r.seats.TryDecrement(ctx, tx, row.OfferingID)
		if err != nil {
			return nil, err
		}
		if !consumed {
			outcome.SeatlessOfferings = append(outcome.SeatlessOfferings, row.OfferingID)
		}
		// seat_consumed is what a later drop consults before crediting
		// the pool, so it must record exactly what happened here.
		if _, err = tx.ExecContext(ctx, `UPDATE course_selections SET status = $2, seat_consumed = $3, updated_at = NOW() WHERE id = $1`, row.ID, models.SelectionStatusCompleted, consumed); err != nil {
			return nil, fmt.Errorf("complete selection: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE semester_registrations SET status = $2, updated_at = NOW() WHERE id = $1`, header.ID, models.RegistrationStatusCompleted); err != nil {
		return nil, fmt.Errorf("complete registration: %w", err)
	}

	if err = r.insertNotification(ctx, tx, tuple.StudentID, message, models.NotificationTypeRegistration); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize tx: %w", err)
	}

	outcome.Finalized = true
	outcome.CompletedCourses = len(pending)
	return outcome, nil
}

// RejectPending handles a faculty rejection: every Pending selection for
// the tuple moves to Dropped, the header becomes Failed and the student
// is notified. Seats were never consumed for Pending rows, so the
// ledger is untouched.
func (r *RegistrationRepository) RejectPending(ctx context.Context, tuple models.RegistrationTuple, message string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var headerID string
	const lockQuery = `SELECT id FROM semester_registrations WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 FOR UPDATE`
	if err = sqlx.GetContext(ctx, tx, &headerID, lockQuery, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE course_selections SET status = $4, updated_at = NOW()
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3 AND status = $5`,
		tuple.StudentID, tuple.Semester, tuple.AcademicYearID, models.SelectionStatusDropped, models.SelectionStatusPending); err != nil {
		return fmt.Errorf("drop pending selections: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE semester_registrations SET status = $2, updated_at = NOW() WHERE id = $1`, headerID, models.RegistrationStatusFailed); err != nil {
		return fmt.Errorf("fail registration: %w", err)
	}

	if err = r.insertNotification(ctx, tx, tuple.StudentID, message, models.NotificationTypeRegistration); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reject tx: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) insertNotification(ctx context.Context, ext sqlx.ExtContext, studentID, message string, kind models.NotificationType) error {
	const query = `INSERT INTO notifications (id, student_id, message, type, created_at) VALUES ($1, $2, $3, $4, NOW())`
	if _, err := ext.ExecContext(ctx, query, uuid.NewString(), studentID, message, kind); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
