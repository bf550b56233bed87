package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

// FacultyApprovalRepository handles the advisor approval track, one
// upsertable row per (student, semester, year).
type FacultyApprovalRepository struct {
	db *sqlx.DB
}

// NewFacultyApprovalRepository constructs the repository.
func NewFacultyApprovalRepository(db *sqlx.DB) *FacultyApprovalRepository {
	return &FacultyApprovalRepository{db: db}
}

const approvalColumns = `id, student_id, semester, academic_year_id, faculty_id, status, note, submitted_at, decided_at`

// FindByTuple returns the approval row for one registration tuple.
func (r *FacultyApprovalRepository) FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FacultyRegistrationApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM faculty_registration_approvals
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3`
	var approval models.FacultyRegistrationApproval
	if err := r.db.GetContext(ctx, &approval, query, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ListPendingForFaculty returns open approval requests routed to an advisor.
func (r *FacultyApprovalRepository) ListPendingForFaculty(ctx context.Context, facultyID string) ([]models.FacultyRegistrationApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM faculty_registration_approvals
        WHERE faculty_id = $1 AND status = $2 ORDER BY submitted_at ASC`
	var approvals []models.FacultyRegistrationApproval
	if err := r.db.SelectContext(ctx, &approvals, query, facultyID, models.ApprovalStatusPending); err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return approvals, nil
}

// Submit upserts the tuple's row back to Pending, routed to the given
// advisor. A resubmission resets the existing row rather than inserting
// a duplicate.
func (r *FacultyApprovalRepository) Submit(ctx context.Context, approval *models.FacultyRegistrationApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.SubmittedAt.IsZero() {
		approval.SubmittedAt = time.Now().UTC()
	}
	approval.Status = models.ApprovalStatusPending
	approval.DecidedAt = nil

	const query = `INSERT INTO faculty_registration_approvals (id, student_id, semester, academic_year_id, faculty_id, status, note, submitted_at, decided_at)
        VALUES (:id, :student_id, :semester, :academic_year_id, :faculty_id, :status, :note, :submitted_at, :decided_at)
        ON CONFLICT (student_id, semester, academic_year_id)
        DO UPDATE SET faculty_id = EXCLUDED.faculty_id, status = EXCLUDED.status, note = NULL, submitted_at = EXCLUDED.submitted_at, decided_at = NULL`
	if _, err := r.db.NamedExecContext(ctx, query, approval); err != nil {
		return fmt.Errorf("submit faculty approval: %w", err)
	}
	return nil
}

// Decide records the advisor's verdict on the tuple's row.
func (r *FacultyApprovalRepository) Decide(ctx context.Context, tuple models.RegistrationTuple, status models.ApprovalStatus, note *string) error {
	const query = `UPDATE faculty_registration_approvals SET status = $4, note = $5, decided_at = NOW()
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3`
	res, err := r.db.ExecContext(ctx, query, tuple.StudentID, tuple.Semester, tuple.AcademicYearID, status, note)
	if err != nil {
		return fmt.Errorf("decide faculty approval: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("no approval row for student %s", tuple.StudentID)
	}
	return nil
}
