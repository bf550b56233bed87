package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

// FeeRepository handles persistence of fee transactions and their
// append-only approval audit trail.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository constructs the repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

const feeColumns = `id, student_id, semester, academic_year_id, reference_no, amount, status, submitted_at, updated_at`

// FindByID returns a fee transaction by its ID.
func (r *FeeRepository) FindByID(ctx context.Context, id string) (*models.FeeTransaction, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_transactions WHERE id = $1`
	var fee models.FeeTransaction
	if err := r.db.GetContext(ctx, &fee, query, id); err != nil {
		return nil, err
	}
	return &fee, nil
}

// FindLatestByTuple returns the most recent fee claim for a tuple.
func (r *FeeRepository) FindLatestByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FeeTransaction, error) {
	query := `SELECT ` + feeColumns + ` FROM fee_transactions
        WHERE student_id = $1 AND semester = $2 AND academic_year_id = $3
        ORDER BY submitted_at DESC LIMIT 1`
	var fee models.FeeTransaction
	if err := r.db.GetContext(ctx, &fee, query, tuple.StudentID, tuple.Semester, tuple.AcademicYearID); err != nil {
		return nil, err
	}
	return &fee, nil
}

// Create inserts a new Pending fee claim. The reference number carries
// a unique constraint; duplicates surface as a unique violation.
func (r *FeeRepository) Create(ctx context.Context, fee *models.FeeTransaction) error {
	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if fee.SubmittedAt.IsZero() {
		fee.SubmittedAt = now
	}
	fee.UpdatedAt = now
	if fee.Status == "" {
		fee.Status = models.FeeStatusPending
	}

	const query = `INSERT INTO fee_transactions (id, student_id, semester, academic_year_id, reference_no, amount, status, submitted_at, updated_at)
        VALUES (:id, :student_id, :semester, :academic_year_id, :reference_no, :amount, :status, :submitted_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fee); err != nil {
		return fmt.Errorf("create fee transaction: %w", err)
	}
	return nil
}

// Decide updates the transaction status and appends the admin decision
// to the audit trail in one transaction. Earlier approval rows are
// never mutated; a re-decision inserts a new row.
func (r *FeeRepository) Decide(ctx context.Context, approval *models.FeeApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.DecidedAt.IsZero() {
		approval.DecidedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fee decision tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE fee_transactions SET status = $2, updated_at = NOW() WHERE id = $1`, approval.TransactionID, approval.Decision); err != nil {
		return fmt.Errorf("update fee status: %w", err)
	}

	const auditQuery = `INSERT INTO fee_approvals (id, transaction_id, admin_id, decision, note, decided_at)
        VALUES (:id, :transaction_id, :admin_id, :decision, :note, :decided_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, auditQuery, approval); err != nil {
		return fmt.Errorf("insert fee approval: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fee decision tx: %w", err)
	}
	return nil
}

// ListApprovals returns the audit trail for one transaction, oldest first.
func (r *FeeRepository) ListApprovals(ctx context.Context, transactionID string) ([]models.FeeApproval, error) {
	const query = `SELECT id, transaction_id, admin_id, decision, note, decided_at FROM fee_approvals WHERE transaction_id = $1 ORDER BY decided_at ASC`
	var approvals []models.FeeApproval
	if err := r.db.SelectContext(ctx, &approvals, query, transactionID); err != nil {
		return nil, fmt.Errorf("list fee approvals: %w", err)
	}
	return approvals, nil
}
