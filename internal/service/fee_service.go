package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

type feeStore interface {
	FindByID(ctx context.Context, id string) (*models.FeeTransaction, error)
	FindLatestByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FeeTransaction, error)
	Create(ctx context.Context, fee *models.FeeTransaction) error
	Decide(ctx context.Context, approval *models.FeeApproval) error
	ListApprovals(ctx context.Context, transactionID string) ([]models.FeeApproval, error)
}

// registrationFinalizer is the slice of the coordinator the fee path
// needs: after a fee is marked Paid the finalize-check must run.
type registrationFinalizer interface {
	FinalizeCheck(ctx context.Context, tuple models.RegistrationTuple) error
}

// SubmitFeeRequest is a student's self-reported payment claim.
type SubmitFeeRequest struct {
	Semester    int     `json:"semester" validate:"required,gt=0"`
	ReferenceNo string  `json:"reference_no" validate:"required,min=4,max=64"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
}

// FeeDecisionRequest carries an admin verdict on one transaction.
type FeeDecisionRequest struct {
	Approve bool    `json:"approve"`
	Note    *string `json:"note,omitempty"`
}

// FeeService handles payment claims and the admin side of fee approval.
type FeeService struct {
	fees          feeStore
	students      studentReader
	years         currentYearProvider
	notifications notificationWriter
	finalizer     registrationFinalizer
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewFeeService constructs the fee workflow service.
func NewFeeService(
	fees feeStore,
	students studentReader,
	years currentYearProvider,
	notifications notificationWriter,
	finalizer registrationFinalizer,
	validate *validator.Validate,
	logger *zap.Logger,
) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeService{
		fees:          fees,
		students:      students,
		years:         years,
		notifications: notifications,
		finalizer:     finalizer,
		validator:     validate,
		logger:        logger,
	}
}

// SubmitFee records a Pending payment claim for the current academic
// year. A reference number that was ever used before is rejected with
// a conflict, regardless of which student submitted it.
func (s *FeeService) SubmitFee(ctx context.Context, userID string, req SubmitFeeRequest) (*models.FeeTransaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee payload")
	}

	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	year, err := s.years.Current(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current academic year")
	}

	fee := &models.FeeTransaction{
		StudentID:      student.ID,
		Semester:       req.Semester,
		AcademicYearID: year.ID,
		ReferenceNo:    req.ReferenceNo,
		Amount:         req.Amount,
	}
	if err := s.fees.Create(ctx, fee); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "reference number has already been used")
		}
		if repository.IsForeignKeyViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrIntegrity, "fee claim references unknown records")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record fee claim")
	}

	s.logger.Info("fee claim submitted",
		zap.String("student_id", student.ID),
		zap.Int("semester", req.Semester),
		zap.String("reference_no", req.ReferenceNo))
	return fee, nil
}

// Status returns the latest claim for the student's semester tuple.
func (s *FeeService) Status(ctx context.Context, userID string, semester int) (*models.FeeTransaction, error) {
	if semester <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester is required")
	}
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	year, err := s.years.Current(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current academic year")
	}
	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: semester, AcademicYearID: year.ID}
	fee, err := s.fees.FindLatestByTuple(ctx, tuple)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no fee claim for this semester")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee claim")
	}
	return fee, nil
}

// RecordDecision applies an admin verdict to one transaction. Marking
// the claim Paid runs the finalize-check for its tuple; rejection
// notifies the student so they can resubmit a corrected claim.
func (s *FeeService) RecordDecision(ctx context.Context, adminID, transactionID string, req FeeDecisionRequest) (*models.FeeTransaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	fee, err := s.fees.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee transaction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee transaction")
	}

	decision := models.FeeStatusRejected
	if req.Approve {
		decision = models.FeeStatusPaid
	}
	approval := &models.FeeApproval{
		TransactionID: fee.ID,
		AdminID:       adminID,
		Decision:      decision,
		Note:          req.Note,
	}
	if err := s.fees.Decide(ctx, approval); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record fee decision")
	}
	fee.Status = decision

	s.logger.Info("fee decision recorded",
		zap.String("transaction_id", fee.ID),
		zap.String("admin_id", adminID),
		zap.String("decision", string(decision)))

	tuple := models.RegistrationTuple{StudentID: fee.StudentID, Semester: fee.Semester, AcademicYearID: fee.AcademicYearID}
	if req.Approve {
		if err := s.finalizer.FinalizeCheck(ctx, tuple); err != nil {
			return nil, err
		}
		return fee, nil
	}

	notice := &models.Notification{
		StudentID: fee.StudentID,
		Message:   fmt.Sprintf("Your fee claim %s for semester %d was rejected. Please submit a corrected claim.", fee.ReferenceNo, fee.Semester),
		Type:      models.NotificationTypeFee,
	}
	if err := s.notifications.Create(ctx, notice); err != nil {
		s.logger.Error("failed to write fee rejection notice", zap.Error(err))
	}
	return fee, nil
}

// Audit returns the decision trail for one transaction.
func (s *FeeService) Audit(ctx context.Context, transactionID string) ([]models.FeeApproval, error) {
	approvals, err := s.fees.ListApprovals(ctx, transactionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee decisions")
	}
	return approvals, nil
}
