package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

type registrationStore interface {
	FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.SemesterRegistration, error)
	EnsureInProgress(ctx context.Context, tuple models.RegistrationTuple) error
	RegisterSelection(ctx context.Context, selection *models.CourseSelection) error
	Finalize(ctx context.Context, tuple models.RegistrationTuple, message string) (*repository.FinalizeOutcome, error)
	RejectPending(ctx context.Context, tuple models.RegistrationTuple, message string) error
}

type selectionStore interface {
	FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.CourseSelection, error)
	ListDetailsByTuple(ctx context.Context, tuple models.RegistrationTuple) ([]models.SelectionDetail, error)
	DropPending(ctx context.Context, id string) error
	DropCompleted(ctx context.Context, id, offeringID string) error
}

type offeringReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	FindFacultyByUserID(ctx context.Context, userID string) (*models.Faculty, error)
}

type approvalStore interface {
	FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FacultyRegistrationApproval, error)
	ListPendingForFaculty(ctx context.Context, facultyID string) ([]models.FacultyRegistrationApproval, error)
	Submit(ctx context.Context, approval *models.FacultyRegistrationApproval) error
	Decide(ctx context.Context, tuple models.RegistrationTuple, status models.ApprovalStatus, note *string) error
}

type feeReader interface {
	FindLatestByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FeeTransaction, error)
}

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type currentYearProvider interface {
	Current(ctx context.Context) (*models.AcademicYear, error)
}

type workflowMetrics interface {
	RegistrationFinalized()
	RegistrationFailed()
	SeatExhausted()
}

// SelectCourseRequest claims one offering for the current academic year.
type SelectCourseRequest struct {
	OfferingID string `json:"offering_id" validate:"required"`
}

// DropCourseRequest releases one claimed offering.
type DropCourseRequest struct {
	OfferingID string `json:"offering_id" validate:"required"`
}

// SubmitForApprovalRequest routes the registration to the advisor.
type SubmitForApprovalRequest struct {
	Semester int `json:"semester" validate:"required,gt=0"`
}

// FacultyDecisionRequest carries the advisor's verdict.
type FacultyDecisionRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	Semester  int     `json:"semester" validate:"required,gt=0"`
	Approve   bool    `json:"approve"`
	Note      *string `json:"note,omitempty"`
}

// tupleLocks serializes finalize per registration tuple so two approval
// events landing together cannot both run the completion sequence.
type tupleLocks struct {
	locks sync.Map
}

func (l *tupleLocks) lock(tuple models.RegistrationTuple) func() {
	key := fmt.Sprintf("%s|%d|%s", tuple.StudentID, tuple.Semester, tuple.AcademicYearID)
	v, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RegistrationService is the coordinator of the dual-approval workflow.
// It is the sole writer of registration status, selection transitions
// into and out of Completed, and offering seat counts.
type RegistrationService struct {
	registrations registrationStore
	selections    selectionStore
	offerings     offeringReader
	students      studentReader
	approvals     approvalStore
	fees          feeReader
	notifications notificationWriter
	years         currentYearProvider
	metrics       workflowMetrics
	validator     *validator.Validate
	logger        *zap.Logger
	finalizeLocks tupleLocks
}

// NewRegistrationService constructs the coordinator.
func NewRegistrationService(
	registrations registrationStore,
	selections selectionStore,
	offerings offeringReader,
	students studentReader,
	approvals approvalStore,
	fees feeReader,
	notifications notificationWriter,
	years currentYearProvider,
	metrics workflowMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		registrations: registrations,
		selections:    selections,
		offerings:     offerings,
		students:      students,
		approvals:     approvals,
		fees:          fees,
		notifications: notifications,
		years:         years,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
	}
}

// SelectCourse claims an offering for the student behind userID. The
// registration header is created lazily; re-selecting a Pending course
// is a no-op and a Dropped one is revived. Seats are not consumed here.
func (s *RegistrationService) SelectCourse(ctx context.Context, userID string, req SelectCourseRequest) ([]models.SelectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid selection payload")
	}

	student, err := s.loadStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	offering, err := s.offerings.FindByID(ctx, req.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	year, err := s.currentYear(ctx)
	if err != nil {
		return nil, err
	}
	if offering.AcademicYearID != year.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offering does not belong to the current academic year")
	}

	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: offering.Semester, AcademicYearID: year.ID}

	registration, err := s.registrations.FindByTuple(ctx, tuple)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if registration != nil {
		switch registration.Status {
		case models.RegistrationStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrConflict, "semester registration already completed")
		case models.RegistrationStatusFailed:
			return nil, appErrors.Clone(appErrors.ErrConflict, "semester registration failed; resubmit for approval first")
		}
	}

	existing, err := s.selections.FindByStudentAndOffering(ctx, student.ID, req.OfferingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load selection")
	}
	if existing != nil {
		switch existing.Status {
		case models.SelectionStatusRegistered:
			return nil, appErrors.Clone(appErrors.ErrConflict, "course already registered")
		case models.SelectionStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrConflict, "course already completed for this semester")
		case models.SelectionStatusPending:
			return s.listSelections(ctx, tuple)
		}
	}

	selection := &models.CourseSelection{
		StudentID:      student.ID,
		OfferingID:     offering.ID,
		Semester:       offering.Semester,
		AcademicYearID: year.ID,
	}
	if err := s.registrations.RegisterSelection(ctx, selection); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course already selected")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record selection")
	}

	return s.listSelections(ctx, tuple)
}

// DropCourse releases a selection before the offering's registration
// deadline. Dropping a Completed selection also returns its seat to the
// ledger, capped at the offering capacity.
func (s *RegistrationService) DropCourse(ctx context.Context, userID string, req DropCourseRequest) ([]models.SelectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}

	student, err := s.loadStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	offering, err := s.offerings.FindByID(ctx, req.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	if time.Now().After(offering.RegistrationCloses) {
		return nil, appErrors.Clone(appErrors.ErrDeadlinePassed, "registration deadline has passed for this offering")
	}

	selection, err := s.selections.FindByStudentAndOffering(ctx, student.ID, req.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course selection not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load selection")
	}

	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: selection.Semester, AcademicYearID: selection.AcademicYearID}

	switch selection.Status {
	case models.SelectionStatusPending:
		if err := s.selections.DropPending(ctx, selection.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop selection")
		}
	case models.SelectionStatusCompleted:
		if err := s.selections.DropCompleted(ctx, selection.ID, offering.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop selection")
		}
	case models.SelectionStatusDropped:
		return s.listSelections(ctx, tuple)
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, "selection is in a legacy state and must be resolved by an administrator")
	}

	return s.listSelections(ctx, tuple)
}

// SubmitForApproval refreshes the header to In Progress and routes a
// Pending approval request to the student's assigned advisor.
func (s *RegistrationService) SubmitForApproval(ctx context.Context, userID string, req SubmitForApprovalRequest) (*models.FacultyRegistrationApproval, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	student, err := s.loadStudent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if student.AdvisorID == nil || *student.AdvisorID == "" {
		return nil, appErrors.Clone(appErrors.ErrNoAdvisorAssigned, "")
	}

	year, err := s.currentYear(ctx)
	if err != nil {
		return nil, err
	}
	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: req.Semester, AcademicYearID: year.ID}

	if _, err := s.registrations.FindByTuple(ctx, tuple); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "no course selections to submit for this semester")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if err := s.registrations.EnsureInProgress(ctx, tuple); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh registration")
	}

	approval := &models.FacultyRegistrationApproval{
		StudentID:      student.ID,
		Semester:       req.Semester,
		AcademicYearID: year.ID,
		FacultyID:      *student.AdvisorID,
	}
	if err := s.approvals.Submit(ctx, approval); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit for approval")
	}
	return approval, nil
}

// RecordFacultyDecision applies the advisor verdict. Approval triggers
// the finalize-check; rejection drops every Pending selection, fails
// the registration and notifies the student.
func (s *RegistrationService) RecordFacultyDecision(ctx context.Context, facultyUserID string, req FacultyDecisionRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	faculty, err := s.students.FindFacultyByUserID(ctx, facultyUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "no faculty record for this account")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.AdvisorID == nil || *student.AdvisorID != faculty.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the assigned advisor may decide this registration")
	}

	year, err := s.currentYear(ctx)
	if err != nil {
		return err
	}
	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: req.Semester, AcademicYearID: year.ID}

	if _, err := s.approvals.FindByTuple(ctx, tuple); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration has not been submitted for approval")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}

	if req.Approve {
		if err := s.approvals.Decide(ctx, tuple, models.ApprovalStatusApproved, req.Note); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
		}
		return s.FinalizeCheck(ctx, tuple)
	}

	if err := s.approvals.Decide(ctx, tuple, models.ApprovalStatusRejected, req.Note); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	message := fmt.Sprintf("Your semester %d registration was rejected by your advisor.", req.Semester)
	if err := s.registrations.RejectPending(ctx, tuple, message); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject registration")
	}
	if s.metrics != nil {
		s.metrics.RegistrationFailed()
	}
	s.logger.Info("registration rejected",
		zap.String("student_id", student.ID),
		zap.Int("semester", req.Semester),
		zap.String("faculty_id", faculty.ID))
	return nil
}

// FinalizeCheck runs the idempotent completion step for one tuple. It
// is invoked from whichever approval path lands second; the first one
// only records its own status. The per-tuple lock plus the row lock
// inside the store guarantee at most one finalize per tuple.
func (s *RegistrationService) FinalizeCheck(ctx context.Context, tuple models.RegistrationTuple) error {
	unlock := s.finalizeLocks.lock(tuple)
	defer unlock()

	message := fmt.Sprintf("Your semester %d registration is complete.", tuple.Semester)
	outcome, err := s.registrations.Finalize(ctx, tuple, message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No header yet: an approval arrived before any selection.
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize registration")
	}

	if !outcome.Finalized {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RegistrationFinalized()
	}
	s.logger.Info("registration finalized",
		zap.String("student_id", tuple.StudentID),
		zap.Int("semester", tuple.Semester),
		zap.Int("courses", outcome.CompletedCourses))

	for _, offeringID := range outcome.SeatlessOfferings {
		if s.metrics != nil {
			s.metrics.SeatExhausted()
		}
		s.logger.Warn("seat pool exhausted at finalize",
			zap.String("student_id", tuple.StudentID),
			zap.String("offering_id", offeringID))
		alert := &models.Notification{
			StudentID: tuple.StudentID,
			Message:   fmt.Sprintf("No seat could be allocated for offering %s; the registrar will resolve your enrollment manually.", offeringID),
			Type:      models.NotificationTypeSeatAlert,
		}
		if err := s.notifications.Create(ctx, alert); err != nil {
			s.logger.Error("failed to write seat alert", zap.Error(err))
		}
	}
	return nil
}

// Summary aggregates the workflow state for the student's semester.
func (s *RegistrationService) Summary(ctx context.Context, userID string, semester int) (*models.RegistrationSummary, error) {
	if semester <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester is required")
	}
	student, err := s.loadStudent(ctx, userID)
	if err != nil {
		return nil, err
	}
	year, err := s.currentYear(ctx)
	if err != nil {
		return nil, err
	}
	tuple := models.RegistrationTuple{StudentID: student.ID, Semester: semester, AcademicYearID: year.ID}

	summary := &models.RegistrationSummary{}

	registration, err := s.registrations.FindByTuple(ctx, tuple)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	summary.Registration = registration

	selections, err := s.selections.ListDetailsByTuple(ctx, tuple)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load selections")
	}
	summary.Selections = selections

	fee, err := s.fees.FindLatestByTuple(ctx, tuple)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee status")
	}
	if fee != nil {
		summary.FeeStatus = fee.Status
	}

	approval, err := s.approvals.FindByTuple(ctx, tuple)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	summary.FacultyApproval = approval

	return summary, nil
}

// PendingApprovals lists open requests routed to the faculty account.
func (s *RegistrationService) PendingApprovals(ctx context.Context, facultyUserID string) ([]models.FacultyRegistrationApproval, error) {
	faculty, err := s.students.FindFacultyByUserID(ctx, facultyUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no faculty record for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}
	approvals, err := s.approvals.ListPendingForFaculty(ctx, faculty.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approvals")
	}
	return approvals, nil
}

func (s *RegistrationService) loadStudent(ctx context.Context, userID string) (*models.Student, error) {
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Status != models.AcademicStatusActive {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student is not in active standing")
	}
	return student, nil
}

func (s *RegistrationService) currentYear(ctx context.Context) (*models.AcademicYear, error) {
	year, err := s.years.Current(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current academic year")
	}
	return year, nil
}

func (s *RegistrationService) listSelections(ctx context.Context, tuple models.RegistrationTuple) ([]models.SelectionDetail, error) {
	selections, err := s.selections.ListDetailsByTuple(ctx, tuple)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load selections")
	}
	return selections, nil
}
