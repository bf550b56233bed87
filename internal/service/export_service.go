package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-reg-api/internal/models"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
	"github.com/noah-isme/uni-reg-api/pkg/export"
	"github.com/noah-isme/uni-reg-api/pkg/jobs"
)

type exportStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type slipExporter interface {
	Render(slip export.Slip) ([]byte, error)
}

type slipStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type urlSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string) (jobID, relPath string, expiresAt time.Time, err error)
}

type academicYearReader interface {
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindCurrent(ctx context.Context) (*models.AcademicYear, error)
}

type exportQueue interface {
	Enqueue(job jobs.Job) error
}

type exportMetrics interface {
	ExportGenerated()
}

// RequestExportRequest asks for a registration slip render.
type RequestExportRequest struct {
	Semester int                 `json:"semester" validate:"required,gt=0"`
	Format   models.ExportFormat `json:"format" validate:"required,oneof=CSV PDF"`
}

// ExportDownload is a signed, expiring pointer to a rendered slip.
type ExportDownload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExportService renders registration slips asynchronously. Requests
// become QUEUED rows processed by the worker queue; completed files
// are fetched through short-lived signed tokens, never raw paths.
type ExportService struct {
	exports       exportStore
	students      studentReader
	selections    selectionStore
	registrations registrationStore
	years         academicYearReader
	exporters     map[models.ExportFormat]slipExporter
	storage       slipStorage
	signer        urlSigner
	queue         exportQueue
	metrics       exportMetrics
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewExportService constructs the slip export service. Call SetQueue
// before serving requests; the queue handler in turn calls Process.
func NewExportService(
	exports exportStore,
	students studentReader,
	selections selectionStore,
	registrations registrationStore,
	years academicYearReader,
	storage slipStorage,
	signer urlSigner,
	metrics exportMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		exports:       exports,
		students:      students,
		selections:    selections,
		registrations: registrations,
		years:         years,
		exporters: map[models.ExportFormat]slipExporter{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		},
		storage:   storage,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// SetQueue wires the worker queue. Split from the constructor because
// the queue's handler needs the service and the service needs the queue.
func (s *ExportService) SetQueue(queue exportQueue) {
	s.queue = queue
}

// Request records a QUEUED export job for the student's semester and
// hands it to the worker queue.
func (s *ExportService) Request(ctx context.Context, userID string, req RequestExportRequest) (*models.ExportJob, error) {
	req.Format = models.ExportFormat(strings.ToUpper(string(req.Format)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format := req.Format

	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	year, err := s.years.FindCurrent(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current academic year")
	}

	job := &models.ExportJob{
		StudentID:      student.ID,
		Semester:       req.Semester,
		AcademicYearID: year.ID,
		Format:         format,
	}
	if err := s.exports.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record export job")
	}

	if err := s.queue.Enqueue(jobs.Job{Type: "slip_export", Payload: job.ID}); err != nil {
		reason := "export queue unavailable"
		if markErr := s.exports.MarkFailed(ctx, job.ID, reason); markErr != nil {
			s.logger.Error("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, reason)
	}
	return job, nil
}

// Status returns one export job, restricted to its owner.
func (s *ExportService) Status(ctx context.Context, userID, jobID string) (*models.ExportJob, error) {
	job, _, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Download issues a signed token for a completed export.
func (s *ExportService) Download(ctx context.Context, userID, jobID string) (*ExportDownload, error) {
	job, _, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusCompleted || job.FilePath == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export is not ready for download")
	}
	token, expiresAt, err := s.signer.Generate(job.ID, *job.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &ExportDownload{Token: token, ExpiresAt: expiresAt}, nil
}

// Fetch resolves a signed token into the rendered file. Tokens are the
// only way out of the storage directory.
func (s *ExportService) Fetch(ctx context.Context, token string) (*os.File, *models.ExportJob, error) {
	jobID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	job, err := s.exports.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	if job.FilePath == nil || *job.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download token does not match the export")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return file, job, nil
}

// HandleJob is the queue handler: it looks up the job row named by the
// payload and processes it. Returned errors trigger the queue's retry.
func (s *ExportService) HandleJob(ctx context.Context, job jobs.Job) error {
	return s.Process(ctx, job.Payload)
}

// Process renders one export job end to end.
func (s *ExportService) Process(ctx context.Context, jobID string) error {
	job, err := s.exports.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if job.Status == models.ExportStatusCompleted {
		return nil
	}
	if err := s.exports.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("mark export running: %w", err)
	}

	slip, err := s.buildSlip(ctx, job)
	if err != nil {
		s.failJob(ctx, job.ID, err)
		return err
	}
	exporter, ok := s.exporters[job.Format]
	if !ok {
		err := fmt.Errorf("unsupported export format %q", job.Format)
		s.failJob(ctx, job.ID, err)
		return err
	}
	data, err := exporter.Render(*slip)
	if err != nil {
		s.failJob(ctx, job.ID, fmt.Errorf("render slip: %w", err))
		return err
	}

	filename := fmt.Sprintf("slip_%s_%d_%s.%s", slip.RegistrationNo, job.Semester, job.ID, strings.ToLower(string(job.Format)))
	relPath, err := s.storage.Save(filename, data)
	if err != nil {
		s.failJob(ctx, job.ID, fmt.Errorf("store slip: %w", err))
		return err
	}
	if err := s.exports.MarkCompleted(ctx, job.ID, relPath); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ExportGenerated()
	}
	s.logger.Info("slip export completed",
		zap.String("job_id", job.ID),
		zap.String("student_id", job.StudentID),
		zap.String("format", string(job.Format)))
	return nil
}

func (s *ExportService) buildSlip(ctx context.Context, job *models.ExportJob) (*export.Slip, error) {
	student, err := s.students.FindByID(ctx, job.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	year, err := s.years.FindByID(ctx, job.AcademicYearID)
	if err != nil {
		return nil, fmt.Errorf("load academic year: %w", err)
	}

	tuple := models.RegistrationTuple{StudentID: job.StudentID, Semester: job.Semester, AcademicYearID: job.AcademicYearID}
	registration, err := s.registrations.FindByTuple(ctx, tuple)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no registration for semester %d", job.Semester)
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}
	selections, err := s.selections.ListDetailsByTuple(ctx, tuple)
	if err != nil {
		return nil, fmt.Errorf("load selections: %w", err)
	}

	slip := &export.Slip{
		StudentName:    student.FullName,
		RegistrationNo: student.RegistrationNo,
		Programme:      student.Programme,
		Semester:       job.Semester,
		AcademicYear:   year.Label,
		Status:         string(registration.Status),
	}
	for _, sel := range selections {
		slip.Courses = append(slip.Courses, export.SlipCourse{
			Code:    sel.CourseCode,
			Title:   sel.CourseTitle,
			Faculty: sel.FacultyName,
			Status:  string(sel.Status),
		})
	}
	return slip, nil
}

func (s *ExportService) failJob(ctx context.Context, jobID string, cause error) {
	if err := s.exports.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		s.logger.Error("failed to mark export failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *ExportService) ownedJob(ctx context.Context, userID, jobID string) (*models.ExportJob, *models.Student, error) {
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	job, err := s.exports.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.StudentID != student.ID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "export belongs to another student")
	}
	return job, student, nil
}
