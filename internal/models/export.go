package models

import "time"

// ExportFormat enumerates supported slip export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "CSV"
	ExportFormatPDF ExportFormat = "PDF"
)

// ExportStatus tracks the lifecycle of an asynchronous slip export.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "QUEUED"
	ExportStatusRunning   ExportStatus = "RUNNING"
	ExportStatusCompleted ExportStatus = "COMPLETED"
	ExportStatusFailed    ExportStatus = "FAILED"
)

// ExportJob records one registration-slip export request processed by
// the background worker queue.
type ExportJob struct {
	ID             string       `db:"id" json:"id"`
	StudentID      string       `db:"student_id" json:"student_id"`
	Semester       int          `db:"semester" json:"semester"`
	AcademicYearID string       `db:"academic_year_id" json:"academic_year_id"`
	Format         ExportFormat `db:"format" json:"format"`
	Status         ExportStatus `db:"status" json:"status"`
	FilePath       *string      `db:"file_path" json:"-"`
	ErrorMessage   *string      `db:"error_message" json:"error_message,omitempty"`
	RequestedAt    time.Time    `db:"requested_at" json:"requested_at"`
	CompletedAt    *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}
