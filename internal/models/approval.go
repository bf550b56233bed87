package models

import "time"

// ApprovalStatus is the faculty advisor's decision on a registration.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "Pending"
	ApprovalStatusApproved ApprovalStatus = "Approved"
	ApprovalStatusRejected ApprovalStatus = "Rejected"
)

// FacultyRegistrationApproval holds the advisor decision for one
// (student, semester, year) tuple. The row is upserted: a resubmission
// resets the status to Pending rather than inserting a duplicate.
type FacultyRegistrationApproval struct {
	ID             string         `db:"id" json:"id"`
	StudentID      string         `db:"student_id" json:"student_id"`
	Semester       int            `db:"semester" json:"semester"`
	AcademicYearID string         `db:"academic_year_id" json:"academic_year_id"`
	FacultyID      string         `db:"faculty_id" json:"faculty_id"`
	Status         ApprovalStatus `db:"status" json:"status"`
	Note           *string        `db:"note" json:"note,omitempty"`
	SubmittedAt    time.Time      `db:"submitted_at" json:"submitted_at"`
	DecidedAt      *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}
