package models

import "time"

// RegistrationStatus tracks the aggregate outcome of the dual-approval
// workflow. Literals are part of the persisted contract.
type RegistrationStatus string

const (
	RegistrationStatusInProgress RegistrationStatus = "In Progress"
	RegistrationStatusCompleted  RegistrationStatus = "Completed"
	RegistrationStatusFailed     RegistrationStatus = "Failed"
)

// SemesterRegistration is the one header row per (student, semester,
// academic year), created lazily on first course selection. Its status
// is written only by the registration coordinator.
type SemesterRegistration struct {
	ID             string             `db:"id" json:"id"`
	StudentID      string             `db:"student_id" json:"student_id"`
	Semester       int                `db:"semester" json:"semester"`
	AcademicYearID string             `db:"academic_year_id" json:"academic_year_id"`
	Status         RegistrationStatus `db:"status" json:"status"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationTuple identifies one registration workflow instance.
type RegistrationTuple struct {
	StudentID      string
	Semester       int
	AcademicYearID string
}

// RegistrationSummary aggregates the workflow state for one tuple:
// header, selections and both approval tracks.
type RegistrationSummary struct {
	Registration    *SemesterRegistration        `json:"registration"`
	Selections      []SelectionDetail            `json:"selections"`
	FeeStatus       FeeStatus                    `json:"fee_status"`
	FacultyApproval *FacultyRegistrationApproval `json:"faculty_approval,omitempty"`
}
