package models

import "time"

// AcademicStatus captures a student's standing within the institution.
type AcademicStatus string

const (
	AcademicStatusActive    AcademicStatus = "Active"
	AcademicStatusSuspended AcademicStatus = "Suspended"
	AcademicStatusGraduated AcademicStatus = "Graduated"
)

// Student models the registry record behind a student account.
// AdvisorID points at the assigned faculty advisor; approval routing
// fails for students without one.
type Student struct {
	ID              string         `db:"id" json:"id"`
	UserID          string         `db:"user_id" json:"user_id"`
	RegistrationNo  string         `db:"registration_no" json:"registration_no"`
	FullName        string         `db:"full_name" json:"full_name"`
	Programme       string         `db:"programme" json:"programme"`
	Department      string         `db:"department" json:"department"`
	CurrentSemester int            `db:"current_semester" json:"current_semester"`
	AdvisorID       *string        `db:"advisor_id" json:"advisor_id,omitempty"`
	Status          AcademicStatus `db:"status" json:"status"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Faculty models a teaching staff record able to advise students.
type Faculty struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Department string    `db:"department" json:"department"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
