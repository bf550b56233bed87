package models

import "time"

// CourseOffering represents one course's availability in a specific
// semester and academic year with its own seat capacity.
// Invariant: 0 <= AvailableSeats <= MaxSeats at all times; seat counts
// change only through the conditional ledger operations on the repository.
type CourseOffering struct {
	ID                 string    `db:"id" json:"id"`
	CourseCode         string    `db:"course_code" json:"course_code"`
	CourseTitle        string    `db:"course_title" json:"course_title"`
	Semester           int       `db:"semester" json:"semester"`
	AcademicYearID     string    `db:"academic_year_id" json:"academic_year_id"`
	FacultyID          string    `db:"faculty_id" json:"faculty_id"`
	MaxSeats           int       `db:"max_seats" json:"max_seats"`
	AvailableSeats     int       `db:"available_seats" json:"available_seats"`
	RegistrationCloses time.Time `db:"registration_closes" json:"registration_closes"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// OfferingUpdate lists the fields an admin may change on an existing
// offering. Nil fields are left untouched; the repository applies the
// whole record as a single parameterized write.
type OfferingUpdate struct {
	CourseTitle        *string    `json:"course_title,omitempty"`
	FacultyID          *string    `json:"faculty_id,omitempty"`
	MaxSeats           *int       `json:"max_seats,omitempty" validate:"omitempty,gt=0"`
	RegistrationCloses *time.Time `json:"registration_closes,omitempty"`
}

// OfferingFilter constrains offering list queries.
type OfferingFilter struct {
	Semester       int
	AcademicYearID string
	FacultyID      string
	Page           int
	PageSize       int
}
