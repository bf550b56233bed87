package models

import "time"

// SelectionStatus is the lifecycle of a course selection. The literals
// are part of the persisted contract shared with existing consumers and
// must not be renamed.
type SelectionStatus string

const (
	// SelectionStatusPending marks a chosen course awaiting dual approval.
	SelectionStatusPending SelectionStatus = "Pending"
	// SelectionStatusRegistered is a legacy intermediate status still
	// present in historical rows; new selections never enter it but the
	// coordinator refuses to re-select a course stuck in it.
	SelectionStatusRegistered SelectionStatus = "Registered"
	// SelectionStatusCompleted marks a finalized selection whose seat
	// has been consumed.
	SelectionStatusCompleted SelectionStatus = "Completed"
	// SelectionStatusDropped marks a released selection.
	SelectionStatusDropped SelectionStatus = "Dropped"
)

// CourseSelection is a student's claim on one offering, unique per
// (student, offering, semester, year).
type CourseSelection struct {
	ID             string          `db:"id" json:"id"`
	StudentID      string          `db:"student_id" json:"student_id"`
	OfferingID     string          `db:"offering_id" json:"offering_id"`
	Semester       int             `db:"semester" json:"semester"`
	AcademicYearID string          `db:"academic_year_id" json:"academic_year_id"`
	Status         SelectionStatus `db:"status" json:"status"`
	// SeatConsumed records whether finalize actually decremented the
	// offering's pool for this row. A selection finalized against an
	// exhausted pool stays Completed with SeatConsumed false, and
	// dropping it must not credit a seat back.
	SeatConsumed bool      `db:"seat_consumed" json:"seat_consumed"`
	SelectedAt   time.Time `db:"selected_at" json:"selected_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SelectionDetail enriches CourseSelection with offering info for
// registration summaries and slip exports.
type SelectionDetail struct {
	CourseSelection
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
	FacultyName string `db:"faculty_name" json:"faculty_name"`
}
