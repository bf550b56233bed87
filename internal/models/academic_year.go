package models

import "time"

// AcademicYear models one institutional year (e.g. "2025/2026").
// At most one row carries IsCurrent = TRUE; the invariant is enforced
// by AcademicYearRepository.SetCurrent, never by callers flipping flags.
type AcademicYear struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsCurrent bool      `db:"is_current" json:"is_current"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
