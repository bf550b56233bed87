package models

import "time"

// FeeStatus is the lifecycle of a self-reported fee payment claim.
type FeeStatus string

const (
	FeeStatusPending  FeeStatus = "Pending"
	FeeStatusPaid     FeeStatus = "Paid"
	FeeStatusRejected FeeStatus = "Rejected"
)

// FeeTransaction records one payment claim. ReferenceNo is unique
// across the whole system; duplicate submissions are rejected.
type FeeTransaction struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	Semester       int       `db:"semester" json:"semester"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	ReferenceNo    string    `db:"reference_no" json:"reference_no"`
	Amount         float64   `db:"amount" json:"amount"`
	Status         FeeStatus `db:"status" json:"status"`
	SubmittedAt    time.Time `db:"submitted_at" json:"submitted_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// FeeApproval is one admin decision on a fee transaction. Re-decisions
// insert new rows; the table is an append-only audit trail.
type FeeApproval struct {
	ID            string    `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	AdminID       string    `db:"admin_id" json:"admin_id"`
	Decision      FeeStatus `db:"decision" json:"decision"`
	Note          *string   `db:"note" json:"note,omitempty"`
	DecidedAt     time.Time `db:"decided_at" json:"decided_at"`
}
