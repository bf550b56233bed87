package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SeatLedger holds the conditional seat-count statements shared by the
// selection and registration repositories. Both operations are single
// atomic UPDATEs, never read-then-write pairs, and are meant to run on
// the transaction that carries the accompanying status change.
type SeatLedger struct{}

// NewSeatLedger constructs the ledger.
func NewSeatLedger() *SeatLedger {
	return &SeatLedger{}
}

// TryDecrement consumes one seat if any remain. Returns false without
// error when available_seats is already zero.
func (l *SeatLedger) TryDecrement(ctx context.Context, ext sqlx.ExtContext, offeringID string) (bool, error) {
	const query = `UPDATE course_offerings SET available_seats = available_seats - 1, updated_at = NOW()
        WHERE id = $1 AND available_seats > 0`
	res, err := ext.ExecContext(ctx, query, offeringID)
	if err != nil {
		return false, fmt.Errorf("decrement seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement seats affected: %w", err)
	}
	return affected > 0, nil
}

// Increment returns one seat, capped at max_seats. Returns false when
// the offering is already at capacity (the seat was never consumed).
func (l *SeatLedger) Increment(ctx context.Context, ext sqlx.ExtContext, offeringID string) (bool, error) {
	const query = `UPDATE course_offerings SET available_seats = available_seats + 1, updated_at = NOW()
        WHERE id = $1 AND available_seats < max_seats`
	res, err := ext.ExecContext(ctx, query, offeringID)
	if err != nil {
		return false, fmt.Errorf("increment seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment seats affected: %w", err)
	}
	return affected > 0, nil
}
