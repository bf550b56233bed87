package models

import "time"

// NotificationType categorizes student-facing messages.
type NotificationType string

const (
	NotificationTypeRegistration NotificationType = "REGISTRATION"
	NotificationTypeFee          NotificationType = "FEE"
	NotificationTypeSeatAlert    NotificationType = "SEAT_ALERT"
)

// Notification is an append-only student-facing message row. Delivery
// is owned by an external consumer; this service only writes and lists.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Message   string           `db:"message" json:"message"`
	Type      NotificationType `db:"type" json:"type"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains notification list queries.
type NotificationFilter struct {
	StudentID string
	Type      NotificationType
	Page      int
	PageSize  int
}
