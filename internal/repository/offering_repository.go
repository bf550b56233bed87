package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

// OfferingRepository handles persistence of course offerings.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

const offeringColumns = `id, course_code, course_title, semester, academic_year_id, faculty_id, max_seats, available_seats, registration_closes, created_at, updated_at`

// FindByID returns an offering by its ID.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	query := `SELECT ` + offeringColumns + ` FROM course_offerings WHERE id = $1`
	var offering models.CourseOffering
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// List returns offerings filtered by the provided criteria.
func (r *OfferingRepository) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error) {
	base := "FROM course_offerings"
	var conditions []string
	var args []interface{}

	if filter.Semester > 0 {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.AcademicYearID != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year_id = $%d", len(args)+1))
		args = append(args, filter.AcademicYearID)
	}
	if filter.FacultyID != "" {
		conditions = append(conditions, fmt.Sprintf("faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY course_code ASC LIMIT %d OFFSET %d", offeringColumns, base+clause, size, offset)
	var offerings []models.CourseOffering
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list offerings: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count offerings: %w", err)
	}
	return offerings, total, nil
}

// Create inserts a new offering with a full seat pool.
func (r *OfferingRepository) Create(ctx context.Context, offering *models.CourseOffering) error {
	if offering.ID == "" {
		offering.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if offering.CreatedAt.IsZero() {
		offering.CreatedAt = now
	}
	offering.UpdatedAt = now
	if offering.AvailableSeats == 0 {
		offering.AvailableSeats = offering.MaxSeats
	}

	const query = `INSERT INTO course_offerings (id, course_code, course_title, semester, academic_year_id, faculty_id, max_seats, available_seats, registration_closes, created_at, updated_at)
        VALUES (:id, :course_code, :course_title, :semester, :academic_year_id, :faculty_id, :max_seats, :available_seats, :registration_closes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, offering); err != nil {
		return fmt.Errorf("create offering: %w", err)
	}
	return nil
}

// Apply writes the resolved non-seat fields in one parameterized
// statement. The seat columns are deliberately absent: available_seats
// is only ever moved by the ledger's conditional statements and by
// ResizeSeats, never rewritten from a read snapshot.
func (r *OfferingRepository) Apply(ctx context.Context, offering *models.CourseOffering) error {
	offering.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_offerings SET course_title = :course_title, faculty_id = :faculty_id,
        registration_closes = :registration_closes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, offering); err != nil {
		return fmt.Errorf("update offering: %w", err)
	}
	return nil
}

// ResizeSeats changes max_seats and shifts available_seats by the same
// delta in a single relative statement, so a concurrent finalize
// decrement is never overwritten. The condition refuses a shrink that
// would take the pool below zero, i.e. below the seats already
// consumed; the caller maps the false return to a conflict.
func (r *OfferingRepository) ResizeSeats(ctx context.Context, id string, maxSeats int) (bool, error) {
	const query = `UPDATE course_offerings
        SET available_seats = available_seats + ($2 - max_seats), max_seats = $2, updated_at = NOW()
        WHERE id = $1 AND available_seats + ($2 - max_seats) >= 0`
	res, err := r.db.ExecContext(ctx, query, id, maxSeats)
	if err != nil {
		return false, fmt.Errorf("resize offering seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resize offering seats: %w", err)
	}
	return affected > 0, nil
}
