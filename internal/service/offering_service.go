package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

type offeringStore interface {
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
	List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error)
	Create(ctx context.Context, offering *models.CourseOffering) error
	Apply(ctx context.Context, offering *models.CourseOffering) error
	ResizeSeats(ctx context.Context, id string, maxSeats int) (bool, error)
}

// CreateOfferingRequest opens a course for a semester and year.
type CreateOfferingRequest struct {
	CourseCode         string    `json:"course_code" validate:"required,min=2,max=16"`
	CourseTitle        string    `json:"course_title" validate:"required,min=3,max=160"`
	Semester           int       `json:"semester" validate:"required,gt=0"`
	AcademicYearID     string    `json:"academic_year_id" validate:"required"`
	FacultyID          string    `json:"faculty_id" validate:"required"`
	MaxSeats           int       `json:"max_seats" validate:"required,gt=0"`
	RegistrationCloses time.Time `json:"registration_closes" validate:"required"`
}

// OfferingService manages the course catalog. Individual offering
// reads go through the cache because the catalog is the hottest read
// path during a registration window; any write evicts.
type OfferingService struct {
	offerings offeringStore
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOfferingService constructs the catalog service.
func NewOfferingService(offerings offeringStore, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *OfferingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferingService{
		offerings: offerings,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

func offeringCacheKey(id string) string {
	return fmt.Sprintf("offering:%s", id)
}

// Get returns one offering, reading through the cache. Seat counts in
// cached copies may lag by up to the TTL; the ledger in the database
// remains the only authority for admission decisions.
func (s *OfferingService) Get(ctx context.Context, id string) (*models.CourseOffering, error) {
	var cached models.CourseOffering
	if err := s.cache.Get(ctx, offeringCacheKey(id), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("offering cache read failed", zap.Error(err))
	}

	offering, err := s.offerings.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	if err := s.cache.Set(ctx, offeringCacheKey(id), offering, s.cacheTTL); err != nil {
		s.logger.Warn("offering cache write failed", zap.Error(err))
	}
	return offering, nil
}

// List returns offerings matching the filter with a total count.
func (s *OfferingService) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error) {
	offerings, total, err := s.offerings.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offerings")
	}
	return offerings, total, nil
}

// Create opens a new offering with a full seat pool.
func (s *OfferingService) Create(ctx context.Context, req CreateOfferingRequest) (*models.CourseOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}
	offering := &models.CourseOffering{
		CourseCode:         req.CourseCode,
		CourseTitle:        req.CourseTitle,
		Semester:           req.Semester,
		AcademicYearID:     req.AcademicYearID,
		FacultyID:          req.FacultyID,
		MaxSeats:           req.MaxSeats,
		RegistrationCloses: req.RegistrationCloses,
	}
	if err := s.offerings.Create(ctx, offering); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "offering already exists for this course, semester and year")
		}
		if repository.IsForeignKeyViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrIntegrity, "offering references unknown records")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create offering")
	}
	return offering, nil
}

// Update resolves the options record against the stored row and writes
// the non-seat fields back in a single statement. A MaxSeats change
// goes through a separate relative resize so a finalize decrement
// landing mid-update is never overwritten; shrinking below the number
// of consumed seats is rejected.
func (s *OfferingService) Update(ctx context.Context, id string, update models.OfferingUpdate) (*models.CourseOffering, error) {
	if err := s.validator.Struct(update); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering update")
	}

	offering, err := s.offerings.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	touched := false
	if update.CourseTitle != nil {
		offering.CourseTitle = *update.CourseTitle
		touched = true
	}
	if update.FacultyID != nil {
		offering.FacultyID = *update.FacultyID
		touched = true
	}
	if update.RegistrationCloses != nil {
		offering.RegistrationCloses = *update.RegistrationCloses
		touched = true
	}

	if touched {
		if err := s.offerings.Apply(ctx, offering); err != nil {
			if repository.IsForeignKeyViolation(err) {
				return nil, appErrors.Clone(appErrors.ErrIntegrity, "offering references unknown records")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update offering")
		}
	}

	if update.MaxSeats != nil {
		resized, err := s.offerings.ResizeSeats(ctx, id, *update.MaxSeats)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resize offering seats")
		}
		if !resized {
			return nil, appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("max seats cannot drop below the seats already consumed by offering %s", id))
		}
		// Re-read so the returned row carries the pool the resize
		// actually produced, not a value derived from the earlier read.
		offering, err = s.offerings.FindByID(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload offering")
		}
	}

	s.cache.Delete(ctx, offeringCacheKey(id))
	return offering, nil
}
