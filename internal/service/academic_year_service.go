package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

const currentYearCacheKey = "academic_year:current"

type academicYearStore interface {
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindCurrent(ctx context.Context) (*models.AcademicYear, error)
	List(ctx context.Context) ([]models.AcademicYear, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	SetCurrent(ctx context.Context, id string) error
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

// CreateAcademicYearRequest registers a new institutional year.
type CreateAcademicYearRequest struct {
	Label     string    `json:"label" validate:"required,min=4,max=32"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// AcademicYearService manages the year calendar and the is-current
// pointer every registration tuple is derived from. The current year
// is cached; SetCurrent evicts so readers never see a stale pointer
// beyond the TTL.
type AcademicYearService struct {
	years     academicYearStore
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAcademicYearService constructs the year service.
func NewAcademicYearService(years academicYearStore, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *AcademicYearService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcademicYearService{
		years:     years,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// Current resolves the single current academic year, reading through
// the cache. Every workflow entry point derives its tuple from this
// one lookup so a mid-flight year flip cannot split a registration
// across two years.
func (s *AcademicYearService) Current(ctx context.Context) (*models.AcademicYear, error) {
	var cached models.AcademicYear
	if err := s.cache.Get(ctx, currentYearCacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("current year cache read failed", zap.Error(err))
	}

	year, err := s.years.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "no academic year is marked current")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current academic year")
	}

	if err := s.cache.Set(ctx, currentYearCacheKey, year, s.cacheTTL); err != nil {
		s.logger.Warn("current year cache write failed", zap.Error(err))
	}
	return year, nil
}

// List returns all academic years, newest first.
func (s *AcademicYearService) List(ctx context.Context) ([]models.AcademicYear, error) {
	years, err := s.years.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
	}
	return years, nil
}

// Create registers a new year. New years are never current on insert;
// promotion goes through SetCurrent.
func (s *AcademicYearService) Create(ctx context.Context, req CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	year := &models.AcademicYear{
		Label:     req.Label,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if err := s.years.Create(ctx, year); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "academic year label already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}
	return year, nil
}

// SetCurrent promotes one year to current and demotes every other in
// a single transaction, then evicts the cached pointer.
func (s *AcademicYearService) SetCurrent(ctx context.Context, id string) (*models.AcademicYear, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic year id is required")
	}
	if err := s.years.SetCurrent(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set current academic year")
	}
	s.cache.Delete(ctx, currentYearCacheKey)

	year, err := s.years.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload academic year")
	}
	s.logger.Info("current academic year changed", zap.String("academic_year_id", id), zap.String("label", year.Label))
	return year, nil
}
