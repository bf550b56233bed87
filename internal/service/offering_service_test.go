package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-reg-api/internal/models"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

type mockOfferingStore struct {
	offerings map[string]*models.CourseOffering
	applied   []*models.CourseOffering
	resizes   []int
	// afterFind runs once after the next FindByID, to slot a concurrent
	// ledger mutation between the read and the write.
	afterFind func()
}

func (m *mockOfferingStore) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	o, ok := m.offerings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *o
	if m.afterFind != nil {
		hook := m.afterFind
		m.afterFind = nil
		hook()
	}
	return &copied, nil
}

func (m *mockOfferingStore) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error) {
	var out []models.CourseOffering
	for _, o := range m.offerings {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockOfferingStore) Create(ctx context.Context, offering *models.CourseOffering) error {
	offering.ID = "off-new"
	offering.AvailableSeats = offering.MaxSeats
	m.offerings[offering.ID] = offering
	return nil
}

func (m *mockOfferingStore) Apply(ctx context.Context, offering *models.CourseOffering) error {
	stored := m.offerings[offering.ID]
	stored.CourseTitle = offering.CourseTitle
	stored.FacultyID = offering.FacultyID
	stored.RegistrationCloses = offering.RegistrationCloses
	m.applied = append(m.applied, offering)
	return nil
}

func (m *mockOfferingStore) ResizeSeats(ctx context.Context, id string, maxSeats int) (bool, error) {
	stored, ok := m.offerings[id]
	if !ok {
		return false, nil
	}
	delta := maxSeats - stored.MaxSeats
	if stored.AvailableSeats+delta < 0 {
		return false, nil
	}
	stored.AvailableSeats += delta
	stored.MaxSeats = maxSeats
	m.resizes = append(m.resizes, maxSeats)
	return true, nil
}

func newOfferingFixture() (*OfferingService, *mockOfferingStore, *mockCache) {
	store := &mockOfferingStore{offerings: map[string]*models.CourseOffering{
		"off-1": {
			ID: "off-1", CourseCode: "CS301", CourseTitle: "Operating Systems",
			Semester: 3, AcademicYearID: "year-1", FacultyID: "fac-1",
			MaxSeats: 30, AvailableSeats: 10,
			RegistrationCloses: time.Now().Add(48 * time.Hour),
		},
	}}
	cache := &mockCache{entries: map[string][]byte{}}
	return NewOfferingService(store, cache, time.Minute, nil, nil), store, cache
}

func TestOfferingUpdateAppliesOnlyProvidedFields(t *testing.T) {
	svc, store, _ := newOfferingFixture()

	title := "Advanced Operating Systems"
	updated, err := svc.Update(context.Background(), "off-1", models.OfferingUpdate{CourseTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.CourseTitle)
	assert.Equal(t, "fac-1", updated.FacultyID, "untouched fields keep stored values")
	assert.Equal(t, 30, updated.MaxSeats)
	require.Len(t, store.applied, 1)
}

func TestOfferingUpdateGrowsSeatPoolWithCapacity(t *testing.T) {
	svc, _, _ := newOfferingFixture()

	// 20 of 30 seats consumed; growing to 40 frees ten more.
	maxSeats := 40
	updated, err := svc.Update(context.Background(), "off-1", models.OfferingUpdate{MaxSeats: &maxSeats})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.MaxSeats)
	assert.Equal(t, 20, updated.AvailableSeats)
}

func TestOfferingUpdatePreservesConcurrentSeatConsumption(t *testing.T) {
	svc, store, _ := newOfferingFixture()

	// A finalize consumes a seat after the update has read the row; the
	// relative resize must build on the live counter, not the snapshot.
	store.afterFind = func() {
		store.offerings["off-1"].AvailableSeats--
	}

	title := "Advanced Operating Systems"
	maxSeats := 40
	updated, err := svc.Update(context.Background(), "off-1", models.OfferingUpdate{CourseTitle: &title, MaxSeats: &maxSeats})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.MaxSeats)
	assert.Equal(t, 19, updated.AvailableSeats, "concurrent decrement must survive the update")
	assert.Equal(t, 19, store.offerings["off-1"].AvailableSeats)
}

func TestOfferingUpdateTitleOnlyLeavesSeatsUntouched(t *testing.T) {
	svc, store, _ := newOfferingFixture()

	store.afterFind = func() {
		store.offerings["off-1"].AvailableSeats--
	}

	title := "Renamed"
	_, err := svc.Update(context.Background(), "off-1", models.OfferingUpdate{CourseTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, 9, store.offerings["off-1"].AvailableSeats)
	assert.Empty(t, store.resizes)
}

func TestOfferingUpdateRejectsShrinkBelowConsumed(t *testing.T) {
	svc, store, _ := newOfferingFixture()

	maxSeats := 15 // 20 already consumed
	_, err := svc.Update(context.Background(), "off-1", models.OfferingUpdate{MaxSeats: &maxSeats})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.applied)
}

func TestOfferingUpdateEvictsCache(t *testing.T) {
	svc, _, cache := newOfferingFixture()
	ctx := context.Background()

	_, err := svc.Get(ctx, "off-1")
	require.NoError(t, err)
	require.Contains(t, cache.entries, offeringCacheKey("off-1"))

	title := "Renamed"
	_, err = svc.Update(ctx, "off-1", models.OfferingUpdate{CourseTitle: &title})
	require.NoError(t, err)
	assert.Contains(t, cache.deleted, offeringCacheKey("off-1"))
}

func TestOfferingCreateStartsWithFullPool(t *testing.T) {
	svc, _, _ := newOfferingFixture()

	offering, err := svc.Create(context.Background(), CreateOfferingRequest{
		CourseCode:         "CS401",
		CourseTitle:        "Distributed Systems",
		Semester:           4,
		AcademicYearID:     "year-1",
		FacultyID:          "fac-1",
		MaxSeats:           25,
		RegistrationCloses: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 25, offering.AvailableSeats)
}
