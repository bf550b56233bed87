package service

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

// mockWorkflowStore simulates the registration header plus the finalize
// sequence: when both approval flags are set, pending selections become
// completed and seats are consumed, exactly once.
type mockWorkflowStore struct {
	mu sync.Mutex

	headerStatus    models.RegistrationStatus
	headerExists    bool
	pending         []string       // offering ids awaiting finalize
	seats           map[string]int // offering id -> available seats
	feePaid         bool
	facultyApproved bool

	finalizeRuns  int
	rejected      bool
	rejectMessage string
	registered    []*models.CourseSelection

	// finalizeHold widens the window in which a second caller could
	// enter Finalize; inFinalize/overlapped detect such an entry. The
	// flags sit outside mu so overlap is observable even though the
	// mock's own state stays mutex-guarded.
	finalizeHold time.Duration
	inFinalize   int32
	overlapped   int32
}

func (m *mockWorkflowStore) FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.SemesterRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.headerExists {
		return nil, sql.ErrNoRows
	}
	return &models.SemesterRegistration{ID: "reg-1", StudentID: tuple.StudentID, Semester: tuple.Semester, AcademicYearID: tuple.AcademicYearID, Status: m.headerStatus}, nil
}

func (m *mockWorkflowStore) EnsureInProgress(ctx context.Context, tuple models.RegistrationTuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerExists = true
	if m.headerStatus != models.RegistrationStatusCompleted {
		m.headerStatus = models.RegistrationStatusInProgress
	}
	return nil
}

func (m *mockWorkflowStore) RegisterSelection(ctx context.Context, selection *models.CourseSelection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerExists = true
	m.headerStatus = models.RegistrationStatusInProgress
	selection.ID = "sel-" + selection.OfferingID
	selection.Status = models.SelectionStatusPending
	m.pending = append(m.pending, selection.OfferingID)
	m.registered = append(m.registered, selection)
	return nil
}

func (m *mockWorkflowStore) Finalize(ctx context.Context, tuple models.RegistrationTuple, message string) (*repository.FinalizeOutcome, error) {
	if !atomic.CompareAndSwapInt32(&m.inFinalize, 0, 1) {
		atomic.StoreInt32(&m.overlapped, 1)
	}
	defer atomic.StoreInt32(&m.inFinalize, 0)
	if m.finalizeHold > 0 {
		time.Sleep(m.finalizeHold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.headerExists {
		return nil, sql.ErrNoRows
	}
	if m.headerStatus == models.RegistrationStatusCompleted {
		return &repository.FinalizeOutcome{AlreadyCompleted: true}, nil
	}
	if !m.feePaid || !m.facultyApproved {
		return &repository.FinalizeOutcome{}, nil
	}
	outcome := &repository.FinalizeOutcome{Finalized: true, CompletedCourses: len(m.pending)}
	for _, offeringID := range m.pending {
		if m.seats[offeringID] > 0 {
			m.seats[offeringID]--
		} else {
			outcome.SeatlessOfferings = append(outcome.SeatlessOfferings, offeringID)
		}
	}
	m.pending = nil
	m.headerStatus = models.RegistrationStatusCompleted
	m.finalizeRuns++
	return outcome, nil
}

func (m *mockWorkflowStore) RejectPending(ctx context.Context, tuple models.RegistrationTuple, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.headerExists {
		return sql.ErrNoRows
	}
	m.pending = nil
	m.headerStatus = models.RegistrationStatusFailed
	m.rejected = true
	m.rejectMessage = message
	return nil
}

type mockSelectionStore struct {
	selections map[string]*models.CourseSelection // key offering id
	dropped    []string
	seatGiven  []string
}

func (m *mockSelectionStore) FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.CourseSelection, error) {
	if sel, ok := m.selections[offeringID]; ok {
		return sel, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSelectionStore) ListDetailsByTuple(ctx context.Context, tuple models.RegistrationTuple) ([]models.SelectionDetail, error) {
	var details []models.SelectionDetail
	for _, sel := range m.selections {
		details = append(details, models.SelectionDetail{CourseSelection: *sel})
	}
	return details, nil
}

func (m *mockSelectionStore) DropPending(ctx context.Context, id string) error {
	m.dropped = append(m.dropped, id)
	return nil
}

func (m *mockSelectionStore) DropCompleted(ctx context.Context, id, offeringID string) error {
	m.dropped = append(m.dropped, id)
	m.seatGiven = append(m.seatGiven, offeringID)
	return nil
}

type mockOfferingReader struct {
	offerings map[string]*models.CourseOffering
}

func (m *mockOfferingReader) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	if o, ok := m.offerings[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

type mockStudentReader struct {
	students  map[string]*models.Student // key user id
	byID      map[string]*models.Student
	faculties map[string]*models.Faculty // key user id
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentReader) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if s, ok := m.students[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentReader) FindFacultyByUserID(ctx context.Context, userID string) (*models.Faculty, error) {
	if f, ok := m.faculties[userID]; ok {
		return f, nil
	}
	return nil, sql.ErrNoRows
}

type mockApprovalStore struct {
	rows      map[string]*models.FacultyRegistrationApproval // key student id
	submitted []*models.FacultyRegistrationApproval
	decisions []models.ApprovalStatus
	// store mirrors the decision into the workflow store the way the
	// real tables share a database.
	store *mockWorkflowStore
}

func (m *mockApprovalStore) FindByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FacultyRegistrationApproval, error) {
	if a, ok := m.rows[tuple.StudentID]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalStore) ListPendingForFaculty(ctx context.Context, facultyID string) ([]models.FacultyRegistrationApproval, error) {
	var pending []models.FacultyRegistrationApproval
	for _, a := range m.rows {
		if a.FacultyID == facultyID && a.Status == models.ApprovalStatusPending {
			pending = append(pending, *a)
		}
	}
	return pending, nil
}

func (m *mockApprovalStore) Submit(ctx context.Context, approval *models.FacultyRegistrationApproval) error {
	if m.rows == nil {
		m.rows = make(map[string]*models.FacultyRegistrationApproval)
	}
	approval.Status = models.ApprovalStatusPending
	m.rows[approval.StudentID] = approval
	m.submitted = append(m.submitted, approval)
	return nil
}

func (m *mockApprovalStore) Decide(ctx context.Context, tuple models.RegistrationTuple, status models.ApprovalStatus, note *string) error {
	if a, ok := m.rows[tuple.StudentID]; ok {
		a.Status = status
		a.Note = note
	}
	m.decisions = append(m.decisions, status)
	if m.store != nil {
		m.store.mu.Lock()
		m.store.facultyApproved = status == models.ApprovalStatusApproved
		m.store.mu.Unlock()
	}
	return nil
}

type mockFeeReader struct {
	latest *models.FeeTransaction
}

func (m *mockFeeReader) FindLatestByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FeeTransaction, error) {
	if m.latest == nil {
		return nil, sql.ErrNoRows
	}
	return m.latest, nil
}

type mockNotificationWriter struct {
	mu      sync.Mutex
	written []*models.Notification
}

func (m *mockNotificationWriter) Create(ctx context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, notification)
	return nil
}

func (m *mockNotificationWriter) byType(kind models.NotificationType) []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for _, n := range m.written {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

type mockYearProvider struct {
	year *models.AcademicYear
}

func (m *mockYearProvider) Current(ctx context.Context) (*models.AcademicYear, error) {
	return m.year, nil
}

type mockWorkflowMetrics struct {
	mu        sync.Mutex
	finalized int
	failed    int
	seatless  int
}

func (m *mockWorkflowMetrics) RegistrationFinalized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized++
}

func (m *mockWorkflowMetrics) RegistrationFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *mockWorkflowMetrics) SeatExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seatless++
}

type workflowFixture struct {
	svc           *RegistrationService
	store         *mockWorkflowStore
	selections    *mockSelectionStore
	offerings     *mockOfferingReader
	students      *mockStudentReader
	approvals     *mockApprovalStore
	fees          *mockFeeReader
	notifications *mockNotificationWriter
	metrics       *mockWorkflowMetrics
}

func newWorkflowFixture() *workflowFixture {
	advisorID := "fac-1"
	student := &models.Student{
		ID:             "stu-1",
		UserID:         "user-1",
		RegistrationNo: "REG-001",
		FullName:       "Amina Yusuf",
		Programme:      "BSc Computer Science",
		AdvisorID:      &advisorID,
		Status:         models.AcademicStatusActive,
	}
	f := &workflowFixture{
		store: &mockWorkflowStore{seats: map[string]int{"off-1": 5, "off-2": 5}},
		selections: &mockSelectionStore{
			selections: map[string]*models.CourseSelection{},
		},
		offerings: &mockOfferingReader{offerings: map[string]*models.CourseOffering{
			"off-1": {ID: "off-1", CourseCode: "CS301", Semester: 3, AcademicYearID: "year-1", MaxSeats: 5, AvailableSeats: 5, RegistrationCloses: time.Now().Add(24 * time.Hour)},
			"off-2": {ID: "off-2", CourseCode: "CS305", Semester: 3, AcademicYearID: "year-1", MaxSeats: 5, AvailableSeats: 5, RegistrationCloses: time.Now().Add(24 * time.Hour)},
		}},
		students: &mockStudentReader{
			students:  map[string]*models.Student{"user-1": student},
			byID:      map[string]*models.Student{"stu-1": student},
			faculties: map[string]*models.Faculty{"fuser-1": {ID: "fac-1", UserID: "fuser-1", FullName: "Dr. Okafor"}},
		},
		fees:          &mockFeeReader{},
		notifications: &mockNotificationWriter{},
		metrics:       &mockWorkflowMetrics{},
	}
	f.approvals = &mockApprovalStore{rows: map[string]*models.FacultyRegistrationApproval{}, store: f.store}
	f.svc = NewRegistrationService(
		f.store, f.selections, f.offerings, f.students, f.approvals,
		f.fees, f.notifications, &mockYearProvider{year: &models.AcademicYear{ID: "year-1", Label: "2025/2026", IsCurrent: true}},
		f.metrics, nil, nil,
	)
	return f
}

func (f *workflowFixture) selectAndSubmit(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SelectCourse(ctx, "user-1", SelectCourseRequest{OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, "user-1", SubmitForApprovalRequest{Semester: 3})
	require.NoError(t, err)
}

func TestWorkflowFeeThenFacultyFinalizes(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)

	// Fee lands first; the advisor has not decided yet.
	f.store.feePaid = true
	require.NoError(t, f.svc.FinalizeCheck(ctx, models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}))
	assert.Equal(t, models.RegistrationStatusInProgress, f.store.headerStatus)
	assert.Zero(t, f.store.finalizeRuns)

	// Advisor approval arrives second and completes the tuple.
	err := f.svc.RecordFacultyDecision(ctx, "fuser-1", FacultyDecisionRequest{StudentID: "stu-1", Semester: 3, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCompleted, f.store.headerStatus)
	assert.Equal(t, 1, f.store.finalizeRuns)
	assert.Equal(t, 4, f.store.seats["off-1"])
	assert.Equal(t, 1, f.metrics.finalized)
}

func TestWorkflowFacultyThenFeeFinalizes(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)

	// Advisor approves first; fee is still pending so nothing completes.
	f.store.facultyApproved = true
	err := f.svc.RecordFacultyDecision(ctx, "fuser-1", FacultyDecisionRequest{StudentID: "stu-1", Semester: 3, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusInProgress, f.store.headerStatus)

	// Fee approval lands second.
	f.store.feePaid = true
	tuple := models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}
	require.NoError(t, f.svc.FinalizeCheck(ctx, tuple))
	assert.Equal(t, models.RegistrationStatusCompleted, f.store.headerStatus)
	assert.Equal(t, 1, f.store.finalizeRuns)
	assert.Equal(t, 4, f.store.seats["off-1"])
}

func TestWorkflowFinalizeIsIdempotent(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)
	f.store.feePaid = true
	f.store.facultyApproved = true

	tuple := models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}
	require.NoError(t, f.svc.FinalizeCheck(ctx, tuple))
	require.NoError(t, f.svc.FinalizeCheck(ctx, tuple))

	assert.Equal(t, 1, f.store.finalizeRuns)
	assert.Equal(t, 4, f.store.seats["off-1"], "seat must be consumed exactly once")
	assert.Equal(t, 1, f.metrics.finalized)
}

func TestWorkflowConcurrentFinalizeRunsOnce(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)
	f.store.feePaid = true
	f.store.facultyApproved = true
	f.store.finalizeHold = 20 * time.Millisecond

	tuple := models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.FinalizeCheck(ctx, tuple)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Zero(t, atomic.LoadInt32(&f.store.overlapped), "finalize invocations for one tuple must not overlap")
	assert.Equal(t, 1, f.store.finalizeRuns)
	assert.Equal(t, 4, f.store.seats["off-1"], "seat must be consumed exactly once")
	assert.Equal(t, 1, f.metrics.finalized)
}

func TestWorkflowRejectionFailsRegistration(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)

	note := "course load too high"
	err := f.svc.RecordFacultyDecision(ctx, "fuser-1", FacultyDecisionRequest{StudentID: "stu-1", Semester: 3, Approve: false, Note: &note})
	require.NoError(t, err)

	assert.True(t, f.store.rejected)
	assert.Equal(t, models.RegistrationStatusFailed, f.store.headerStatus)
	assert.Equal(t, 5, f.store.seats["off-1"], "pending rows never consumed seats")
	assert.Equal(t, 1, f.metrics.failed)
}

func TestWorkflowSeatExhaustionAtFinalize(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)
	f.store.seats["off-1"] = 0
	f.store.feePaid = true
	f.store.facultyApproved = true

	tuple := models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}
	require.NoError(t, f.svc.FinalizeCheck(ctx, tuple))

	assert.Equal(t, models.RegistrationStatusCompleted, f.store.headerStatus)
	alerts := f.notifications.byType(models.NotificationTypeSeatAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "stu-1", alerts[0].StudentID)
	assert.Equal(t, 1, f.metrics.seatless)
}

func TestSubmitForApprovalRequiresAdvisor(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.students.students["user-1"].AdvisorID = nil

	_, err := f.svc.SelectCourse(ctx, "user-1", SelectCourseRequest{OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, "user-1", SubmitForApprovalRequest{Semester: 3})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNoAdvisorAssigned.Code, appErr.Code)
}

func TestRecordFacultyDecisionRejectsWrongAdvisor(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)
	f.students.faculties["fuser-2"] = &models.Faculty{ID: "fac-other", UserID: "fuser-2"}

	err := f.svc.RecordFacultyDecision(ctx, "fuser-2", FacultyDecisionRequest{StudentID: "stu-1", Semester: 3, Approve: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Zero(t, f.store.finalizeRuns)
}

func TestSelectCourseConflictsOnExistingSelection(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()

	f.selections.selections["off-1"] = &models.CourseSelection{
		ID: "sel-off-1", StudentID: "stu-1", OfferingID: "off-1",
		Semester: 3, AcademicYearID: "year-1", Status: models.SelectionStatusCompleted,
	}
	_, err := f.svc.SelectCourse(ctx, "user-1", SelectCourseRequest{OfferingID: "off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSelectCourseNoOpWhenAlreadyPending(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()

	f.selections.selections["off-1"] = &models.CourseSelection{
		ID: "sel-off-1", StudentID: "stu-1", OfferingID: "off-1",
		Semester: 3, AcademicYearID: "year-1", Status: models.SelectionStatusPending,
	}
	_, err := f.svc.SelectCourse(ctx, "user-1", SelectCourseRequest{OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Empty(t, f.store.registered, "re-selecting a pending course writes nothing")
}

func TestSelectCourseRejectsCompletedRegistration(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.store.headerExists = true
	f.store.headerStatus = models.RegistrationStatusCompleted

	_, err := f.svc.SelectCourse(ctx, "user-1", SelectCourseRequest{OfferingID: "off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDropCourseAfterDeadline(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.offerings.offerings["off-1"].RegistrationCloses = time.Now().Add(-time.Hour)
	f.selections.selections["off-1"] = &models.CourseSelection{
		ID: "sel-off-1", StudentID: "stu-1", OfferingID: "off-1",
		Semester: 3, AcademicYearID: "year-1", Status: models.SelectionStatusPending,
	}

	_, err := f.svc.DropCourse(ctx, "user-1", DropCourseRequest{OfferingID: "off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDeadlinePassed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.selections.dropped)
}

func TestDropCompletedCourseReturnsSeat(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selections.selections["off-1"] = &models.CourseSelection{
		ID: "sel-off-1", StudentID: "stu-1", OfferingID: "off-1",
		Semester: 3, AcademicYearID: "year-1", Status: models.SelectionStatusCompleted,
	}

	_, err := f.svc.DropCourse(ctx, "user-1", DropCourseRequest{OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sel-off-1"}, f.selections.dropped)
	assert.Equal(t, []string{"off-1"}, f.selections.seatGiven)
}

func TestSummaryAggregatesAllTracks(t *testing.T) {
	f := newWorkflowFixture()
	ctx := context.Background()
	f.selectAndSubmit(t)
	f.fees.latest = &models.FeeTransaction{ID: "fee-1", Status: models.FeeStatusPaid}

	summary, err := f.svc.Summary(ctx, "user-1", 3)
	require.NoError(t, err)
	require.NotNil(t, summary.Registration)
	assert.Equal(t, models.RegistrationStatusInProgress, summary.Registration.Status)
	assert.Equal(t, models.FeeStatusPaid, summary.FeeStatus)
	require.NotNil(t, summary.FacultyApproval)
	assert.Equal(t, models.ApprovalStatusPending, summary.FacultyApproval.Status)
}
