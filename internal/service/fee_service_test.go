package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-reg-api/internal/models"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
)

type mockFeeStore struct {
	byID       map[string]*models.FeeTransaction
	references map[string]bool
	created    []*models.FeeTransaction
	decided    []*models.FeeApproval
}

func (m *mockFeeStore) FindByID(ctx context.Context, id string) (*models.FeeTransaction, error) {
	if f, ok := m.byID[id]; ok {
		return f, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeStore) FindLatestByTuple(ctx context.Context, tuple models.RegistrationTuple) (*models.FeeTransaction, error) {
	for _, f := range m.byID {
		if f.StudentID == tuple.StudentID && f.Semester == tuple.Semester && f.AcademicYearID == tuple.AcademicYearID {
			return f, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeStore) Create(ctx context.Context, fee *models.FeeTransaction) error {
	if m.references[fee.ReferenceNo] {
		return &pq.Error{Code: "23505"}
	}
	if m.references == nil {
		m.references = make(map[string]bool)
	}
	if m.byID == nil {
		m.byID = make(map[string]*models.FeeTransaction)
	}
	m.references[fee.ReferenceNo] = true
	fee.ID = "fee-" + fee.ReferenceNo
	fee.Status = models.FeeStatusPending
	m.byID[fee.ID] = fee
	m.created = append(m.created, fee)
	return nil
}

func (m *mockFeeStore) Decide(ctx context.Context, approval *models.FeeApproval) error {
	if f, ok := m.byID[approval.TransactionID]; ok {
		f.Status = approval.Decision
	}
	m.decided = append(m.decided, approval)
	return nil
}

func (m *mockFeeStore) ListApprovals(ctx context.Context, transactionID string) ([]models.FeeApproval, error) {
	var out []models.FeeApproval
	for _, a := range m.decided {
		if a.TransactionID == transactionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type mockFinalizer struct {
	checked []models.RegistrationTuple
}

func (m *mockFinalizer) FinalizeCheck(ctx context.Context, tuple models.RegistrationTuple) error {
	m.checked = append(m.checked, tuple)
	return nil
}

type feeFixture struct {
	svc           *FeeService
	fees          *mockFeeStore
	finalizer     *mockFinalizer
	notifications *mockNotificationWriter
}

func newFeeFixture() *feeFixture {
	student := &models.Student{ID: "stu-1", UserID: "user-1", Status: models.AcademicStatusActive}
	f := &feeFixture{
		fees:          &mockFeeStore{},
		finalizer:     &mockFinalizer{},
		notifications: &mockNotificationWriter{},
	}
	f.svc = NewFeeService(
		f.fees,
		&mockStudentReader{
			students: map[string]*models.Student{"user-1": student},
			byID:     map[string]*models.Student{"stu-1": student},
		},
		&mockYearProvider{year: &models.AcademicYear{ID: "year-1", IsCurrent: true}},
		f.notifications,
		f.finalizer,
		nil, nil,
	)
	return f
}

func TestSubmitFeeCreatesPendingClaim(t *testing.T) {
	f := newFeeFixture()

	fee, err := f.svc.SubmitFee(context.Background(), "user-1", SubmitFeeRequest{Semester: 3, ReferenceNo: "R123", Amount: 1500})
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusPending, fee.Status)
	assert.Equal(t, "year-1", fee.AcademicYearID)
	assert.Empty(t, f.finalizer.checked, "submission alone never finalizes")
}

func TestSubmitFeeDuplicateReferenceConflicts(t *testing.T) {
	f := newFeeFixture()
	ctx := context.Background()

	_, err := f.svc.SubmitFee(ctx, "user-1", SubmitFeeRequest{Semester: 3, ReferenceNo: "R123", Amount: 1500})
	require.NoError(t, err)

	_, err = f.svc.SubmitFee(ctx, "user-1", SubmitFeeRequest{Semester: 3, ReferenceNo: "R123", Amount: 1500})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.fees.created, 1, "exactly one transaction row for the reference")
}

func TestRecordDecisionPaidTriggersFinalizeCheck(t *testing.T) {
	f := newFeeFixture()
	ctx := context.Background()

	fee, err := f.svc.SubmitFee(ctx, "user-1", SubmitFeeRequest{Semester: 3, ReferenceNo: "R123", Amount: 1500})
	require.NoError(t, err)

	decided, err := f.svc.RecordDecision(ctx, "admin-1", fee.ID, FeeDecisionRequest{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusPaid, decided.Status)
	require.Len(t, f.finalizer.checked, 1)
	assert.Equal(t, models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}, f.finalizer.checked[0])
}

func TestRecordDecisionRejectionNotifiesStudent(t *testing.T) {
	f := newFeeFixture()
	ctx := context.Background()

	fee, err := f.svc.SubmitFee(ctx, "user-1", SubmitFeeRequest{Semester: 3, ReferenceNo: "R456", Amount: 1500})
	require.NoError(t, err)

	decided, err := f.svc.RecordDecision(ctx, "admin-1", fee.ID, FeeDecisionRequest{Approve: false})
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusRejected, decided.Status)
	assert.Empty(t, f.finalizer.checked)
	notices := f.notifications.byType(models.NotificationTypeFee)
	require.Len(t, notices, 1)
	assert.Equal(t, "stu-1", notices[0].StudentID)
}

func TestRecordDecisionUnknownTransaction(t *testing.T) {
	f := newFeeFixture()

	_, err := f.svc.RecordDecision(context.Background(), "admin-1", "missing", FeeDecisionRequest{Approve: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
