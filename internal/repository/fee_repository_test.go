package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

func newFeeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFeeRepositoryCreateDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	fee := &models.FeeTransaction{
		StudentID:      "stu-1",
		Semester:       3,
		AcademicYearID: "year-1",
		ReferenceNo:    "R123",
		Amount:         1500,
	}
	err := repo.Create(context.Background(), fee)
	require.NoError(t, err)
	require.NotEmpty(t, fee.ID)
	require.Equal(t, models.FeeStatusPending, fee.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryCreateSurfacesDuplicateReference(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_transactions")).
		WillReturnError(&pq.Error{Code: "23505"})

	fee := &models.FeeTransaction{
		StudentID:      "stu-2",
		Semester:       3,
		AcademicYearID: "year-1",
		ReferenceNo:    "R123",
		Amount:         1500,
	}
	err := repo.Create(context.Background(), fee)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeRepositoryDecideWritesStatusAndAuditRow(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()
	repo := NewFeeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE fee_transactions SET status = $2")).
		WithArgs("fee-1", models.FeeStatusPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fee_approvals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	approval := &models.FeeApproval{
		TransactionID: "fee-1",
		AdminID:       "admin-1",
		Decision:      models.FeeStatusPaid,
	}
	err := repo.Decide(context.Background(), approval)
	require.NoError(t, err)
	require.NotEmpty(t, approval.ID)
	require.False(t, approval.DecidedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
