package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-reg-api/internal/models"
)

func newApprovalRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFacultyApprovalRepositorySubmitResetsToPending(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewFacultyApprovalRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO faculty_registration_approvals")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	note := "stale note"
	approval := &models.FacultyRegistrationApproval{
		StudentID:      "stu-1",
		Semester:       3,
		AcademicYearID: "year-1",
		FacultyID:      "fac-1",
		Status:         models.ApprovalStatusRejected,
		Note:           &note,
	}
	err := repo.Submit(context.Background(), approval)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalStatusPending, approval.Status)
	require.Nil(t, approval.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyApprovalRepositoryDecideRequiresExistingRow(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewFacultyApprovalRepository(db)

	tuple := models.RegistrationTuple{StudentID: "stu-1", Semester: 3, AcademicYearID: "year-1"}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE faculty_registration_approvals SET status = $4")).
		WithArgs("stu-1", 3, "year-1", models.ApprovalStatusApproved, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Decide(context.Background(), tuple, models.ApprovalStatusApproved, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
