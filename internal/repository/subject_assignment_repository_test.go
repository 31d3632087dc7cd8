package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

func TestSubjectAssignmentRepositoryPolicy(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewSubjectAssignmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM calculation_policies p JOIN subject_assignments sa")).
		WithArgs("sa-1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_assignment_id", "subject_id", "strategy", "precision", "internal_max_marks", "grading_table_version"}).
			AddRow("sa-1", "math", "WEIGHTED", 2, 40.0, 3))
	mock.ExpectQuery(regexp.QuoteMeta("FROM calculation_policy_weights")).
		WithArgs("sa-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_kind", "weight"}).
			AddRow("INTERNAL_1", 0.4).
			AddRow("INTERNAL_2", 0.6))

	policy, err := repo.Policy(context.Background(), "sa-1")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyWeighted, policy.Strategy)
	assert.Equal(t, 3, policy.GradingTableVersion)
	assert.Equal(t, 0.6, policy.Weights[models.AttemptInternal2])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectAssignmentRepositoryPermissions(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewSubjectAssignmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subject_assignment_teachers")).
		WithArgs("sa-1", "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM marks_approvers a")).
		WithArgs("teacher-1", "sa-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subject_assignments WHERE id = $1")).
		WithArgs("sa-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "cohort_id", "semester_id", "teacher_id"}).
			AddRow("sa-1", "math", "cohort-a", "sem-1", "teacher-1"))

	canEnter, err := repo.CanEnterMarks(context.Background(), "teacher-1", "sa-1")
	require.NoError(t, err)
	assert.True(t, canEnter)

	canApprove, err := repo.CanApprove(context.Background(), "teacher-1", "sa-1")
	require.NoError(t, err)
	assert.False(t, canApprove)

	assignment, err := repo.Assignment(context.Background(), "sa-1")
	require.NoError(t, err)
	assert.Equal(t, "cohort-a", assignment.CohortID)
	require.NoError(t, mock.ExpectationsWereMet())
}
