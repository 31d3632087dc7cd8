package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

var questionColumnNames = []string{"id", "exam_id", "section_id", "number", "max_marks", "optional", "bloom_level"}

func TestExamRepositoryGetExam(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewExamRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM exams WHERE id = $1")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_assignment_id", "attempt_kind", "name"}).
			AddRow("exam-1", "sa-1", "INTERNAL_1", "Internal I"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_sections WHERE exam_id = $1")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "exam_id", "name", "required_count"}).
			AddRow("sec-a", "exam-1", "Part A", 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_questions WHERE exam_id IN (?)")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows(questionColumnNames).
			AddRow("q1", "exam-1", "sec-a", 1, 10.0, false, "APPLY").
			AddRow("q2", "exam-1", "sec-a", 2, 10.0, false, "").
			AddRow("q3", "exam-1", "sec-a", 3, 10.0, true, ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM question_co_mappings m JOIN exam_questions q")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"question_id", "co_id", "weight_percent"}).
			AddRow("q1", "co-1", 100.0).
			AddRow("q2", "co-1", 50.0).
			AddRow("q2", "co-2", 50.0))

	exam, err := repo.GetExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInternal1, exam.AttemptKind)
	require.Len(t, exam.Sections, 1)
	assert.Equal(t, 2, exam.Sections[0].RequiredCount)
	require.Len(t, exam.Questions, 3)
	assert.True(t, exam.Questions[2].Optional)
	assert.Len(t, exam.Questions[1].COMappings, 2)
	assert.Empty(t, exam.Questions[2].COMappings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryGetExamNotFound(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewExamRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM exams WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetExam(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryQuestionsForExamsEmpty(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	questions, err := NewExamRepository(db).QuestionsForExams(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, questions)
	require.NoError(t, mock.ExpectationsWereMet())
}
