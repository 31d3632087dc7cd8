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

type stubQuestionLoader struct {
	requested []string
}

func (s *stubQuestionLoader) QuestionsForExams(_ context.Context, examIDs []string) ([]models.QuestionSpec, error) {
	s.requested = examIDs
	return []models.QuestionSpec{{ID: "q1", ExamID: examIDs[0]}}, nil
}

func TestAttainmentRepositoryCohortDataset(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	loader := &stubQuestionLoader{}
	repo := NewAttainmentRepository(db, loader)
	mock.ExpectQuery(regexp.QuoteMeta("FROM internal_mark_records")).
		WithArgs("cohort-a").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "attempts"}).
			AddRow("student-1", `[{"exam_id":"exam-2","scoreset":{"scores":[
				{"question_id":"q1","percent":80,"counted":true},
				{"question_id":"q2","percent":10,"counted":false}]}}]`).
			AddRow("student-1", `[{"exam_id":"exam-1","scoreset":{"scores":[{"question_id":"q7","percent":60,"counted":true}]}}]`).
			AddRow("student-2", `[]`))

	dataset, err := repo.CohortDataset(context.Background(), "cohort-a")
	require.NoError(t, err)
	assert.Equal(t, "cohort-a", dataset.CohortID)
	require.Len(t, dataset.Students, 2)
	require.Len(t, dataset.Students[0].Scores, 2)
	assert.Equal(t, "q1", dataset.Students[0].Scores[0].QuestionID)
	assert.Equal(t, "q7", dataset.Students[0].Scores[1].QuestionID)
	assert.Empty(t, dataset.Students[1].Scores)
	assert.Equal(t, []string{"exam-1", "exam-2"}, loader.requested)
	assert.Len(t, dataset.Questions, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttainmentRepositoryPOMappings(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewAttainmentRepository(db, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM co_po_mappings WHERE po_id = $1")).
		WithArgs("po-1").
		WillReturnRows(sqlmock.NewRows([]string{"po_id", "co_id", "strength"}).
			AddRow("po-1", "co-1", 3.0).
			AddRow("po-1", "co-2", 1.0))

	mappings, err := repo.POMappings(context.Background(), "po-1")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, 3.0, mappings[0].Strength)
	require.NoError(t, mock.ExpectationsWereMet())
}
