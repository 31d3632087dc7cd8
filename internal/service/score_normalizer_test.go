package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

func bestTwoOfThreeExam() models.ExamSpec {
	return models.ExamSpec{
		ID:                  "exam-1",
		SubjectAssignmentID: "sa-1",
		AttemptKind:         models.AttemptInternal1,
		Sections:            []models.SectionSpec{{ID: "sec-a", ExamID: "exam-1", RequiredCount: 2}},
		Questions: []models.QuestionSpec{
			{ID: "q1", SectionID: "sec-a", Number: 1, MaxMarks: 10},
			{ID: "q2", SectionID: "sec-a", Number: 2, MaxMarks: 10},
			{ID: "q3", SectionID: "sec-a", Number: 3, MaxMarks: 10, Optional: true},
		},
	}
}

func TestNormalizeScoresBestOfSection(t *testing.T) {
	set, err := NormalizeScores(bestTwoOfThreeExam(), []models.ScoreEntry{
		{QuestionID: "q1", Obtained: 8},
		{QuestionID: "q2", Obtained: 9},
		{QuestionID: "q3", Obtained: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 17.0, set.TotalObtained)
	assert.Equal(t, 20.0, set.TotalMax)
	assert.InDelta(t, 85.0, set.Percent, 1e-9)
	require.Len(t, set.Scores, 3)

	q3, ok := set.Score("q3")
	require.True(t, ok)
	assert.False(t, q3.Counted)
	assert.InDelta(t, 50.0, q3.Percent, 1e-9)
}

func TestNormalizeScoresOptionalOmitted(t *testing.T) {
	set, err := NormalizeScores(bestTwoOfThreeExam(), []models.ScoreEntry{
		{QuestionID: "q1", Obtained: 4},
		{QuestionID: "q2", Obtained: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, set.TotalObtained)
	assert.Equal(t, 20.0, set.TotalMax)
	require.Len(t, set.Scores, 2)
}

func TestNormalizeScoresOptionalBeatsRequired(t *testing.T) {
	set, err := NormalizeScores(bestTwoOfThreeExam(), []models.ScoreEntry{
		{QuestionID: "q1", Obtained: 2},
		{QuestionID: "q2", Obtained: 7},
		{QuestionID: "q3", Obtained: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 17.0, set.TotalObtained)
	q1, _ := set.Score("q1")
	assert.False(t, q1.Counted)
}

func TestNormalizeScoresTieKeepsQuestionOrder(t *testing.T) {
	set, err := NormalizeScores(bestTwoOfThreeExam(), []models.ScoreEntry{
		{QuestionID: "q1", Obtained: 5},
		{QuestionID: "q2", Obtained: 5},
		{QuestionID: "q3", Obtained: 5},
	})
	require.NoError(t, err)
	q3, _ := set.Score("q3")
	assert.False(t, q3.Counted)
	assert.Equal(t, 10.0, set.TotalObtained)
}

func TestNormalizeScoresRanksByPercentAcrossMaxima(t *testing.T) {
	exam := bestTwoOfThreeExam()
	exam.Sections[0].RequiredCount = 1
	exam.Questions[0].MaxMarks = 20
	exam.Questions[1].MaxMarks = 5
	exam.Questions[1].Optional = true

	set, err := NormalizeScores(exam, []models.ScoreEntry{
		{QuestionID: "q1", Obtained: 6},
		{QuestionID: "q2", Obtained: 5},
	})
	require.NoError(t, err)

	q1, _ := set.Score("q1")
	q2, _ := set.Score("q2")
	assert.False(t, q1.Counted)
	assert.True(t, q2.Counted)
	assert.Equal(t, 5.0, set.TotalObtained)
	assert.Equal(t, 5.0, set.TotalMax)
	assert.InDelta(t, 100, set.Percent, 1e-9)
}

func TestNormalizeScoresBoundaries(t *testing.T) {
	exam := models.ExamSpec{ID: "exam-2", Questions: []models.QuestionSpec{{ID: "q1", MaxMarks: 10}}}

	set, err := NormalizeScores(exam, []models.ScoreEntry{{QuestionID: "q1", Obtained: 10}})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, set.Percent, 1e-9)

	_, err = NormalizeScores(exam, []models.ScoreEntry{{QuestionID: "q1", Obtained: 11}})
	require.ErrorIs(t, err, appErrors.ErrRangeViolation)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "q1", appErr.Details["question_id"])

	_, err = NormalizeScores(exam, []models.ScoreEntry{{QuestionID: "q1", Obtained: -1}})
	require.ErrorIs(t, err, appErrors.ErrRangeViolation)
}

func TestNormalizeScoresRejectsBadEntries(t *testing.T) {
	exam := bestTwoOfThreeExam()
	cases := []struct {
		name    string
		entries []models.ScoreEntry
		want    *appErrors.Error
		detail  string
	}{
		{
			name:    "unknown question",
			entries: []models.ScoreEntry{{QuestionID: "q1", Obtained: 1}, {QuestionID: "q2", Obtained: 1}, {QuestionID: "q9", Obtained: 1}},
			want:    appErrors.ErrUnknownQuestion,
			detail:  "q9",
		},
		{
			name:    "duplicate",
			entries: []models.ScoreEntry{{QuestionID: "q1", Obtained: 1}, {QuestionID: "q1", Obtained: 2}, {QuestionID: "q2", Obtained: 1}},
			want:    appErrors.ErrDuplicateEntry,
			detail:  "q1",
		},
		{
			name:    "missing required",
			entries: []models.ScoreEntry{{QuestionID: "q1", Obtained: 1}, {QuestionID: "q3", Obtained: 1}},
			want:    appErrors.ErrMissingEntry,
			detail:  "q2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeScores(exam, tc.entries)
			require.ErrorIs(t, err, tc.want)
			var appErr *appErrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.detail, appErr.Details["question_id"])
		})
	}
}

func TestNormalizeScoresSectionShortOfRequired(t *testing.T) {
	exam := models.ExamSpec{
		ID:       "exam-3",
		Sections: []models.SectionSpec{{ID: "sec-b", RequiredCount: 2}},
		Questions: []models.QuestionSpec{
			{ID: "q1", SectionID: "sec-b", MaxMarks: 5, Optional: true},
			{ID: "q2", SectionID: "sec-b", MaxMarks: 5, Optional: true},
			{ID: "q3", SectionID: "sec-b", MaxMarks: 5, Optional: true},
		},
	}
	_, err := NormalizeScores(exam, []models.ScoreEntry{{QuestionID: "q2", Obtained: 3}})
	require.ErrorIs(t, err, appErrors.ErrMissingEntry)
}
