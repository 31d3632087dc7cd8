package service

import (
	"math"
	"sort"
	"strconv"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

// NormalizeScores validates raw entries against an exam paper and produces a scoreset.
// Sections whose required count is below their question count keep only the best answers.
func NormalizeScores(exam models.ExamSpec, entries []models.ScoreEntry) (models.NormalizedScoreset, error) {
	result := models.NormalizedScoreset{ExamID: exam.ID}

	questions := make(map[string]models.QuestionSpec, len(exam.Questions))
	order := make(map[string]int, len(exam.Questions))
	for i, q := range exam.Questions {
		if q.MaxMarks <= 0 {
			return result, appErrors.Clone(appErrors.ErrInvalidConfig, "question max marks must be positive").
				WithDetail("question_id", q.ID)
		}
		questions[q.ID] = q
		order[q.ID] = i
	}

	present := make(map[string]models.NormalizedScore, len(entries))
	for _, entry := range entries {
		q, ok := questions[entry.QuestionID]
		if !ok {
			return result, appErrors.ErrUnknownQuestion.
				WithDetail("question_id", entry.QuestionID).
				WithDetail("exam_id", exam.ID)
		}
		if _, dup := present[entry.QuestionID]; dup {
			return result, appErrors.ErrDuplicateEntry.WithDetail("question_id", entry.QuestionID)
		}
		if math.IsNaN(entry.Obtained) || entry.Obtained < 0 || entry.Obtained > q.MaxMarks {
			return result, appErrors.ErrRangeViolation.
				WithDetail("question_id", entry.QuestionID).
				WithDetail("obtained", strconv.FormatFloat(entry.Obtained, 'f', -1, 64)).
				WithDetail("max_marks", strconv.FormatFloat(q.MaxMarks, 'f', -1, 64))
		}
		present[entry.QuestionID] = models.NormalizedScore{
			QuestionID: q.ID,
			SectionID:  q.SectionID,
			Obtained:   entry.Obtained,
			MaxMarks:   q.MaxMarks,
			Percent:    entry.Obtained / q.MaxMarks * 100,
			Counted:    true,
		}
	}

	for _, q := range exam.Questions {
		if _, ok := present[q.ID]; !ok && !q.Optional {
			return result, appErrors.ErrMissingEntry.WithDetail("question_id", q.ID)
		}
	}

	required := make(map[string]int, len(exam.Sections))
	for _, section := range exam.Sections {
		required[section.ID] = section.RequiredCount
	}
	bySection := make(map[string][]string)
	sectionSize := make(map[string]int)
	for _, q := range exam.Questions {
		sectionSize[q.SectionID]++
		if _, ok := present[q.ID]; ok {
			bySection[q.SectionID] = append(bySection[q.SectionID], q.ID)
		}
	}
	for sectionID, want := range required {
		if want <= 0 {
			continue
		}
		answered := bySection[sectionID]
		if len(answered) < want {
			return result, appErrors.Clone(appErrors.ErrMissingEntry, "section has fewer answers than required").
				WithDetail("section_id", sectionID).
				WithDetail("required", strconv.Itoa(want))
		}
		if want >= sectionSize[sectionID] || len(answered) == want {
			continue
		}
		sort.SliceStable(answered, func(i, j int) bool {
			a, b := present[answered[i]], present[answered[j]]
			if a.Percent != b.Percent {
				return a.Percent > b.Percent
			}
			if a.Obtained != b.Obtained {
				return a.Obtained > b.Obtained
			}
			return order[a.QuestionID] < order[b.QuestionID]
		})
		for _, qid := range answered[want:] {
			score := present[qid]
			score.Counted = false
			present[qid] = score
		}
	}

	for _, q := range exam.Questions {
		score, ok := present[q.ID]
		if !ok {
			continue
		}
		result.Scores = append(result.Scores, score)
		if score.Counted {
			result.TotalObtained += score.Obtained
			result.TotalMax += score.MaxMarks
		}
	}
	if result.TotalMax > 0 {
		result.Percent = result.TotalObtained / result.TotalMax * 100
	}
	return result, nil
}
