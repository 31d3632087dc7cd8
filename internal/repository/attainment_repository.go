package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

type questionLoader interface {
	QuestionsForExams(ctx context.Context, examIDs []string) ([]models.QuestionSpec, error)
}

// AttainmentRepository assembles the frozen datasets that CO and PO attainment is computed from.
type AttainmentRepository struct {
	db        *sqlx.DB
	questions questionLoader
}

// NewAttainmentRepository constructs the repository.
func NewAttainmentRepository(db *sqlx.DB, questions questionLoader) *AttainmentRepository {
	return &AttainmentRepository{db: db, questions: questions}
}

// CohortDataset collects the counted question scores of every frozen or published record in a cohort.
func (r *AttainmentRepository) CohortDataset(ctx context.Context, cohortID string) (*models.CohortDataset, error) {
	const query = `SELECT student_id, attempts FROM internal_mark_records
	WHERE cohort_id = $1 AND state IN ('FROZEN', 'PUBLISHED')
	ORDER BY student_id, subject_assignment_id`
	var rows []struct {
		StudentID string         `db:"student_id"`
		Attempts  types.JSONText `db:"attempts"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, cohortID); err != nil {
		return nil, fmt.Errorf("list finalized marks records: %w", err)
	}

	dataset := &models.CohortDataset{CohortID: cohortID}
	examIDs := map[string]struct{}{}
	index := map[string]int{}
	for _, row := range rows {
		var attempts []models.AssessmentAttempt
		if err := json.Unmarshal(row.Attempts, &attempts); err != nil {
			return nil, fmt.Errorf("decode attempts of student %s: %w", row.StudentID, err)
		}
		pos, ok := index[row.StudentID]
		if !ok {
			pos = len(dataset.Students)
			index[row.StudentID] = pos
			dataset.Students = append(dataset.Students, models.StudentScores{StudentID: row.StudentID})
		}
		for _, attempt := range attempts {
			examIDs[attempt.ExamID] = struct{}{}
			for _, score := range attempt.Scoreset.Scores {
				if score.Counted {
					dataset.Students[pos].Scores = append(dataset.Students[pos].Scores, score)
				}
			}
		}
	}
	if len(examIDs) == 0 {
		return dataset, nil
	}

	ids := make([]string, 0, len(examIDs))
	for id := range examIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	questions, err := r.questions.QuestionsForExams(ctx, ids)
	if err != nil {
		return nil, err
	}
	dataset.Questions = questions
	return dataset, nil
}

// POMappings returns the CO mappings of a program outcome.
func (r *AttainmentRepository) POMappings(ctx context.Context, poID string) ([]models.COPOMapping, error) {
	const query = `SELECT po_id, co_id, strength FROM co_po_mappings WHERE po_id = $1 ORDER BY co_id`
	var mappings []models.COPOMapping
	if err := r.db.SelectContext(ctx, &mappings, query, poID); err != nil {
		return nil, fmt.Errorf("list co po mappings: %w", err)
	}
	return mappings, nil
}
