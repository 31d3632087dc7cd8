package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

// ExamRepository reads question papers and their CO mappings.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs the repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// GetExam loads an exam with its sections, questions and CO mappings.
func (r *ExamRepository) GetExam(ctx context.Context, examID string) (*models.ExamSpec, error) {
	const query = `SELECT id, subject_assignment_id, attempt_kind, name FROM exams WHERE id = $1`
	var exam models.ExamSpec
	if err := r.db.GetContext(ctx, &exam, query, examID); err != nil {
		return nil, err
	}

	const sections = `SELECT id, exam_id, name, required_count FROM exam_sections WHERE exam_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &exam.Sections, sections, examID); err != nil {
		return nil, fmt.Errorf("list exam sections: %w", err)
	}

	questions, err := r.QuestionsForExams(ctx, []string{examID})
	if err != nil {
		return nil, err
	}
	exam.Questions = questions
	return &exam, nil
}

// QuestionsForExams loads questions of the given exams with their CO mappings, ordered by exam and number.
func (r *ExamRepository) QuestionsForExams(ctx context.Context, examIDs []string) ([]models.QuestionSpec, error) {
	if len(examIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, exam_id, COALESCE(section_id, '') AS section_id, number, max_marks, optional,
       COALESCE(bloom_level, '') AS bloom_level
	FROM exam_questions WHERE exam_id IN (?) ORDER BY exam_id, number`, examIDs)
	if err != nil {
		return nil, fmt.Errorf("build question query: %w", err)
	}
	var questions []models.QuestionSpec
	if err := r.db.SelectContext(ctx, &questions, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list exam questions: %w", err)
	}
	if len(questions) == 0 {
		return questions, nil
	}

	query, args, err = sqlx.In(`SELECT m.question_id, m.co_id, m.weight_percent
	FROM question_co_mappings m JOIN exam_questions q ON q.id = m.question_id
	WHERE q.exam_id IN (?) ORDER BY m.question_id, m.co_id`, examIDs)
	if err != nil {
		return nil, fmt.Errorf("build co mapping query: %w", err)
	}
	var mappings []models.QuestionCOMapping
	if err := r.db.SelectContext(ctx, &mappings, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list question co mappings: %w", err)
	}
	byQuestion := make(map[string][]models.QuestionCOMapping, len(questions))
	for _, m := range mappings {
		byQuestion[m.QuestionID] = append(byQuestion[m.QuestionID], m)
	}
	for i := range questions {
		questions[i].COMappings = byQuestion[questions[i].ID]
	}
	return questions, nil
}
