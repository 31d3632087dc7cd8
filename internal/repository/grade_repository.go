package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

// GradeRepository reads grading tables and the finalized totals that feed SGPA and CGPA.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// GradingTable fetches a subject's grading table. A nil version selects the latest one.
func (r *GradeRepository) GradingTable(ctx context.Context, subjectID string, version *int) (*models.GradingTable, error) {
	var table models.GradingTable
	var err error
	if version == nil {
		const latest = `SELECT subject_id, version, max_total FROM grading_tables
		WHERE subject_id = $1 ORDER BY version DESC LIMIT 1`
		err = r.db.GetContext(ctx, &table, latest, subjectID)
	} else {
		const exact = `SELECT subject_id, version, max_total FROM grading_tables WHERE subject_id = $1 AND version = $2`
		err = r.db.GetContext(ctx, &table, exact, subjectID, *version)
	}
	if err != nil {
		return nil, err
	}

	const bands = `SELECT lower_bound, letter, point FROM grading_bands
	WHERE subject_id = $1 AND version = $2 ORDER BY lower_bound DESC, point DESC`
	if err := r.db.SelectContext(ctx, &table.Bands, bands, subjectID, table.Version); err != nil {
		return nil, fmt.Errorf("list grading bands: %w", err)
	}
	return &table, nil
}

// SubjectCredits returns the credit value of a subject.
func (r *GradeRepository) SubjectCredits(ctx context.Context, subjectID string) (float64, error) {
	const query = `SELECT credits FROM subjects WHERE id = $1`
	var credits float64
	if err := r.db.GetContext(ctx, &credits, query, subjectID); err != nil {
		return 0, err
	}
	return credits, nil
}

// finalizedResultsQuery lists every subject a student takes in started semesters. Total and
// grading table version are only set for frozen or published records.
const finalizedResultsQuery = `SELECT sa.subject_id, sa.semester_id, s.credits,
       CASE WHEN r.state IN ('FROZEN', 'PUBLISHED') THEN r.total END AS total,
       CASE WHEN r.state IN ('FROZEN', 'PUBLISHED')
            THEN NULLIF((r.policy->>'grading_table_version')::int, 0) END AS grading_table_version
	FROM student_enrollments e
	JOIN semesters sm ON sm.id = e.semester_id
	JOIN subject_assignments sa ON sa.cohort_id = e.cohort_id AND sa.semester_id = e.semester_id
	JOIN subjects s ON s.id = sa.subject_id
	LEFT JOIN internal_mark_records r ON r.subject_assignment_id = sa.id AND r.student_id = e.student_id
	WHERE e.student_id = $1 AND sm.start_date <= NOW()`

// SemesterResults lists the student's subjects in one semester.
func (r *GradeRepository) SemesterResults(ctx context.Context, studentID, semesterID string) ([]models.SubjectResult, error) {
	query := finalizedResultsQuery + ` AND e.semester_id = $2 ORDER BY sa.subject_id`
	var results []models.SubjectResult
	if err := r.db.SelectContext(ctx, &results, query, studentID, semesterID); err != nil {
		return nil, fmt.Errorf("list semester results: %w", err)
	}
	return results, nil
}

// StudentResults lists the student's subjects across semesters in chronological order.
func (r *GradeRepository) StudentResults(ctx context.Context, studentID string) ([]models.SubjectResult, error) {
	query := finalizedResultsQuery + ` ORDER BY sm.start_date, sa.semester_id, sa.subject_id`
	var results []models.SubjectResult
	if err := r.db.SelectContext(ctx, &results, query, studentID); err != nil {
		return nil, fmt.Errorf("list student results: %w", err)
	}
	return results, nil
}
