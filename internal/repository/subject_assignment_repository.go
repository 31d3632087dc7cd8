package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

// SubjectAssignmentRepository resolves subject assignments, their calculation policies and who may act on them.
type SubjectAssignmentRepository struct {
	db *sqlx.DB
}

// NewSubjectAssignmentRepository constructs the repository.
func NewSubjectAssignmentRepository(db *sqlx.DB) *SubjectAssignmentRepository {
	return &SubjectAssignmentRepository{db: db}
}

// Assignment fetches a subject assignment by id.
func (r *SubjectAssignmentRepository) Assignment(ctx context.Context, id string) (*models.SubjectAssignment, error) {
	const query = `SELECT id, subject_id, cohort_id, semester_id, teacher_id FROM subject_assignments WHERE id = $1`
	var assignment models.SubjectAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Policy fetches the calculation policy of a subject assignment. The grading table version
// defaults to the subject's latest table so new records pin the scheme in force at creation.
func (r *SubjectAssignmentRepository) Policy(ctx context.Context, subjectAssignmentID string) (*models.CalculationPolicy, error) {
	const query = `SELECT p.subject_assignment_id, sa.subject_id, p.strategy, p.precision, p.internal_max_marks,
       COALESCE(p.grading_table_version,
                (SELECT MAX(g.version) FROM grading_tables g WHERE g.subject_id = sa.subject_id), 0) AS grading_table_version
	FROM calculation_policies p JOIN subject_assignments sa ON sa.id = p.subject_assignment_id
	WHERE p.subject_assignment_id = $1`
	var policy models.CalculationPolicy
	if err := r.db.GetContext(ctx, &policy, query, subjectAssignmentID); err != nil {
		return nil, err
	}

	const weights = `SELECT attempt_kind, weight FROM calculation_policy_weights WHERE subject_assignment_id = $1`
	var rows []struct {
		Kind   models.AttemptKind `db:"attempt_kind"`
		Weight float64            `db:"weight"`
	}
	if err := r.db.SelectContext(ctx, &rows, weights, subjectAssignmentID); err != nil {
		return nil, fmt.Errorf("list policy weights: %w", err)
	}
	if len(rows) > 0 {
		policy.Weights = make(map[models.AttemptKind]float64, len(rows))
		for _, row := range rows {
			policy.Weights[row.Kind] = row.Weight
		}
	}
	return &policy, nil
}

// CanEnterMarks reports whether actorID teaches the subject assignment.
func (r *SubjectAssignmentRepository) CanEnterMarks(ctx context.Context, actorID, subjectAssignmentID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM subject_assignments WHERE id = $1 AND teacher_id = $2
		UNION ALL
		SELECT 1 FROM subject_assignment_teachers WHERE subject_assignment_id = $1 AND teacher_id = $2
	)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, subjectAssignmentID, actorID); err != nil {
		return false, fmt.Errorf("check marks entry permission: %w", err)
	}
	return ok, nil
}

// CanApprove reports whether actorID is an approving authority for the assignment's subject.
// Approvers without a subject scope may approve any subject.
func (r *SubjectAssignmentRepository) CanApprove(ctx context.Context, actorID, subjectAssignmentID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM marks_approvers a JOIN subject_assignments sa ON sa.id = $2
		WHERE a.user_id = $1 AND (a.subject_id IS NULL OR a.subject_id = sa.subject_id)
	)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, actorID, subjectAssignmentID); err != nil {
		return false, fmt.Errorf("check approval permission: %w", err)
	}
	return ok, nil
}
