package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

// ErrDuplicateRecord is returned when a record already exists for the natural key.
var ErrDuplicateRecord = errors.New("marks record already exists")

const uniqueViolation = "23505"

const marksRecordColumns = `id, student_id, subject_assignment_id, subject_id, semester_id, cohort_id,
       best_internal, external, total, state, version, revision, originated_by,
       first_submitted_at, frozen_at, published_at, created_at, updated_at, policy, attempts`

type marksRecordRow struct {
	models.InternalMarkRecord
	PolicyJSON   types.JSONText `db:"policy"`
	AttemptsJSON types.JSONText `db:"attempts"`
}

type submissionRow struct {
	models.Submission
	AttemptsJSON types.JSONText `db:"attempts"`
}

// SaveMarksParams describes one compare-and-swap write of a record.
// The update applies only while the stored row still has ExpectedVersion and ExpectedState.
type SaveMarksParams struct {
	Record          *models.InternalMarkRecord
	ExpectedVersion int
	ExpectedState   models.WorkflowState
	Transition      *models.MarksTransition
	Submission      *models.Submission
	Audit           *models.AuditEntry
}

// MarksRecordRepository persists internal marks records with their history.
type MarksRecordRepository struct {
	db *sqlx.DB
}

// NewMarksRecordRepository constructs the repository.
func NewMarksRecordRepository(db *sqlx.DB) *MarksRecordRepository {
	return &MarksRecordRepository{db: db}
}

// GetByID loads a record with submissions and transition history.
func (r *MarksRecordRepository) GetByID(ctx context.Context, id string) (*models.InternalMarkRecord, error) {
	query := `SELECT ` + marksRecordColumns + ` FROM internal_mark_records WHERE id = $1`
	var row marksRecordRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	record, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindByKey loads the record for a student in a subject assignment and semester, without children.
func (r *MarksRecordRepository) FindByKey(ctx context.Context, key models.MarksRecordKey) (*models.InternalMarkRecord, error) {
	query := `SELECT ` + marksRecordColumns + ` FROM internal_mark_records
	WHERE student_id = $1 AND subject_assignment_id = $2 AND semester_id = $3`
	var row marksRecordRow
	if err := r.db.GetContext(ctx, &row, query, key.StudentID, key.SubjectAssignmentID, key.SemesterID); err != nil {
		return nil, err
	}
	return row.toModel()
}

// Create inserts a new record together with its first audit entry.
func (r *MarksRecordRepository) Create(ctx context.Context, record *models.InternalMarkRecord, entry *models.AuditEntry) (err error) {
	row, err := toMarksRecordRow(record)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin marks record transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO internal_mark_records
	(id, student_id, subject_assignment_id, subject_id, semester_id, cohort_id, best_internal, external, total,
	 state, version, revision, originated_by, first_submitted_at, frozen_at, published_at, created_at, updated_at, policy, attempts)
	VALUES (:id, :student_id, :subject_assignment_id, :subject_id, :semester_id, :cohort_id, :best_internal, :external, :total,
	 :state, :version, :revision, :originated_by, :first_submitted_at, :frozen_at, :published_at, :created_at, :updated_at, :policy, :attempts)`
	if _, err = tx.NamedExecContext(ctx, query, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("create marks record: %w", err)
	}
	if entry != nil {
		if err = insertAuditEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit marks record: %w", err)
	}
	return nil
}

// Save applies a compare-and-swap update and appends history rows in one transaction.
// It returns sql.ErrNoRows when the stored version or state no longer match.
func (r *MarksRecordRepository) Save(ctx context.Context, params SaveMarksParams) (err error) {
	if params.Record == nil {
		return errors.New("save marks record: record is required")
	}
	row, err := toMarksRecordRow(params.Record)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin marks record transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE internal_mark_records SET
	best_internal = :best_internal, external = :external, total = :total, state = :state,
	version = :version, revision = :revision, first_submitted_at = :first_submitted_at,
	frozen_at = :frozen_at, published_at = :published_at, updated_at = :updated_at, attempts = :attempts
	WHERE id = :id AND version = :expected_version AND state = :expected_state`
	result, err := tx.NamedExecContext(ctx, update, map[string]interface{}{
		"id":                 row.ID,
		"best_internal":      row.BestInternal,
		"external":           row.External,
		"total":              row.Total,
		"state":              row.State,
		"version":            row.Version,
		"revision":           row.Revision,
		"first_submitted_at": row.FirstSubmittedAt,
		"frozen_at":          row.FrozenAt,
		"published_at":       row.PublishedAt,
		"updated_at":         row.UpdatedAt,
		"attempts":           row.AttemptsJSON,
		"expected_version":   params.ExpectedVersion,
		"expected_state":     params.ExpectedState,
	})
	if err != nil {
		return fmt.Errorf("update marks record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check marks record update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if params.Transition != nil {
		const insertTransition = `INSERT INTO marks_transitions (record_id, sequence, from_state, to_state, event, actor_id, reason, created_at)
		VALUES (:record_id, :sequence, :from_state, :to_state, :event, :actor_id, :reason, :created_at)`
		if _, err = tx.NamedExecContext(ctx, insertTransition, params.Transition); err != nil {
			return fmt.Errorf("insert marks transition: %w", err)
		}
	}
	if params.Submission != nil {
		var sub submissionRow
		if sub, err = toSubmissionRow(params.Submission); err != nil {
			return err
		}
		const insertSubmission = `INSERT INTO marks_submissions (id, record_id, revision, best_internal, external, total, attempts, submitted_by, justification, created_at)
		VALUES (:id, :record_id, :revision, :best_internal, :external, :total, :attempts, :submitted_by, :justification, :created_at)`
		if _, err = tx.NamedExecContext(ctx, insertSubmission, sub); err != nil {
			return fmt.Errorf("insert marks submission: %w", err)
		}
	}
	if params.Audit != nil {
		if err = insertAuditEntry(ctx, tx, params.Audit); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit marks record: %w", err)
	}
	return nil
}

func (r *MarksRecordRepository) loadChildren(ctx context.Context, record *models.InternalMarkRecord) error {
	const submissions = `SELECT id, record_id, revision, best_internal, external, total, attempts, submitted_by, justification, created_at
	FROM marks_submissions WHERE record_id = $1 ORDER BY created_at, revision`
	var subRows []submissionRow
	if err := r.db.SelectContext(ctx, &subRows, submissions, record.ID); err != nil {
		return fmt.Errorf("list marks submissions: %w", err)
	}
	record.Submissions = make([]models.Submission, 0, len(subRows))
	for _, row := range subRows {
		sub := row.Submission
		if len(row.AttemptsJSON) > 0 {
			if err := json.Unmarshal(row.AttemptsJSON, &sub.Attempts); err != nil {
				return fmt.Errorf("decode submission %s attempts: %w", sub.ID, err)
			}
		}
		record.Submissions = append(record.Submissions, sub)
	}

	const transitions = `SELECT record_id, sequence, from_state, to_state, event, actor_id, reason, created_at
	FROM marks_transitions WHERE record_id = $1 ORDER BY sequence`
	var history []models.MarksTransition
	if err := r.db.SelectContext(ctx, &history, transitions, record.ID); err != nil {
		return fmt.Errorf("list marks transitions: %w", err)
	}
	record.History = history
	return nil
}

func toMarksRecordRow(record *models.InternalMarkRecord) (marksRecordRow, error) {
	policy, err := json.Marshal(record.Policy)
	if err != nil {
		return marksRecordRow{}, fmt.Errorf("encode calculation policy: %w", err)
	}
	attempts, err := json.Marshal(record.Attempts)
	if err != nil {
		return marksRecordRow{}, fmt.Errorf("encode attempts: %w", err)
	}
	return marksRecordRow{InternalMarkRecord: *record, PolicyJSON: policy, AttemptsJSON: attempts}, nil
}

func (row marksRecordRow) toModel() (*models.InternalMarkRecord, error) {
	record := row.InternalMarkRecord
	if len(row.PolicyJSON) > 0 {
		if err := json.Unmarshal(row.PolicyJSON, &record.Policy); err != nil {
			return nil, fmt.Errorf("decode record %s policy: %w", record.ID, err)
		}
	}
	if len(row.AttemptsJSON) > 0 {
		if err := json.Unmarshal(row.AttemptsJSON, &record.Attempts); err != nil {
			return nil, fmt.Errorf("decode record %s attempts: %w", record.ID, err)
		}
	}
	return &record, nil
}

func toSubmissionRow(sub *models.Submission) (submissionRow, error) {
	attempts, err := json.Marshal(sub.Attempts)
	if err != nil {
		return submissionRow{}, fmt.Errorf("encode submission attempts: %w", err)
	}
	return submissionRow{Submission: *sub, AttemptsJSON: attempts}, nil
}
