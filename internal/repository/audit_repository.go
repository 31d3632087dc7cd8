package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

type namedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// AuditRepository reads and appends the marks audit log. Rows are never updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single entry outside of a record transaction.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return insertAuditEntry(ctx, r.db, entry)
}

// ListByRecord returns the entries of a record ordered by sequence.
func (r *AuditRepository) ListByRecord(ctx context.Context, recordID string) ([]models.AuditEntry, error) {
	const query = `SELECT id, record_id, sequence, action, event, from_state, to_state, actor_id, actor_role,
       reason, justification, old_values, new_values, created_at
	FROM marks_audit_log WHERE record_id = $1 ORDER BY sequence`
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, recordID); err != nil {
		return nil, fmt.Errorf("list marks audit log: %w", err)
	}
	return entries, nil
}

func insertAuditEntry(ctx context.Context, exec namedExecer, entry *models.AuditEntry) error {
	const query = `INSERT INTO marks_audit_log
	(id, record_id, sequence, action, event, from_state, to_state, actor_id, actor_role, reason, justification, old_values, new_values, created_at)
	VALUES (:id, :record_id, :sequence, :action, :event, :from_state, :to_state, :actor_id, :actor_role, :reason, :justification, :old_values, :new_values, :created_at)`
	if _, err := exec.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert marks audit entry: %w", err)
	}
	return nil
}
