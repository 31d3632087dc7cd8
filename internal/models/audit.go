package models

import "time"

// Audit actions recorded for internal marks.
const (
	AuditActionAttemptRecorded = "MARKS_ATTEMPT_RECORDED"
	AuditActionTransition      = "MARKS_TRANSITION"
	AuditActionOverride        = "MARKS_OVERRIDE"
)

// AuditEntry is an append-only record of a state change or mark edit.
type AuditEntry struct {
	ID            string         `db:"id" json:"id"`
	RecordID      string         `db:"record_id" json:"record_id"`
	Sequence      int            `db:"sequence" json:"sequence"`
	Action        string         `db:"action" json:"action"`
	Event         *WorkflowEvent `db:"event" json:"event,omitempty"`
	FromState     *WorkflowState `db:"from_state" json:"from_state,omitempty"`
	ToState       WorkflowState  `db:"to_state" json:"to_state"`
	ActorID       string         `db:"actor_id" json:"actor_id"`
	ActorRole     UserRole       `db:"actor_role" json:"actor_role"`
	Reason        *string        `db:"reason" json:"reason,omitempty"`
	Justification *string        `db:"justification" json:"justification,omitempty"`
	OldValues     []byte         `db:"old_values" json:"old_values,omitempty"`
	NewValues     []byte         `db:"new_values" json:"new_values,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
