package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
	"github.com/noah-isme/sma-marks-engine/pkg/events"
	"github.com/noah-isme/sma-marks-engine/pkg/jobs"
)

// JobPublishAudit is the queue job type that forwards committed audit entries to the broker.
const JobPublishAudit = "audit.publish"

type auditReader interface {
	ListByRecord(ctx context.Context, recordID string) ([]models.AuditEntry, error)
}

// AuditPublisher hands committed audit entries to external consumers.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, entry models.AuditEntry) error
}

type eventPublisher interface {
	Publish(ctx context.Context, msg events.Message) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

type jobOfferer interface {
	TryEnqueue(ctx context.Context, job jobs.Job) error
}

// AuditInput describes one change to record.
type AuditInput struct {
	Action        string
	Event         *models.WorkflowEvent
	Actor         models.Actor
	Reason        *string
	Justification *string
	Before        *models.InternalMarkRecord
	After         *models.InternalMarkRecord
}

type attemptSnapshot struct {
	Kind          models.AttemptKind  `json:"kind"`
	ExamID        string              `json:"exam_id"`
	Entries       []models.ScoreEntry `json:"entries"`
	TotalObtained float64             `json:"total_obtained"`
	TotalMax      float64             `json:"total_max"`
}

type recordSnapshot struct {
	State        models.WorkflowState `json:"state"`
	Revision     int                  `json:"revision"`
	BestInternal float64              `json:"best_internal"`
	External     float64              `json:"external"`
	Total        float64              `json:"total"`
	Attempts     []attemptSnapshot    `json:"attempts"`
}

// AuditRecorder builds, lists and publishes the append-only audit trail of marks records.
type AuditRecorder struct {
	reader    auditReader
	publisher AuditPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuditRecorder constructs the recorder. A nil publisher disables external publication.
func NewAuditRecorder(reader auditReader, publisher AuditPublisher, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{
		reader:    reader,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build turns a change into an audit entry sequenced by the record's new version.
func (r *AuditRecorder) Build(in AuditInput) (*models.AuditEntry, error) {
	if in.After == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "audit entry requires the updated record")
	}
	entry := &models.AuditEntry{
		ID:            uuid.NewString(),
		RecordID:      in.After.ID,
		Sequence:      in.After.Version,
		Action:        in.Action,
		Event:         in.Event,
		ToState:       in.After.State,
		ActorID:       in.Actor.ID,
		ActorRole:     in.Actor.Role,
		Reason:        in.Reason,
		Justification: in.Justification,
		CreatedAt:     r.now(),
	}
	if in.Before != nil {
		from := in.Before.State
		entry.FromState = &from
		old, err := json.Marshal(snapshotOf(in.Before))
		if err != nil {
			return nil, fmt.Errorf("marshal previous snapshot: %w", err)
		}
		entry.OldValues = old
	}
	next, err := json.Marshal(snapshotOf(in.After))
	if err != nil {
		return nil, fmt.Errorf("marshal new snapshot: %w", err)
	}
	entry.NewValues = next
	return entry, nil
}

// History returns a record's audit entries in sequence order.
func (r *AuditRecorder) History(ctx context.Context, recordID string) ([]models.AuditEntry, error) {
	entries, err := r.reader.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit history")
	}
	return entries, nil
}

// Publish forwards committed entries. Failures are logged; the entries are already durable.
func (r *AuditRecorder) Publish(ctx context.Context, entries ...*models.AuditEntry) {
	if r.publisher == nil {
		return
	}
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if err := r.publisher.PublishAudit(ctx, *entry); err != nil {
			r.logger.Warn("failed to publish audit entry",
				zap.String("record_id", entry.RecordID),
				zap.Int("sequence", entry.Sequence),
				zap.Error(err))
		}
	}
}

func snapshotOf(record *models.InternalMarkRecord) recordSnapshot {
	snap := recordSnapshot{
		State:        record.State,
		Revision:     record.Revision,
		BestInternal: record.BestInternal,
		External:     record.External,
		Total:        record.Total,
		Attempts:     make([]attemptSnapshot, 0, len(record.Attempts)),
	}
	for _, attempt := range record.Attempts {
		snap.Attempts = append(snap.Attempts, attemptSnapshot{
			Kind:          attempt.Kind,
			ExamID:        attempt.ExamID,
			Entries:       attempt.Entries,
			TotalObtained: attempt.Scoreset.TotalObtained,
			TotalMax:      attempt.Scoreset.TotalMax,
		})
	}
	return snap
}

// QueuedAuditPublisher defers broker publication to the background job queue.
// It never waits for buffer space; a full queue is reported as an error.
type QueuedAuditPublisher struct {
	queue jobOfferer
}

// NewQueuedAuditPublisher wraps queue.
func NewQueuedAuditPublisher(queue jobOfferer) *QueuedAuditPublisher {
	return &QueuedAuditPublisher{queue: queue}
}

// PublishAudit implements AuditPublisher.
func (p *QueuedAuditPublisher) PublishAudit(ctx context.Context, entry models.AuditEntry) error {
	return p.queue.TryEnqueue(ctx, jobs.Job{Type: JobPublishAudit, Payload: entry})
}

// AuditRoutingKey derives the topic routing key for an entry, e.g. marks.audit.marks_transition.approve.
func AuditRoutingKey(entry models.AuditEntry) string {
	key := "marks.audit." + strings.ToLower(entry.Action)
	if entry.Event != nil {
		key += "." + strings.ToLower(string(*entry.Event))
	}
	return key
}

// AuditEventHandler returns the queue handler that publishes audit entries to the broker.
func AuditEventHandler(publisher eventPublisher) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		entry, ok := job.Payload.(models.AuditEntry)
		if !ok {
			return fmt.Errorf("unexpected audit payload %T", job.Payload)
		}
		return publisher.Publish(ctx, events.Message{
			RoutingKey: AuditRoutingKey(entry),
			Headers: map[string]interface{}{
				"record_id": entry.RecordID,
				"sequence":  entry.Sequence,
			},
			Payload: entry,
		})
	}
}
