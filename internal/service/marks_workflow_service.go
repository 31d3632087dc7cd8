package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/repository"
	"github.com/noah-isme/sma-marks-engine/pkg/cache"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
	"github.com/noah-isme/sma-marks-engine/pkg/jobs"
	"github.com/noah-isme/sma-marks-engine/pkg/tracing"
)

// JobFreezeRecords is the queue job type for scheduled freezes.
const JobFreezeRecords = "marks.freeze"

type examSpecProvider interface {
	GetExam(ctx context.Context, examID string) (*models.ExamSpec, error)
}

type subjectPolicyProvider interface {
	Assignment(ctx context.Context, subjectAssignmentID string) (*models.SubjectAssignment, error)
	Policy(ctx context.Context, subjectAssignmentID string) (*models.CalculationPolicy, error)
}

type marksRecordStore interface {
	GetByID(ctx context.Context, id string) (*models.InternalMarkRecord, error)
	FindByKey(ctx context.Context, key models.MarksRecordKey) (*models.InternalMarkRecord, error)
	Create(ctx context.Context, record *models.InternalMarkRecord, entry *models.AuditEntry) error
	Save(ctx context.Context, params repository.SaveMarksParams) error
}

// Authorizer resolves whether an actor holds a role for a subject assignment.
type Authorizer interface {
	CanEnterMarks(ctx context.Context, actorID, subjectAssignmentID string) (bool, error)
	CanApprove(ctx context.Context, actorID, subjectAssignmentID string) (bool, error)
}

// RecordLocker serialises work on one marks record.
type RecordLocker interface {
	Lock(ctx context.Context, key string) (cache.Unlock, error)
}

type cohortInvalidator interface {
	InvalidateCohort(ctx context.Context, cohortID string) error
}

// SubmitAttemptRequest records or replaces one attempt's raw question scores.
type SubmitAttemptRequest struct {
	StudentID           string              `json:"student_id" validate:"required"`
	SubjectAssignmentID string              `json:"subject_assignment_id" validate:"required"`
	ExamID              string              `json:"exam_id" validate:"required"`
	Entries             []models.ScoreEntry `json:"entries" validate:"required,min=1,dive"`
	External            *float64            `json:"external,omitempty" validate:"omitempty,gte=0"`
	Actor               models.Actor        `json:"-"`
}

// TransitionRequest fires an ordinary workflow event.
type TransitionRequest struct {
	RecordID string               `json:"-" validate:"required"`
	Event    models.WorkflowEvent `json:"event" validate:"required,oneof=SUBMIT APPROVE REJECT RESUBMIT FREEZE PUBLISH"`
	Reason   *string              `json:"reason,omitempty"`
	Actor    models.Actor         `json:"-"`
}

// OverrideRequest re-opens a record to DRAFT, optionally replacing one attempt.
type OverrideRequest struct {
	RecordID      string              `json:"-" validate:"required"`
	ExamID        string              `json:"exam_id,omitempty" validate:"required_with=Entries"`
	Entries       []models.ScoreEntry `json:"entries,omitempty" validate:"omitempty,dive"`
	External      *float64            `json:"external,omitempty" validate:"omitempty,gte=0"`
	Justification string              `json:"justification" validate:"required"`
	Actor         models.Actor        `json:"-"`
}

// FreezeSummary reports the outcome of a scheduled freeze batch.
type FreezeSummary struct {
	Frozen  []string          `json:"frozen"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// MarksWorkflowConfig carries the tunables of the workflow.
type MarksWorkflowConfig struct {
	EditWindow       time.Duration
	DefaultStrategy  models.CalculationStrategyName
	DefaultPrecision int
}

// MarksWorkflowService owns the lifecycle of internal marks records.
type MarksWorkflowService struct {
	records    marksRecordStore
	exams      examSpecProvider
	policies   subjectPolicyProvider
	authz      Authorizer
	audit      *AuditRecorder
	locker     RecordLocker
	cache      cohortInvalidator
	queue      jobEnqueuer
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	editWindow time.Duration
	strategy   models.CalculationStrategyName
	precision  int
}

// MarksWorkflowOption configures the service.
type MarksWorkflowOption func(*MarksWorkflowService)

// WithRecordLocker swaps the default in-process locker, e.g. for a Redis lock.
func WithRecordLocker(locker RecordLocker) MarksWorkflowOption {
	return func(s *MarksWorkflowService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithAttainmentInvalidator drops cached attainment when finalized marks change.
func WithAttainmentInvalidator(inv cohortInvalidator) MarksWorkflowOption {
	return func(s *MarksWorkflowService) { s.cache = inv }
}

// WithFreezeQueue enables ScheduleFreeze.
func WithFreezeQueue(queue jobEnqueuer) MarksWorkflowOption {
	return func(s *MarksWorkflowService) { s.queue = queue }
}

// WithWorkflowMetrics records transition metrics.
func WithWorkflowMetrics(metrics *MetricsService) MarksWorkflowOption {
	return func(s *MarksWorkflowService) { s.metrics = metrics }
}

// WithWorkflowClock overrides the time source.
func WithWorkflowClock(now func() time.Time) MarksWorkflowOption {
	return func(s *MarksWorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWorkflowConfig applies edit-window and calculation defaults.
func WithWorkflowConfig(cfg MarksWorkflowConfig) MarksWorkflowOption {
	return func(s *MarksWorkflowService) {
		if cfg.EditWindow > 0 {
			s.editWindow = cfg.EditWindow
		}
		if cfg.DefaultStrategy != "" {
			s.strategy = cfg.DefaultStrategy
		}
		if cfg.DefaultPrecision >= 0 {
			s.precision = cfg.DefaultPrecision
		}
	}
}

// NewMarksWorkflowService constructs the service with defaults.
func NewMarksWorkflowService(records marksRecordStore, exams examSpecProvider, policies subjectPolicyProvider, authz Authorizer, audit *AuditRecorder, validate *validator.Validate, logger *zap.Logger, opts ...MarksWorkflowOption) *MarksWorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if audit == nil {
		audit = NewAuditRecorder(nil, nil, logger)
	}
	svc := &MarksWorkflowService{
		records:    records,
		exams:      exams,
		policies:   policies,
		authz:      authz,
		audit:      audit,
		locker:     cache.NewLocalLocker(),
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		editWindow: 7 * 24 * time.Hour,
		strategy:   models.StrategyMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// SubmitAttempt normalizes an attempt and stores it on the student's record,
// creating the record in DRAFT on first entry.
func (s *MarksWorkflowService) SubmitAttempt(ctx context.Context, req SubmitAttemptRequest) (record *models.InternalMarkRecord, err error) {
	ctx, span := tracing.Start(ctx, "marks.SubmitAttempt",
		attribute.String("student_id", req.StudentID),
		attribute.String("subject_assignment_id", req.SubjectAssignmentID))
	defer func() { tracing.End(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attempt payload")
	}
	if req.Actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}

	assignment, err := s.policies.Assignment(ctx, req.SubjectAssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject assignment not found").
				WithDetail("subject_assignment_id", req.SubjectAssignmentID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject assignment")
	}
	allowed, err := s.authz.CanEnterMarks(ctx, req.Actor.ID, assignment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve marks entry permission")
	}
	if !allowed {
		return nil, appErrors.ErrAuthorization.
			WithDetail("actor_id", req.Actor.ID).
			WithDetail("subject_assignment_id", assignment.ID)
	}

	exam, err := s.loadExam(ctx, req.ExamID, assignment.ID)
	if err != nil {
		return nil, err
	}
	scoreset, err := NormalizeScores(*exam, req.Entries)
	if err != nil {
		return nil, withDetail(err, "student_id", req.StudentID)
	}
	attempt := models.AssessmentAttempt{
		ID:                  uuid.NewString(),
		StudentID:           req.StudentID,
		SubjectAssignmentID: assignment.ID,
		ExamID:              exam.ID,
		Kind:                exam.AttemptKind,
		Entries:             append([]models.ScoreEntry(nil), req.Entries...),
		Scoreset:            scoreset,
		EnteredBy:           req.Actor.ID,
		EnteredAt:           s.now(),
	}

	key := models.MarksRecordKey{StudentID: req.StudentID, SubjectAssignmentID: assignment.ID, SemesterID: assignment.SemesterID}
	unlock, err := s.lock(ctx, "marks:"+key.StudentID+":"+key.SubjectAssignmentID+":"+key.SemesterID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.records.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.createRecord(ctx, assignment, attempt, req)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marks record")
	}

	unlockRecord, err := s.lock(ctx, "record:"+existing.ID)
	if err != nil {
		return nil, err
	}
	defer unlockRecord()
	existing, err = s.load(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return s.editRecord(ctx, existing, attempt, req)
}

func (s *MarksWorkflowService) createRecord(ctx context.Context, assignment *models.SubjectAssignment, attempt models.AssessmentAttempt, req SubmitAttemptRequest) (*models.InternalMarkRecord, error) {
	policy, err := s.resolvePolicy(ctx, assignment)
	if err != nil {
		return nil, err
	}
	now := s.now()
	record := &models.InternalMarkRecord{
		ID:                  uuid.NewString(),
		StudentID:           req.StudentID,
		SubjectAssignmentID: assignment.ID,
		SubjectID:           assignment.SubjectID,
		SemesterID:          assignment.SemesterID,
		CohortID:            assignment.CohortID,
		State:               models.StateDraft,
		Version:             1,
		Revision:            1,
		OriginatedBy:        req.Actor.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
		Policy:              policy,
	}
	attempt.RecordID = record.ID
	record.Attempts = []models.AssessmentAttempt{attempt}
	external := 0.0
	if req.External != nil {
		external = *req.External
	}
	if err := s.recompute(record, external); err != nil {
		return nil, err
	}

	entry, err := s.audit.Build(AuditInput{Action: models.AuditActionAttemptRecorded, Actor: req.Actor, After: record})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.records.Create(ctx, record, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateRecord) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "marks record already exists").
				WithDetail("student_id", record.StudentID).
				WithDetail("subject_assignment_id", record.SubjectAssignmentID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create marks record")
	}
	s.audit.Publish(ctx, entry)
	s.logger.Info("marks record created",
		zap.String("record_id", record.ID),
		zap.String("student_id", record.StudentID),
		zap.String("attempt_kind", string(attempt.Kind)))
	return record, nil
}

func (s *MarksWorkflowService) editRecord(ctx context.Context, record *models.InternalMarkRecord, attempt models.AssessmentAttempt, req SubmitAttemptRequest) (*models.InternalMarkRecord, error) {
	if !record.State.Editable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "record is locked for edits; use override").
			WithDetail("record_id", record.ID).
			WithDetail("state", string(record.State))
	}
	if record.OriginatedBy != req.Actor.ID {
		return nil, appErrors.ErrAuthorization.
			WithDetail("record_id", record.ID).
			WithDetail("actor_id", req.Actor.ID)
	}
	if closedAt, closed := s.windowClosed(record); closed {
		return nil, appErrors.ErrEditWindowClosed.
			WithDetail("record_id", record.ID).
			WithDetail("closed_at", closedAt.Format(time.RFC3339))
	}

	updated := record.Clone()
	attempt.RecordID = record.ID
	replaceAttempt(updated, attempt)
	external := updated.External
	if req.External != nil {
		external = *req.External
	}
	if err := s.recompute(updated, external); err != nil {
		return nil, err
	}
	updated.Version = record.Version + 1
	updated.UpdatedAt = s.now()

	entry, err := s.audit.Build(AuditInput{Action: models.AuditActionAttemptRecorded, Actor: req.Actor, Before: record, After: updated})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.save(ctx, record, updated, nil, nil, entry); err != nil {
		return nil, err
	}
	s.audit.Publish(ctx, entry)
	return updated, nil
}

// Transition applies an ordinary workflow event to a record.
func (s *MarksWorkflowService) Transition(ctx context.Context, req TransitionRequest) (record *models.InternalMarkRecord, err error) {
	ctx, span := tracing.Start(ctx, "marks.Transition",
		attribute.String("record_id", req.RecordID),
		attribute.String("event", string(req.Event)))
	defer func() { tracing.End(span, err) }()

	if req.Event == models.EventOverride {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "override requires the override operation").
			WithDetail("record_id", req.RecordID)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	unlock, err := s.lock(ctx, "record:"+req.RecordID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.load(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	rule, err := LookupTransition(current.State, req.Event)
	if err != nil {
		s.metrics.RecordTransition(string(req.Event), "rejected")
		return nil, withDetail(err, "record_id", current.ID)
	}
	if err := s.authorize(ctx, rule.Actor, current, req.Actor); err != nil {
		s.metrics.RecordTransition(string(req.Event), "rejected")
		return nil, err
	}
	reason := trimmed(req.Reason)
	if rule.ReasonRequired && reason == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required").
			WithDetail("record_id", current.ID).
			WithDetail("event", string(req.Event))
	}

	updated := current.Clone()
	now := s.now()
	var submission *models.Submission
	switch req.Event {
	case models.EventSubmit, models.EventResubmit:
		if len(updated.Attempts) == 0 {
			return nil, appErrors.Clone(appErrors.ErrInsufficientData, "record has no attempts to submit").
				WithDetail("record_id", current.ID)
		}
		if updated.FirstSubmittedAt == nil {
			updated.FirstSubmittedAt = &now
		}
		submission = s.submissionOf(updated, req.Actor, nil)
	case models.EventFreeze:
		updated.FrozenAt = &now
	case models.EventPublish:
		updated.PublishedAt = &now
	}
	return s.apply(ctx, current, updated, rule, req.Actor, reason, nil, submission, models.AuditActionTransition)
}

// Override re-opens a record to DRAFT as a new revision, optionally replacing one attempt.
// The record then has to go through submission and approval again.
func (s *MarksWorkflowService) Override(ctx context.Context, req OverrideRequest) (record *models.InternalMarkRecord, err error) {
	ctx, span := tracing.Start(ctx, "marks.Override", attribute.String("record_id", req.RecordID))
	defer func() { tracing.End(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid override payload")
	}
	justification := strings.TrimSpace(req.Justification)
	if justification == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "justification is required").
			WithDetail("record_id", req.RecordID)
	}

	unlock, err := s.lock(ctx, "record:"+req.RecordID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.load(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	rule, err := LookupTransition(current.State, models.EventOverride)
	if err != nil {
		s.metrics.RecordTransition(string(models.EventOverride), "rejected")
		return nil, withDetail(err, "record_id", current.ID)
	}
	if err := s.authorize(ctx, rule.Actor, current, req.Actor); err != nil {
		s.metrics.RecordTransition(string(models.EventOverride), "rejected")
		return nil, err
	}
	// A rejected record stays editable until its window closes.
	if current.State == models.StateRejected {
		if _, closed := s.windowClosed(current); !closed {
			s.metrics.RecordTransition(string(models.EventOverride), "rejected")
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "rejected record is still editable, resubmit instead").
				WithDetail("record_id", current.ID).
				WithDetail("state", string(current.State))
		}
	}

	updated := current.Clone()
	if req.ExamID != "" {
		exam, err := s.loadExam(ctx, req.ExamID, current.SubjectAssignmentID)
		if err != nil {
			return nil, err
		}
		scoreset, err := NormalizeScores(*exam, req.Entries)
		if err != nil {
			return nil, withDetail(err, "record_id", current.ID)
		}
		replaceAttempt(updated, models.AssessmentAttempt{
			ID:                  uuid.NewString(),
			RecordID:            current.ID,
			StudentID:           current.StudentID,
			SubjectAssignmentID: current.SubjectAssignmentID,
			ExamID:              exam.ID,
			Kind:                exam.AttemptKind,
			Entries:             append([]models.ScoreEntry(nil), req.Entries...),
			Scoreset:            scoreset,
			EnteredBy:           req.Actor.ID,
			EnteredAt:           s.now(),
		})
	}
	external := updated.External
	if req.External != nil {
		external = *req.External
	}
	if err := s.recompute(updated, external); err != nil {
		return nil, err
	}
	updated.Revision = current.Revision + 1
	updated.FirstSubmittedAt = nil
	updated.FrozenAt = nil
	updated.PublishedAt = nil
	submission := s.submissionOf(updated, req.Actor, &justification)
	return s.apply(ctx, current, updated, rule, req.Actor, nil, &justification, submission, models.AuditActionOverride)
}

// Get loads a record with its submissions and transition history.
func (s *MarksWorkflowService) Get(ctx context.Context, recordID string) (*models.InternalMarkRecord, error) {
	return s.load(ctx, recordID)
}

// History returns the audit trail of a record.
func (s *MarksWorkflowService) History(ctx context.Context, recordID string) ([]models.AuditEntry, error) {
	if _, err := s.load(ctx, recordID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, recordID)
}

// ScheduleFreeze queues a freeze of the given records under the scheduler identity.
func (s *MarksWorkflowService) ScheduleFreeze(ctx context.Context, recordIDs []string) (string, error) {
	if s.queue == nil {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, "freeze scheduling is disabled")
	}
	if len(recordIDs) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "record_ids is required")
	}
	jobID := uuid.NewString()
	if err := s.queue.Enqueue(ctx, jobs.Job{ID: jobID, Type: JobFreezeRecords, Payload: append([]string(nil), recordIDs...)}); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue freeze job")
	}
	s.logger.Info("freeze job queued", zap.String("job_id", jobID), zap.Int("records", len(recordIDs)))
	return jobID, nil
}

// FreezeRecords freezes each APPROVED record as the scheduler. Records in other states are skipped.
func (s *MarksWorkflowService) FreezeRecords(ctx context.Context, recordIDs []string) (FreezeSummary, error) {
	summary := FreezeSummary{Frozen: make([]string, 0, len(recordIDs)), Skipped: map[string]string{}}
	for _, id := range recordIDs {
		_, err := s.Transition(ctx, TransitionRequest{RecordID: id, Event: models.EventFreeze, Actor: models.SchedulerActor})
		if err != nil {
			appErr := appErrors.FromError(err)
			if appErr.Status >= 500 {
				return summary, err
			}
			summary.Skipped[id] = appErr.Code
			continue
		}
		summary.Frozen = append(summary.Frozen, id)
	}
	return summary, nil
}

// FreezeJobHandler processes JobFreezeRecords jobs.
func (s *MarksWorkflowService) FreezeJobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		ids, ok := job.Payload.([]string)
		if !ok {
			s.logger.Error("unexpected freeze payload", zap.String("job_id", job.ID))
			return nil
		}
		summary, err := s.FreezeRecords(ctx, ids)
		s.logger.Info("freeze job processed",
			zap.String("job_id", job.ID),
			zap.Int("frozen", len(summary.Frozen)),
			zap.Int("skipped", len(summary.Skipped)))
		return err
	}
}

func (s *MarksWorkflowService) apply(ctx context.Context, before, updated *models.InternalMarkRecord, rule TransitionRule, actor models.Actor, reason, justification *string, submission *models.Submission, action string) (*models.InternalMarkRecord, error) {
	now := s.now()
	updated.State = rule.To
	updated.Version = before.Version + 1
	updated.UpdatedAt = now
	transition := models.MarksTransition{
		RecordID:  before.ID,
		Sequence:  len(before.History) + 1,
		From:      before.State,
		To:        rule.To,
		Event:     rule.Event,
		ActorID:   actor.ID,
		Reason:    reason,
		CreatedAt: now,
	}
	if transition.Reason == nil {
		transition.Reason = justification
	}
	updated.History = append(updated.History, transition)
	if submission != nil {
		updated.Submissions = append(updated.Submissions, *submission)
	}

	event := rule.Event
	entry, err := s.audit.Build(AuditInput{
		Action:        action,
		Event:         &event,
		Actor:         actor,
		Reason:        reason,
		Justification: justification,
		Before:        before,
		After:         updated,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.save(ctx, before, updated, &transition, submission, entry); err != nil {
		s.metrics.RecordTransition(string(event), "conflict")
		return nil, err
	}
	s.metrics.RecordTransition(string(event), "applied")
	s.audit.Publish(ctx, entry)
	if before.State.Finalized() || updated.State.Finalized() {
		s.invalidate(ctx, updated.CohortID)
	}
	s.logger.Info("marks record transitioned",
		zap.String("record_id", updated.ID),
		zap.String("event", string(event)),
		zap.String("from", string(before.State)),
		zap.String("to", string(updated.State)),
		zap.String("actor_id", actor.ID))
	return updated, nil
}

func (s *MarksWorkflowService) save(ctx context.Context, before, updated *models.InternalMarkRecord, transition *models.MarksTransition, submission *models.Submission, entry *models.AuditEntry) error {
	err := s.records.Save(ctx, repository.SaveMarksParams{
		Record:          updated,
		ExpectedVersion: before.Version,
		ExpectedState:   before.State,
		Transition:      transition,
		Submission:      submission,
		Audit:           entry,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "record changed concurrently").
			WithDetail("record_id", before.ID).
			WithDetail("state", string(before.State))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save marks record")
}

func (s *MarksWorkflowService) authorize(ctx context.Context, constraint ActorConstraint, record *models.InternalMarkRecord, actor models.Actor) error {
	if actor.ID == "" {
		return appErrors.ErrUnauthorized
	}
	isOriginator := actor.ID == record.OriginatedBy
	switch constraint {
	case ActorOriginator:
		if isOriginator {
			return nil
		}
	case ActorApproverOrScheduler:
		if actor.IsScheduler() {
			return nil
		}
		if ok, err := s.isApprover(ctx, actor, record); err != nil || ok {
			return err
		}
	case ActorApprover:
		if ok, err := s.isApprover(ctx, actor, record); err != nil || ok {
			return err
		}
	case ActorOriginatorOrApprover:
		if isOriginator {
			return nil
		}
		if ok, err := s.isApprover(ctx, actor, record); err != nil || ok {
			return err
		}
	}
	return appErrors.ErrAuthorization.
		WithDetail("record_id", record.ID).
		WithDetail("actor_id", actor.ID).
		WithDetail("required", string(constraint))
}

func (s *MarksWorkflowService) isApprover(ctx context.Context, actor models.Actor, record *models.InternalMarkRecord) (bool, error) {
	ok, err := s.authz.CanApprove(ctx, actor.ID, record.SubjectAssignmentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approval permission")
	}
	return ok, nil
}

func (s *MarksWorkflowService) load(ctx context.Context, recordID string) (*models.InternalMarkRecord, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "marks record not found").WithDetail("record_id", recordID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marks record")
	}
	return record, nil
}

func (s *MarksWorkflowService) loadExam(ctx context.Context, examID, subjectAssignmentID string) (*models.ExamSpec, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found").WithDetail("exam_id", examID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if exam.SubjectAssignmentID != subjectAssignmentID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam does not belong to subject assignment").
			WithDetail("exam_id", examID).
			WithDetail("subject_assignment_id", subjectAssignmentID)
	}
	return exam, nil
}

func (s *MarksWorkflowService) resolvePolicy(ctx context.Context, assignment *models.SubjectAssignment) (models.CalculationPolicy, error) {
	policy := models.CalculationPolicy{Precision: s.precision}
	configured, err := s.policies.Policy(ctx, assignment.ID)
	switch {
	case err == nil:
		policy = *configured
	case errors.Is(err, sql.ErrNoRows):
	default:
		return policy, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calculation policy")
	}
	policy.SubjectAssignmentID = assignment.ID
	policy.SubjectID = assignment.SubjectID
	if policy.Strategy == "" {
		policy.Strategy = s.strategy
	}
	if _, err := StrategyFor(policy.Strategy); err != nil {
		return policy, withDetail(err, "subject_assignment_id", assignment.ID)
	}
	return policy, nil
}

func (s *MarksWorkflowService) recompute(record *models.InternalMarkRecord, external float64) error {
	result, err := ComputeMarks(AttemptScores(record.Attempts, record.Policy), external, record.Policy)
	if err != nil {
		return withDetail(err, "student_id", record.StudentID)
	}
	record.BestInternal = result.BestInternal
	record.External = result.External
	record.Total = result.Total
	return nil
}

func (s *MarksWorkflowService) submissionOf(record *models.InternalMarkRecord, actor models.Actor, justification *string) *models.Submission {
	return &models.Submission{
		ID:            uuid.NewString(),
		RecordID:      record.ID,
		Revision:      record.Revision,
		BestInternal:  record.BestInternal,
		External:      record.External,
		Total:         record.Total,
		Attempts:      append([]models.AssessmentAttempt(nil), record.Attempts...),
		SubmittedBy:   actor.ID,
		Justification: justification,
		CreatedAt:     s.now(),
	}
}

// windowClosed reports whether ordinary edits are past the window opened by the first submission.
func (s *MarksWorkflowService) windowClosed(record *models.InternalMarkRecord) (time.Time, bool) {
	if record.FirstSubmittedAt == nil {
		return time.Time{}, false
	}
	closesAt := record.FirstSubmittedAt.Add(s.editWindow)
	return closesAt, s.now().After(closesAt)
}

func (s *MarksWorkflowService) lock(ctx context.Context, key string) (cache.Unlock, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, key)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "record is busy, retry later").WithDetail("lock", key)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire record lock")
	}
	return unlock, nil
}

func (s *MarksWorkflowService) invalidate(ctx context.Context, cohortID string) {
	if s.cache == nil || cohortID == "" {
		return
	}
	if err := s.cache.InvalidateCohort(ctx, cohortID); err != nil {
		s.logger.Warn("failed to invalidate attainment cache", zap.String("cohort_id", cohortID), zap.Error(err))
	}
}

func replaceAttempt(record *models.InternalMarkRecord, attempt models.AssessmentAttempt) {
	for i := range record.Attempts {
		if record.Attempts[i].Kind == attempt.Kind {
			record.Attempts[i] = attempt
			return
		}
	}
	record.Attempts = append(record.Attempts, attempt)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

// withDetail attaches an identifying key to typed errors and passes others through.
func withDetail(err error, key, value string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if _, exists := appErr.Details[key]; exists {
			return err
		}
		return appErr.WithDetail(key, value)
	}
	return err
}
