package models

import "time"

// WorkflowState is the lifecycle state of an internal marks record.
type WorkflowState string

const (
	StateDraft     WorkflowState = "DRAFT"
	StateSubmitted WorkflowState = "SUBMITTED"
	StateApproved  WorkflowState = "APPROVED"
	StateRejected  WorkflowState = "REJECTED"
	StateFrozen    WorkflowState = "FROZEN"
	StatePublished WorkflowState = "PUBLISHED"
)

// Finalized reports whether marks in this state feed grades and attainment.
func (s WorkflowState) Finalized() bool {
	return s == StateFrozen || s == StatePublished
}

// Editable reports whether ordinary score edits are allowed in this state.
func (s WorkflowState) Editable() bool {
	return s == StateDraft || s == StateRejected
}

// WorkflowEvent triggers a state transition.
type WorkflowEvent string

const (
	EventSubmit   WorkflowEvent = "SUBMIT"
	EventApprove  WorkflowEvent = "APPROVE"
	EventReject   WorkflowEvent = "REJECT"
	EventResubmit WorkflowEvent = "RESUBMIT"
	EventFreeze   WorkflowEvent = "FREEZE"
	EventPublish  WorkflowEvent = "PUBLISH"
	EventOverride WorkflowEvent = "OVERRIDE"
)

// CalculationStrategyName selects how best-internal is derived from attempts.
type CalculationStrategyName string

const (
	StrategyMax      CalculationStrategyName = "MAX"
	StrategyAverage  CalculationStrategyName = "AVERAGE"
	StrategyWeighted CalculationStrategyName = "WEIGHTED"
)

// CalculationPolicy is the subject-level configuration for deriving marks.
type CalculationPolicy struct {
	SubjectAssignmentID string                  `db:"subject_assignment_id" json:"subject_assignment_id"`
	SubjectID           string                  `db:"subject_id" json:"subject_id"`
	Strategy            CalculationStrategyName `db:"strategy" json:"strategy"`
	Weights             map[AttemptKind]float64 `db:"-" json:"weights,omitempty"`
	Precision           int                     `db:"precision" json:"precision"`
	InternalMaxMarks    float64                 `db:"internal_max_marks" json:"internal_max_marks"`
	GradingTableVersion int                     `db:"grading_table_version" json:"grading_table_version"`
}

// InternalMarkRecord is the workflow-owned aggregate for student x subject-assignment x semester.
type InternalMarkRecord struct {
	ID                  string              `db:"id" json:"id"`
	StudentID           string              `db:"student_id" json:"student_id"`
	SubjectAssignmentID string              `db:"subject_assignment_id" json:"subject_assignment_id"`
	SubjectID           string              `db:"subject_id" json:"subject_id"`
	SemesterID          string              `db:"semester_id" json:"semester_id"`
	CohortID            string              `db:"cohort_id" json:"cohort_id"`
	BestInternal        float64             `db:"best_internal" json:"best_internal"`
	External            float64             `db:"external" json:"external"`
	Total               float64             `db:"total" json:"total"`
	State               WorkflowState       `db:"state" json:"state"`
	Version             int                 `db:"version" json:"version"`
	Revision            int                 `db:"revision" json:"revision"`
	OriginatedBy        string              `db:"originated_by" json:"originated_by"`
	FirstSubmittedAt    *time.Time          `db:"first_submitted_at" json:"first_submitted_at,omitempty"`
	FrozenAt            *time.Time          `db:"frozen_at" json:"frozen_at,omitempty"`
	PublishedAt         *time.Time          `db:"published_at" json:"published_at,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updated_at"`
	Policy              CalculationPolicy   `db:"-" json:"policy"`
	Attempts            []AssessmentAttempt `db:"-" json:"attempts"`
	Submissions         []Submission        `db:"-" json:"submissions,omitempty"`
	History             []MarksTransition   `db:"-" json:"history,omitempty"`
}

// Attempt returns the current attempt of the given kind.
func (r *InternalMarkRecord) Attempt(kind AttemptKind) (AssessmentAttempt, bool) {
	for _, attempt := range r.Attempts {
		if attempt.Kind == kind {
			return attempt, true
		}
	}
	return AssessmentAttempt{}, false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *InternalMarkRecord) Clone() *InternalMarkRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Attempts = append([]AssessmentAttempt(nil), r.Attempts...)
	clone.Submissions = append([]Submission(nil), r.Submissions...)
	clone.History = append([]MarksTransition(nil), r.History...)
	if r.Policy.Weights != nil {
		clone.Policy.Weights = make(map[AttemptKind]float64, len(r.Policy.Weights))
		for k, v := range r.Policy.Weights {
			clone.Policy.Weights[k] = v
		}
	}
	return &clone
}

// Submission snapshots the derived values of one score revision.
type Submission struct {
	ID            string              `db:"id" json:"id"`
	RecordID      string              `db:"record_id" json:"record_id"`
	Revision      int                 `db:"revision" json:"revision"`
	BestInternal  float64             `db:"best_internal" json:"best_internal"`
	External      float64             `db:"external" json:"external"`
	Total         float64             `db:"total" json:"total"`
	Attempts      []AssessmentAttempt `db:"-" json:"attempts"`
	SubmittedBy   string              `db:"submitted_by" json:"submitted_by"`
	Justification *string             `db:"justification" json:"justification,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// MarksTransition is one entry of a record's transition history.
type MarksTransition struct {
	RecordID  string        `db:"record_id" json:"record_id"`
	Sequence  int           `db:"sequence" json:"sequence"`
	From      WorkflowState `db:"from_state" json:"from"`
	To        WorkflowState `db:"to_state" json:"to"`
	Event     WorkflowEvent `db:"event" json:"event"`
	ActorID   string        `db:"actor_id" json:"actor_id"`
	Reason    *string       `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// MarksRecordKey identifies a record by its natural key.
type MarksRecordKey struct {
	StudentID           string
	SubjectAssignmentID string
	SemesterID          string
}

// SubjectAssignment binds a subject to a cohort, semester and teacher.
type SubjectAssignment struct {
	ID         string `db:"id" json:"id"`
	SubjectID  string `db:"subject_id" json:"subject_id"`
	CohortID   string `db:"cohort_id" json:"cohort_id"`
	SemesterID string `db:"semester_id" json:"semester_id"`
	TeacherID  string `db:"teacher_id" json:"teacher_id"`
}
