package models

import "time"

// AttemptKind names an internal assessment instance.
type AttemptKind string

const (
	AttemptInternal1 AttemptKind = "INTERNAL_1"
	AttemptInternal2 AttemptKind = "INTERNAL_2"
	AttemptInternal3 AttemptKind = "INTERNAL_3"
)

// AssessmentAttempt is one scored instance for a student in a subject-assignment context.
type AssessmentAttempt struct {
	ID                  string             `db:"id" json:"id"`
	RecordID            string             `db:"record_id" json:"record_id"`
	StudentID           string             `db:"student_id" json:"student_id"`
	SubjectAssignmentID string             `db:"subject_assignment_id" json:"subject_assignment_id"`
	ExamID              string             `db:"exam_id" json:"exam_id"`
	Kind                AttemptKind        `db:"kind" json:"kind"`
	Entries             []ScoreEntry       `json:"entries"`
	Scoreset            NormalizedScoreset `json:"scoreset"`
	EnteredBy           string             `db:"entered_by" json:"entered_by"`
	EnteredAt           time.Time          `db:"entered_at" json:"entered_at"`
}
