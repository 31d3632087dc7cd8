package models

// QuestionCOMapping links a question to a course outcome with a share of its marks.
type QuestionCOMapping struct {
	QuestionID    string  `db:"question_id" json:"question_id"`
	COID          string  `db:"co_id" json:"co_id"`
	WeightPercent float64 `db:"weight_percent" json:"weight_percent"`
}

// QuestionSpec describes one question of an exam paper.
type QuestionSpec struct {
	ID         string              `db:"id" json:"id"`
	ExamID     string              `db:"exam_id" json:"exam_id"`
	SectionID  string              `db:"section_id" json:"section_id"`
	Number     int                 `db:"number" json:"number"`
	MaxMarks   float64             `db:"max_marks" json:"max_marks"`
	Optional   bool                `db:"optional" json:"optional"`
	BloomLevel string              `db:"bloom_level" json:"bloom_level"`
	COMappings []QuestionCOMapping `json:"co_mappings,omitempty"`
}

// SectionSpec groups questions; RequiredCount below the section size enables best-N-of-M.
type SectionSpec struct {
	ID            string `db:"id" json:"id"`
	ExamID        string `db:"exam_id" json:"exam_id"`
	Name          string `db:"name" json:"name"`
	RequiredCount int    `db:"required_count" json:"required_count"`
}

// ExamSpec is the question paper for one assessment instance.
type ExamSpec struct {
	ID                  string         `db:"id" json:"id"`
	SubjectAssignmentID string         `db:"subject_assignment_id" json:"subject_assignment_id"`
	AttemptKind         AttemptKind    `db:"attempt_kind" json:"attempt_kind"`
	Name                string         `db:"name" json:"name"`
	Sections            []SectionSpec  `json:"sections"`
	Questions           []QuestionSpec `json:"questions"`
}

// ScoreEntry is a raw obtained-marks entry for one question.
type ScoreEntry struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Obtained   float64 `json:"obtained"`
}

// NormalizedScore is a validated per-question score.
type NormalizedScore struct {
	QuestionID string  `json:"question_id"`
	SectionID  string  `json:"section_id"`
	Obtained   float64 `json:"obtained"`
	MaxMarks   float64 `json:"max_marks"`
	Percent    float64 `json:"percent"`
	Counted    bool    `json:"counted"`
}

// NormalizedScoreset is the immutable result of normalizing one attempt.
type NormalizedScoreset struct {
	ExamID        string            `json:"exam_id"`
	Scores        []NormalizedScore `json:"scores"`
	TotalObtained float64           `json:"total_obtained"`
	TotalMax      float64           `json:"total_max"`
	Percent       float64           `json:"percent"`
}

// Score returns the normalized score for questionID.
func (s NormalizedScoreset) Score(questionID string) (NormalizedScore, bool) {
	for _, score := range s.Scores {
		if score.QuestionID == questionID {
			return score, true
		}
	}
	return NormalizedScore{}, false
}
