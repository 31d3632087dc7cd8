package models

// GradeBand maps totals at or above LowerBound to a letter grade and grade point.
type GradeBand struct {
	LowerBound float64 `db:"lower_bound" json:"lower_bound"`
	Letter     string  `db:"letter" json:"letter"`
	Point      float64 `db:"point" json:"point"`
}

// GradingTable is a versioned grading scheme for a subject.
type GradingTable struct {
	SubjectID string      `db:"subject_id" json:"subject_id"`
	Version   int         `db:"version" json:"version"`
	MaxTotal  float64     `db:"max_total" json:"max_total"`
	Bands     []GradeBand `json:"bands"`
}

// GradeRecord is the graded outcome of a student in a subject for a semester.
type GradeRecord struct {
	StudentID  string  `json:"student_id,omitempty"`
	SubjectID  string  `json:"subject_id"`
	SemesterID string  `json:"semester_id,omitempty"`
	Total      float64 `json:"total"`
	Letter     string  `json:"letter"`
	GradePoint float64 `json:"grade_point"`
	Credits    float64 `json:"credits"`
	Finalized  bool    `json:"finalized"`
}

// SubjectResult is the per-subject input to GPA computation; Total is nil until the record is finalized.
type SubjectResult struct {
	SubjectID           string   `db:"subject_id" json:"subject_id"`
	SemesterID          string   `db:"semester_id" json:"semester_id"`
	Credits             float64  `db:"credits" json:"credits"`
	Total               *float64 `db:"total" json:"total,omitempty"`
	GradingTableVersion *int     `db:"grading_table_version" json:"grading_table_version,omitempty"`
}

// GPAResult is an SGPA or CGPA value plus the data excluded from it.
type GPAResult struct {
	StudentID         string        `json:"student_id"`
	SemesterID        string        `json:"semester_id,omitempty"`
	Value             float64       `json:"value"`
	Credits           float64       `json:"credits"`
	Grades            []GradeRecord `json:"grades"`
	ExcludedSubjects  []string      `json:"excluded_subjects"`
	ExcludedSemesters []string      `json:"excluded_semesters,omitempty"`
}
