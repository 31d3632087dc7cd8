package models

// AttainmentLevel is the tier a cohort reached for a course outcome.
type AttainmentLevel string

const (
	LevelNotAttained AttainmentLevel = "NOT_ATTAINED"
	LevelL1          AttainmentLevel = "L1"
	LevelL2          AttainmentLevel = "L2"
	LevelL3          AttainmentLevel = "L3"
)

// AttainmentThreshold pairs a level's percentage cut-off with the fraction of students that must reach it.
type AttainmentThreshold struct {
	Level       AttainmentLevel `json:"level"`
	Percent     float64         `json:"percent"`
	MinFraction float64         `json:"min_fraction"`
}

// LevelFraction reports how much of the cohort met one threshold.
type LevelFraction struct {
	Level       AttainmentLevel `json:"level"`
	Threshold   float64         `json:"threshold"`
	MinFraction float64         `json:"min_fraction"`
	Students    int             `json:"students"`
	Fraction    float64         `json:"fraction"`
	Met         bool            `json:"met"`
}

// COAttainment is the derived attainment of one course outcome for a cohort.
// StudentCount is the number of students measured; students with no counted question
// mapped to the CO are listed in ExcludedStudents and left out of every fraction.
type COAttainment struct {
	COID             string          `json:"co_id"`
	CohortID         string          `json:"cohort_id"`
	CohortSize       int             `json:"cohort_size"`
	StudentCount     int             `json:"student_count"`
	ExcludedStudents []string        `json:"excluded_students,omitempty"`
	MeanPercent      float64         `json:"mean_percent"`
	Levels           []LevelFraction `json:"levels"`
	AttainedLevel    AttainmentLevel `json:"attained_level"`
}

// COPOMapping links a course outcome to a program outcome with a strength.
type COPOMapping struct {
	POID     string  `db:"po_id" json:"po_id"`
	COID     string  `db:"co_id" json:"co_id"`
	Strength float64 `db:"strength" json:"strength"`
}

// POContribution is one CO's share of a PO attainment.
type POContribution struct {
	COID        string  `json:"co_id"`
	Strength    float64 `json:"strength"`
	MeanPercent float64 `json:"mean_percent"`
}

// POAttainment is the weighted attainment of one program outcome for a cohort.
type POAttainment struct {
	POID          string           `json:"po_id"`
	CohortID      string           `json:"cohort_id"`
	Percent       float64          `json:"percent"`
	PresentWeight float64          `json:"present_weight"`
	TotalWeight   float64          `json:"total_weight"`
	Contributions []POContribution `json:"contributions"`
	MissingCOs    []string         `json:"missing_cos,omitempty"`
	Partial       bool             `json:"partial"`
}

// StudentScores holds one student's counted question scores across finalized records of a cohort.
type StudentScores struct {
	StudentID string            `json:"student_id"`
	Scores    []NormalizedScore `json:"scores"`
}

// CohortDataset is the frozen input of an attainment computation.
type CohortDataset struct {
	CohortID  string          `json:"cohort_id"`
	Questions []QuestionSpec  `json:"questions"`
	Students  []StudentScores `json:"students"`
}
