package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

const gpaPrecision = 2

type gradeDataReader interface {
	GradingTable(ctx context.Context, subjectID string, version *int) (*models.GradingTable, error)
	SubjectCredits(ctx context.Context, subjectID string) (float64, error)
	SemesterResults(ctx context.Context, studentID, semesterID string) ([]models.SubjectResult, error)
	StudentResults(ctx context.Context, studentID string) ([]models.SubjectResult, error)
}

// GradeService maps totals to grades and aggregates grade points into SGPA and CGPA.
type GradeService struct {
	data   gradeDataReader
	logger *zap.Logger
}

// NewGradeService constructs the service.
func NewGradeService(data gradeDataReader, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{data: data, logger: logger}
}

// GradeFor maps total to a band of table. Bands are scanned from the highest lower bound down
// and the first band whose bound the total reaches applies.
func GradeFor(table models.GradingTable, total float64) (models.GradeBand, error) {
	ungradable := appErrors.ErrUngradableScore.
		WithDetail("subject_id", table.SubjectID).
		WithDetail("total", strconv.FormatFloat(total, 'f', -1, 64))
	if math.IsNaN(total) || total < 0 || (table.MaxTotal > 0 && total > table.MaxTotal) {
		return models.GradeBand{}, ungradable
	}
	bands := append([]models.GradeBand(nil), table.Bands...)
	sort.SliceStable(bands, func(i, j int) bool {
		if bands[i].LowerBound != bands[j].LowerBound {
			return bands[i].LowerBound > bands[j].LowerBound
		}
		return bands[i].Point > bands[j].Point
	})
	for _, band := range bands {
		if total >= band.LowerBound {
			return band, nil
		}
	}
	return models.GradeBand{}, ungradable
}

// ComputeGrade grades total against the subject's current grading table.
func (s *GradeService) ComputeGrade(ctx context.Context, total float64, subjectID string) (*models.GradeRecord, error) {
	if subjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject_id is required")
	}
	table, err := s.table(ctx, subjectID, nil)
	if err != nil {
		return nil, err
	}
	band, err := GradeFor(*table, total)
	if err != nil {
		return nil, err
	}
	credits, err := s.data.SubjectCredits(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found").WithDetail("subject_id", subjectID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject credits")
	}
	return &models.GradeRecord{
		SubjectID:  subjectID,
		Total:      total,
		Letter:     band.Letter,
		GradePoint: band.Point,
		Credits:    credits,
	}, nil
}

// ComputeSGPA aggregates the finalized subjects of one semester. Subjects without a
// finalized record are listed in ExcludedSubjects instead of counting as zero.
func (s *GradeService) ComputeSGPA(ctx context.Context, studentID, semesterID string) (*models.GPAResult, error) {
	if studentID == "" || semesterID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id and semester_id are required")
	}
	results, err := s.data.SemesterResults(ctx, studentID, semesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester results")
	}
	tables := map[string]*models.GradingTable{}
	result := &models.GPAResult{
		StudentID:        studentID,
		SemesterID:       semesterID,
		Grades:           []models.GradeRecord{},
		ExcludedSubjects: []string{},
	}
	var weighted float64
	for _, subject := range results {
		if subject.Total == nil {
			result.ExcludedSubjects = append(result.ExcludedSubjects, subject.SubjectID)
			continue
		}
		grade, err := s.gradeResult(ctx, tables, studentID, subject)
		if err != nil {
			return nil, err
		}
		result.Grades = append(result.Grades, grade)
		result.Credits += grade.Credits
		weighted += grade.Credits * grade.GradePoint
	}
	if result.Credits == 0 {
		return nil, appErrors.Clone(appErrors.ErrInsufficientData, "no finalized subjects in semester").
			WithDetail("student_id", studentID).
			WithDetail("semester_id", semesterID)
	}
	result.Value = RoundHalfUp(weighted/result.Credits, gpaPrecision)
	return result, nil
}

// ComputeCGPA aggregates every completed semester. A semester with any subject that is not
// finalized is left out entirely and reported in ExcludedSemesters.
func (s *GradeService) ComputeCGPA(ctx context.Context, studentID string) (*models.GPAResult, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	results, err := s.data.StudentResults(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student results")
	}

	var order []string
	bySemester := map[string][]models.SubjectResult{}
	for _, subject := range results {
		if _, ok := bySemester[subject.SemesterID]; !ok {
			order = append(order, subject.SemesterID)
		}
		bySemester[subject.SemesterID] = append(bySemester[subject.SemesterID], subject)
	}

	tables := map[string]*models.GradingTable{}
	result := &models.GPAResult{
		StudentID:         studentID,
		Grades:            []models.GradeRecord{},
		ExcludedSubjects:  []string{},
		ExcludedSemesters: []string{},
	}
	var weighted float64
	for _, semesterID := range order {
		subjects := bySemester[semesterID]
		complete := true
		for _, subject := range subjects {
			if subject.Total == nil {
				complete = false
				result.ExcludedSubjects = append(result.ExcludedSubjects, subject.SubjectID)
			}
		}
		if !complete {
			result.ExcludedSemesters = append(result.ExcludedSemesters, semesterID)
			continue
		}
		for _, subject := range subjects {
			grade, err := s.gradeResult(ctx, tables, studentID, subject)
			if err != nil {
				return nil, err
			}
			result.Grades = append(result.Grades, grade)
			result.Credits += grade.Credits
			weighted += grade.Credits * grade.GradePoint
		}
	}
	if result.Credits == 0 {
		return nil, appErrors.Clone(appErrors.ErrInsufficientData, "no completed semesters").
			WithDetail("student_id", studentID)
	}
	result.Value = RoundHalfUp(weighted/result.Credits, gpaPrecision)
	s.logger.Debug("cgpa computed",
		zap.String("student_id", studentID),
		zap.Float64("value", result.Value),
		zap.Int("excluded_semesters", len(result.ExcludedSemesters)))
	return result, nil
}

func (s *GradeService) gradeResult(ctx context.Context, tables map[string]*models.GradingTable, studentID string, subject models.SubjectResult) (models.GradeRecord, error) {
	key := subject.SubjectID
	if subject.GradingTableVersion != nil {
		key += "@" + strconv.Itoa(*subject.GradingTableVersion)
	}
	table, ok := tables[key]
	if !ok {
		var err error
		table, err = s.table(ctx, subject.SubjectID, subject.GradingTableVersion)
		if err != nil {
			return models.GradeRecord{}, err
		}
		tables[key] = table
	}
	band, err := GradeFor(*table, *subject.Total)
	if err != nil {
		return models.GradeRecord{}, withDetail(err, "student_id", studentID)
	}
	return models.GradeRecord{
		StudentID:  studentID,
		SubjectID:  subject.SubjectID,
		SemesterID: subject.SemesterID,
		Total:      *subject.Total,
		Letter:     band.Letter,
		GradePoint: band.Point,
		Credits:    subject.Credits,
		Finalized:  true,
	}, nil
}

func (s *GradeService) table(ctx context.Context, subjectID string, version *int) (*models.GradingTable, error) {
	table, err := s.data.GradingTable(ctx, subjectID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			notFound := appErrors.Clone(appErrors.ErrInvalidConfig, "grading table missing").WithDetail("subject_id", subjectID)
			if version != nil {
				notFound = notFound.WithDetail("version", strconv.Itoa(*version))
			}
			return nil, notFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grading table")
	}
	if len(table.Bands) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidConfig, "grading table has no bands").WithDetail("subject_id", subjectID)
	}
	return table, nil
}
