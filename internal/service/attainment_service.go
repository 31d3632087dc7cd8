package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
	"github.com/noah-isme/sma-marks-engine/pkg/tracing"
)

const fractionTolerance = 1e-9

type attainmentDataReader interface {
	CohortDataset(ctx context.Context, cohortID string) (*models.CohortDataset, error)
	POMappings(ctx context.Context, poID string) ([]models.COPOMapping, error)
}

// POAttainmentOptions tunes PO aggregation.
type POAttainmentOptions struct {
	AllowPartial bool
}

// AttainmentConfig holds the thresholds and fan-out width of attainment computation.
type AttainmentConfig struct {
	Thresholds []models.AttainmentThreshold
	Workers    int
}

// DefaultThresholds builds L1..L3 thresholds sharing one minimum student fraction.
func DefaultThresholds(l1, l2, l3, minFraction float64) []models.AttainmentThreshold {
	return []models.AttainmentThreshold{
		{Level: models.LevelL1, Percent: l1, MinFraction: minFraction},
		{Level: models.LevelL2, Percent: l2, MinFraction: minFraction},
		{Level: models.LevelL3, Percent: l3, MinFraction: minFraction},
	}
}

// ValidateThresholds checks that levels are ordered L1 <= L2 <= L3 with fractions in (0, 1].
func ValidateThresholds(thresholds []models.AttainmentThreshold) error {
	if len(thresholds) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidConfig, "attainment thresholds are required")
	}
	for i, t := range thresholds {
		if t.Percent < 0 || t.Percent > 100 || t.MinFraction <= 0 || t.MinFraction > 1 {
			return appErrors.Clone(appErrors.ErrInvalidConfig, "attainment threshold out of range").
				WithDetail("level", string(t.Level))
		}
		if i > 0 && t.Percent < thresholds[i-1].Percent {
			return appErrors.Clone(appErrors.ErrInvalidConfig, "attainment thresholds must be ascending").
				WithDetail("level", string(t.Level))
		}
	}
	return nil
}

// AttainmentService derives CO and PO attainment from frozen marks.
type AttainmentService struct {
	data       attainmentDataReader
	cache      *CacheService
	metrics    *MetricsService
	thresholds []models.AttainmentThreshold
	workers    int
	logger     *zap.Logger
}

// NewAttainmentService constructs the service after validating the thresholds.
func NewAttainmentService(data attainmentDataReader, cache *CacheService, metrics *MetricsService, cfg AttainmentConfig, logger *zap.Logger) (*AttainmentService, error) {
	if err := ValidateThresholds(cfg.Thresholds); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttainmentService{
		data:       data,
		cache:      cache,
		metrics:    metrics,
		thresholds: append([]models.AttainmentThreshold(nil), cfg.Thresholds...),
		workers:    cfg.Workers,
		logger:     logger,
	}, nil
}

// ComputeCOAttainment computes one course outcome's attainment for a cohort.
func (s *AttainmentService) ComputeCOAttainment(ctx context.Context, cohortID, coID string) (*models.COAttainment, error) {
	result, _, err := s.ComputeCOAttainmentCached(ctx, cohortID, coID)
	return result, err
}

// ComputeCOAttainmentCached is ComputeCOAttainment that also reports whether the result came from cache.
func (s *AttainmentService) ComputeCOAttainmentCached(ctx context.Context, cohortID, coID string) (result *models.COAttainment, cacheHit bool, err error) {
	ctx, span := tracing.Start(ctx, "attainment.CO", attribute.String("cohort_id", cohortID), attribute.String("co_id", coID))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { s.metrics.ObserveAttainment("co", time.Since(start)) }()

	var cached models.COAttainment
	if s.cache.Get(ctx, COKey(cohortID, coID), &cached) {
		return &cached, true, nil
	}
	dataset, err := s.dataset(ctx, cohortID)
	if err != nil {
		return nil, false, err
	}
	result, err = AggregateCO(ctx, dataset, coID, s.thresholds, s.workers)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(ctx, COKey(cohortID, coID), result)
	return result, false, nil
}

// ComputePOAttainment computes a program outcome's attainment as the strength-weighted mean of
// its COs' cohort mean percentages. COs without data fail the call unless opts.AllowPartial.
func (s *AttainmentService) ComputePOAttainment(ctx context.Context, cohortID, poID string, opts POAttainmentOptions) (*models.POAttainment, error) {
	result, _, err := s.ComputePOAttainmentCached(ctx, cohortID, poID, opts)
	return result, err
}

// ComputePOAttainmentCached is ComputePOAttainment that also reports whether the result came from cache.
func (s *AttainmentService) ComputePOAttainmentCached(ctx context.Context, cohortID, poID string, opts POAttainmentOptions) (result *models.POAttainment, cacheHit bool, err error) {
	ctx, span := tracing.Start(ctx, "attainment.PO", attribute.String("cohort_id", cohortID), attribute.String("po_id", poID))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	defer func() { s.metrics.ObserveAttainment("po", time.Since(start)) }()

	key := POKey(cohortID, poID, opts.AllowPartial)
	var cached models.POAttainment
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}
	mappings, err := s.data.POMappings(ctx, poID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load co po mappings")
	}
	if len(mappings) == 0 {
		return nil, false, appErrors.Clone(appErrors.ErrInsufficientData, "program outcome has no course outcome mappings").
			WithDetail("po_id", poID)
	}
	dataset, err := s.dataset(ctx, cohortID)
	if err != nil {
		return nil, false, err
	}

	cos := make(map[string]*models.COAttainment, len(mappings))
	for _, mapping := range mappings {
		if _, done := cos[mapping.COID]; done {
			continue
		}
		co, err := AggregateCO(ctx, dataset, mapping.COID, s.thresholds, s.workers)
		if err != nil {
			if errors.Is(err, appErrors.ErrInsufficientData) {
				cos[mapping.COID] = nil
				continue
			}
			return nil, false, err
		}
		cos[mapping.COID] = co
	}
	result, err = AggregatePO(cohortID, poID, mappings, cos, opts)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(ctx, key, result)
	return result, false, nil
}

// InvalidateCohort drops cached attainment of cohortID.
func (s *AttainmentService) InvalidateCohort(ctx context.Context, cohortID string) error {
	return s.cache.InvalidateCohort(ctx, cohortID)
}

func (s *AttainmentService) dataset(ctx context.Context, cohortID string) (*models.CohortDataset, error) {
	dataset, err := s.data.CohortDataset(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort dataset")
	}
	return dataset, nil
}

// AggregateCO computes CO attainment over a frozen dataset. Each student's CO percentage is the
// CO-weight-weighted mean of the percentages of counted questions mapped to the CO; students
// without any such question are reported in ExcludedStudents.
func AggregateCO(ctx context.Context, dataset *models.CohortDataset, coID string, thresholds []models.AttainmentThreshold, workers int) (*models.COAttainment, error) {
	weights := make(map[string]float64)
	for _, q := range dataset.Questions {
		for _, m := range q.COMappings {
			if m.COID == coID && m.WeightPercent > 0 {
				weights[q.ID] += m.WeightPercent
			}
		}
	}
	insufficient := appErrors.ErrInsufficientData.
		WithDetail("cohort_id", dataset.CohortID).
		WithDetail("co_id", coID)
	if len(weights) == 0 {
		return nil, insufficient
	}

	percents := make([]float64, len(dataset.Students))
	present := make([]bool, len(dataset.Students))
	if workers <= 0 {
		workers = 1
	}
	if workers > len(dataset.Students) {
		workers = len(dataset.Students)
	}
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				percents[i], present[i] = studentCOPercent(dataset.Students[i], weights)
			}
		}()
	}
feed:
	for i := range dataset.Students {
		select {
		case <-ctx.Done():
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var values []float64
	var excluded []string
	for i, ok := range present {
		if ok {
			values = append(values, percents[i])
		} else {
			excluded = append(excluded, dataset.Students[i].StudentID)
		}
	}
	if len(values) == 0 {
		return nil, insufficient
	}

	result := &models.COAttainment{
		COID:             coID,
		CohortID:         dataset.CohortID,
		CohortSize:       len(dataset.Students),
		StudentCount:     len(values),
		ExcludedStudents: excluded,
		AttainedLevel:    models.LevelNotAttained,
		Levels:           make([]models.LevelFraction, 0, len(thresholds)),
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	result.MeanPercent = sum / float64(len(values))

	for _, t := range thresholds {
		count := 0
		for _, v := range values {
			if v+fractionTolerance >= t.Percent {
				count++
			}
		}
		fraction := float64(count) / float64(len(values))
		met := fraction+fractionTolerance >= t.MinFraction
		result.Levels = append(result.Levels, models.LevelFraction{
			Level:       t.Level,
			Threshold:   t.Percent,
			MinFraction: t.MinFraction,
			Students:    count,
			Fraction:    fraction,
			Met:         met,
		})
	}
	for i := len(result.Levels) - 1; i >= 0; i-- {
		if result.Levels[i].Met {
			result.AttainedLevel = result.Levels[i].Level
			break
		}
	}
	return result, nil
}

func studentCOPercent(student models.StudentScores, weights map[string]float64) (float64, bool) {
	sum, mass := 0.0, 0.0
	for _, score := range student.Scores {
		if !score.Counted {
			continue
		}
		w, ok := weights[score.QuestionID]
		if !ok {
			continue
		}
		sum += score.Percent * w
		mass += w
	}
	if mass == 0 {
		return 0, false
	}
	return sum / mass, true
}

// AggregatePO folds CO results into a PO attainment. A nil or absent entry in cos marks that CO
// as missing; its strength is excluded from the denominator.
func AggregatePO(cohortID, poID string, mappings []models.COPOMapping, cos map[string]*models.COAttainment, opts POAttainmentOptions) (*models.POAttainment, error) {
	result := &models.POAttainment{POID: poID, CohortID: cohortID, Contributions: []models.POContribution{}}
	sum := 0.0
	for _, mapping := range mappings {
		result.TotalWeight += mapping.Strength
		co := cos[mapping.COID]
		if co == nil {
			result.MissingCOs = append(result.MissingCOs, mapping.COID)
			continue
		}
		result.PresentWeight += mapping.Strength
		sum += mapping.Strength * co.MeanPercent
		result.Contributions = append(result.Contributions, models.POContribution{
			COID:        mapping.COID,
			Strength:    mapping.Strength,
			MeanPercent: co.MeanPercent,
		})
	}
	sort.Strings(result.MissingCOs)
	if len(result.MissingCOs) > 0 && (!opts.AllowPartial || result.PresentWeight <= 0) {
		return nil, appErrors.ErrIncompleteCOData.
			WithDetail("cohort_id", cohortID).
			WithDetail("po_id", poID).
			WithDetail("missing_cos", strings.Join(result.MissingCOs, ","))
	}
	if result.PresentWeight <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidConfig, "program outcome mappings carry no strength").
			WithDetail("po_id", poID)
	}
	result.Percent = sum / result.PresentWeight
	result.Partial = len(result.MissingCOs) > 0
	return result, nil
}
