package service

import (
	"math"
	"sort"
	"strconv"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

const weightTolerance = 1e-6

// AttemptScore is the value one attempt contributes to best-internal.
type AttemptScore struct {
	Kind  models.AttemptKind `json:"kind"`
	Value float64            `json:"value"`
}

// CalculationResult holds the derived marks of a record.
type CalculationResult struct {
	Strategy            models.CalculationStrategyName `json:"strategy"`
	BestInternal        float64                        `json:"best_internal"`
	BestInternalRounded float64                        `json:"best_internal_rounded"`
	External            float64                        `json:"external"`
	Total               float64                        `json:"total"`
}

// CalculationStrategy combines two or more attempt values into best-internal.
type CalculationStrategy interface {
	Name() models.CalculationStrategyName
	Combine(attempts []AttemptScore, weights map[models.AttemptKind]float64) (float64, error)
}

type maxStrategy struct{}

func (maxStrategy) Name() models.CalculationStrategyName { return models.StrategyMax }

func (maxStrategy) Combine(attempts []AttemptScore, _ map[models.AttemptKind]float64) (float64, error) {
	best := attempts[0].Value
	for _, attempt := range attempts[1:] {
		if attempt.Value > best {
			best = attempt.Value
		}
	}
	return best, nil
}

type averageStrategy struct{}

func (averageStrategy) Name() models.CalculationStrategyName { return models.StrategyAverage }

func (averageStrategy) Combine(attempts []AttemptScore, _ map[models.AttemptKind]float64) (float64, error) {
	sum := 0.0
	for _, attempt := range attempts {
		sum += attempt.Value
	}
	return sum / float64(len(attempts)), nil
}

type weightedStrategy struct{}

func (weightedStrategy) Name() models.CalculationStrategyName { return models.StrategyWeighted }

func (weightedStrategy) Combine(attempts []AttemptScore, weights map[models.AttemptKind]float64) (float64, error) {
	sum, weightSum := 0.0, 0.0
	for _, attempt := range attempts {
		weight, ok := weights[attempt.Kind]
		if !ok {
			return 0, appErrors.Clone(appErrors.ErrInvalidWeights, "no weight configured for attempt").
				WithDetail("attempt_kind", string(attempt.Kind))
		}
		if weight < 0 || math.IsNaN(weight) {
			return 0, appErrors.Clone(appErrors.ErrInvalidWeights, "attempt weight must not be negative").
				WithDetail("attempt_kind", string(attempt.Kind))
		}
		sum += weight * attempt.Value
		weightSum += weight
	}
	if math.Abs(weightSum-1) > weightTolerance {
		return 0, appErrors.ErrInvalidWeights.WithDetail("weight_sum", strconv.FormatFloat(weightSum, 'f', -1, 64))
	}
	return sum, nil
}

var calculationStrategies = map[models.CalculationStrategyName]CalculationStrategy{
	models.StrategyMax:      maxStrategy{},
	models.StrategyAverage:  averageStrategy{},
	models.StrategyWeighted: weightedStrategy{},
}

// StrategyFor resolves a configured strategy name.
func StrategyFor(name models.CalculationStrategyName) (CalculationStrategy, error) {
	strategy, ok := calculationStrategies[name]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidConfig, "unknown calculation strategy").
			WithDetail("strategy", string(name))
	}
	return strategy, nil
}

// ComputeMarks derives best-internal and total marks for a record.
func ComputeMarks(attempts []AttemptScore, external float64, policy models.CalculationPolicy) (CalculationResult, error) {
	result := CalculationResult{Strategy: policy.Strategy, External: external}
	if len(attempts) == 0 {
		return result, appErrors.Clone(appErrors.ErrInsufficientData, "no assessment attempts recorded").
			WithDetail("subject_assignment_id", policy.SubjectAssignmentID)
	}
	strategy, err := StrategyFor(policy.Strategy)
	if err != nil {
		return result, err
	}

	best := attempts[0].Value
	if len(attempts) > 1 {
		ordered := append([]AttemptScore(nil), attempts...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Kind < ordered[j].Kind })
		best, err = strategy.Combine(ordered, policy.Weights)
		if err != nil {
			return result, err
		}
	}

	result.BestInternal = best
	result.BestInternalRounded = RoundHalfUp(best, policy.Precision)
	result.Total = RoundHalfUp(best+external, policy.Precision)
	return result, nil
}

// AttemptScores converts recorded attempts into calculation inputs.
// A positive InternalMaxMarks rescales each attempt's percentage to that maximum.
func AttemptScores(attempts []models.AssessmentAttempt, policy models.CalculationPolicy) []AttemptScore {
	scores := make([]AttemptScore, 0, len(attempts))
	for _, attempt := range attempts {
		value := attempt.Scoreset.TotalObtained
		if policy.InternalMaxMarks > 0 {
			value = attempt.Scoreset.Percent * policy.InternalMaxMarks / 100
		}
		scores = append(scores, AttemptScore{Kind: attempt.Kind, Value: value})
	}
	return scores
}

// RoundHalfUp rounds value to precision decimals with ties going up.
func RoundHalfUp(value float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	factor := math.Pow10(precision)
	// 1e-9 absorbs binary representation error such as 2.675*100 = 267.49999999999997.
	return math.Floor(value*factor+0.5+1e-9) / factor
}
