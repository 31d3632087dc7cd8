package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

func threeAttempts() []AttemptScore {
	return []AttemptScore{
		{Kind: models.AttemptInternal1, Value: 18},
		{Kind: models.AttemptInternal2, Value: 24},
		{Kind: models.AttemptInternal3, Value: 21},
	}
}

func TestComputeMarksStrategies(t *testing.T) {
	weights := map[models.AttemptKind]float64{
		models.AttemptInternal1: 0.2,
		models.AttemptInternal2: 0.3,
		models.AttemptInternal3: 0.5,
	}
	cases := []struct {
		name     string
		strategy models.CalculationStrategyName
		best     float64
	}{
		{name: "max", strategy: models.StrategyMax, best: 24},
		{name: "average", strategy: models.StrategyAverage, best: 21},
		{name: "weighted", strategy: models.StrategyWeighted, best: 0.2*18 + 0.3*24 + 0.5*21},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ComputeMarks(threeAttempts(), 50, models.CalculationPolicy{Strategy: tc.strategy, Weights: weights})
			require.NoError(t, err)
			assert.InDelta(t, tc.best, res.BestInternal, 1e-9)
			assert.Equal(t, RoundHalfUp(tc.best+50, 0), res.Total)
			assert.Equal(t, tc.strategy, res.Strategy)
		})
	}
}

func TestComputeMarksAverageKeepsExactMean(t *testing.T) {
	res, err := ComputeMarks([]AttemptScore{
		{Kind: models.AttemptInternal1, Value: 10},
		{Kind: models.AttemptInternal2, Value: 11},
	}, 0, models.CalculationPolicy{Strategy: models.StrategyAverage, Precision: 0})
	require.NoError(t, err)
	assert.Equal(t, 10.5, res.BestInternal)
	assert.Equal(t, 11.0, res.BestInternalRounded)
	assert.Equal(t, 11.0, res.Total)
}

func TestComputeMarksSingleAttemptIgnoresStrategy(t *testing.T) {
	single := []AttemptScore{{Kind: models.AttemptInternal2, Value: 17.25}}
	res, err := ComputeMarks(single, 40, models.CalculationPolicy{Strategy: models.StrategyWeighted, Precision: 1})
	require.NoError(t, err)
	assert.Equal(t, 17.25, res.BestInternal)
	assert.Equal(t, 57.3, res.Total)
}

func TestComputeMarksErrors(t *testing.T) {
	_, err := ComputeMarks(nil, 0, models.CalculationPolicy{Strategy: models.StrategyMax})
	require.ErrorIs(t, err, appErrors.ErrInsufficientData)

	_, err = ComputeMarks(threeAttempts(), 0, models.CalculationPolicy{
		Strategy: models.StrategyWeighted,
		Weights: map[models.AttemptKind]float64{
			models.AttemptInternal1: 0.3,
			models.AttemptInternal2: 0.3,
			models.AttemptInternal3: 0.3,
		},
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidWeights)

	_, err = ComputeMarks(threeAttempts(), 0, models.CalculationPolicy{
		Strategy: models.StrategyWeighted,
		Weights:  map[models.AttemptKind]float64{models.AttemptInternal1: 1},
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidWeights)

	_, err = ComputeMarks(threeAttempts(), 0, models.CalculationPolicy{Strategy: "MEDIAN"})
	require.ErrorIs(t, err, appErrors.ErrInvalidConfig)
}

func TestComputeMarksWeightTolerance(t *testing.T) {
	_, err := ComputeMarks(threeAttempts(), 0, models.CalculationPolicy{
		Strategy: models.StrategyWeighted,
		Weights: map[models.AttemptKind]float64{
			models.AttemptInternal1: 0.2,
			models.AttemptInternal2: 0.3,
			models.AttemptInternal3: 0.5000005,
		},
	})
	require.NoError(t, err)
}

func TestAttemptScoresScalesToInternalMax(t *testing.T) {
	attempts := []models.AssessmentAttempt{
		{Kind: models.AttemptInternal1, Scoreset: models.NormalizedScoreset{TotalObtained: 17, TotalMax: 20, Percent: 85}},
	}
	raw := AttemptScores(attempts, models.CalculationPolicy{})
	assert.Equal(t, 17.0, raw[0].Value)

	scaled := AttemptScores(attempts, models.CalculationPolicy{InternalMaxMarks: 40})
	assert.InDelta(t, 34.0, scaled[0].Value, 1e-9)
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 3.0, RoundHalfUp(2.5, 0))
	assert.Equal(t, 2.0, RoundHalfUp(2.49, 0))
	assert.Equal(t, 2.68, RoundHalfUp(2.675, 2))
	assert.Equal(t, 7.14, RoundHalfUp(50.0/7.0, 2))
	assert.Equal(t, 5.0, RoundHalfUp(4.6, -1))
}
