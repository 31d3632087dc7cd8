package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.EditWindow)
	assert.Equal(t, 30*time.Second, cfg.JWT.Leeway)
	assert.Equal(t, "MAX", cfg.Calculation.DefaultStrategy)
	assert.Equal(t, 0, cfg.Calculation.DefaultPrecision)
	assert.InDelta(t, 60, cfg.Attainment.L1, 1e-9)
	assert.InDelta(t, 80, cfg.Attainment.L3, 1e-9)
	assert.InDelta(t, 0.6, cfg.Attainment.MinFraction, 1e-9)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MARKS_EDIT_WINDOW", "72h")
	t.Setenv("CALCULATION_DEFAULT_STRATEGY", "weighted")
	t.Setenv("CALCULATION_DEFAULT_PRECISION", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.Workflow.EditWindow)
	assert.Equal(t, "WEIGHTED", cfg.Calculation.DefaultStrategy)
	assert.Equal(t, 2, cfg.Calculation.DefaultPrecision)
}

func TestValidateRejectsUnorderedThresholds(t *testing.T) {
	cfg := &Config{
		Workflow:    WorkflowConfig{EditWindow: time.Hour},
		Calculation: CalculationConfig{DefaultStrategy: "MAX"},
		Attainment:  AttainmentConfig{L1: 70, L2: 60, L3: 80, MinFraction: 0.6},
	}
	require.Error(t, cfg.Validate())

	cfg.Attainment = AttainmentConfig{L1: 60, L2: 70, L3: 80, MinFraction: 0}
	require.Error(t, cfg.Validate())

	cfg.Attainment.MinFraction = 0.6
	require.NoError(t, cfg.Validate())
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
