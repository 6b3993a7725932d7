package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_DefaultsEnabled(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureCacheBalances, nil))
	assert.True(t, ff.IsEnabled(FeatureCacheProgress, nil))
	assert.True(t, ff.IsEnabled(FeatureDripSweep, nil))
	assert.True(t, ff.IsEnabled(FeatureReconcileSweep, nil))
}

func TestFeatureFlags_UnknownFeatureIsOff(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled("no.such.feature", nil))
}

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_CACHE_BALANCES", "false")
	t.Setenv("FEATURE_SWEEP_DRIP", "50")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureCacheBalances, nil))

	// Partial rollout without a student context evaluates to off.
	assert.False(t, ff.IsEnabled(FeatureDripSweep, nil))
}

func TestFeatureFlags_StudentOverrideWinsOverRollout(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureCacheProgress, 50))

	ctx := &FeatureContext{StudentID: "student-1"}

	ff.SetStudentOverride("student-1", FeatureCacheProgress, true)
	assert.True(t, ff.IsEnabled(FeatureCacheProgress, ctx))

	ff.SetStudentOverride("student-1", FeatureCacheProgress, false)
	assert.False(t, ff.IsEnabled(FeatureCacheProgress, ctx))

	// After clearing, the student falls back into their rollout bucket.
	ff.ClearStudentOverrides("student-1")
	first := ff.IsEnabled(FeatureCacheProgress, ctx)
	assert.Equal(t, first, ff.IsEnabled(FeatureCacheProgress, ctx))
}

func TestFeatureFlags_RolloutIsConsistentPerStudent(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureDripSweep, 50))

	ctx := &FeatureContext{StudentID: "student-42"}
	first := ff.IsEnabled(FeatureDripSweep, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureDripSweep, ctx))
	}
}

func TestFeatureFlags_SetRolloutPercentValidates(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.Error(t, ff.SetRolloutPercent(FeatureDripSweep, 101))
	assert.Error(t, ff.SetRolloutPercent(FeatureDripSweep, -1))
	assert.Error(t, ff.SetRolloutPercent("no.such.feature", 50))
}

func TestFeatureFlags_EnableDisable(t *testing.T) {
	ff := LoadFeatureFlags()

	require.NoError(t, ff.DisableFeature(FeatureReconcileSweep))
	assert.False(t, ff.IsEnabled(FeatureReconcileSweep, nil))

	require.NoError(t, ff.EnableFeature(FeatureReconcileSweep))
	assert.True(t, ff.IsEnabled(FeatureReconcileSweep, nil))
}
