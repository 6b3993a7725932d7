package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages runtime feature toggles. Infrastructure tiers
// (caching, the distributed bus, the sweeps) can be switched off per
// environment without code changes, and risky rollouts can be limited
// to a percentage of students.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on a hash of their ID.
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string
}

// Predefined feature flag names.
const (
	// === Cache tiers ===
	FeatureCacheBalances = "cache.balances" // Redis-cached coin balances
	FeatureCacheProgress = "cache.progress" // Redis-cached week progress

	// === Messaging ===
	FeatureDistributedBus = "bus.distributed" // Redis Pub/Sub event fan-out
	FeatureAsyncDispatch  = "dispatch.async"  // async event handler execution

	// === Maintenance sweeps ===
	FeatureDripSweep      = "sweep.drip"      // scheduled drip unlock sweep
	FeatureReconcileSweep = "sweep.reconcile" // scheduled ledger reconciliation
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureCacheBalances] = &Feature{
		Name:           FeatureCacheBalances,
		Description:    "Cache coin balances in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCacheProgress] = &Feature{
		Name:           FeatureCacheProgress,
		Description:    "Cache week progress rows in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDistributedBus] = &Feature{
		Name:           FeatureDistributedBus,
		Description:    "Fan events out across instances via Redis Pub/Sub",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAsyncDispatch] = &Feature{
		Name:           FeatureAsyncDispatch,
		Description:    "Run event handlers asynchronously",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDripSweep] = &Feature{
		Name:           FeatureDripSweep,
		Description:    "Scheduled drip unlock sweep",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureReconcileSweep] = &Feature{
		Name:           FeatureReconcileSweep,
		Description:    "Scheduled ledger reconciliation sweep",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_CACHE_BALANCES=false
// Example: FEATURE_SWEEP_DRIP=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}

		if pct, err := strconv.Atoi(val); err == nil && pct >= 0 && pct <= 100 {
			feature.Enabled = pct > 0
			feature.RolloutPercent = pct
		}
	}
}

// featureNameToEnvKey converts a feature name to its environment variable key.
// "cache.balances" -> "FEATURE_CACHE_BALANCES"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context. A nil
// context evaluates the flag globally (rollout below 100% counts as off).
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if ctx != nil {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	if feature.RolloutPercent >= 100 {
		return true
	}
	if ctx == nil {
		return false
	}
	return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(studentID))
	h.Write([]byte(featureName))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride sets a feature override for a specific student.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.studentOverrides[studentID] == nil {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("rollout percent must be 0-100, got %d", percent)
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return fmt.Errorf("unknown feature: %s", featureName)
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// ListFeatures returns a snapshot of all registered features.
func (ff *FeatureFlags) ListFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	features := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		features = append(features, *f)
	}
	return features
}
