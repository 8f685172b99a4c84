package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags toggles optional surfaces of the worker. Flags are read once
// from FEATURE_* environment variables and can be flipped at runtime.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// FeatureBreakdownAPI exposes per-result point breakdowns.
	FeatureBreakdownAPI = "api.breakdown"

	// FeatureHistoryAPI exposes rider and club rank history.
	FeatureHistoryAPI = "api.history"

	// FeaturePageCache caches ranking pages in Redis.
	FeaturePageCache = "cache.ranking_pages"

	// FeatureBackfillJob schedules the monthly history backfill.
	FeatureBackfillJob = "jobs.backfill"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{Name: FeatureBreakdownAPI, Description: "Per-result ranking point breakdown endpoint", Enabled: true},
		{Name: FeatureHistoryAPI, Description: "Rank history endpoint", Enabled: true},
		{Name: FeaturePageCache, Description: "Redis cache for current ranking pages", Enabled: true},
		{Name: FeatureBackfillJob, Description: "Scheduled monthly history backfill", Enabled: true},
	} {
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment reads overrides.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_API_BREAKDOWN=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "api.breakdown" -> "FEATURE_API_BREAKDOWN"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off.
// A nil receiver treats every known feature as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return true
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// SetEnabled flips a feature at runtime.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// EnableFeature enables a feature.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetEnabled(featureName, true)
}

// DisableFeature disables a feature.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetEnabled(featureName, false)
}

// GetAllFeatures returns copies of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
