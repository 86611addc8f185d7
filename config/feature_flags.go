package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
// A user lands in the same bucket for a given feature on every call,
// so a partially rolled out behaviour never flips for one learner.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100) selects users by a hash of their id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// Server computes the active part of a heartbeat from seconds since last interaction.
	FeatureServerIdleSplit = "progress.server_idle_split"

	// Dashboard metrics are served from the redis cache.
	FeatureDashboardCache = "analytics.dashboard_cache"

	// Locked lessons and knowledge checks are rejected on write, not only flagged on read.
	FeatureEnforceAccess = "gating.enforce_access"

	// Incorrect answers in knowledge check results carry a remediation lesson link.
	FeatureRemediationLinks = "knowledgecheck.remediation_links"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the registry with default values only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureServerIdleSplit] = &Feature{
		Name:           FeatureServerIdleSplit,
		Description:    "Server-side idle split for heartbeats",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureDashboardCache] = &Feature{
		Name:           FeatureDashboardCache,
		Description:    "Cache admin dashboard metrics in redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEnforceAccess] = &Feature{
		Name:           FeatureEnforceAccess,
		Description:    "Reject completion and answers for locked items",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRemediationLinks] = &Feature{
		Name:           FeatureRemediationLinks,
		Description:    "Attach remediation lessons to incorrect answers",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_GATING_ENFORCE_ACCESS=false
// Example: FEATURE_PROGRESS_SERVER_IDLE_SPLIT=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "gating.enforce_access" -> "FEATURE_GATING_ENFORCE_ACCESS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// Enabled reports whether the feature is on for userID. Per-user overrides
// win over the rollout; an empty userID only sees fully rolled out features.
func (ff *FeatureFlags) Enabled(featureName, userID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok && userID != "" {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if userID == "" {
		return false
	}
	return isInRollout(userID, featureName, feature.RolloutPercent)
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	bucket := int(h.Sum32() % 100)
	return bucket < percent
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// Rollouts returns the current rollout percent of every feature.
func (ff *FeatureFlags) Rollouts() map[string]int {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]int, len(ff.features))
	for name, f := range ff.features {
		if f.Enabled {
			out[name] = f.RolloutPercent
		} else {
			out[name] = 0
		}
	}
	return out
}

// Gate returns a per-user predicate for the feature.
func (ff *FeatureFlags) Gate(featureName string) func(userID string) bool {
	return func(userID string) bool { return ff.Enabled(featureName, userID) }
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
