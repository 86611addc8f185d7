package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 120, cfg.Progress.MaxHeartbeatDeltaSeconds)
	assert.Equal(t, "X-User-ID", cfg.Auth.UserHeader)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestLoad_ProductionRequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

func TestLoad_StringSlices(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()
	assert.False(t, ff.Enabled(FeatureServerIdleSplit, "u1"))
	assert.True(t, ff.Enabled(FeatureEnforceAccess, "u1"))
	assert.True(t, ff.Enabled(FeatureRemediationLinks, "u1"))
	assert.False(t, ff.Enabled("unknown.flag", "u1"))
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_GATING_ENFORCE_ACCESS", "false")
	t.Setenv("FEATURE_PROGRESS_SERVER_IDLE_SPLIT", "true")

	ff := LoadFeatureFlags()
	assert.False(t, ff.Enabled(FeatureEnforceAccess, "u1"))
	assert.True(t, ff.Enabled(FeatureServerIdleSplit, "u1"))
}

func TestFeatureFlags_RolloutIsStablePerUser(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureServerIdleSplit, 50))

	on := 0
	for i := 0; i < 200; i++ {
		user := "user-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		first := ff.Enabled(FeatureServerIdleSplit, user)
		assert.Equal(t, first, ff.Enabled(FeatureServerIdleSplit, user))
		if first {
			on++
		}
	}
	assert.Greater(t, on, 0)
	assert.Less(t, on, 200)

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureServerIdleSplit, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
}

func TestFeatureFlags_UserOverrideAndGate(t *testing.T) {
	ff := NewFeatureFlags()
	ff.SetUserOverride("u1", FeatureEnforceAccess, false)

	gate := ff.Gate(FeatureEnforceAccess)
	assert.False(t, gate("u1"))
	assert.True(t, gate("u2"))

	ff.ClearUserOverrides("u1")
	assert.True(t, gate("u1"))
}

func TestFeatureFlags_Rollouts(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureServerIdleSplit, 25))

	r := ff.Rollouts()
	assert.Equal(t, 25, r[FeatureServerIdleSplit])
	assert.Equal(t, 100, r[FeatureDashboardCache])
	assert.False(t, ff.Enabled(FeatureServerIdleSplit, ""))
}
