package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/config"
	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/pkg/logger"
)

const courseYAML = `
slug: go-basics
title: Go Basics
config:
  navigation_mode: linear
modules:
  - slug: intro
    title: Intro
    lessons:
      - slug: hello
        title: Hello
`

func loadConfig(t *testing.T, env string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.yaml"), []byte(courseYAML), 0o600))

	t.Setenv("APP_ENV", env)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("CATALOG_DIR", dir)

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryStoreInDevelopment(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, loadConfig(t, "development"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Cache)
	assert.NotEmpty(t, c.InstanceID)

	loaded, err := c.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	h := c.Handlers()
	require.NotNil(t, h.EnrollLearner)
	require.NotNil(t, h.GetDashboardMetrics)

	res, err := h.EnrollLearner.Handle(ctx, command.EnrollLearnerCommand{UserID: "u1", CourseSlug: "go-basics"})
	require.NoError(t, err)
	assert.True(t, res.Created)

	nav, err := h.GetNavigation.Handle(ctx, query.GetNavigationQuery{UserID: "u1", CourseSlug: "go-basics"})
	require.NoError(t, err)
	assert.NotNil(t, nav)
}

func TestNew_RequiresDatabaseOutsideDevelopment(t *testing.T) {
	_, err := New(context.Background(), loadConfig(t, "staging"), logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestShutdownContext_DefaultsTimeout(t *testing.T) {
	c := &Container{Config: &config.Config{}}
	ctx, cancel := c.ShutdownContext()
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)
}
