package main

import (
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/arena")

	var cfg Config
	require.NoError(t, env.Parse(&cfg))
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 0.5, cfg.Tau)
	assert.False(t, cfg.AutoMigrate)
}

func TestConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/arena")
	t.Setenv("PORT", "9999")
	t.Setenv("TAU", "0.8")
	t.Setenv("AUTO_MIGRATE", "true")

	var cfg Config
	require.NoError(t, env.Parse(&cfg))
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 0.8, cfg.Tau)
	assert.True(t, cfg.AutoMigrate)
}

func TestConfigBadTau(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/arena")
	t.Setenv("TAU", "not-a-float")

	var cfg Config
	assert.Error(t, env.Parse(&cfg))
}
