package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.False(t, cfg.Store.IsMemory())
	assert.Equal(t, time.Minute, cfg.Retry.BaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("RETRY_BASE_DELAY", "30s")
	t.Setenv("RETRY_MAX_RETRIES", "2")
	t.Setenv("RETRY_JITTER_FACTOR", "0.25")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Store.IsMemory())
	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 0.25, cfg.Retry.JitterFactor)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RETRY_BASE_DELAY", "soon")
	t.Setenv("RETRY_MAX_RETRIES", "many")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.Retry.BaseDelay)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host: "db.internal", Port: "5432", User: "svc",
		Password: "secret", Name: "bridge", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=svc password=secret dbname=bridge sslmode=require",
		db.ConnectionString())
}
