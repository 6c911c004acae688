package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")

	cfg, loaded, err := Load("testdata/does-not-exist.env")
	require.NoError(t, err)
	assert.False(t, loaded)

	assert.Equal(t, "8080", cfg.HTTPConfig.Port)
	assert.Equal(t, 2000, cfg.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.BatchTimeout)
	assert.Equal(t, "log", cfg.Provider)
	assert.Equal(t, 14.0, cfg.RatePerSecond)
	assert.Equal(t, "batch_sends", cfg.Queue)
	assert.Equal(t, 2*time.Second, cfg.ProgressTTL)
}

func TestLoadRejectsSESWithoutSender(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "ses")
	t.Setenv("SES_SENDER", "")

	_, _, err := Load("testdata/does-not-exist.env")
	assert.ErrorContains(t, err, "SES_SENDER")
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "mongo")

	_, _, err := Load("testdata/does-not-exist.env")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "p@ss", Name: "campaigns", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/campaigns?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
