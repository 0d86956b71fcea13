package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "comm")
	t.Setenv("DB_NAME", "comm_core")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.App.Env)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "disable", cfg.DB.SSLMode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, "comm.events", cfg.Broker.StreamName)
	assert.Equal(t, "uploads", cfg.Upload.Dir)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRejectsBadSSLMode(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_SSLMODE", "yes-please")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "comm", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=comm sslmode=require", c.DSN())
}

func TestDurationOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Auth.OTPTTL)
}
