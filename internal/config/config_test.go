// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("LEGACY_TOKEN_SECRET", "legacy-secret")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, "auto", cfg.AuthMode)
	assert.Equal(t, "token", cfg.AdminAccessMode)
	assert.Equal(t, 30*time.Second, cfg.TurnTimeout())
	assert.Equal(t, 45*time.Second, cfg.HeartbeatLiveness())
	assert.Equal(t, 5*time.Minute, cfg.RoomInactivity())
	assert.Equal(t, time.Minute, cfg.QueueNextDelay())
	assert.Equal(t, 1, cfg.MaxInstances)
}

func TestLoadOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("STORE_BACKEND", "document")
	t.Setenv("TURN_TIMEOUT_MS", "15000")
	t.Setenv("ADMIN_ACCESS_MODE", "open")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "document", cfg.StoreBackend)
	assert.Equal(t, 15*time.Second, cfg.TurnTimeout())
	assert.Equal(t, "open", cfg.AdminAccessMode)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	validEnv(t)
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE_BACKEND")
}

func TestValidateRejectsBadAuthMode(t *testing.T) {
	validEnv(t)
	t.Setenv("AUTH_MODE", "none")
	_, err := Load()
	assert.ErrorContains(t, err, "AUTH_MODE")
}

func TestValidateRequiresAdminToken(t *testing.T) {
	t.Setenv("LEGACY_TOKEN_SECRET", "x")
	t.Setenv("ADMIN_ACCESS_MODE", "token")
	t.Setenv("ADMIN_TOKEN", "")
	_, err := Load()
	assert.ErrorContains(t, err, "ADMIN_TOKEN")
}

func TestValidateRequiresLegacySecretOutsideStrict(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("AUTH_MODE", "legacy")
	t.Setenv("LEGACY_TOKEN_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "LEGACY_TOKEN_SECRET")
}

func TestValidateRejectsMultiInstance(t *testing.T) {
	validEnv(t)
	t.Setenv("MAX_INSTANCES", "2")
	_, err := Load()
	assert.ErrorContains(t, err, "MAX_INSTANCES")
}

func TestRedactedHidesSecrets(t *testing.T) {
	validEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	red := cfg.Redacted()
	assert.Equal(t, "[redacted]", red.AdminToken)
	assert.Equal(t, "[redacted]", red.LegacyTokenSecret)
	// Original is untouched.
	assert.Equal(t, "secret", cfg.AdminToken)
}
