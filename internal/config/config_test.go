// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost", cfg.Domain)
	assert.Equal(t, "conference.localhost", cfg.ConferenceDomain)
	assert.Equal(t, "lobby.localhost", cfg.LobbyDomain)
	assert.Equal(t, "anteroom_admissions", cfg.AuditQueue)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDerivesDomains(t *testing.T) {
	t.Setenv("ANTEROOM_DOMAIN", "example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "conference.example.com", cfg.ConferenceDomain)
	assert.Equal(t, "lobby.example.com", cfg.LobbyDomain)
}

func TestLoadExplicitDomainsWin(t *testing.T) {
	t.Setenv("ANTEROOM_DOMAIN", "example.com")
	t.Setenv("ANTEROOM_CONFERENCE_DOMAIN", "muc.example.com")
	t.Setenv("ANTEROOM_LOBBY_DOMAIN", "waiting.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "muc.example.com", cfg.ConferenceDomain)
	assert.Equal(t, "waiting.example.com", cfg.LobbyDomain)
}

func TestLoadDisableLobby(t *testing.T) {
	t.Setenv("ANTEROOM_DISABLE_LOBBY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.LobbyDomain)
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("ANTEROOM_TOKEN_TTL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}
