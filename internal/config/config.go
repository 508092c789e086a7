// internal/config/config.go

// Package config reads the service configuration from the
// environment. The binaries autoload a .env file first, so local
// development needs no exported shell variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the binaries read.
type Config struct {
	// ListenAddr is the HTTP listen address of the room server.
	ListenAddr string `env:"ANTEROOM_LISTEN_ADDR" envDefault:":8080"`

	// Domain is the user domain; real addresses are local@Domain.
	Domain string `env:"ANTEROOM_DOMAIN" envDefault:"localhost"`
	// ConferenceDomain hosts the main rooms. Empty derives
	// "conference." + Domain.
	ConferenceDomain string `env:"ANTEROOM_CONFERENCE_DOMAIN"`
	// LobbyDomain hosts the waiting rooms. Empty derives
	// "lobby." + Domain.
	LobbyDomain string `env:"ANTEROOM_LOBBY_DOMAIN"`
	// DisableLobby removes the lobby component entirely; rooms can
	// still be members-only, admission then runs on invites alone.
	DisableLobby bool `env:"ANTEROOM_DISABLE_LOBBY" envDefault:"false"`

	// PostgresDSN enables room configuration persistence. Empty runs
	// the server fully in memory.
	PostgresDSN string `env:"ANTEROOM_POSTGRES_DSN"`

	// RedisAddr enables the admission audit trail. Empty disables it.
	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`
	// AuditQueue is the Redis list the auditor worker drains.
	AuditQueue string `env:"AUDIT_QUEUE_NAME" envDefault:"anteroom_admissions"`
	// AuditorBatchSize and AuditorFlushInterval tune the auditor's
	// write batching.
	AuditorBatchSize     int           `env:"AUDITOR_BATCH_SIZE" envDefault:"20"`
	AuditorFlushInterval time.Duration `env:"AUDITOR_FLUSH_INTERVAL" envDefault:"500ms"`
	// AuditRetention prunes trail rows older than this. Zero keeps
	// everything.
	AuditRetention time.Duration `env:"AUDIT_RETENTION"`

	// TokenTTL bounds session token validity.
	TokenTTL time.Duration `env:"ANTEROOM_TOKEN_TTL" envDefault:"24h"`
	// JWTPrivateKeyPath and JWTPublicKeyPath point at a persisted
	// ed25519 key pair. Empty generates one at startup, which signs
	// everyone out on restart.
	JWTPrivateKeyPath string `env:"ANTEROOM_JWT_PRIVATE_KEY"`
	JWTPublicKeyPath  string `env:"ANTEROOM_JWT_PUBLIC_KEY"`
	// LogLevel is a logrus level name.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and fills in the derived domains.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ConferenceDomain == "" {
		cfg.ConferenceDomain = "conference." + cfg.Domain
	}
	if cfg.LobbyDomain == "" {
		cfg.LobbyDomain = "lobby." + cfg.Domain
	}
	if cfg.DisableLobby {
		cfg.LobbyDomain = ""
	}
	return cfg, nil
}
