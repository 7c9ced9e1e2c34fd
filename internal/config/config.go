// SPDX-License-Identifier: MIT

// Package config loads the application configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AppConfig holds the full runtime configuration for the affirmd daemon.
type AppConfig struct {
	// Server
	ListenAddr string // host:port the HTTP server binds to
	BaseURL    string // externally visible base URL for audio links
	LogLevel   string

	// Persistence
	DataDir string // directory for the SQLite database and local audio blobs
	DBPath  string

	// Optional collaborators. An empty key disables the corresponding path.
	LLMAPIKey string // enables the generation route
	LLMModel  string
	TTSAPIKey string // enables audio materialization
	RedisURL  string // enables the Redis-backed cache and limiter

	// Object storage (optional; local disk when unset)
	BlobBucket    string
	BlobAccessKey string
	BlobSecretKey string

	// Admin
	AdminEmails []string

	// Static bearer tokens ("token=userID" pairs). Real deployments resolve
	// identity through an external auth collaborator instead.
	AuthTokens map[string]string

	// Timeouts
	GenerateTimeout time.Duration
	PlaylistTimeout time.Duration
}

// FromEnv builds an AppConfig from environment variables, applying defaults.
func FromEnv() AppConfig {
	dataDir := ParseString("AFFIRMD_DATA_DIR", "./data")
	return AppConfig{
		ListenAddr: ParseString("AFFIRMD_LISTEN", ":8080"),
		BaseURL:    ParseString("AFFIRMD_BASE_URL", "http://localhost:8080"),
		LogLevel:   ParseString("LOG_LEVEL", "info"),

		DataDir: dataDir,
		DBPath:  ParseString("AFFIRMD_DB_PATH", dataDir+"/affirmd.db"),

		LLMAPIKey: ParseString("AFFIRMD_LLM_API_KEY", ""),
		LLMModel:  ParseString("AFFIRMD_LLM_MODEL", "gpt-4o-mini"),
		TTSAPIKey: ParseString("AFFIRMD_TTS_API_KEY", ""),
		RedisURL:  ParseString("AFFIRMD_REDIS_URL", ""),

		BlobBucket:    ParseString("AFFIRMD_BLOB_BUCKET", ""),
		BlobAccessKey: ParseString("AFFIRMD_BLOB_ACCESS_KEY", ""),
		BlobSecretKey: ParseString("AFFIRMD_BLOB_SECRET_KEY", ""),

		AdminEmails: ParseStringList("AFFIRMD_ADMIN_EMAILS", nil),
		AuthTokens:  parseTokenPairs(ParseStringList("AFFIRMD_AUTH_TOKENS", nil)),

		GenerateTimeout: ParseDuration("AFFIRMD_GENERATE_TIMEOUT", 30*time.Second),
		PlaylistTimeout: ParseDuration("AFFIRMD_PLAYLIST_TIMEOUT", 10*time.Second),
	}
}

// parseTokenPairs splits "token=userID" entries; malformed entries are dropped.
func parseTokenPairs(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if i := strings.IndexByte(e, '='); i > 0 && i < len(e)-1 {
			out[e[:i]] = e[i+1:]
		}
	}
	return out
}

// Validate checks invariants that would otherwise fail at first use.
func (c AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("config: invalid base URL: %w", err)
		}
	}
	if c.GenerateTimeout <= 0 || c.PlaylistTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}

// LLMEnabled reports whether the generation path is configured.
func (c AppConfig) LLMEnabled() bool { return c.LLMAPIKey != "" }

// TTSEnabled reports whether audio materialization is configured.
func (c AppConfig) TTSEnabled() bool { return c.TTSAPIKey != "" }

// RedisEnabled reports whether the networked KV store is configured.
func (c AppConfig) RedisEnabled() bool { return c.RedisURL != "" }
