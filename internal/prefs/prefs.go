// SPDX-License-Identifier: MIT

// Package prefs stores per-user playback preferences: voice, pace,
// affirmation spacing and background noise.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindloop/affirmd/internal/cache"
	"github.com/mindloop/affirmd/internal/domain"
)

const cacheTTL = 5 * time.Minute

// Preferences are the playback defaults applied when a request omits them.
type Preferences struct {
	VoiceID        string       `json:"voiceId"`
	Pace           domain.Pace  `json:"pace"`
	SpacingSeconds int          `json:"affirmationSpacingSeconds"`
	Noise          domain.Noise `json:"backgroundNoise"`
}

// Defaults are the preferences of a user who never changed anything.
func Defaults() Preferences {
	return Preferences{
		VoiceID:        domain.DefaultVoiceID,
		Pace:           domain.PaceNormal,
		SpacingSeconds: domain.DefaultSpacingSeconds,
		Noise:          domain.NoiseNone,
	}
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	VoiceID        *string       `json:"voiceId"`
	Pace           *domain.Pace  `json:"pace"`
	SpacingSeconds *int          `json:"affirmationSpacingSeconds"`
	Noise          *domain.Noise `json:"backgroundNoise"`
}

// Store persists preferences in SQLite and caches reads.
type Store struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewStore runs the migration and wires the read cache. cache may be nil.
func NewStore(db *sql.DB, c *cache.Cache) (*Store, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id         TEXT PRIMARY KEY,
			voice_id        TEXT NOT NULL,
			pace            TEXT NOT NULL,
			spacing_seconds INTEGER NOT NULL,
			noise           TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("prefs: migration failed: %w", err)
	}
	return &Store{db: db, cache: c}, nil
}

func cacheKey(userID string) string { return "prefs:" + userID }

// Get returns the user's preferences, falling back to defaults when the user
// never stored any.
func (s *Store) Get(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Defaults(), nil
	}
	if s.cache == nil {
		return s.load(ctx, userID)
	}

	raw, err := s.cache.GetOrLoad(ctx, cacheKey(userID), cacheTTL, func(ctx context.Context) ([]byte, error) {
		p, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	})
	if err != nil {
		return Preferences{}, err
	}
	var p Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preferences{}, fmt.Errorf("prefs: decode cached value: %w", err)
	}
	return p, nil
}

// Update applies a partial update and invalidates the cache entry.
func (s *Store) Update(ctx context.Context, userID string, patch Patch) (Preferences, error) {
	if userID == "" {
		return Preferences{}, fmt.Errorf("prefs: user id required")
	}
	cur, err := s.load(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}

	if patch.VoiceID != nil {
		if _, ok := domain.VoiceByID(*patch.VoiceID); !ok {
			return Preferences{}, fmt.Errorf("prefs: unknown voice %q", *patch.VoiceID)
		}
		cur.VoiceID = *patch.VoiceID
	}
	if patch.Pace != nil {
		if !patch.Pace.Valid() {
			return Preferences{}, fmt.Errorf("prefs: unknown pace %q", *patch.Pace)
		}
		cur.Pace = *patch.Pace
	}
	if patch.SpacingSeconds != nil {
		if !domain.SpacingValid(*patch.SpacingSeconds) {
			return Preferences{}, fmt.Errorf("prefs: spacing %d not in allowed set", *patch.SpacingSeconds)
		}
		cur.SpacingSeconds = *patch.SpacingSeconds
	}
	if patch.Noise != nil {
		if !patch.Noise.Valid() {
			return Preferences{}, fmt.Errorf("prefs: unknown noise %q", *patch.Noise)
		}
		cur.Noise = *patch.Noise
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, voice_id, pace, spacing_seconds, noise, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			voice_id = excluded.voice_id,
			pace = excluded.pace,
			spacing_seconds = excluded.spacing_seconds,
			noise = excluded.noise,
			updated_at = excluded.updated_at`,
		userID, cur.VoiceID, string(cur.Pace), cur.SpacingSeconds, string(cur.Noise),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: update: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, cacheKey(userID))
	}
	return cur, nil
}

// Voice returns the user's explicitly stored voice. ok is false when the
// user never stored preferences; callers then keep their own default.
func (s *Store) Voice(ctx context.Context, userID string) (string, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	var voice string
	err := s.db.QueryRowContext(ctx,
		`SELECT voice_id FROM user_preferences WHERE user_id = ?`, userID).Scan(&voice)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("prefs: voice: %w", err)
	}
	return voice, true, nil
}

func (s *Store) load(ctx context.Context, userID string) (Preferences, error) {
	var p Preferences
	err := s.db.QueryRowContext(ctx, `
		SELECT voice_id, pace, spacing_seconds, noise
		FROM user_preferences WHERE user_id = ?`, userID).
		Scan(&p.VoiceID, &p.Pace, &p.SpacingSeconds, &p.Noise)
	if err == sql.ErrNoRows {
		return Defaults(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: load: %w", err)
	}
	return p, nil
}
