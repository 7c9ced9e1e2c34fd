// SPDX-License-Identifier: MIT

// Package genlog records every pipeline decision for cost accounting and
// feedback-driven library improvement.
package genlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/log"
)

// ratingRewardDelta is the rating nudge applied on positive feedback.
const ratingRewardDelta = 0.1

// Entry is one pipeline decision. Rows are append-only; only the feedback
// fields mutate afterwards.
type Entry struct {
	ID               string
	UserID           string
	UserIntent       string
	Goal             string
	MatchType        string // exact, pooled, generated, fallback
	Confidence       float64
	AffirmationsUsed []string // IDs when known, texts for novel generations
	TemplateID       string
	APICost          float64
	SessionID        string
	CreatedAt        time.Time

	WasRated    bool
	UserRating  int
	WasReplayed bool
}

// ErrNoLog indicates feedback for a session with no recorded decision.
var ErrNoLog = errors.New("genlog: no log entry for session")

// rewarder is the slice of the library feedback writes use.
type rewarder interface {
	RewardAffirmations(ctx context.Context, ids []string, delta float64) error
	RewardTemplate(ctx context.Context, id string, delta float64) error
}

// Log is the append-only decision store.
type Log struct {
	db     *sql.DB
	lib    rewarder
	logger zerolog.Logger
}

// NewLog runs the migration. lib may be nil; feedback then skips rewards.
func NewLog(db *sql.DB, lib rewarder) (*Log, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generation_logs (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT '',
			user_intent   TEXT NOT NULL,
			goal          TEXT NOT NULL,
			match_type    TEXT NOT NULL,
			confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			affirmations  TEXT NOT NULL,
			template_id   TEXT NOT NULL DEFAULT '',
			api_cost      REAL NOT NULL CHECK (api_cost >= 0),
			session_id    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			was_rated     INTEGER NOT NULL DEFAULT 0,
			user_rating   INTEGER NOT NULL DEFAULT 0,
			was_replayed  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_genlog_user_session
			ON generation_logs(user_id, session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("genlog: migration failed: %w", err)
		}
	}
	return &Log{db: db, lib: lib, logger: log.WithComponent("genlog")}, nil
}

// Record appends one decision row. The caller supplies SessionID so the
// binding is guaranteed at session-create time.
func (l *Log) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.MatchType == "" {
		return nil, fmt.Errorf("genlog: match type required")
	}
	if e.APICost < 0 {
		return nil, fmt.Errorf("genlog: cost must be non-negative")
	}
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()

	affs, err := json.Marshal(e.AffirmationsUsed)
	if err != nil {
		return nil, fmt.Errorf("genlog: marshal affirmations: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO generation_logs
			(id, user_id, user_intent, goal, match_type, confidence, affirmations,
			 template_id, api_cost, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.UserIntent, e.Goal, e.MatchType, e.Confidence, string(affs),
		e.TemplateID, e.APICost, e.SessionID, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("genlog: record: %w", err)
	}
	return &e, nil
}

// Rate stores feedback on the most recent decision for (userID, sessionID).
// A rating >= 4 rewards the pooled lines or the exact-match template; the
// reward fires only on the first rating so repeats converge.
func (l *Log) Rate(ctx context.Context, sessionID, userID string, rating int, wasReplayed *bool) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("genlog: rating must be 1..5")
	}
	e, err := l.latest(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	replayed := e.WasReplayed
	if wasReplayed != nil {
		replayed = *wasReplayed
	}
	_, err = l.db.ExecContext(ctx, `
		UPDATE generation_logs
		SET was_rated = 1, user_rating = ?, was_replayed = ?
		WHERE id = ?`,
		rating, boolToInt(replayed), e.ID)
	if err != nil {
		return fmt.Errorf("genlog: rate: %w", err)
	}

	if e.WasRated || rating < 4 || l.lib == nil {
		return nil
	}
	l.reward(ctx, e)
	return nil
}

// reward is best-effort: failures are logged, never surfaced to the rater.
func (l *Log) reward(ctx context.Context, e *Entry) {
	var err error
	switch e.MatchType {
	case "pooled":
		err = l.lib.RewardAffirmations(ctx, e.AffirmationsUsed, ratingRewardDelta)
	case "exact":
		if e.TemplateID != "" {
			err = l.lib.RewardTemplate(ctx, e.TemplateID, ratingRewardDelta)
		}
	}
	if err != nil {
		l.logger.Warn().Err(err).
			Str(log.FieldSessionID, e.SessionID).
			Str(log.FieldMatchType, e.MatchType).
			Msg("feedback reward failed")
	}
}

// BySession returns the most recent decision for a session, any user.
func (l *Log) BySession(ctx context.Context, sessionID string) (*Entry, error) {
	return l.latest(ctx, sessionID, "")
}

func (l *Log) latest(ctx context.Context, sessionID, userID string) (*Entry, error) {
	q := `
		SELECT id, user_id, user_intent, goal, match_type, confidence, affirmations,
		       template_id, api_cost, session_id, created_at, was_rated, user_rating, was_replayed
		FROM generation_logs
		WHERE session_id = ?`
	args := []any{sessionID}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	// rowid breaks ties when two decisions land in the same second.
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`

	var e Entry
	var affs, createdAt string
	var rated, replayed int
	err := l.db.QueryRowContext(ctx, q, args...).
		Scan(&e.ID, &e.UserID, &e.UserIntent, &e.Goal, &e.MatchType, &e.Confidence,
			&affs, &e.TemplateID, &e.APICost, &e.SessionID, &createdAt,
			&rated, &e.UserRating, &replayed)
	if err == sql.ErrNoRows {
		return nil, ErrNoLog
	}
	if err != nil {
		return nil, fmt.Errorf("genlog: load: %w", err)
	}
	if err := json.Unmarshal([]byte(affs), &e.AffirmationsUsed); err != nil {
		return nil, fmt.Errorf("genlog: decode affirmations: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.WasRated = rated != 0
	e.WasReplayed = replayed != 0
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
