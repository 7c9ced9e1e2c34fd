// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions and their junction rows in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore runs the migration against the shared database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS affirmation_sessions (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL DEFAULT '',
			title              TEXT NOT NULL,
			goal               TEXT NOT NULL,
			intent             TEXT NOT NULL DEFAULT '',
			match_type         TEXT NOT NULL,
			template_id        TEXT NOT NULL DEFAULT '',
			voice_id           TEXT NOT NULL,
			pace               TEXT NOT NULL,
			noise              TEXT NOT NULL,
			binaural_category  TEXT NOT NULL,
			binaural_hz        REAL NOT NULL,
			length_sec         INTEGER NOT NULL,
			silence_between_ms INTEGER NOT NULL,
			is_favorite        INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_created
			ON affirmation_sessions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_favorite
			ON affirmation_sessions(user_id, is_favorite)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_goal
			ON affirmation_sessions(goal)`,
		`CREATE TABLE IF NOT EXISTS session_affirmations (
			session_id       TEXT NOT NULL REFERENCES affirmation_sessions(id) ON DELETE CASCADE,
			affirmation_id   TEXT NOT NULL,
			position         INTEGER NOT NULL CHECK (position >= 1),
			silence_after_ms INTEGER NOT NULL CHECK (silence_after_ms >= 0),
			PRIMARY KEY (session_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_affirmations_aff
			ON session_affirmations(affirmation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create persists the session and its junctions atomically. Positions are
// assigned densely 1..N from the order of affirmationIDs.
func (s *Store) Create(ctx context.Context, sess *Session, affirmationIDs []string) error {
	if len(affirmationIDs) == 0 {
		return fmt.Errorf("session: at least one affirmation required")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO affirmation_sessions
			(id, user_id, title, goal, intent, match_type, template_id, voice_id, pace,
			 noise, binaural_category, binaural_hz, length_sec, silence_between_ms,
			 is_favorite, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, string(sess.Goal), sess.Intent, sess.MatchType,
		sess.TemplateID, sess.VoiceID, string(sess.Pace), string(sess.Noise),
		string(sess.BinauralCategory), sess.BinauralHz, sess.LengthSec, sess.SilenceBetweenMs,
		boolToInt(sess.IsFavorite), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session: insert: %w", err)
	}

	for i, affID := range affirmationIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_affirmations (session_id, affirmation_id, position, silence_after_ms)
			VALUES (?, ?, ?, ?)`,
			sess.ID, affID, i+1, sess.SilenceBetweenMs)
		if err != nil {
			return fmt.Errorf("session: insert junction %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// Get loads a session by ID. Default-catalog IDs are not served here.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, goal, intent, match_type, template_id, voice_id, pace,
		       noise, binaural_category, binaural_hz, length_sec, silence_between_ms,
		       is_favorite, created_at, updated_at
		FROM affirmation_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	return sess, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, goal, intent, match_type, template_id, voice_id, pace,
		       noise, binaural_category, binaural_hz, length_sec, silence_between_ms,
		       is_favorite, created_at, updated_at
		FROM affirmation_sessions
		WHERE user_id = ?
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("session: list scan: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// CountByUser returns how many sessions the user has stored.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM affirmation_sessions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}

// Junctions returns the session's affirmation references in position order.
func (s *Store) Junctions(ctx context.Context, sessionID string) ([]Junction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, affirmation_id, position, silence_after_ms
		FROM session_affirmations
		WHERE session_id = ?
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: junctions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Junction
	for rows.Next() {
		var j Junction
		if err := rows.Scan(&j.SessionID, &j.AffirmationID, &j.Position, &j.SilenceAfterMs); err != nil {
			return nil, fmt.Errorf("session: junction scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateFields is a partial update of mutable session attributes.
type UpdateFields struct {
	Title            *string
	VoiceID          *string
	Pace             *string
	Noise            *string
	BinauralCategory *string
	BinauralHz       *float64
	SilenceBetweenMs *int
}

// Update applies non-nil fields. Last writer wins.
func (s *Store) Update(ctx context.Context, id string, f UpdateFields) error {
	set := "updated_at = ?"
	args := []any{time.Now().UTC().Format(time.RFC3339)}
	add := func(col string, v any) {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	if f.Title != nil {
		add("title", *f.Title)
	}
	if f.VoiceID != nil {
		add("voice_id", *f.VoiceID)
	}
	if f.Pace != nil {
		add("pace", *f.Pace)
	}
	if f.Noise != nil {
		add("noise", *f.Noise)
	}
	if f.BinauralCategory != nil {
		add("binaural_category", *f.BinauralCategory)
	}
	if f.BinauralHz != nil {
		add("binaural_hz", *f.BinauralHz)
	}
	if f.SilenceBetweenMs != nil {
		add("silence_between_ms", *f.SilenceBetweenMs)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE affirmation_sessions SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("session: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFavorite flips the favorite flag. Last writer wins.
func (s *Store) SetFavorite(ctx context.Context, id string, fav bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE affirmation_sessions SET is_favorite = ?, updated_at = ? WHERE id = ?`,
		boolToInt(fav), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("session: set favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the session and its junctions atomically.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_affirmations WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("session: delete junctions: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM affirmation_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var fav int
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Goal, &sess.Intent,
		&sess.MatchType, &sess.TemplateID, &sess.VoiceID, &sess.Pace, &sess.Noise,
		&sess.BinauralCategory, &sess.BinauralHz, &sess.LengthSec, &sess.SilenceBetweenMs,
		&fav, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.IsFavorite = fav != 0
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
