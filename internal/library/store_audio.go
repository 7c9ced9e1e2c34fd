// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetAudio looks up an artifact by its composite key. Returns (nil, nil) when
// no artifact exists.
func (s *Store) GetAudio(ctx context.Context, affirmationID, voiceID, paceID string) (*AffirmationAudio, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type, created_at
		FROM affirmation_audio
		WHERE affirmation_id = ? AND voice_id = ? AND pace_id = ?`,
		affirmationID, voiceID, paceID)

	a, err := scanAudio(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// PutAudio writes an artifact row. It is idempotent on the composite key: a
// concurrent or repeated write returns the existing row unchanged.
func (s *Store) PutAudio(ctx context.Context, affirmationID, voiceID, paceID, url string, durationMs, bytes int64, contentType string) (*AffirmationAudio, error) {
	if durationMs <= 0 {
		return nil, fmt.Errorf("library: audio duration must be positive")
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO affirmation_audio (id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(affirmation_id, voice_id, pace_id) DO NOTHING`,
		uuid.NewString(), affirmationID, voiceID, paceID, url, durationMs, bytes, contentType,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("library: put audio: %w", err)
	}

	// Read back whichever row won the race.
	a, err := s.GetAudio(ctx, affirmationID, voiceID, paceID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("library: audio row vanished after put")
	}
	return a, nil
}

// BatchAudio loads all artifacts for the given affirmations in one query,
// grouped by affirmation ID. Used by playlist assembly; never per-item.
func (s *Store) BatchAudio(ctx context.Context, affirmationIDs []string, paceID string) (map[string][]AffirmationAudio, error) {
	if len(affirmationIDs) == 0 {
		return map[string][]AffirmationAudio{}, nil
	}
	placeholders := strings.Repeat("?,", len(affirmationIDs)-1) + "?"
	args := make([]any, 0, len(affirmationIDs)+1)
	for _, id := range affirmationIDs {
		args = append(args, id)
	}
	args = append(args, paceID)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type, created_at
		FROM affirmation_audio
		WHERE affirmation_id IN (%s) AND pace_id = ?`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]AffirmationAudio)
	for rows.Next() {
		a, err := scanAudioRows(rows)
		if err != nil {
			return nil, err
		}
		out[a.AffirmationID] = append(out[a.AffirmationID], *a)
	}
	return out, rows.Err()
}

// DeleteAudio removes an artifact by composite key. Admin tooling only; the
// row is otherwise immutable.
func (s *Store) DeleteAudio(ctx context.Context, affirmationID, voiceID, paceID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM affirmation_audio
		WHERE affirmation_id = ? AND voice_id = ? AND pace_id = ?`,
		affirmationID, voiceID, paceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudio(row rowScanner) (*AffirmationAudio, error) {
	var a AffirmationAudio
	var createdAt string
	err := row.Scan(&a.ID, &a.AffirmationID, &a.VoiceID, &a.PaceID, &a.URL,
		&a.DurationMs, &a.Bytes, &a.ContentType, &createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func scanAudioRows(rows *sql.Rows) (*AffirmationAudio, error) {
	return scanAudio(rows)
}
