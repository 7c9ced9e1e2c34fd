// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/affirmd/internal/domain"
)

// Store provides SQLite persistence for the affirmation library.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database and runs the library migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("library: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS affirmations (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL CHECK(length(text) > 0 AND length(text) <= 240),
		goal TEXT NOT NULL CHECK(goal IN ('sleep', 'focus', 'calm', 'manifest')),
		emotion TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		rating REAL NOT NULL DEFAULT 0,
		use_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		goal TEXT NOT NULL CHECK(goal IN ('sleep', 'focus', 'calm', 'manifest')),
		intent TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]',
		binaural_category TEXT NOT NULL DEFAULT '',
		binaural_hz REAL NOT NULL DEFAULT 0,
		target_seconds INTEGER NOT NULL DEFAULT 0,
		is_default INTEGER NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		use_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS template_affirmations (
		template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
		affirmation_id TEXT NOT NULL REFERENCES affirmations(id),
		position INTEGER NOT NULL CHECK(position >= 1),
		PRIMARY KEY (template_id, position)
	);

	CREATE TABLE IF NOT EXISTS affirmation_audio (
		id TEXT PRIMARY KEY,
		affirmation_id TEXT NOT NULL REFERENCES affirmations(id),
		voice_id TEXT NOT NULL,
		pace_id TEXT NOT NULL,
		url TEXT NOT NULL,
		duration_ms INTEGER NOT NULL CHECK(duration_ms > 0),
		bytes INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT 'audio/mpeg',
		created_at TEXT NOT NULL,
		UNIQUE (affirmation_id, voice_id, pace_id)
	);

	CREATE INDEX IF NOT EXISTS idx_affirmations_goal ON affirmations(goal);
	CREATE INDEX IF NOT EXISTS idx_templates_goal ON templates(goal);
	CREATE INDEX IF NOT EXISTS idx_template_affirmations_aff ON template_affirmations(affirmation_id);
	CREATE INDEX IF NOT EXISTS idx_audio_affirmation ON affirmation_audio(affirmation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateAffirmation inserts a new line and returns it.
func (s *Store) CreateAffirmation(ctx context.Context, text string, goal domain.Goal, tags []string, emotion string) (*AffirmationLine, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > MaxLineLength {
		return nil, fmt.Errorf("library: affirmation text must be 1..%d chars", MaxLineLength)
	}
	if !goal.Valid() {
		return nil, fmt.Errorf("library: invalid goal %q", goal)
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	line := &AffirmationLine{
		ID:        uuid.NewString(),
		Text:      text,
		Goal:      goal,
		Emotion:   emotion,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO affirmations (id, text, goal, emotion, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		line.ID, line.Text, string(line.Goal), line.Emotion, string(tagsJSON),
		line.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("library: insert affirmation: %w", err)
	}
	return line, nil
}

// EnsureAffirmation returns the existing line with identical text for the
// goal, creating it when absent. Keeps repeated fallback and generation text
// from piling up duplicate rows.
func (s *Store) EnsureAffirmation(ctx context.Context, text string, goal domain.Goal) (*AffirmationLine, error) {
	trimmed := strings.TrimSpace(text)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, goal, emotion, tags, rating, use_count, created_at
		FROM affirmations
		WHERE goal = ? AND text = ?
		ORDER BY id LIMIT 1`,
		string(goal), trimmed)
	line, err := scanAffirmation(row)
	if err == nil {
		return line, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("library: ensure affirmation: %w", err)
	}
	return s.CreateAffirmation(ctx, trimmed, goal, nil, "")
}

// FindAffirmationsByGoal returns lines for a goal, paginated, newest last for
// stable pool ordering.
func (s *Store) FindAffirmationsByGoal(ctx context.Context, goal domain.Goal, limit, offset int) ([]AffirmationLine, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, goal, emotion, tags, rating, use_count, created_at
		FROM affirmations
		WHERE goal = ?
		ORDER BY id
		LIMIT ? OFFSET ?`,
		string(goal), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAffirmations(rows)
}

// GetAffirmations batch-loads lines by ID, preserving the input order.
func (s *Store) GetAffirmations(ctx context.Context, ids []string) ([]AffirmationLine, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, text, goal, emotion, tags, rating, use_count, created_at
		FROM affirmations WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines, err := scanAffirmations(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]AffirmationLine, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}
	out := make([]AffirmationLine, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func scanAffirmation(row *sql.Row) (*AffirmationLine, error) {
	var l AffirmationLine
	var goal, tagsJSON, createdAt string
	if err := row.Scan(&l.ID, &l.Text, &goal, &l.Emotion, &tagsJSON, &l.Rating, &l.UseCount, &createdAt); err != nil {
		return nil, err
	}
	l.Goal = domain.Goal(goal)
	if err := json.Unmarshal([]byte(tagsJSON), &l.Tags); err != nil {
		l.Tags = nil
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}

func scanAffirmations(rows *sql.Rows) ([]AffirmationLine, error) {
	var lines []AffirmationLine
	for rows.Next() {
		var l AffirmationLine
		var goal, tagsJSON, createdAt string
		if err := rows.Scan(&l.ID, &l.Text, &goal, &l.Emotion, &tagsJSON, &l.Rating, &l.UseCount, &createdAt); err != nil {
			return nil, err
		}
		l.Goal = domain.Goal(goal)
		if err := json.Unmarshal([]byte(tagsJSON), &l.Tags); err != nil {
			l.Tags = nil
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// DeleteAffirmationIfUnreferenced removes a line unless a template or session
// still references it, in which case it returns *InUseError.
func (s *Store) DeleteAffirmationIfUnreferenced(ctx context.Context, id string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT template_id FROM template_affirmations WHERE affirmation_id = ?`, id)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var templateIDs []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			return err
		}
		templateIDs = append(templateIDs, tid)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var sessionRefs int
	// session_affirmations lives in the session store but shares the database.
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_affirmations WHERE affirmation_id = ?`, id).Scan(&sessionRefs)
	if err != nil && !isMissingTable(err) {
		return err
	}

	if len(templateIDs) > 0 || sessionRefs > 0 {
		return &InUseError{TemplateIDs: templateIDs, SessionRefs: sessionRefs}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM affirmations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// isMissingTable tolerates the session schema not being migrated yet.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// CreateTemplate inserts a template with its ordered line references.
func (s *Store) CreateTemplate(ctx context.Context, t SessionTemplate) (*SessionTemplate, error) {
	if len(t.AffirmationIDs) == 0 || len(t.AffirmationIDs) > MaxTemplateLines {
		return nil, fmt.Errorf("library: template must reference 1..%d lines", MaxTemplateLines)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	keywordsJSON, err := json.Marshal(t.Keywords)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (id, title, goal, intent, keywords, binaural_category, binaural_hz, target_seconds, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, string(t.Goal), t.Intent, string(keywordsJSON),
		string(t.BinauralCategory), t.BinauralHz, t.TargetSeconds, boolToInt(t.IsDefault))
	if err != nil {
		return nil, fmt.Errorf("library: insert template: %w", err)
	}
	for i, affID := range t.AffirmationIDs {
		// FK enforces every referenced line exists.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO template_affirmations (template_id, affirmation_id, position)
			VALUES (?, ?, ?)`, t.ID, affID, i+1); err != nil {
			return nil, fmt.Errorf("library: insert template line %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTemplatesByGoal returns all templates for a goal with their ordered
// line IDs loaded.
func (s *Store) FindTemplatesByGoal(ctx context.Context, goal domain.Goal) ([]SessionTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, goal, intent, keywords, binaural_category, binaural_hz, target_seconds, is_default, rating, use_count
		FROM templates
		WHERE goal = ?
		ORDER BY id`, string(goal))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var templates []SessionTemplate
	for rows.Next() {
		var t SessionTemplate
		var g, keywordsJSON, cat string
		var isDefault int
		if err := rows.Scan(&t.ID, &t.Title, &g, &t.Intent, &keywordsJSON, &cat,
			&t.BinauralHz, &t.TargetSeconds, &isDefault, &t.Rating, &t.UseCount); err != nil {
			return nil, err
		}
		t.Goal = domain.Goal(g)
		t.BinauralCategory = domain.BinauralCategory(cat)
		t.IsDefault = isDefault == 1
		if err := json.Unmarshal([]byte(keywordsJSON), &t.Keywords); err != nil {
			t.Keywords = nil
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range templates {
		ids, err := s.templateLineIDs(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
		templates[i].AffirmationIDs = ids
	}
	return templates, nil
}

func (s *Store) templateLineIDs(ctx context.Context, templateID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT affirmation_id FROM template_affirmations
		WHERE template_id = ? ORDER BY position`, templateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTemplate removes a template; default templates cannot be deleted.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	var isDefault int
	err := s.db.QueryRowContext(ctx, `SELECT is_default FROM templates WHERE id = ?`, id).Scan(&isDefault)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if isDefault == 1 {
		return ErrCannotDelete
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
