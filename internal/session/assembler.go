// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// libraryStore is the slice of the library the assembler reads.
type libraryStore interface {
	GetAffirmations(ctx context.Context, ids []string) ([]library.AffirmationLine, error)
	BatchAudio(ctx context.Context, affirmationIDs []string, paceID string) (map[string][]library.AffirmationAudio, error)
}

// voiceSource looks up a user's explicitly stored voice preference.
type voiceSource interface {
	Voice(ctx context.Context, userID string) (string, bool, error)
}

// Assembler persists sessions and builds playlists. It owns no matching or
// synthesis; those happen upstream.
type Assembler struct {
	store  *Store
	lib    libraryStore
	voices voiceSource // may be nil
	logger zerolog.Logger
}

// NewAssembler wires the assembler. voices may be nil when preferences are
// not available (tests, guest-only deployments).
func NewAssembler(store *Store, lib libraryStore, voices voiceSource) *Assembler {
	return &Assembler{
		store:  store,
		lib:    lib,
		voices: voices,
		logger: log.WithComponent("session"),
	}
}

// CreateParams describes a session to persist. AffirmationIDs are stored in
// the given order as dense positions 1..N.
type CreateParams struct {
	UserID           string
	Goal             domain.Goal
	Intent           string
	MatchType        string
	TemplateID       string
	AffirmationIDs   []string
	Title            string // empty for goal sessions; required for custom
	VoiceID          string
	Pace             domain.Pace
	Noise            domain.Noise
	BinauralCategory domain.BinauralCategory
	BinauralHz       float64
	SpacingSeconds   int
	Custom           bool
}

// Create validates, fills derived fields and persists the session.
func (a *Assembler) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if !p.Goal.Valid() {
		return nil, &ValidationError{Field: "goal", Message: fmt.Sprintf("invalid goal %q", p.Goal)}
	}
	if len(p.AffirmationIDs) == 0 {
		return nil, &ValidationError{Field: "affirmations", Message: "at least one affirmation required"}
	}
	if p.Custom && p.Title == "" {
		return nil, &ValidationError{Field: "title", Message: "custom sessions require a title"}
	}
	if _, ok := domain.VoiceByID(p.VoiceID); !ok {
		return nil, &ValidationError{Field: "voiceId", Message: fmt.Sprintf("unknown voice %q", p.VoiceID)}
	}
	if !p.Pace.Valid() {
		return nil, &ValidationError{Field: "pace", Message: fmt.Sprintf("unknown pace %q", p.Pace)}
	}
	if !p.Noise.Valid() {
		return nil, &ValidationError{Field: "backgroundNoise", Message: fmt.Sprintf("unknown noise %q", p.Noise)}
	}
	if !domain.SpacingValid(p.SpacingSeconds) {
		return nil, &ValidationError{Field: "affirmationSpacingSeconds", Message: fmt.Sprintf("spacing %d not in allowed set", p.SpacingSeconds)}
	}
	if p.BinauralCategory == "" {
		p.BinauralCategory, p.BinauralHz = domain.DefaultBinaural(p.Goal)
	} else if !p.BinauralCategory.Valid() {
		return nil, &ValidationError{Field: "binauralCategory", Message: fmt.Sprintf("unknown binaural category %q", p.BinauralCategory)}
	}

	title := p.Title
	if title == "" {
		title = GoalTitle(p.Goal, time.Now())
	}

	sess := &Session{
		UserID:           p.UserID,
		Title:            title,
		Goal:             p.Goal,
		Intent:           p.Intent,
		MatchType:        p.MatchType,
		TemplateID:       p.TemplateID,
		VoiceID:          p.VoiceID,
		Pace:             p.Pace,
		Noise:            p.Noise,
		BinauralCategory: p.BinauralCategory,
		BinauralHz:       p.BinauralHz,
		LengthSec:        lengthSec(p.Custom, len(p.AffirmationIDs), p.Pace),
		SilenceBetweenMs: p.SpacingSeconds * 1000,
	}
	if err := a.store.Create(ctx, sess, p.AffirmationIDs); err != nil {
		return nil, err
	}

	origin := "goal"
	if p.Custom {
		origin = "custom"
	}
	metrics.SessionCreateTotal.WithLabelValues(origin).Inc()
	a.logger.Info().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldUserID, sess.UserID).
		Str(log.FieldGoal, string(sess.Goal)).
		Str("origin", origin).
		Int("affirmations", len(p.AffirmationIDs)).
		Msg("session created")
	return sess, nil
}

// GoalTitle builds the display title for a goal-generated session.
func GoalTitle(goal domain.Goal, now time.Time) string {
	g := string(goal)
	if g != "" {
		g = string(g[0]-'a'+'A') + g[1:]
	}
	return fmt.Sprintf("%s Session — %s", g, now.Format("Jan 2, 2006"))
}

// GoalLengthSec is the nominal length of a goal-generated session.
func GoalLengthSec(pace domain.Pace) int {
	return int(math.Round(domain.BaseSessionSeconds * pace.Factor()))
}

// CustomLengthSec sizes a custom session by its line count.
func CustomLengthSec(count int, pace domain.Pace) int {
	return int(math.Round(float64(domain.CustomSecondsPerAffirmation*count) * pace.Factor()))
}

func lengthSec(custom bool, count int, pace domain.Pace) int {
	if custom {
		return CustomLengthSec(count, pace)
	}
	return GoalLengthSec(pace)
}

// HasSessions reports whether the user has any stored session. Used to
// detect first sessions.
func (a *Assembler) HasSessions(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	n, err := a.store.CountByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get loads a session, serving the static catalog for default IDs and
// enforcing ownership for stored ones.
func (a *Assembler) Get(ctx context.Context, id, requesterID string) (*Session, error) {
	if IsDefaultID(id) {
		s, ok := DefaultSession(id)
		if !ok {
			return nil, ErrNotFound
		}
		return &s, nil
	}
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && sess.UserID != requesterID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// List returns the static catalog followed by the user's stored sessions,
// newest first.
func (a *Assembler) List(ctx context.Context, userID string) ([]Session, error) {
	out := DefaultSessions()
	if userID == "" {
		return out, nil
	}
	own, err := a.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(out, own...), nil
}

// GetPlaylist builds the playback schedule for a session. Default sessions
// return an empty schedule plus layer metadata.
func (a *Assembler) GetPlaylist(ctx context.Context, sessionID, requesterID string, tier domain.Tier) (*Playlist, error) {
	if IsDefaultID(sessionID) {
		s, ok := DefaultSession(sessionID)
		if !ok {
			return nil, ErrNotFound
		}
		return &Playlist{
			SessionID:        s.ID,
			SilenceBetweenMs: s.SilenceBetweenMs,
			Affirmations:     []PlaylistItem{},
			BinauralCategory: string(s.BinauralCategory),
			BinauralHz:       s.BinauralHz,
			BackgroundNoise:  string(s.Noise),
		}, nil
	}

	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && sess.UserID != requesterID {
		return nil, ErrForbidden
	}

	junctions, err := a.store.Junctions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	affIDs := make([]string, len(junctions))
	for i, j := range junctions {
		affIDs[i] = j.AffirmationID
	}

	lines, err := a.lib.GetAffirmations(ctx, affIDs)
	if err != nil {
		return nil, err
	}
	textByID := make(map[string]string, len(lines))
	for _, l := range lines {
		textByID[l.ID] = l.Text
	}

	// One batched artifact load for the whole session.
	audio, err := a.lib.BatchAudio(ctx, affIDs, string(sess.Pace))
	if err != nil {
		return nil, err
	}

	preferred := a.preferredVoice(ctx, sess)
	allowed := domain.VoicesForTier(tier)

	pl := &Playlist{
		SessionID:        sess.ID,
		SilenceBetweenMs: sess.SilenceBetweenMs,
		Affirmations:     make([]PlaylistItem, 0, len(junctions)),
		BinauralCategory: string(sess.BinauralCategory),
		BinauralHz:       sess.BinauralHz,
		BackgroundNoise:  string(sess.Noise),
	}
	for _, j := range junctions {
		item := PlaylistItem{
			ID:             j.AffirmationID,
			Text:           textByID[j.AffirmationID],
			SilenceAfterMs: j.SilenceAfterMs,
		}
		if art := resolveArtifact(audio[j.AffirmationID], preferred, tier, allowed); art != nil {
			url := art.URL
			voice := art.VoiceID
			item.AudioURL = &url
			item.VoiceID = &voice
			item.DurationMs = art.DurationMs
		}
		pl.TotalDurationMs += item.DurationMs + int64(item.SilenceAfterMs)
		pl.Affirmations = append(pl.Affirmations, item)
	}
	return pl, nil
}

// preferredVoice is the owner's stored preference when present, else the
// voice the session was created with.
func (a *Assembler) preferredVoice(ctx context.Context, sess *Session) string {
	if a.voices != nil && sess.UserID != "" {
		if v, ok, err := a.voices.Voice(ctx, sess.UserID); err == nil && ok {
			return v
		}
	}
	return sess.VoiceID
}

// resolveArtifact picks the artifact to play: preferred voice when the tier
// allows it, else the first allowed voice with an artifact, else anything.
func resolveArtifact(artifacts []library.AffirmationAudio, preferred string, tier domain.Tier, allowed []domain.Voice) *library.AffirmationAudio {
	if len(artifacts) == 0 {
		return nil
	}
	byVoice := make(map[string]*library.AffirmationAudio, len(artifacts))
	for i := range artifacts {
		byVoice[artifacts[i].VoiceID] = &artifacts[i]
	}

	if domain.VoiceAllowed(tier, preferred) {
		if art, ok := byVoice[preferred]; ok {
			return art
		}
	}
	for _, v := range allowed {
		if art, ok := byVoice[v.ID]; ok {
			return art
		}
	}
	return &artifacts[0]
}

// UpdatePatch carries the mutable session attributes.
type UpdatePatch struct {
	Title            *string
	VoiceID          *string
	Pace             *domain.Pace
	Noise            *domain.Noise
	BinauralCategory *domain.BinauralCategory
	BinauralHz       *float64
	SpacingSeconds   *int
}

// Update applies a partial update. Owner-only; defaults are immutable.
func (a *Assembler) Update(ctx context.Context, id, requesterID string, patch UpdatePatch) error {
	if IsDefaultID(id) {
		return ErrImmutable
	}
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.UserID != requesterID {
		return ErrForbidden
	}

	var f UpdateFields
	if patch.Title != nil {
		if *patch.Title == "" {
			return &ValidationError{Field: "title", Message: "title must not be empty"}
		}
		f.Title = patch.Title
	}
	if patch.VoiceID != nil {
		if _, ok := domain.VoiceByID(*patch.VoiceID); !ok {
			return &ValidationError{Field: "voiceId", Message: fmt.Sprintf("unknown voice %q", *patch.VoiceID)}
		}
		f.VoiceID = patch.VoiceID
	}
	if patch.Pace != nil {
		if !patch.Pace.Valid() {
			return &ValidationError{Field: "pace", Message: fmt.Sprintf("unknown pace %q", *patch.Pace)}
		}
		p := string(*patch.Pace)
		f.Pace = &p
	}
	if patch.Noise != nil {
		if !patch.Noise.Valid() {
			return &ValidationError{Field: "backgroundNoise", Message: fmt.Sprintf("unknown noise %q", *patch.Noise)}
		}
		n := string(*patch.Noise)
		f.Noise = &n
	}
	if patch.BinauralCategory != nil {
		if !patch.BinauralCategory.Valid() {
			return &ValidationError{Field: "binauralCategory", Message: fmt.Sprintf("unknown binaural category %q", *patch.BinauralCategory)}
		}
		c := string(*patch.BinauralCategory)
		f.BinauralCategory = &c
	}
	if patch.BinauralHz != nil {
		f.BinauralHz = patch.BinauralHz
	}
	if patch.SpacingSeconds != nil {
		if !domain.SpacingValid(*patch.SpacingSeconds) {
			return &ValidationError{Field: "affirmationSpacingSeconds", Message: fmt.Sprintf("spacing %d not in allowed set", *patch.SpacingSeconds)}
		}
		ms := *patch.SpacingSeconds * 1000
		f.SilenceBetweenMs = &ms
	}
	return a.store.Update(ctx, id, f)
}

// ToggleFavorite sets the favorite flag. Owner-only; defaults are immutable.
func (a *Assembler) ToggleFavorite(ctx context.Context, id, requesterID string, fav bool) error {
	if IsDefaultID(id) {
		return ErrImmutable
	}
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.UserID != requesterID {
		return ErrForbidden
	}
	return a.store.SetFavorite(ctx, id, fav)
}

// Delete removes a session. Owner-only; defaults are immutable.
func (a *Assembler) Delete(ctx context.Context, id, requesterID string) error {
	if IsDefaultID(id) {
		return ErrImmutable
	}
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.UserID != requesterID {
		return ErrForbidden
	}
	return a.store.Delete(ctx, id)
}
