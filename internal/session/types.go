// SPDX-License-Identifier: MIT

// Package session persists affirmation sessions and assembles playable
// playlists from their ordered affirmation references.
package session

import (
	"errors"
	"time"

	"github.com/mindloop/affirmd/internal/domain"
)

// Session is one stored affirmation session. Owner is empty for guests.
type Session struct {
	ID               string
	UserID           string
	Title            string
	Goal             domain.Goal
	Intent           string
	MatchType        string // exact, pooled, generated, fallback, custom
	TemplateID       string // set for exact matches only
	VoiceID          string
	Pace             domain.Pace
	Noise            domain.Noise
	BinauralCategory domain.BinauralCategory
	BinauralHz       float64
	LengthSec        int
	SilenceBetweenMs int
	IsFavorite       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Junction is one ordered affirmation reference. Positions are dense 1..N.
type Junction struct {
	SessionID      string
	AffirmationID  string
	Position       int
	SilenceAfterMs int
}

// PlaylistItem is one playable segment. AudioURL is nil when no artifact
// could be resolved; the client skips or regenerates such segments.
type PlaylistItem struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	AudioURL       *string `json:"audioUrl"`
	DurationMs     int64   `json:"durationMs"`
	SilenceAfterMs int     `json:"silenceAfterMs"`
	VoiceID        *string `json:"voiceId"`
}

// Playlist is the playback schedule plus layer metadata.
type Playlist struct {
	SessionID        string         `json:"sessionId"`
	TotalDurationMs  int64          `json:"totalDurationMs"`
	SilenceBetweenMs int            `json:"silenceBetweenMs"`
	Affirmations     []PlaylistItem `json:"affirmations"`
	BinauralCategory string         `json:"binauralCategory,omitempty"`
	BinauralHz       float64        `json:"binauralHz,omitempty"`
	BackgroundNoise  string         `json:"backgroundNoise,omitempty"`
}

var (
	// ErrNotFound indicates an unknown session ID.
	ErrNotFound = errors.New("session: not found")
	// ErrForbidden indicates the requester is not the owner.
	ErrForbidden = errors.New("session: forbidden")
	// ErrImmutable indicates a write against a default session.
	ErrImmutable = errors.New("session: default sessions are immutable")
)

// ValidationError reports a request field that failed validation. The HTTP
// layer maps it to a 400 with the field in the details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
