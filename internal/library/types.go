// SPDX-License-Identifier: MIT

// Package library provides persistent storage for affirmation lines, session
// templates and synthesized audio artifacts.
package library

import (
	"errors"
	"fmt"
	"time"

	"github.com/mindloop/affirmd/internal/domain"
)

// AffirmationLine is a single spoken line in the library.
type AffirmationLine struct {
	ID        string
	Text      string // non-empty, <= 240 chars
	Goal      domain.Goal
	Emotion   string
	Tags      []string
	Rating    float64 // rolling rating, 0 when unrated
	UseCount  int
	CreatedAt time.Time
}

// SessionTemplate is a curated, ordered set of affirmation lines matched
// against a canonical intent.
type SessionTemplate struct {
	ID               string
	Title            string
	Goal             domain.Goal
	Intent           string   // canonical intent string
	Keywords         []string // ordered intent keywords
	AffirmationIDs   []string // ordered, 1..32; every ID must exist
	BinauralCategory domain.BinauralCategory
	BinauralHz       float64
	TargetSeconds    int
	IsDefault        bool
	Rating           float64
	UseCount         int
}

// AffirmationAudio is one synthesized artifact. The composite key
// (AffirmationID, VoiceID, PaceID) is unique; rows are immutable after create.
type AffirmationAudio struct {
	ID            string
	AffirmationID string
	VoiceID       string
	PaceID        string
	URL           string
	DurationMs    int64 // > 0
	Bytes         int64
	ContentType   string
	CreatedAt     time.Time
}

// Fingerprint returns the composite synthesis key.
func Fingerprint(affirmationID, voiceID, paceID string) string {
	return affirmationID + ":" + voiceID + ":" + paceID
}

// MaxLineLength bounds affirmation text.
const MaxLineLength = 240

// MaxTemplateLines bounds the ordered line list of a template.
const MaxTemplateLines = 32

var (
	// ErrNotFound indicates an unknown entity ID.
	ErrNotFound = errors.New("library: not found")
	// ErrCannotDelete indicates a delete attempt on a default template.
	ErrCannotDelete = errors.New("library: default template cannot be deleted")
)

// InUseError rejects deletion of a line still referenced elsewhere.
type InUseError struct {
	TemplateIDs []string
	SessionRefs int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("library: affirmation in use by %d template(s) and %d session reference(s)",
		len(e.TemplateIDs), e.SessionRefs)
}
