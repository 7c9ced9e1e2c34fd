// SPDX-License-Identifier: MIT

package session

import (
	"sort"
	"strings"

	"github.com/mindloop/affirmd/internal/domain"
)

// DefaultIDPrefix marks sessions from the static catalog.
const DefaultIDPrefix = "default-"

// IsDefaultID reports whether id belongs to the static catalog namespace.
func IsDefaultID(id string) bool {
	return strings.HasPrefix(id, DefaultIDPrefix)
}

// defaultCatalog is built once at init and never mutated afterwards.
var defaultCatalog = buildDefaultCatalog()

func buildDefaultCatalog() map[string]Session {
	entries := []Session{
		{
			ID:    "default-sleep-1",
			Title: "Deep Sleep",
			Goal:  domain.GoalSleep,
			Noise: domain.NoiseBrown,
		},
		{
			ID:    "default-focus-1",
			Title: "Laser Focus",
			Goal:  domain.GoalFocus,
			Noise: domain.NoiseWhite,
		},
		{
			ID:    "default-calm-1",
			Title: "Calm Mind",
			Goal:  domain.GoalCalm,
			Noise: domain.NoiseRain,
		},
		{
			ID:    "default-manifest-1",
			Title: "Manifest Abundance",
			Goal:  domain.GoalManifest,
			Noise: domain.NoiseOcean,
		},
	}

	catalog := make(map[string]Session, len(entries))
	for _, s := range entries {
		s.VoiceID = domain.DefaultVoiceID
		s.Pace = domain.PaceNormal
		s.BinauralCategory, s.BinauralHz = domain.DefaultBinaural(s.Goal)
		s.LengthSec = domain.BaseSessionSeconds
		s.SilenceBetweenMs = domain.DefaultSpacingSeconds * 1000
		catalog[s.ID] = s
	}
	return catalog
}

// DefaultSession returns a catalog entry by ID. The returned value is a copy.
func DefaultSession(id string) (Session, bool) {
	s, ok := defaultCatalog[id]
	return s, ok
}

// DefaultSessions lists the catalog in stable ID order.
func DefaultSessions() []Session {
	ids := make([]string, 0, len(defaultCatalog))
	for id := range defaultCatalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, defaultCatalog[id])
	}
	return out
}
