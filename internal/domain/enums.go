// SPDX-License-Identifier: MIT

// Package domain holds the closed enumerations shared across the pipeline:
// goals, voices, paces, background noises and binaural bands.
package domain

import "time"

// Goal classifies session content and picks the default binaural band.
type Goal string

const (
	GoalSleep    Goal = "sleep"
	GoalFocus    Goal = "focus"
	GoalCalm     Goal = "calm"
	GoalManifest Goal = "manifest"
)

// Goals lists all valid goals in stable order.
var Goals = []Goal{GoalSleep, GoalFocus, GoalCalm, GoalManifest}

// Valid reports whether g is a known goal.
func (g Goal) Valid() bool {
	switch g {
	case GoalSleep, GoalFocus, GoalCalm, GoalManifest:
		return true
	}
	return false
}

// Tier is the subscription level controlling quotas and voice access.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Pace controls speech speed and silence scaling.
type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceNormal Pace = "normal"
)

// Valid reports whether p is a known pace.
func (p Pace) Valid() bool {
	return p == PaceSlow || p == PaceNormal
}

// Factor is the duration multiplier applied to session length for this pace.
func (p Pace) Factor() float64 {
	if p == PaceSlow {
		return 1.3
	}
	return 1.0
}

// SpeechSpeed is the TTS-level speed parameter for this pace.
func (p Pace) SpeechSpeed() float64 {
	if p == PaceSlow {
		return 0.85
	}
	return 1.0
}

// Voice is a selectable TTS voice. Adding a voice is a single table edit here.
type Voice struct {
	ID         string
	Name       string
	ProviderID string // external TTS vendor voice identifier
	ProOnly    bool
}

// voiceTable is the closed voice catalogue. Order matters: it is the fallback
// preference order when a requested voice is not accessible.
var voiceTable = []Voice{
	{ID: "neutral", Name: "Neutral", ProviderID: "21m00Tcm4TlvDq8ikWAM", ProOnly: false},
	{ID: "warm", Name: "Warm", ProviderID: "EXAVITQu4vr4xnSDxMaL", ProOnly: false},
	{ID: "premium1", Name: "Premium Calm", ProviderID: "ErXwobaYiN019PkySvjV", ProOnly: true},
	{ID: "premium2", Name: "Premium Deep", ProviderID: "VR6AewLTigWG4xSOukaG", ProOnly: true},
}

// DefaultVoiceID is the voice used when no preference is stored.
const DefaultVoiceID = "neutral"

// VoiceByID looks up a voice in the catalogue.
func VoiceByID(id string) (Voice, bool) {
	for _, v := range voiceTable {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// VoicesForTier returns the voices accessible to the given tier, in fallback
// preference order.
func VoicesForTier(tier Tier) []Voice {
	out := make([]Voice, 0, len(voiceTable))
	for _, v := range voiceTable {
		if v.ProOnly && tier != TierPro {
			continue
		}
		out = append(out, v)
	}
	return out
}

// VoiceAllowed reports whether the tier may play the given voice.
func VoiceAllowed(tier Tier, voiceID string) bool {
	v, ok := VoiceByID(voiceID)
	if !ok {
		return false
	}
	return !v.ProOnly || tier == TierPro
}

// Noise identifies a background-noise track.
type Noise string

const (
	NoiseNone  Noise = "none"
	NoiseRain  Noise = "rain"
	NoiseOcean Noise = "ocean"
	NoiseWhite Noise = "white"
	NoiseBrown Noise = "brown"
)

// Valid reports whether n is a known noise.
func (n Noise) Valid() bool {
	switch n {
	case NoiseNone, NoiseRain, NoiseOcean, NoiseWhite, NoiseBrown:
		return true
	}
	return false
}

// BinauralCategory is a named brainwave range with an Hz window.
type BinauralCategory string

const (
	BinauralDelta BinauralCategory = "delta"
	BinauralTheta BinauralCategory = "theta"
	BinauralAlpha BinauralCategory = "alpha"
	BinauralBeta  BinauralCategory = "beta"
	BinauralGamma BinauralCategory = "gamma"
)

// Valid reports whether c is a known category.
func (c BinauralCategory) Valid() bool {
	switch c {
	case BinauralDelta, BinauralTheta, BinauralAlpha, BinauralBeta, BinauralGamma:
		return true
	}
	return false
}

// HzRange returns the inclusive Hz window for a category.
func (c BinauralCategory) HzRange() (low, high float64) {
	switch c {
	case BinauralDelta:
		return 0.5, 4
	case BinauralTheta:
		return 4, 8
	case BinauralAlpha:
		return 8, 13
	case BinauralBeta:
		return 13, 30
	case BinauralGamma:
		return 30, 100
	default:
		return 0, 0
	}
}

// DefaultBinaural maps a goal to its default binaural category and Hz.
func DefaultBinaural(g Goal) (BinauralCategory, float64) {
	switch g {
	case GoalSleep:
		return BinauralDelta, 2
	case GoalFocus:
		return BinauralBeta, 18
	case GoalCalm:
		return BinauralAlpha, 10
	case GoalManifest:
		return BinauralTheta, 6
	default:
		return BinauralAlpha, 10
	}
}

// SpacingSeconds is the allowed affirmation spacing catalogue.
var SpacingSeconds = []int{3, 5, 8, 10, 15, 20, 30}

// DefaultSpacingSeconds is applied when the user has no stored preference.
const DefaultSpacingSeconds = 8

// SpacingValid reports whether s is an allowed spacing.
func SpacingValid(s int) bool {
	for _, v := range SpacingSeconds {
		if v == s {
			return true
		}
	}
	return false
}

// FreeMonthlyCustomSessions is the free-tier creation quota per calendar month.
const FreeMonthlyCustomSessions = 3

// BaseSessionSeconds is the nominal goal-session length before pace scaling.
const BaseSessionSeconds = 180

// CustomSecondsPerAffirmation sizes custom sessions by line count.
const CustomSecondsPerAffirmation = 30

// SameMonth reports whether two instants fall in the same calendar month (UTC).
func SameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}
