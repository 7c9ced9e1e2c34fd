// SPDX-License-Identifier: MIT

// Package tts synthesizes affirmation audio and materializes it into
// immutable, cached artifacts keyed by (affirmation, voice, pace).
package tts

import "context"

// SynthesisRequest carries one line of text to the external provider.
type SynthesisRequest struct {
	Text            string
	ProviderVoiceID string  // vendor voice identifier, not our catalogue ID
	Speed           float64 // 0.85 slow, 1.0 normal
}

// SynthesisResult is the raw audio returned by the provider.
type SynthesisResult struct {
	Audio       []byte
	ContentType string
}

// Provider is the external text-to-speech vendor.
type Provider interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}
