// SPDX-License-Identifier: MIT

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	elevenLabsModel   = "eleven_multilingual_v2"
	// mp3_44100_128: constant bitrate, lets us derive duration from size.
	elevenLabsFormat = "mp3_44100_128"
)

// ElevenLabsProvider synthesizes speech through the ElevenLabs HTTP API.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewElevenLabsProvider creates a provider with a bounded HTTP client.
func NewElevenLabsProvider(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type synthesizeBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize posts one line of text and returns the MP3 bytes.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("tts: empty text")
	}
	if req.ProviderVoiceID == "" {
		return nil, fmt.Errorf("tts: missing provider voice id")
	}

	body, err := json.Marshal(synthesizeBody{
		Text:    req.Text,
		ModelID: elevenLabsModel,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           req.Speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		p.baseURL, req.ProviderVoiceID, elevenLabsFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: provider returned %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: provider returned empty audio")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &SynthesisResult{Audio: audio, ContentType: ct}, nil
}
