// SPDX-License-Identifier: MIT

package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mindloop/affirmd/internal/blob"
	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
	"github.com/mindloop/affirmd/internal/resilience"
)

// audioStore is the artifact persistence the materializer needs.
type audioStore interface {
	GetAudio(ctx context.Context, affirmationID, voiceID, paceID string) (*library.AffirmationAudio, error)
	PutAudio(ctx context.Context, affirmationID, voiceID, paceID, url string, durationMs, bytes int64, contentType string) (*library.AffirmationAudio, error)
}

// flightTimeout bounds a detached synthesis flight. Covers the full retry
// budget against the provider's 20s request timeout.
const flightTimeout = 90 * time.Second

// Materializer turns affirmation text into a stored audio artifact exactly
// once per (affirmation, voice, pace). Concurrent requests for the same
// fingerprint collapse into a single synthesis.
type Materializer struct {
	store    audioStore
	blobs    blob.Store
	provider Provider
	group    singleflight.Group
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	logger   zerolog.Logger
}

// NewMaterializer wires the materializer with the default provider-edge
// retry and breaker policy.
func NewMaterializer(store audioStore, blobs blob.Store, provider Provider) *Materializer {
	return &Materializer{
		store:    store,
		blobs:    blobs,
		provider: provider,
		breaker:  resilience.NewCircuitBreaker("tts", 5, 30*time.Second),
		retry:    resilience.DefaultRetry(),
		logger:   log.WithComponent("tts"),
	}
}

// Materialize returns the artifact for the given line, synthesizing and
// persisting it if absent. The returned row is immutable.
func (m *Materializer) Materialize(ctx context.Context, affirmationID, text, voiceID string, pace domain.Pace) (*library.AffirmationAudio, error) {
	voice, ok := domain.VoiceByID(voiceID)
	if !ok {
		return nil, fmt.Errorf("tts: unknown voice %q", voiceID)
	}
	paceID := string(pace)
	fp := library.Fingerprint(affirmationID, voiceID, paceID)

	// The flight runs detached from the leader: a caller that disconnects
	// stops waiting without cancelling the synthesis for the others.
	ch := m.group.DoChan(fp, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		// Re-check inside the flight: a finished flight may have persisted
		// the row between our caller's miss and now.
		if a, err := m.store.GetAudio(fctx, affirmationID, voiceID, paceID); err != nil {
			return nil, err
		} else if a != nil {
			metrics.TTSCacheHitTotal.Inc()
			return a, nil
		}
		return m.synthesize(fctx, fp, affirmationID, text, voice, pace)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*library.AffirmationAudio), nil
	}
}

func (m *Materializer) synthesize(ctx context.Context, fp, affirmationID, text string, voice domain.Voice, pace domain.Pace) (*library.AffirmationAudio, error) {
	var result *SynthesisResult
	err := resilience.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.breaker.Execute(func() error {
			r, err := m.provider.Synthesize(ctx, SynthesisRequest{
				Text:            text,
				ProviderVoiceID: voice.ProviderID,
				Speed:           pace.SpeechSpeed(),
			})
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		metrics.TTSSynthesisTotal.WithLabelValues("error").Inc()
		m.logger.Error().Err(err).
			Str(log.FieldFingerprint, fp).
			Msg("synthesis failed")
		return nil, fmt.Errorf("tts: synthesize %s: %w", fp, err)
	}
	metrics.TTSSynthesisTotal.WithLabelValues("ok").Inc()

	paceID := string(pace)
	key := affirmationID + "_" + voice.ID + "_" + paceID + ".mp3"
	url, err := m.blobs.Put(ctx, key, result.Audio, result.ContentType)
	if err != nil {
		return nil, fmt.Errorf("tts: store audio %s: %w", fp, err)
	}

	size := int64(len(result.Audio))
	a, err := m.store.PutAudio(ctx, affirmationID, voice.ID, paceID, url,
		estimateDurationMs(size), size, result.ContentType)
	if err != nil {
		return nil, fmt.Errorf("tts: persist audio %s: %w", fp, err)
	}

	m.logger.Info().
		Str(log.FieldFingerprint, fp).
		Int64("bytes", size).
		Int64("duration_ms", a.DurationMs).
		Msg("audio materialized")
	return a, nil
}

// estimateDurationMs derives play time from size at the fixed 128 kbps
// output bitrate (16000 bytes per second).
func estimateDurationMs(bytes int64) int64 {
	ms := bytes * 1000 / 16000
	if ms <= 0 {
		ms = 1
	}
	return ms
}
