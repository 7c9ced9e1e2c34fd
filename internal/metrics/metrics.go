// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the affirmd pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No cardinality explosion: no session_id, user_id or request_id in labels.

var (
	// MatchTotal counts matcher outcomes by route.
	MatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_match_total",
		Help: "Total number of matcher decisions, by match type.",
	}, []string{"match_type"})

	// LLMCallTotal counts LLM generation attempts by result.
	LLMCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_llm_call_total",
		Help: "Total number of LLM generation calls, by result (ok/parse_error/error).",
	}, []string{"result"})

	// TTSSynthesisTotal counts external TTS provider calls by result.
	TTSSynthesisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_tts_synthesis_total",
		Help: "Total number of TTS provider syntheses, by result (ok/error).",
	}, []string{"result"})

	// TTSCacheHitTotal counts materialize calls served from the audio store.
	TTSCacheHitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affirmd_tts_cache_hit_total",
		Help: "Total number of materialize calls satisfied without synthesis.",
	})

	// RateLimitExceededTotal counts limiter rejections by class.
	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_ratelimit_exceeded_total",
		Help: "Total rate limit rejections, by limit class.",
	}, []string{"class"})

	// CacheFallbackTotal counts KV operations degraded to the in-memory store.
	CacheFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_cache_fallback_total",
		Help: "Total KV operations served by the in-memory fallback, by reason.",
	}, []string{"reason"})

	// QuotaRejectTotal counts custom-session creations rejected by the subscription gate.
	QuotaRejectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affirmd_quota_reject_total",
		Help: "Total custom session creations rejected by the monthly quota.",
	})

	// SessionCreateTotal counts persisted sessions by origin.
	SessionCreateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affirmd_session_create_total",
		Help: "Total sessions created, by origin (goal/custom).",
	}, []string{"origin"})

	// PipelineDuration observes end-to-end generate latency.
	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "affirmd_pipeline_duration_seconds",
		Help:    "End-to-end pipeline latency, by entry point.",
		Buckets: prometheus.DefBuckets,
	}, []string{"entry"})
)
