// SPDX-License-Identifier: MIT

// Package matcher decides how a user intention becomes affirmation text:
// exact template match, pooled library selection, fresh LLM generation, or a
// static fallback. This decision layer controls cost, latency and quality.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// MatchType identifies the route taken.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchPooled    MatchType = "pooled"
	MatchGenerated MatchType = "generated"
	MatchFallback  MatchType = "fallback"
)

// Thresholds and output bounds.
const (
	ExactThreshold = 0.85
	PoolThreshold  = 0.55
	MinLines       = 6
	MaxLines       = 10

	// GenerationCost is the fixed per-call LLM cost estimate recorded in the
	// generation log. Exact, pooled and fallback routes cost nothing.
	GenerationCost = 0.21
)

// Generator produces novel affirmation text. Implemented by the LLM client.
type Generator interface {
	Generate(ctx context.Context, goal domain.Goal, userIntention string) ([]string, error)
}

// Library is the read surface the matcher needs from the library store.
type Library interface {
	FindTemplatesByGoal(ctx context.Context, goal domain.Goal) ([]library.SessionTemplate, error)
	FindAffirmationsByGoal(ctx context.Context, goal domain.Goal, limit, offset int) ([]library.AffirmationLine, error)
	GetAffirmations(ctx context.Context, ids []string) ([]library.AffirmationLine, error)
}

// Input carries one match request.
type Input struct {
	UserIntention  string // 1..500 chars
	Goal           domain.Goal
	UserID         string
	IsFirstSession bool
}

// Result is the matcher outcome consumed by the orchestrator and the
// generation log.
type Result struct {
	Type           MatchType
	TemplateID     string   // exact only
	AffirmationIDs []string // exact and pooled
	Affirmations   []string // always 6..10 lines (exact may carry the full template list)
	Confidence     float64
	Cost           float64
}

// Matcher scores intentions against the library and routes to the LLM or the
// static fallback when the library cannot serve.
type Matcher struct {
	lib Library
	gen Generator // nil when generation is not configured
}

// New creates a Matcher. gen may be nil to disable the generation route.
func New(lib Library, gen Generator) *Matcher {
	return &Matcher{lib: lib, gen: gen}
}

// Match runs the decision procedure.
func (m *Matcher) Match(ctx context.Context, in Input) (*Result, error) {
	intention := strings.TrimSpace(in.UserIntention)
	if intention == "" || len(intention) > 500 {
		return nil, fmt.Errorf("matcher: intention must be 1..500 chars")
	}
	if !in.Goal.Valid() {
		return nil, fmt.Errorf("matcher: invalid goal %q", in.Goal)
	}

	logger := log.WithComponentFromContext(ctx, "matcher")

	// 1. Exact template match.
	exact, err := m.tryExact(ctx, in.Goal, intention)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		logger.Info().
			Str(log.FieldGoal, string(in.Goal)).
			Str(log.FieldMatchType, string(MatchExact)).
			Str(log.FieldTemplateID, exact.TemplateID).
			Float64("confidence", exact.Confidence).
			Msg("matched template")
		metrics.MatchTotal.WithLabelValues(string(MatchExact)).Inc()
		return exact, nil
	}

	// First sessions bootstrap library coverage: generate regardless of pool
	// score when the LLM is available.
	if in.IsFirstSession && m.gen != nil {
		if res := m.tryGenerate(ctx, in.Goal, intention, logger); res != nil {
			return res, nil
		}
		return m.fallback(in.Goal, logger), nil
	}

	// 2. Pooled selection.
	pooled, err := m.tryPooled(ctx, in.Goal, intention)
	if err != nil {
		return nil, err
	}
	if pooled != nil {
		logger.Info().
			Str(log.FieldGoal, string(in.Goal)).
			Str(log.FieldMatchType, string(MatchPooled)).
			Int("lines", len(pooled.Affirmations)).
			Float64("confidence", pooled.Confidence).
			Msg("matched pool")
		metrics.MatchTotal.WithLabelValues(string(MatchPooled)).Inc()
		return pooled, nil
	}

	// 3. Generation.
	if m.gen != nil {
		if res := m.tryGenerate(ctx, in.Goal, intention, logger); res != nil {
			return res, nil
		}
	}

	// 4. Fallback.
	return m.fallback(in.Goal, logger), nil
}

func (m *Matcher) tryExact(ctx context.Context, goal domain.Goal, intention string) (*Result, error) {
	templates, err := m.lib.FindTemplatesByGoal(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("matcher: load templates: %w", err)
	}

	var best *library.SessionTemplate
	bestScore := 0.0
	for i := range templates {
		t := &templates[i]
		// Templates below the output floor cannot serve an exact match.
		if len(t.AffirmationIDs) < MinLines {
			continue
		}
		score := similarity(intention, t.Intent, t.Keywords)
		switch {
		case score > bestScore:
			best, bestScore = t, score
		case score == bestScore && best != nil && tieBreakTemplate(t, best):
			best = t
		}
	}
	if best == nil || bestScore < ExactThreshold {
		return nil, nil
	}

	lines, err := m.lib.GetAffirmations(ctx, best.AffirmationIDs)
	if err != nil {
		return nil, fmt.Errorf("matcher: load template lines: %w", err)
	}
	// Dangling IDs can shrink the set below the floor.
	if len(lines) < MinLines {
		return nil, nil
	}
	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}

	ids := make([]string, len(lines))
	texts := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
		texts[i] = l.Text
	}
	return &Result{
		Type:           MatchExact,
		TemplateID:     best.ID,
		AffirmationIDs: ids,
		Affirmations:   texts,
		Confidence:     bestScore,
	}, nil
}

// tieBreakTemplate prefers higher rating, then lower use count, then
// lexicographic ID, keeping ordering deterministic.
func tieBreakTemplate(a, b *library.SessionTemplate) bool {
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.UseCount != b.UseCount {
		return a.UseCount < b.UseCount
	}
	return a.ID < b.ID
}

type scoredLine struct {
	line  library.AffirmationLine
	score float64
}

func (m *Matcher) tryPooled(ctx context.Context, goal domain.Goal, intention string) (*Result, error) {
	pool, err := m.lib.FindAffirmationsByGoal(ctx, goal, 500, 0)
	if err != nil {
		return nil, fmt.Errorf("matcher: load pool: %w", err)
	}

	qualifying := make([]scoredLine, 0, len(pool))
	for _, l := range pool {
		score := similarity(intention, l.Text+" "+strings.Join(l.Tags, " "), l.Tags)
		if score >= PoolThreshold {
			qualifying = append(qualifying, scoredLine{line: l, score: score})
		}
	}
	if len(qualifying) < MinLines {
		return nil, nil
	}

	sort.Slice(qualifying, func(i, j int) bool {
		a, b := qualifying[i], qualifying[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.line.Rating != b.line.Rating {
			return a.line.Rating > b.line.Rating
		}
		if a.line.UseCount != b.line.UseCount {
			return a.line.UseCount < b.line.UseCount
		}
		return a.line.ID < b.line.ID
	})

	n := len(qualifying)
	if n > MaxLines {
		n = MaxLines
	}
	selected := qualifying[:n]

	ids := make([]string, n)
	texts := make([]string, n)
	var sum float64
	for i, sl := range selected {
		ids[i] = sl.line.ID
		texts[i] = sl.line.Text
		sum += sl.score
	}
	return &Result{
		Type:           MatchPooled,
		AffirmationIDs: ids,
		Affirmations:   texts,
		Confidence:     sum / float64(n),
	}, nil
}

// tryGenerate calls the LLM; a nil result means the caller should fall back.
func (m *Matcher) tryGenerate(ctx context.Context, goal domain.Goal, intention string, logger zerolog.Logger) *Result {
	lines, err := m.gen.Generate(ctx, goal, intention)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldGoal, string(goal)).Msg("generation failed, falling back")
		return nil
	}
	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}
	metrics.MatchTotal.WithLabelValues(string(MatchGenerated)).Inc()
	logger.Info().
		Str(log.FieldGoal, string(goal)).
		Str(log.FieldMatchType, string(MatchGenerated)).
		Int("lines", len(lines)).
		Msg("generated novel affirmations")
	return &Result{
		Type:         MatchGenerated,
		Affirmations: lines,
		Cost:         GenerationCost,
	}
}

func (m *Matcher) fallback(goal domain.Goal, logger zerolog.Logger) *Result {
	metrics.MatchTotal.WithLabelValues(string(MatchFallback)).Inc()
	logger.Info().
		Str(log.FieldGoal, string(goal)).
		Str(log.FieldMatchType, string(MatchFallback)).
		Msg("serving static fallback")
	return &Result{
		Type:         MatchFallback,
		Affirmations: FallbackAffirmations(goal),
	}
}
