// SPDX-License-Identifier: MIT

// Package pipeline wires the affirmation components end to end: rate limits,
// quota gate, matching, generation, synthesis, session assembly and the
// decision log. It contains wiring and error mapping only.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/genlog"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/matcher"
	"github.com/mindloop/affirmd/internal/metrics"
	"github.com/mindloop/affirmd/internal/prefs"
	"github.com/mindloop/affirmd/internal/ratelimit"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/subscription"
	"github.com/mindloop/affirmd/internal/tts"
)

// Timeouts bound the two entry points.
type Timeouts struct {
	Generate time.Duration
	Playlist time.Duration
}

// DefaultTimeouts returns the standard per-request deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{Generate: 30 * time.Second, Playlist: 10 * time.Second}
}

// RateLimitedError carries the limiter decision to the HTTP layer.
type RateLimitedError struct {
	Class      string
	RetryAfter int
	ResetAt    int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("pipeline: rate limited (%s), retry after %ds", e.Class, e.RetryAfter)
}

// Orchestrator sequences the pipeline components.
type Orchestrator struct {
	limiter  *ratelimit.Limiter
	gate     *subscription.Gate
	lib      *library.Store
	gen      matcher.Generator // nil when the LLM is not configured
	tts      *tts.Materializer // nil when TTS is not configured
	asm      *session.Assembler
	glog     *genlog.Log
	prefs    *prefs.Store
	timeouts Timeouts
	logger   zerolog.Logger
}

// New wires the orchestrator. gen and synth may be nil when the respective
// provider is not configured.
func New(limiter *ratelimit.Limiter, gate *subscription.Gate, lib *library.Store,
	gen matcher.Generator, synth *tts.Materializer, asm *session.Assembler,
	glog *genlog.Log, pr *prefs.Store, timeouts Timeouts) *Orchestrator {
	return &Orchestrator{
		limiter:  limiter,
		gate:     gate,
		lib:      lib,
		gen:      gen,
		tts:      synth,
		asm:      asm,
		glog:     glog,
		prefs:    pr,
		timeouts: timeouts,
		logger:   log.WithComponent("pipeline"),
	}
}

// GenerateRequest is the goal-driven entry point's input.
type GenerateRequest struct {
	UserID           string
	IP               string
	Goal             domain.Goal
	CustomPrompt     string
	BinauralCategory domain.BinauralCategory
	BinauralHz       float64
}

// CustomRequest is the custom-session entry point's input.
type CustomRequest struct {
	UserID           string
	IP               string
	Title            string
	Goal             domain.Goal
	Affirmations     []string
	BinauralCategory domain.BinauralCategory
	BinauralHz       float64
}

// SessionResponse is returned by both creation entry points.
type SessionResponse struct {
	SessionID        string       `json:"sessionId"`
	Title            string       `json:"title"`
	Affirmations     []string     `json:"affirmations"`
	Goal             domain.Goal  `json:"goal"`
	VoiceID          string       `json:"voiceId"`
	Pace             domain.Pace  `json:"pace"`
	Noise            domain.Noise `json:"noise"`
	LengthSec        int          `json:"lengthSec"`
	BinauralCategory string       `json:"binauralCategory,omitempty"`
	BinauralHz       float64      `json:"binauralHz,omitempty"`
	MatchType        string       `json:"matchType"`
}

// rateLimitedGenerator gates LLM calls through the llm limiter class so that
// a denied call degrades to the matcher's fallback route.
type rateLimitedGenerator struct {
	inner   matcher.Generator
	limiter *ratelimit.Limiter
	userID  string
	ip      string
}

func (g *rateLimitedGenerator) Generate(ctx context.Context, goal domain.Goal, intention string) ([]string, error) {
	d := g.limiter.AllowClass(ctx, ratelimit.ClassLLM, g.userID, g.ip)
	if !d.Allowed {
		return nil, &RateLimitedError{Class: ratelimit.ClassLLM.Name, RetryAfter: d.RetryAfter, ResetAt: d.ResetAt}
	}
	return g.inner.Generate(ctx, goal, intention)
}

// GenerateSession runs the goal-driven pipeline. Guests receive an ephemeral
// response without persistence or audio pre-materialization.
func (o *Orchestrator) GenerateSession(ctx context.Context, req GenerateRequest) (*SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Generate)
	defer cancel()
	timer := time.Now()
	defer func() {
		metrics.PipelineDuration.WithLabelValues("generate").Observe(time.Since(timer).Seconds())
	}()

	if !req.Goal.Valid() {
		return nil, &session.ValidationError{Field: "goal", Message: fmt.Sprintf("invalid goal %q", req.Goal)}
	}
	if req.BinauralCategory != "" && !req.BinauralCategory.Valid() {
		return nil, &session.ValidationError{Field: "binauralCategory", Message: fmt.Sprintf("unknown binaural category %q", req.BinauralCategory)}
	}
	intent := req.CustomPrompt
	if intent == "" {
		intent = string(req.Goal)
	}

	p, err := o.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	tier := o.tier(ctx, req.UserID)
	voiceID := p.VoiceID
	if !domain.VoiceAllowed(tier, voiceID) {
		voiceID = domain.DefaultVoiceID
	}

	isFirst := false
	if req.UserID != "" {
		has, err := o.asm.HasSessions(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		isFirst = !has
	}

	var gen matcher.Generator
	if o.gen != nil {
		gen = &rateLimitedGenerator{inner: o.gen, limiter: o.limiter, userID: req.UserID, ip: req.IP}
	}
	res, err := matcher.New(o.lib, gen).Match(ctx, matcher.Input{
		UserIntention:  intent,
		Goal:           req.Goal,
		UserID:         req.UserID,
		IsFirstSession: isFirst,
	})
	if err != nil {
		return nil, err
	}

	// Guests: no persistence, no synthesis. The decision is still logged,
	// carrying texts since no library rows are created.
	if req.UserID == "" {
		o.record(ctx, req.UserID, intent, req.Goal, res, res.Affirmations, "")
		return &SessionResponse{
			Title:            session.GoalTitle(req.Goal, time.Now()),
			Affirmations:     res.Affirmations,
			Goal:             req.Goal,
			VoiceID:          voiceID,
			Pace:             p.Pace,
			Noise:            p.Noise,
			LengthSec:        session.GoalLengthSec(p.Pace),
			BinauralCategory: string(binauralOrDefault(req.Goal, req.BinauralCategory)),
			BinauralHz:       hzOrDefault(req.Goal, req.BinauralCategory, req.BinauralHz),
			MatchType:        string(res.Type),
		}, nil
	}

	affIDs, err := o.resolveLineIDs(ctx, req.Goal, res)
	if err != nil {
		return nil, err
	}

	o.materialize(ctx, req.UserID, req.IP, affIDs, res.Affirmations, voiceID, p.Pace)

	sess, err := o.asm.Create(ctx, session.CreateParams{
		UserID:           req.UserID,
		Goal:             req.Goal,
		Intent:           intent,
		MatchType:        string(res.Type),
		TemplateID:       res.TemplateID,
		AffirmationIDs:   affIDs,
		VoiceID:          voiceID,
		Pace:             p.Pace,
		Noise:            p.Noise,
		BinauralCategory: req.BinauralCategory,
		BinauralHz:       req.BinauralHz,
		SpacingSeconds:   p.SpacingSeconds,
	})
	if err != nil {
		return nil, err
	}

	if res.Type == matcher.MatchExact && res.TemplateID != "" {
		if err := o.lib.BumpTemplateUse(ctx, res.TemplateID); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldTemplateID, res.TemplateID).Msg("template use bump failed")
		}
	}
	o.record(ctx, req.UserID, intent, req.Goal, res, affIDs, sess.ID)

	return sessionResponse(sess, res.Affirmations, string(res.Type)), nil
}

// CreateCustomSession persists a user-authored session behind the monthly
// quota. The consumed slot is released when persistence fails.
func (o *Orchestrator) CreateCustomSession(ctx context.Context, req CustomRequest) (*SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Generate)
	defer cancel()
	timer := time.Now()
	defer func() {
		metrics.PipelineDuration.WithLabelValues("custom").Observe(time.Since(timer).Seconds())
	}()

	if req.UserID == "" {
		return nil, fmt.Errorf("pipeline: custom sessions require authentication")
	}
	if req.Title == "" {
		return nil, &session.ValidationError{Field: "title", Message: "title required"}
	}
	if len(req.Affirmations) == 0 || len(req.Affirmations) > library.MaxTemplateLines {
		return nil, &session.ValidationError{
			Field:   "affirmations",
			Message: fmt.Sprintf("1..%d affirmations required", library.MaxTemplateLines),
		}
	}
	goal := req.Goal
	if goal == "" {
		goal = domain.GoalManifest
	}
	if !goal.Valid() {
		return nil, &session.ValidationError{Field: "goal", Message: fmt.Sprintf("invalid goal %q", goal)}
	}
	if req.BinauralCategory != "" && !req.BinauralCategory.Valid() {
		return nil, &session.ValidationError{Field: "binauralCategory", Message: fmt.Sprintf("unknown binaural category %q", req.BinauralCategory)}
	}

	consumed, err := o.gate.ConsumeCustomSlot(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	sess, texts, err := o.buildCustom(ctx, req, goal)
	if err != nil {
		// Pro bypasses never consumed a slot, so there is nothing to roll back.
		if consumed {
			o.gate.ReleaseCustomSlot(ctx, req.UserID)
		}
		return nil, err
	}
	return sessionResponse(sess, texts, "custom"), nil
}

func (o *Orchestrator) buildCustom(ctx context.Context, req CustomRequest, goal domain.Goal) (*session.Session, []string, error) {
	p, err := o.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	tier := o.tier(ctx, req.UserID)
	voiceID := p.VoiceID
	if !domain.VoiceAllowed(tier, voiceID) {
		voiceID = domain.DefaultVoiceID
	}

	affIDs := make([]string, 0, len(req.Affirmations))
	texts := make([]string, 0, len(req.Affirmations))
	for _, text := range req.Affirmations {
		line, err := o.lib.EnsureAffirmation(ctx, text, goal)
		if err != nil {
			return nil, nil, err
		}
		affIDs = append(affIDs, line.ID)
		texts = append(texts, line.Text)
	}

	o.materialize(ctx, req.UserID, req.IP, affIDs, texts, voiceID, p.Pace)

	sess, err := o.asm.Create(ctx, session.CreateParams{
		UserID:           req.UserID,
		Goal:             goal,
		MatchType:        "custom",
		AffirmationIDs:   affIDs,
		Title:            req.Title,
		VoiceID:          voiceID,
		Pace:             p.Pace,
		Noise:            p.Noise,
		BinauralCategory: req.BinauralCategory,
		BinauralHz:       req.BinauralHz,
		SpacingSeconds:   p.SpacingSeconds,
		Custom:           true,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := o.glog.Record(ctx, genlog.Entry{
		UserID:           req.UserID,
		UserIntent:       req.Title,
		Goal:             string(goal),
		MatchType:        "custom",
		AffirmationsUsed: affIDs,
		SessionID:        sess.ID,
	}); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("decision log write failed")
	}
	return sess, texts, nil
}

// GetPlaylist loads the playback schedule under the playlist deadline.
func (o *Orchestrator) GetPlaylist(ctx context.Context, sessionID, userID string) (*session.Playlist, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Playlist)
	defer cancel()
	timer := time.Now()
	defer func() {
		metrics.PipelineDuration.WithLabelValues("playlist").Observe(time.Since(timer).Seconds())
	}()

	return o.asm.GetPlaylist(ctx, sessionID, userID, o.tier(ctx, userID))
}

// RateSession records feedback on the session's latest decision.
func (o *Orchestrator) RateSession(ctx context.Context, sessionID, userID string, rating int, wasReplayed *bool) error {
	return o.glog.Rate(ctx, sessionID, userID, rating, wasReplayed)
}

// resolveLineIDs maps the matcher outcome to persisted line IDs, creating
// library rows for novel generations and fallback text.
func (o *Orchestrator) resolveLineIDs(ctx context.Context, goal domain.Goal, res *matcher.Result) ([]string, error) {
	if len(res.AffirmationIDs) > 0 {
		return res.AffirmationIDs, nil
	}
	ids := make([]string, 0, len(res.Affirmations))
	for _, text := range res.Affirmations {
		line, err := o.lib.EnsureAffirmation(ctx, text, goal)
		if err != nil {
			return nil, err
		}
		ids = append(ids, line.ID)
	}
	return ids, nil
}

// materialize synthesizes audio for each line. Failures and rate denials
// leave the segment without audio; the playlist surfaces it as null.
func (o *Orchestrator) materialize(ctx context.Context, userID, ip string, affIDs, texts []string, voiceID string, pace domain.Pace) {
	if o.tts == nil {
		return
	}
	d := o.limiter.AllowClass(ctx, ratelimit.ClassTTS, userID, ip)
	if !d.Allowed {
		o.logger.Warn().
			Str(log.FieldUserID, userID).
			Str(log.FieldLimitClass, ratelimit.ClassTTS.Name).
			Msg("synthesis skipped, rate limited")
		return
	}
	for i, id := range affIDs {
		if i >= len(texts) {
			break
		}
		if _, err := o.tts.Materialize(ctx, id, texts[i], voiceID, pace); err != nil {
			o.logger.Warn().Err(err).
				Str(log.FieldAffirmationID, id).
				Msg("segment synthesis failed, audio left absent")
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, userID, intent string, goal domain.Goal, res *matcher.Result, affIDs []string, sessionID string) {
	if _, err := o.glog.Record(ctx, genlog.Entry{
		UserID:           userID,
		UserIntent:       intent,
		Goal:             string(goal),
		MatchType:        string(res.Type),
		Confidence:       res.Confidence,
		AffirmationsUsed: affIDs,
		TemplateID:       res.TemplateID,
		APICost:          res.Cost,
		SessionID:        sessionID,
	}); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("decision log write failed")
	}
}

// tier resolves the requester's tier; guests and lookup failures read as free.
func (o *Orchestrator) tier(ctx context.Context, userID string) domain.Tier {
	if userID == "" || o.gate == nil {
		return domain.TierFree
	}
	sub, err := o.gate.Get(ctx, userID)
	if err != nil {
		o.logger.Warn().Err(err).Str(log.FieldUserID, userID).Msg("tier lookup failed, assuming free")
		return domain.TierFree
	}
	return sub.Tier
}

func sessionResponse(sess *session.Session, texts []string, matchType string) *SessionResponse {
	return &SessionResponse{
		SessionID:        sess.ID,
		Title:            sess.Title,
		Affirmations:     texts,
		Goal:             sess.Goal,
		VoiceID:          sess.VoiceID,
		Pace:             sess.Pace,
		Noise:            sess.Noise,
		LengthSec:        sess.LengthSec,
		BinauralCategory: string(sess.BinauralCategory),
		BinauralHz:       sess.BinauralHz,
		MatchType:        matchType,
	}
}

func binauralOrDefault(goal domain.Goal, cat domain.BinauralCategory) domain.BinauralCategory {
	if cat != "" && cat.Valid() {
		return cat
	}
	c, _ := domain.DefaultBinaural(goal)
	return c
}

func hzOrDefault(goal domain.Goal, cat domain.BinauralCategory, hz float64) float64 {
	if cat != "" && cat.Valid() {
		return hz
	}
	_, h := domain.DefaultBinaural(goal)
	return h
}
