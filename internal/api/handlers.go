// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/pipeline"
	"github.com/mindloop/affirmd/internal/prefs"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/subscription"
)

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed JSON body", nil)
		return false
	}
	return true
}

type generateBody struct {
	Goal             domain.Goal             `json:"goal"`
	CustomPrompt     string                  `json:"customPrompt"`
	BinauralCategory domain.BinauralCategory `json:"binauralCategory"`
	BinauralHz       float64                 `json:"binauralHz"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if !decode(w, r, &body) {
		return
	}
	if !body.Goal.Valid() {
		writeError(w, http.StatusBadRequest, CodeValidation, "goal must be one of sleep, focus, calm, manifest",
			map[string]string{"field": "goal"})
		return
	}
	if len(body.CustomPrompt) > 500 {
		writeError(w, http.StatusBadRequest, CodeValidation, "customPrompt must be at most 500 chars",
			map[string]string{"field": "customPrompt"})
		return
	}

	resp, err := s.orch.GenerateSession(r.Context(), pipeline.GenerateRequest{
		UserID:           userID(r),
		IP:               clientIP(r),
		Goal:             body.Goal,
		CustomPrompt:     body.CustomPrompt,
		BinauralCategory: body.BinauralCategory,
		BinauralHz:       body.BinauralHz,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createBody struct {
	Title            string                  `json:"title"`
	Goal             domain.Goal             `json:"goal"`
	Affirmations     []string                `json:"affirmations"`
	BinauralCategory domain.BinauralCategory `json:"binauralCategory"`
	BinauralHz       float64                 `json:"binauralHz"`
}

func (s *Server) handleCreateCustom(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if !decode(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "title is required",
			map[string]string{"field": "title"})
		return
	}
	if len(body.Affirmations) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidation, "at least one affirmation is required",
			map[string]string{"field": "affirmations"})
		return
	}

	resp, err := s.orch.CreateCustomSession(r.Context(), pipeline.CustomRequest{
		UserID:           userID(r),
		IP:               clientIP(r),
		Title:            body.Title,
		Goal:             body.Goal,
		Affirmations:     body.Affirmations,
		BinauralCategory: body.BinauralCategory,
		BinauralHz:       body.BinauralHz,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionSummary struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Goal             string    `json:"goal"`
	VoiceID          string    `json:"voiceId"`
	Pace             string    `json:"pace"`
	Noise            string    `json:"noise"`
	LengthSec        int       `json:"lengthSec"`
	BinauralCategory string    `json:"binauralCategory,omitempty"`
	BinauralHz       float64   `json:"binauralHz,omitempty"`
	IsFavorite       bool      `json:"isFavorite"`
	IsDefault        bool      `json:"isDefault"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.asm.List(r.Context(), userID(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionSummary{
			ID:               sess.ID,
			Title:            sess.Title,
			Goal:             string(sess.Goal),
			VoiceID:          sess.VoiceID,
			Pace:             string(sess.Pace),
			Noise:            string(sess.Noise),
			LengthSec:        sess.LengthSec,
			BinauralCategory: string(sess.BinauralCategory),
			BinauralHz:       sess.BinauralHz,
			IsFavorite:       sess.IsFavorite,
			IsDefault:        session.IsDefaultID(sess.ID),
			CreatedAt:        sess.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := s.orch.GetPlaylist(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsFavorite bool `json:"isFavorite"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.asm.ToggleFavorite(r.Context(), chi.URLParam(r, "id"), userID(r), body.IsFavorite); err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type updateSessionBody struct {
	Title            *string                  `json:"title"`
	VoiceID          *string                  `json:"voiceId"`
	Pace             *domain.Pace             `json:"pace"`
	Noise            *domain.Noise            `json:"backgroundNoise"`
	BinauralCategory *domain.BinauralCategory `json:"binauralCategory"`
	BinauralHz       *float64                 `json:"binauralHz"`
	SpacingSeconds   *int                     `json:"affirmationSpacingSeconds"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body updateSessionBody
	if !decode(w, r, &body) {
		return
	}
	err := s.asm.Update(r.Context(), chi.URLParam(r, "id"), userID(r), session.UpdatePatch{
		Title:            body.Title,
		VoiceID:          body.VoiceID,
		Pace:             body.Pace,
		Noise:            body.Noise,
		BinauralCategory: body.BinauralCategory,
		BinauralHz:       body.BinauralHz,
		SpacingSeconds:   body.SpacingSeconds,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.asm.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating      int   `json:"rating"`
		WasReplayed *bool `json:"wasReplayed"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		writeError(w, http.StatusBadRequest, CodeValidation, "rating must be 1..5",
			map[string]string{"field": "rating"})
		return
	}
	err := s.orch.RateSession(r.Context(), chi.URLParam(r, "id"), userID(r), body.Rating, body.WasReplayed)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.prefs.Get(r.Context(), userID(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	var patch prefs.Patch
	if !decode(w, r, &patch) {
		return
	}
	p, err := s.prefs.Update(r.Context(), userID(r), patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type subscriptionView struct {
	Tier               string `json:"tier"`
	Status             string `json:"status"`
	BillingPeriod      string `json:"billingPeriod,omitempty"`
	CustomSessionsUsed int    `json:"customSessionsUsedThisMonth"`
	Limit              int    `json:"monthlyLimit"`
	CancelAtPeriodEnd  bool   `json:"cancelAtPeriodEnd"`
	PeriodEnd          string `json:"currentPeriodEnd,omitempty"`
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.gate.Get(r.Context(), userID(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subView(sub))
}

func (s *Server) handleVerifyPurchase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID string `json:"productId"`
		Platform  string `json:"platform"`
	}
	if !decode(w, r, &body) {
		return
	}
	sub, err := s.gate.VerifyPurchase(r.Context(), userID(r), body.ProductID, body.Platform)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subView(sub))
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.gate.Cancel(r.Context(), userID(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subView(sub))
}

func subView(sub *subscription.Subscription) subscriptionView {
	view := subscriptionView{
		Tier:               string(sub.Tier),
		Status:             string(sub.Status),
		BillingPeriod:      string(sub.BillingPeriod),
		CustomSessionsUsed: sub.CustomSessionsUsed,
		Limit:              domain.FreeMonthlyCustomSessions,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if !sub.PeriodEnd.IsZero() {
		view.PeriodEnd = sub.PeriodEnd.Format(time.RFC3339)
	}
	if sub.Tier == domain.TierPro {
		view.Limit = 0
	}
	return view
}
