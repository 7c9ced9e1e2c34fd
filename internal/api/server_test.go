// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloop/affirmd/internal/blob"
	"github.com/mindloop/affirmd/internal/cache"
	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/genlog"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/pipeline"
	"github.com/mindloop/affirmd/internal/prefs"
	"github.com/mindloop/affirmd/internal/ratelimit"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/store"
	"github.com/mindloop/affirmd/internal/subscription"
	"github.com/mindloop/affirmd/internal/tts"
)

// tokenMap resolves bearer tokens to user IDs for tests.
type tokenMap map[string]string

func (m tokenMap) Resolve(_ context.Context, token string) (string, bool) {
	id, ok := m[token]
	return id, ok
}

type nullProvider struct{}

func (nullProvider) Synthesize(context.Context, tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	return &tts.SynthesisResult{Audio: make([]byte, 16000), ContentType: "audio/mpeg"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *subscription.Gate) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lib, err := library.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, lib.Seed(context.Background()))

	gate, err := subscription.NewGate(db)
	require.NoError(t, err)
	sessStore, err := session.NewStore(db)
	require.NoError(t, err)
	glog, err := genlog.NewLog(db, lib)
	require.NoError(t, err)

	mem := cache.NewMemoryStore(time.Minute)
	t.Cleanup(mem.Stop)
	pr, err := prefs.NewStore(db, cache.New(nil, mem))
	require.NoError(t, err)

	blobs, err := blob.NewDiskStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)
	mat := tts.NewMaterializer(lib, blobs, nullProvider{})

	asm := session.NewAssembler(sessStore, lib, pr)
	limiter := ratelimit.New(nil, zerolog.Nop())
	orch := pipeline.New(limiter, gate, lib, nil, mat, asm, glog, pr, pipeline.DefaultTimeouts())

	srv := NewServer(Config{
		Orchestrator: orch,
		Assembler:    asm,
		Gate:         gate,
		Prefs:        pr,
		Limiter:      limiter,
		Auth:         tokenMap{"tok-a": "userA", "tok-b": "userB"},
		AudioDir:     blobs.Dir(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, gate
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGenerate_EndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/api/sessions/generate", "tok-a", map[string]any{
		"goal":         "calm",
		"customPrompt": "I want to find peace and center myself in the present moment",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "exact", out["matchType"])
	assert.NotEmpty(t, out["sessionId"])
	assert.NotEmpty(t, out["affirmations"])

	// The session shows up in the list alongside the defaults.
	resp, out = doJSON(t, ts, http.MethodGet, "/api/sessions", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := out["sessions"].([]any)
	assert.Len(t, sessions, len(session.DefaultSessions())+1)
}

func TestGenerate_RejectsBadGoal(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/api/sessions/generate", "", map[string]any{
		"goal": "world domination",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, out["code"])
}

func TestGenerate_RejectsUnknownBinauralCategory(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/api/sessions/generate", "tok-a", map[string]any{
		"goal":             "sleep",
		"binauralCategory": "ultrasonic",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, out["code"])
	details := out["details"].(map[string]any)
	assert.Equal(t, "binauralCategory", details["field"])
}

func TestCreate_RejectsTooManyAffirmations(t *testing.T) {
	ts, _ := newTestServer(t)

	lines := make([]string, library.MaxTemplateLines+1)
	for i := range lines {
		lines[i] = "I persist"
	}
	resp, out := doJSON(t, ts, http.MethodPost, "/api/sessions/create", "tok-a", map[string]any{
		"title":        "Overfull",
		"goal":         "manifest",
		"affirmations": lines,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, out["code"])
	details := out["details"].(map[string]any)
	assert.Equal(t, "affirmations", details["field"])
}

func TestCreate_RequiresAuthAndQuota(t *testing.T) {
	ts, _ := newTestServer(t)

	body := map[string]any{
		"title":        "My Session",
		"goal":         "manifest",
		"affirmations": []string{"I build things that last"},
	}

	resp, out := doJSON(t, ts, http.MethodPost, "/api/sessions/create", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeUnauthorized, out["code"])

	for i := 0; i < domain.FreeMonthlyCustomSessions; i++ {
		resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/create", "tok-a", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, out = doJSON(t, ts, http.MethodPost, "/api/sessions/create", "tok-a", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeQuotaExceeded, out["code"])
	details := out["details"].(map[string]any)
	assert.EqualValues(t, domain.FreeMonthlyCustomSessions, details["limit"])
	assert.EqualValues(t, domain.FreeMonthlyCustomSessions, details["used"])
}

func TestPlaylist_DefaultSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodGet, "/api/sessions/default-sleep-1/playlist", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, out["totalDurationMs"])
	assert.Empty(t, out["affirmations"])
	assert.Equal(t, "delta", out["binauralCategory"])
	assert.Equal(t, "brown", out["backgroundNoise"])

	// Byte-equal across repeated reads.
	_, again := doJSON(t, ts, http.MethodGet, "/api/sessions/default-sleep-1/playlist", "", nil)
	assert.Equal(t, out, again)
}

func TestDefaultSession_ImmutableOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodPatch, "/api/sessions/default-sleep-1/favorite", "tok-a",
		map[string]any{"isFavorite": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeForbidden, out["code"])

	resp, _ = doJSON(t, ts, http.MethodDelete, "/api/sessions/default-sleep-1", "tok-a", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPlaylist_OwnershipEnforced(t *testing.T) {
	ts, _ := newTestServer(t)

	_, out := doJSON(t, ts, http.MethodPost, "/api/sessions/generate", "tok-a", map[string]any{
		"goal":         "calm",
		"customPrompt": "I want to find peace and center myself in the present moment",
	})
	id := out["sessionId"].(string)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/sessions/"+id+"/playlist", "tok-b", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeForbidden, body["code"])

	resp, body = doJSON(t, ts, http.MethodGet, "/api/sessions/"+id+"/playlist", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["affirmations"])

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/sessions/missing/playlist", "tok-a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedback_Flow(t *testing.T) {
	ts, _ := newTestServer(t)

	_, out := doJSON(t, ts, http.MethodPost, "/api/sessions/generate", "tok-a", map[string]any{
		"goal":         "calm",
		"customPrompt": "I want to find peace and center myself in the present moment",
	})
	id := out["sessionId"].(string)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/feedback", "tok-a",
		map[string]any{"rating": 5, "wasReplayed": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/feedback", "tok-a",
		map[string]any{"rating": 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, body["code"])

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/unknown/feedback", "tok-a",
		map[string]any{"rating": 4})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreferences_RoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodGet, "/api/preferences", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "neutral", out["voiceId"])
	assert.EqualValues(t, domain.DefaultSpacingSeconds, out["affirmationSpacingSeconds"])

	resp, out = doJSON(t, ts, http.MethodPatch, "/api/preferences", "tok-a", map[string]any{
		"voiceId":                   "warm",
		"affirmationSpacingSeconds": 15,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "warm", out["voiceId"])

	resp, _ = doJSON(t, ts, http.MethodPatch, "/api/preferences", "tok-a", map[string]any{
		"affirmationSpacingSeconds": 7,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/preferences", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscription_Endpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodGet, "/api/subscription", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", out["tier"])
	assert.EqualValues(t, domain.FreeMonthlyCustomSessions, out["monthlyLimit"])

	resp, out = doJSON(t, ts, http.MethodPost, "/api/subscription/verify-purchase", "tok-a",
		map[string]any{"productId": "com.mindloop.pro.monthly", "platform": "ios"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pro", out["tier"])

	resp, out = doJSON(t, ts, http.MethodPost, "/api/subscription/verify-purchase", "tok-a",
		map[string]any{"productId": "com.mindloop.pro.lifetime", "platform": "ios"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, out["code"])

	resp, out = doJSON(t, ts, http.MethodPost, "/api/subscription/cancel", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["cancelAtPeriodEnd"])
}

func TestRateHeaders_Present(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodGet, "/api/sessions", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := doJSON(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, out = doJSON(t, ts, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", out["status"])
}
