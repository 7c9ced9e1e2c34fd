// SPDX-License-Identifier: MIT

package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/store"
)

type fakeGenerator struct {
	lines []string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(context.Context, domain.Goal, string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lines, nil
}

func newLibrary(t *testing.T) *library.Store {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	lib, err := library.NewStore(db)
	require.NoError(t, err)
	return lib
}

func TestSimilarity_KeywordCoverage(t *testing.T) {
	score := similarity("I want to sleep deeply tonight", "", []string{"sleep", "deeply"})
	assert.Equal(t, 1.0, score)

	score = similarity("I want to sleep", "", []string{"sleep", "deeply", "tonight", "rest"})
	assert.InDelta(t, 0.25, score, 1e-9)
}

func TestSimilarity_CosineOnVerbatimMatch(t *testing.T) {
	intent := "I want to find peace and center myself in the present moment"
	score := similarity(intent, intent, nil)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestMatch_EmptyPoolNoLLM_Fallback(t *testing.T) {
	lib := newLibrary(t)
	m := New(lib, nil)

	res, err := m.Match(context.Background(), Input{
		UserIntention: "help me relax",
		Goal:          domain.GoalCalm,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchFallback, res.Type)
	assert.Len(t, res.Affirmations, 6, "fallback serves exactly 6 lines per goal")
	assert.Zero(t, res.Cost)
}

func TestMatch_ExactVerbatimIntent(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	require.NoError(t, lib.Seed(ctx))

	m := New(lib, nil)
	res, err := m.Match(ctx, Input{
		UserIntention: "I want to find peace and center myself in the present moment",
		Goal:          domain.GoalCalm,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchExact, res.Type)
	assert.NotEmpty(t, res.TemplateID)
	assert.GreaterOrEqual(t, res.Confidence, ExactThreshold)
	assert.GreaterOrEqual(t, len(res.Affirmations), MinLines)
	assert.LessOrEqual(t, len(res.Affirmations), MaxLines)
	assert.Zero(t, res.Cost)
}

func TestMatch_ExactAtThresholdBoundary(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	ids := make([]string, 6)
	for i := range ids {
		l, err := lib.CreateAffirmation(ctx, fmt.Sprintf("boundary line %d", i), domain.GoalFocus, nil, "")
		require.NoError(t, err)
		ids[i] = l.ID
	}

	// 20 keywords, 17 present in the intention: coverage = 0.85 exactly.
	keywords := make([]string, 20)
	present := make([]string, 17)
	for i := 0; i < 20; i++ {
		keywords[i] = fmt.Sprintf("kw%d", i)
		if i < 17 {
			present[i] = keywords[i]
		}
	}
	_, err := lib.CreateTemplate(ctx, library.SessionTemplate{
		Title:          "Boundary",
		Goal:           domain.GoalFocus,
		Intent:         "unrelated canonical phrasing",
		Keywords:       keywords,
		AffirmationIDs: ids,
	})
	require.NoError(t, err)

	m := New(lib, nil)
	res, err := m.Match(ctx, Input{
		UserIntention: strings.Join(present, " "),
		Goal:          domain.GoalFocus,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchExact, res.Type, "score equal to the threshold must match")
	assert.InDelta(t, ExactThreshold, res.Confidence, 1e-9)
}

func TestMatch_ShortTemplateNeverMatchesExact(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	// A perfectly matching template with only 3 lines cannot satisfy the
	// 6..10 output bound and must be skipped.
	ids := make([]string, 3)
	for i := range ids {
		l, err := lib.CreateAffirmation(ctx, fmt.Sprintf("short line %d", i), domain.GoalCalm, nil, "")
		require.NoError(t, err)
		ids[i] = l.ID
	}
	intent := "I want to unwind after a long day"
	_, err := lib.CreateTemplate(ctx, library.SessionTemplate{
		Title:          "Too Short",
		Goal:           domain.GoalCalm,
		Intent:         intent,
		AffirmationIDs: ids,
	})
	require.NoError(t, err)

	m := New(lib, nil)
	res, err := m.Match(ctx, Input{UserIntention: intent, Goal: domain.GoalCalm})
	require.NoError(t, err)
	assert.NotEqual(t, MatchExact, res.Type)
	assert.GreaterOrEqual(t, len(res.Affirmations), MinLines)
}

func seedFocusPool(t *testing.T, lib *library.Store) (qualifying []string) {
	t.Helper()
	ctx := context.Background()

	// 8 lines tagged to overlap the thesis intention, 7 unrelated.
	for i := 0; i < 8; i++ {
		l, err := lib.CreateAffirmation(ctx,
			fmt.Sprintf("I complete my writing goals %d", i),
			domain.GoalFocus, []string{"thesis", "outline"}, "")
		require.NoError(t, err)
		qualifying = append(qualifying, l.ID)
	}
	for i := 0; i < 7; i++ {
		_, err := lib.CreateAffirmation(ctx,
			fmt.Sprintf("Unrelated gardening line %d", i),
			domain.GoalFocus, []string{"garden", "soil"}, "")
		require.NoError(t, err)
	}
	return qualifying
}

func TestMatch_PooledSelection(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	seedFocusPool(t, lib)

	m := New(lib, nil)
	res, err := m.Match(ctx, Input{
		UserIntention: "help me finish my thesis outline today",
		Goal:          domain.GoalFocus,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchPooled, res.Type)
	assert.Len(t, res.Affirmations, 8, "min(10, qualifying)=8 lines expected")
	assert.Zero(t, res.Cost)
}

func TestMatch_PooledTieBreakDeterministic(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	ids := seedFocusPool(t, lib)

	// Raise one line's rating; it must sort first among equal scores.
	favored := ids[5]
	require.NoError(t, lib.RewardAffirmations(ctx, []string{favored}, 0.5))

	m := New(lib, nil)
	first, err := m.Match(ctx, Input{
		UserIntention: "help me finish my thesis outline today",
		Goal:          domain.GoalFocus,
	})
	require.NoError(t, err)
	require.Equal(t, MatchPooled, first.Type)
	assert.Equal(t, favored, first.AffirmationIDs[0], "highest rating wins ties")

	// Selection is deterministic across calls.
	second, err := m.Match(ctx, Input{
		UserIntention: "help me finish my thesis outline today",
		Goal:          domain.GoalFocus,
	})
	require.NoError(t, err)
	assert.Equal(t, first.AffirmationIDs, second.AffirmationIDs)
}

func TestMatch_FirstSessionForcesGeneration(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	seedFocusPool(t, lib)

	gen := &fakeGenerator{lines: []string{
		"I am one", "I am two", "I am three", "I am four", "I am five", "I am six",
	}}
	m := New(lib, gen)

	res, err := m.Match(ctx, Input{
		UserIntention:  "help me finish my thesis outline today",
		Goal:           domain.GoalFocus,
		IsFirstSession: true,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchGenerated, res.Type, "first session bootstraps coverage")
	assert.Equal(t, GenerationCost, res.Cost)
	assert.Equal(t, 1, gen.calls)
}

func TestMatch_GeneratorFailure_Fallback(t *testing.T) {
	lib := newLibrary(t)
	gen := &fakeGenerator{err: errors.New("upstream down")}
	m := New(lib, gen)

	res, err := m.Match(context.Background(), Input{
		UserIntention: "something entirely novel",
		Goal:          domain.GoalManifest,
	})
	require.NoError(t, err)
	assert.Equal(t, MatchFallback, res.Type)
	assert.Len(t, res.Affirmations, 6)
}

func TestMatch_InputValidation(t *testing.T) {
	m := New(newLibrary(t), nil)

	_, err := m.Match(context.Background(), Input{UserIntention: "", Goal: domain.GoalCalm})
	assert.Error(t, err)

	_, err = m.Match(context.Background(), Input{
		UserIntention: strings.Repeat("x", 501),
		Goal:          domain.GoalCalm,
	})
	assert.Error(t, err)

	_, err = m.Match(context.Background(), Input{UserIntention: "fine", Goal: "mood"})
	assert.Error(t, err)
}
