// SPDX-License-Identifier: MIT

package genlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/store"
)

func newLog(t *testing.T) (*Log, *library.Store) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lib, err := library.NewStore(db)
	require.NoError(t, err)
	l, err := NewLog(db, lib)
	require.NoError(t, err)
	return l, lib
}

func TestRecord_RoundTrip(t *testing.T) {
	l, _ := newLog(t)
	ctx := context.Background()

	e, err := l.Record(ctx, Entry{
		UserID:           "u1",
		UserIntent:       "calm me down",
		Goal:             "calm",
		MatchType:        "pooled",
		Confidence:       0.72,
		AffirmationsUsed: []string{"a1", "a2"},
		SessionID:        "s1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	got, err := l.BySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "pooled", got.MatchType)
	assert.Equal(t, []string{"a1", "a2"}, got.AffirmationsUsed)
	assert.InDelta(t, 0.72, got.Confidence, 0.001)
	assert.Zero(t, got.APICost)
	assert.False(t, got.WasRated)
}

func TestRecord_Validation(t *testing.T) {
	l, _ := newLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, Entry{Goal: "calm"})
	assert.Error(t, err, "match type required")

	_, err = l.Record(ctx, Entry{MatchType: "generated", APICost: -1})
	assert.Error(t, err)
}

func TestRate_UpdatesLatestRow(t *testing.T) {
	l, _ := newLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, Entry{UserID: "u1", MatchType: "fallback", SessionID: "s1"})
	require.NoError(t, err)

	replayed := true
	require.NoError(t, l.Rate(ctx, "s1", "u1", 3, &replayed))

	got, err := l.BySession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.WasRated)
	assert.Equal(t, 3, got.UserRating)
	assert.True(t, got.WasReplayed)

	assert.ErrorIs(t, l.Rate(ctx, "missing", "u1", 5, nil), ErrNoLog)
	assert.Error(t, l.Rate(ctx, "s1", "u1", 6, nil))
}

func TestRate_PositivePooledRewardsLines(t *testing.T) {
	l, lib := newLog(t)
	ctx := context.Background()

	line, err := lib.CreateAffirmation(ctx, "I am at ease", domain.GoalCalm, nil, "")
	require.NoError(t, err)

	_, err = l.Record(ctx, Entry{
		UserID: "u1", MatchType: "pooled", SessionID: "s1",
		AffirmationsUsed: []string{line.ID},
	})
	require.NoError(t, err)

	require.NoError(t, l.Rate(ctx, "s1", "u1", 5, nil))

	lines, err := lib.GetAffirmations(ctx, []string{line.ID})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.InDelta(t, 0.1, lines[0].Rating, 0.001)
	assert.Equal(t, 1, lines[0].UseCount)

	// Rating again does not double the reward.
	require.NoError(t, l.Rate(ctx, "s1", "u1", 5, nil))
	lines, err = lib.GetAffirmations(ctx, []string{line.ID})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, lines[0].Rating, 0.001)
	assert.Equal(t, 1, lines[0].UseCount)
}

func TestRate_PositiveExactRewardsTemplate(t *testing.T) {
	l, lib := newLog(t)
	ctx := context.Background()

	require.NoError(t, lib.Seed(ctx))
	tpls, err := lib.FindTemplatesByGoal(ctx, domain.GoalCalm)
	require.NoError(t, err)
	require.NotEmpty(t, tpls)
	tpl := tpls[0]

	_, err = l.Record(ctx, Entry{
		UserID: "u1", MatchType: "exact", SessionID: "s1", TemplateID: tpl.ID,
	})
	require.NoError(t, err)
	require.NoError(t, l.Rate(ctx, "s1", "u1", 4, nil))

	after, err := lib.FindTemplatesByGoal(ctx, domain.GoalCalm)
	require.NoError(t, err)
	for _, cand := range after {
		if cand.ID == tpl.ID {
			assert.InDelta(t, tpl.Rating+0.1, cand.Rating, 0.001)
			return
		}
	}
	t.Fatal("template not found after reward")
}

func TestRate_LowRatingSkipsReward(t *testing.T) {
	l, lib := newLog(t)
	ctx := context.Background()

	line, err := lib.CreateAffirmation(ctx, "I am at ease", domain.GoalCalm, nil, "")
	require.NoError(t, err)

	_, err = l.Record(ctx, Entry{
		UserID: "u1", MatchType: "pooled", SessionID: "s1",
		AffirmationsUsed: []string{line.ID},
	})
	require.NoError(t, err)
	require.NoError(t, l.Rate(ctx, "s1", "u1", 2, nil))

	lines, err := lib.GetAffirmations(ctx, []string{line.ID})
	require.NoError(t, err)
	assert.Zero(t, lines[0].Rating)
	assert.Zero(t, lines[0].UseCount)
}

func TestRate_TargetsLatestEntry(t *testing.T) {
	l, _ := newLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, Entry{UserID: "u1", MatchType: "fallback", SessionID: "s1"})
	require.NoError(t, err)
	second, err := l.Record(ctx, Entry{UserID: "u1", MatchType: "generated", APICost: 0.21, SessionID: "s1"})
	require.NoError(t, err)

	require.NoError(t, l.Rate(ctx, "s1", "u1", 5, nil))

	got, err := l.BySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.True(t, got.WasRated)
}
