// SPDX-License-Identifier: MIT

package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloop/affirmd/internal/cache"
	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mem := cache.NewMemoryStore(time.Minute)
	t.Cleanup(mem.Stop)

	s, err := NewStore(db, cache.New(nil, mem))
	require.NoError(t, err)
	return s
}

func TestGet_DefaultsForUnknownUser(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), p)

	// Guests always get defaults.
	p, err = s.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), p)
}

func TestUpdate_PartialPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	voice := "warm"
	spacing := 15
	p, err := s.Update(ctx, "u1", Patch{VoiceID: &voice, SpacingSeconds: &spacing})
	require.NoError(t, err)
	assert.Equal(t, "warm", p.VoiceID)
	assert.Equal(t, 15, p.SpacingSeconds)
	assert.Equal(t, domain.PaceNormal, p.Pace, "unpatched fields keep defaults")

	// Cache was invalidated; the fresh value is visible.
	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	pace := domain.PaceSlow
	p, err = s.Update(ctx, "u1", Patch{Pace: &pace})
	require.NoError(t, err)
	assert.Equal(t, "warm", p.VoiceID, "second patch keeps earlier fields")
	assert.Equal(t, domain.PaceSlow, p.Pace)
}

func TestUpdate_RejectsInvalidValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := "ghost"
	_, err := s.Update(ctx, "u1", Patch{VoiceID: &bad})
	assert.Error(t, err)

	spacing := 7
	_, err = s.Update(ctx, "u1", Patch{SpacingSeconds: &spacing})
	assert.Error(t, err, "7s is not in the allowed spacing set")

	noise := domain.Noise("thunder")
	_, err = s.Update(ctx, "u1", Patch{Noise: &noise})
	assert.Error(t, err)

	_, err = s.Update(ctx, "", Patch{})
	assert.Error(t, err, "guests cannot store preferences")
}
