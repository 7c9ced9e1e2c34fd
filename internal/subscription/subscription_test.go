// SPDX-License-Identifier: MIT

package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/store"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g, err := NewGate(db)
	require.NoError(t, err)
	return g
}

func TestGet_CreatesFreeRow(t *testing.T) {
	g := newGate(t)

	sub, err := g.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, sub.Tier)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Zero(t, sub.CustomSessionsUsed)

	_, err = g.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestConsumeCustomSlot_QuotaBoundary(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	// limit-1 used: the last slot succeeds.
	for i := 0; i < domain.FreeMonthlyCustomSessions; i++ {
		consumed, err := g.ConsumeCustomSlot(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, consumed)
	}

	// At the limit: rejected with the usage snapshot.
	consumed, err := g.ConsumeCustomSlot(ctx, "u1")
	assert.False(t, consumed)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, domain.FreeMonthlyCustomSessions, qe.Limit)
	assert.Equal(t, domain.FreeMonthlyCustomSessions, qe.Used)
	assert.Equal(t, domain.TierFree, qe.Tier)

	sub, err := g.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.FreeMonthlyCustomSessions, sub.CustomSessionsUsed,
		"counter never exceeds the limit")

	// Pro bypasses the quota without claiming a slot.
	require.NoError(t, g.SetTier(ctx, "u1", domain.TierPro))
	consumed, err = g.ConsumeCustomSlot(ctx, "u1")
	assert.NoError(t, err)
	assert.False(t, consumed, "bypass leaves nothing to release")
}

func TestConsumeCustomSlot_ConcurrentRace(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	// used = limit-1: exactly one of two concurrent claims may win.
	for i := 0; i < domain.FreeMonthlyCustomSessions-1; i++ {
		_, err := g.ConsumeCustomSlot(ctx, "u1")
		require.NoError(t, err)
	}

	var ok, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.ConsumeCustomSlot(ctx, "u1")
			var qe *QuotaExceededError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &qe):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, rejected.Load())

	sub, err := g.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.FreeMonthlyCustomSessions, sub.CustomSessionsUsed)
}

func TestReleaseCustomSlot_Rollback(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	consumed, err := g.ConsumeCustomSlot(ctx, "u1")
	require.NoError(t, err)
	require.True(t, consumed)
	g.ReleaseCustomSlot(ctx, "u1")

	sub, err := g.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, sub.CustomSessionsUsed)

	// Release at zero stays at zero.
	g.ReleaseCustomSlot(ctx, "u1")
	sub, err = g.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, sub.CustomSessionsUsed)
}

func TestLazyReset_NewMonth(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	for i := 0; i < domain.FreeMonthlyCustomSessions; i++ {
		_, err := g.ConsumeCustomSlot(ctx, "u1")
		require.NoError(t, err)
	}

	// Backdate the reset marker into the previous month.
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	_, err := g.db.ExecContext(ctx,
		`UPDATE user_subscriptions SET last_reset = ? WHERE user_id = ?`,
		lastMonth.Format(time.RFC3339), "u1")
	require.NoError(t, err)

	sub, err := g.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, sub.CustomSessionsUsed, "read in a new month resets the counter")
	assert.True(t, domain.SameMonth(sub.LastResetDate, time.Now().UTC()))

	consumed, err := g.ConsumeCustomSlot(ctx, "u1")
	assert.NoError(t, err)
	assert.True(t, consumed)
}

func TestVerifyPurchase_IdempotentWithinPeriod(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	sub, err := g.VerifyPurchase(ctx, "u1", "com.mindloop.pro.monthly", "ios")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, sub.Tier)
	assert.Equal(t, BillingMonthly, sub.BillingPeriod)
	assert.Equal(t, StatusActive, sub.Status)
	firstEnd := sub.PeriodEnd

	again, err := g.VerifyPurchase(ctx, "u1", "com.mindloop.pro.monthly", "ios")
	require.NoError(t, err)
	assert.Equal(t, firstEnd, again.PeriodEnd, "no double-extension within the period")

	_, err = g.VerifyPurchase(ctx, "u1", "com.mindloop.pro.lifetime", "ios")
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestVerifyPurchase_AnnualPeriod(t *testing.T) {
	g := newGate(t)

	sub, err := g.VerifyPurchase(context.Background(), "u1", "com.mindloop.pro.annual", "android")
	require.NoError(t, err)
	assert.Equal(t, BillingYearly, sub.BillingPeriod)
	assert.InDelta(t, 365*24, sub.PeriodEnd.Sub(sub.PeriodStart).Hours(), 25)
}

func TestCancel_KeepsTierUntilPeriodEnd(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	_, err := g.VerifyPurchase(ctx, "u1", "com.mindloop.pro.monthly", "ios")
	require.NoError(t, err)

	sub, err := g.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, sub.Tier, "tier unchanged until period end")
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, StatusCancelled, sub.Status)

	// Cancel on a free user is a no-op.
	free, err := g.Cancel(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, free.Tier)
	assert.False(t, free.CancelAtPeriodEnd)
}
