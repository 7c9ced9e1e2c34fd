// SPDX-License-Identifier: MIT

// Package subscription tracks user tiers and enforces the monthly
// custom-session quota with atomic conditional updates.
package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// Status is the billing lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// BillingPeriod is derived from the purchased product ID.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// Subscription is one user's tier and usage state.
type Subscription struct {
	UserID             string
	Tier               domain.Tier
	Status             Status
	BillingPeriod      BillingPeriod // empty for free tier
	PeriodStart        time.Time
	PeriodEnd          time.Time
	CancelAtPeriodEnd  bool
	CustomSessionsUsed int
	LastResetDate      time.Time
}

// QuotaExceededError rejects a custom-session creation over the monthly limit.
type QuotaExceededError struct {
	Limit int
	Used  int
	Tier  domain.Tier
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("subscription: monthly quota exceeded (%d/%d, tier %s)", e.Used, e.Limit, e.Tier)
}

// ErrInvalidProduct rejects purchase verification with an unknown product ID.
var ErrInvalidProduct = fmt.Errorf("subscription: invalid product id")

// Gate is the subscription store and quota enforcer.
type Gate struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewGate runs the migration against the shared database handle.
func NewGate(db *sql.DB) (*Gate, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_subscriptions (
			user_id              TEXT PRIMARY KEY,
			tier                 TEXT NOT NULL DEFAULT 'free',
			status               TEXT NOT NULL DEFAULT 'active',
			billing_period       TEXT NOT NULL DEFAULT '',
			period_start         TEXT NOT NULL DEFAULT '',
			period_end           TEXT NOT NULL DEFAULT '',
			cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
			custom_used          INTEGER NOT NULL DEFAULT 0 CHECK (custom_used >= 0),
			last_reset           TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_reset_tier
			ON user_subscriptions(last_reset, tier)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_tier_status
			ON user_subscriptions(tier, status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("subscription: migration failed: %w", err)
		}
	}
	return &Gate{db: db, logger: log.WithComponent("subscription")}, nil
}

// Get returns the user's subscription, creating a free-tier row on first read
// and applying the lazy monthly reset.
func (g *Gate) Get(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("subscription: user id required")
	}
	if err := g.ensure(ctx, userID); err != nil {
		return nil, err
	}
	if err := g.lazyReset(ctx, userID); err != nil {
		return nil, err
	}
	return g.load(ctx, userID)
}

// ConsumeCustomSlot atomically claims one custom-session creation. Pro-tier
// users bypass the quota without consuming a slot, reported as false so the
// caller knows there is nothing to release. The zero-rows-affected case is
// the rejection.
func (g *Gate) ConsumeCustomSlot(ctx context.Context, userID string) (bool, error) {
	sub, err := g.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub.Tier == domain.TierPro {
		return false, nil
	}

	res, err := g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET custom_used = custom_used + 1
		WHERE user_id = ? AND tier = 'free' AND custom_used < ?`,
		userID, domain.FreeMonthlyCustomSessions)
	if err != nil {
		return false, fmt.Errorf("subscription: consume slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("subscription: consume slot: %w", err)
	}
	if n == 0 {
		metrics.QuotaRejectTotal.Inc()
		cur, _ := g.load(ctx, userID)
		used := domain.FreeMonthlyCustomSessions
		if cur != nil {
			used = cur.CustomSessionsUsed
		}
		return false, &QuotaExceededError{
			Limit: domain.FreeMonthlyCustomSessions,
			Used:  used,
			Tier:  domain.TierFree,
		}
	}
	return true, nil
}

// ReleaseCustomSlot undoes a consumed slot after a downstream failure.
// Best-effort; a failed release is logged, not surfaced.
func (g *Gate) ReleaseCustomSlot(ctx context.Context, userID string) {
	_, err := g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET custom_used = custom_used - 1
		WHERE user_id = ? AND custom_used > 0`, userID)
	if err != nil {
		g.logger.Error().Err(err).
			Str(log.FieldUserID, userID).
			Msg("quota rollback failed")
	}
}

// VerifyPurchase records an upgrade to pro. Repeating the call with the same
// product within the current period returns the unchanged state.
func (g *Gate) VerifyPurchase(ctx context.Context, userID, productID, platform string) (*Subscription, error) {
	var period BillingPeriod
	switch {
	case strings.HasSuffix(productID, "monthly"):
		period = BillingMonthly
	case strings.HasSuffix(productID, "annual"):
		period = BillingYearly
	default:
		return nil, ErrInvalidProduct
	}

	sub, err := g.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// Idempotent within the period: no double-extension.
	if sub.Tier == domain.TierPro && sub.BillingPeriod == period && sub.PeriodEnd.After(now) {
		return sub, nil
	}

	end := now.AddDate(0, 1, 0)
	if period == BillingYearly {
		end = now.AddDate(1, 0, 0)
	}
	_, err = g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET tier = 'pro', status = 'active', billing_period = ?,
		    period_start = ?, period_end = ?, cancel_at_period_end = 0
		WHERE user_id = ?`,
		string(period), now.Format(time.RFC3339), end.Format(time.RFC3339), userID)
	if err != nil {
		return nil, fmt.Errorf("subscription: verify purchase: %w", err)
	}

	g.logger.Info().
		Str(log.FieldUserID, userID).
		Str("product_id", productID).
		Str("platform", platform).
		Msg("subscription upgraded")
	return g.load(ctx, userID)
}

// Cancel flags the subscription to lapse at period end. The tier stays pro
// until an external billing collaborator expires it.
func (g *Gate) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := g.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Tier != domain.TierPro {
		return sub, nil
	}
	_, err = g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET cancel_at_period_end = 1, status = 'cancelled'
		WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("subscription: cancel: %w", err)
	}
	return g.load(ctx, userID)
}

// SetTier is used by admin tooling and tests to force a tier.
func (g *Gate) SetTier(ctx context.Context, userID string, tier domain.Tier) error {
	if err := g.ensure(ctx, userID); err != nil {
		return err
	}
	_, err := g.db.ExecContext(ctx,
		`UPDATE user_subscriptions SET tier = ? WHERE user_id = ?`, string(tier), userID)
	if err != nil {
		return fmt.Errorf("subscription: set tier: %w", err)
	}
	return nil
}

func (g *Gate) ensure(ctx context.Context, userID string) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, last_reset) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("subscription: ensure row: %w", err)
	}
	return nil
}

// lazyReset zeroes the counter when the stored reset month is older than the
// current calendar month. The month comparison runs inside the UPDATE so the
// reset is atomic under concurrent reads.
func (g *Gate) lazyReset(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET custom_used = 0, last_reset = ?
		WHERE user_id = ? AND substr(last_reset, 1, 7) < ?`,
		now.Format(time.RFC3339), userID, now.Format("2006-01"))
	if err != nil {
		return fmt.Errorf("subscription: lazy reset: %w", err)
	}
	return nil
}

func (g *Gate) load(ctx context.Context, userID string) (*Subscription, error) {
	var s Subscription
	var period, start, end, reset string
	var cancel int
	err := g.db.QueryRowContext(ctx, `
		SELECT user_id, tier, status, billing_period, period_start, period_end,
		       cancel_at_period_end, custom_used, last_reset
		FROM user_subscriptions WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.Tier, &s.Status, &period, &start, &end,
			&cancel, &s.CustomSessionsUsed, &reset)
	if err != nil {
		return nil, fmt.Errorf("subscription: load: %w", err)
	}
	s.BillingPeriod = BillingPeriod(period)
	s.CancelAtPeriodEnd = cancel != 0
	s.PeriodStart, _ = time.Parse(time.RFC3339, start)
	s.PeriodEnd, _ = time.Parse(time.RFC3339, end)
	s.LastResetDate, _ = time.Parse(time.RFC3339, reset)
	return &s, nil
}
