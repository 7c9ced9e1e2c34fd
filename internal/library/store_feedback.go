// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"fmt"
	"strings"
)

// ratingCap bounds the rolling rating nudge.
const ratingCap = 5.0

// RewardAffirmations bumps the use count and nudges the rolling rating of the
// given lines by delta, clamped at 5.0. Used by positive feedback on pooled
// matches; best-effort and idempotent at the row level.
func (s *Store) RewardAffirmations(ctx context.Context, ids []string, delta float64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+2)
	args = append(args, delta, ratingCap)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE affirmations
		SET use_count = use_count + 1,
		    rating = MIN(rating + ?, ?)
		WHERE id IN (%s)`, placeholders), args...)
	return err
}

// RewardTemplate bumps the use count and nudges the rolling rating of a
// template, clamped at 5.0. Used by positive feedback on exact matches.
func (s *Store) RewardTemplate(ctx context.Context, id string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET use_count = use_count + 1,
		    rating = MIN(rating + ?, ?)
		WHERE id = ?`, delta, ratingCap, id)
	return err
}

// BumpTemplateUse increments a template's use count on selection.
func (s *Store) BumpTemplateUse(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE templates SET use_count = use_count + 1 WHERE id = ?`, id)
	return err
}
