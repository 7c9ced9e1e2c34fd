// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"fmt"

	"github.com/mindloop/affirmd/internal/domain"
)

// seedLine is a compact starter-library entry.
type seedLine struct {
	text string
	tags []string
}

var seedLines = map[domain.Goal][]seedLine{
	domain.GoalSleep: {
		{"I release the day and welcome deep rest", []string{"rest", "release"}},
		{"My body knows how to sleep peacefully", []string{"body", "peace"}},
		{"I am safe and my mind is quiet", []string{"safety", "quiet"}},
		{"Every breath carries me closer to sleep", []string{"breath"}},
		{"I let go of every thought that kept me awake", []string{"release"}},
		{"Rest comes to me easily tonight", []string{"ease"}},
	},
	domain.GoalFocus: {
		{"I give my full attention to one task", []string{"attention", "task"}},
		{"My mind is clear and sharp", []string{"clarity"}},
		{"I work with calm steady concentration", []string{"calm", "concentration"}},
		{"Distractions pass and my focus returns", []string{"distraction"}},
		{"I finish what I start", []string{"completion"}},
		{"My attention grows stronger every day", []string{"attention", "growth"}},
	},
	domain.GoalCalm: {
		{"I am at peace in this moment", []string{"peace", "present"}},
		{"My breath anchors me in the present", []string{"breath", "present"}},
		{"I release tension with every exhale", []string{"release", "breath"}},
		{"Calm flows through my body", []string{"body", "calm"}},
		{"I meet this day with a quiet mind", []string{"quiet"}},
		{"I am grounded and centered", []string{"grounded", "centered"}},
	},
	domain.GoalManifest: {
		{"I am creating the life I envision", []string{"vision", "creation"}},
		{"My actions move me toward my goals", []string{"action", "goals"}},
		{"I attract opportunities that serve me", []string{"opportunity"}},
		{"I deserve the success I am building", []string{"worth", "success"}},
		{"My potential is unfolding every day", []string{"potential", "growth"}},
		{"I trust the path I am walking", []string{"trust", "path"}},
	},
}

// seedTemplate pairs a canonical intent with a line subset.
type seedTemplate struct {
	title    string
	intent   string
	keywords []string
	lines    int // first N seeded lines of the goal
}

var seedTemplates = map[domain.Goal]seedTemplate{
	domain.GoalSleep: {
		title:    "Deep Sleep",
		intent:   "I want to fall asleep quickly and rest deeply",
		keywords: []string{"sleep", "rest", "fall", "asleep", "deep"},
		lines:    6,
	},
	domain.GoalFocus: {
		title:    "Deep Work",
		intent:   "I want to concentrate on my work without distractions",
		keywords: []string{"focus", "concentrate", "work", "distractions"},
		lines:    6,
	},
	domain.GoalCalm: {
		title:    "Present Moment",
		intent:   "I want to find peace and center myself in the present moment",
		keywords: []string{"peace", "center", "present", "moment", "calm"},
		lines:    6,
	},
	domain.GoalManifest: {
		title:    "Build My Vision",
		intent:   "I want to manifest my goals and build the life I envision",
		keywords: []string{"manifest", "goals", "build", "life", "envision"},
		lines:    6,
	},
}

// Seed loads the starter library on first boot. It is a no-op when any
// affirmation already exists.
func (s *Store) Seed(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM affirmations`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for goal, lines := range seedLines {
		ids := make([]string, 0, len(lines))
		for _, sl := range lines {
			line, err := s.CreateAffirmation(ctx, sl.text, goal, sl.tags, "")
			if err != nil {
				return fmt.Errorf("library: seed line: %w", err)
			}
			ids = append(ids, line.ID)
		}

		st := seedTemplates[goal]
		n := st.lines
		if n > len(ids) {
			n = len(ids)
		}
		cat, hz := domain.DefaultBinaural(goal)
		if _, err := s.CreateTemplate(ctx, SessionTemplate{
			Title:            st.title,
			Goal:             goal,
			Intent:           st.intent,
			Keywords:         st.keywords,
			AffirmationIDs:   ids[:n],
			BinauralCategory: cat,
			BinauralHz:       hz,
			TargetSeconds:    domain.BaseSessionSeconds,
			IsDefault:        true,
		}); err != nil {
			return fmt.Errorf("library: seed template: %w", err)
		}
	}
	return nil
}
