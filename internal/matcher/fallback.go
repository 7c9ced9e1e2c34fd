// SPDX-License-Identifier: MIT

package matcher

import "github.com/mindloop/affirmd/internal/domain"

// fallbackLines are the pre-baked static lists served when the library pool is
// empty and no LLM is available. Exactly 6 per goal; zero cost.
var fallbackLines = map[domain.Goal][]string{
	domain.GoalSleep: {
		"I am ready for deep and restful sleep",
		"My mind grows quiet as I rest",
		"I release today and welcome tomorrow",
		"My body relaxes from head to toe",
		"Sleep comes to me naturally",
		"I am safe, warm, and at ease",
	},
	domain.GoalFocus: {
		"I am fully present with my work",
		"My concentration deepens with every breath",
		"I move through my tasks with clarity",
		"My mind is calm and directed",
		"I choose where my attention goes",
		"I make steady progress today",
	},
	domain.GoalCalm: {
		"I am calm and centered",
		"My breath is slow and steady",
		"I let go of what I cannot control",
		"Peace settles over my thoughts",
		"I am grounded in this moment",
		"My body and mind are at ease",
	},
	domain.GoalManifest: {
		"I am building the life I imagine",
		"My goals are within my reach",
		"I act with intention and purpose",
		"I welcome the growth coming my way",
		"My efforts compound every day",
		"I trust myself to follow through",
	},
}

// FallbackAffirmations returns the static list for a goal.
func FallbackAffirmations(goal domain.Goal) []string {
	lines := fallbackLines[goal]
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}
