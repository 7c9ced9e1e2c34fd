// SPDX-License-Identifier: MIT

package llm

import (
	"fmt"
	"strings"

	"github.com/mindloop/affirmd/internal/domain"
)

// goalTone is the per-goal voice guidance woven into the system prompt.
var goalTone = map[domain.Goal]string{
	domain.GoalSleep:    "soothing and slow, oriented toward rest, release and safety",
	domain.GoalFocus:    "clear and energizing, oriented toward attention, clarity and completion",
	domain.GoalCalm:     "gentle and grounding, oriented toward breath, presence and ease",
	domain.GoalManifest: "confident and expansive, oriented toward growth, intention and self-trust",
}

func systemPrompt(goal domain.Goal) string {
	var b strings.Builder
	b.WriteString("You write short spoken affirmations for a guided audio session.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- First person, present tense, at most 12 words each.\n")
	b.WriteString("- At least 2 lines starting with \"I am\".\n")
	b.WriteString("- At least 2 lines starting with \"I\" followed by an action verb.\n")
	b.WriteString("- At least 1 line starting with \"My\".\n")
	b.WriteString("- Tone: ")
	b.WriteString(goalTone[goal])
	b.WriteString(".\n")
	b.WriteString("- Output plain text: one affirmation per line, no numbering, no quotes, no extra text.\n")
	return b.String()
}

func userPrompt(goal domain.Goal, userIntention, nudge string) string {
	p := fmt.Sprintf("Write between 6 and 10 affirmations for the goal %q, specific to this intention: %s",
		goal, userIntention)
	if nudge != "" {
		p += "\n" + nudge
	}
	return p
}
