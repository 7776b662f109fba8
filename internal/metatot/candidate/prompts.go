package candidate

import (
	"fmt"
	"strings"

	"github.com/rand/metatot/internal/metatot/search"
)

// phaseInstructions maps each expansion phase to the directive the model
// receives for it.
var phaseInstructions = map[search.Phase]string{
	search.PhaseExplore: "Propose divergent next steps. Each proposal should " +
		"take a meaningfully different approach to making progress on the task.",
	search.PhaseChallenge: "Critique the current reasoning step. Each proposal " +
		"should name a weakness, a missing assumption, or a counter-argument, " +
		"and state how to address it.",
	search.PhaseEvolve: "Refine the current reasoning step. Each proposal " +
		"should be a more specific, more actionable variant of it.",
	search.PhaseIntegrate: "Synthesize the reasoning so far into a concrete " +
		"recommended action. Each proposal should be a complete, standalone " +
		"answer to the task.",
}

// buildPrompt assembles the expansion prompt for a node.
func buildPrompt(task, taskContext string, node *search.Node, phase search.Phase, branching int) string {
	var sb strings.Builder

	sb.WriteString("You are generating candidate reasoning steps for a planning engine.\n\n")
	sb.WriteString(fmt.Sprintf("Task: %s\n", task))
	if taskContext != "" {
		sb.WriteString(fmt.Sprintf("Context: %s\n", taskContext))
	}
	sb.WriteString(fmt.Sprintf("Current step (depth %d): %s\n\n", node.Depth, node.Thought))

	sb.WriteString(phaseInstructions[phase])
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Produce exactly %d proposals.\n", branching))
	sb.WriteString("For each, estimate belief weights over the hypotheses ")
	sb.WriteString(`"on_track" and "off_track" reflecting how likely the step leads to the goal.`)
	sb.WriteString("\n\n")
	sb.WriteString(`Output JSON only: {"proposals": [{"thought": "...", "beliefs": {"on_track": 0.0, "off_track": 0.0}}]}`)

	return sb.String()
}
