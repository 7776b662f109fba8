package candidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rand/metatot/internal/metatot/search"
)

// LLMGenerator implements search.Generator by prompting an LLM for
// phase-typed proposals. It is scoped to one task; the client it wraps is
// shared and must be safe for concurrent use.
type LLMGenerator struct {
	client      LLMClient
	task        string
	taskContext string
	config      Config
}

// NewLLMGenerator creates a generator for one task.
func NewLLMGenerator(client LLMClient, task, taskContext string, config Config) *LLMGenerator {
	if config.Branching <= 0 {
		config.Branching = DefaultConfig().Branching
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}

	return &LLMGenerator{
		client:      client,
		task:        task,
		taskContext: taskContext,
		config:      config,
	}
}

// Expand implements search.Generator.
func (g *LLMGenerator) Expand(ctx context.Context, node *search.Node, phase search.Phase) ([]search.Proposal, error) {
	if g.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.CallTimeout)
		defer cancel()
	}

	prompt := buildPrompt(g.task, g.taskContext, node, phase, g.config.Branching)

	response, err := g.client.Complete(ctx, prompt, g.config.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("expand %s (%s): %w", node.ID, phase, err)
	}

	proposals, err := parseProposals(response)
	if err != nil {
		slog.Debug("unparseable expansion response",
			"node", node.ID,
			"phase", phase,
			"error", err)
		return nil, fmt.Errorf("parse expansion for %s: %w", node.ID, err)
	}

	if len(proposals) > g.config.Branching {
		proposals = proposals[:g.config.Branching]
	}
	return proposals, nil
}
