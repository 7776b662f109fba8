package search

import (
	"context"
	"fmt"
)

// Proposal is one candidate thought returned by the generator, with the
// belief hypotheses the inference service attached to it. Belief weights are
// normalized by the engine; they do not need to sum to one.
type Proposal struct {
	// Thought is the textual content of the candidate step.
	Thought string

	// Beliefs maps hypothesis names to confidence weights.
	Beliefs map[string]float64
}

// Generator produces candidate proposals for a node. Implementations call
// the external inference service; the engine treats a generator error or an
// empty proposal list as an unexpandable node, never as a fatal condition.
//
// Generators must be safe for concurrent use: sibling expansions within one
// iteration run in parallel.
type Generator interface {
	Expand(ctx context.Context, node *Node, phase Phase) ([]Proposal, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, node *Node, phase Phase) ([]Proposal, error)

// Expand implements Generator.
func (f GeneratorFunc) Expand(ctx context.Context, node *Node, phase Phase) ([]Proposal, error) {
	return f(ctx, node, phase)
}

// StubGenerator produces deterministic proposals for tests and offline runs.
type StubGenerator struct {
	// Branching is the number of proposals per expansion (default 2).
	Branching int

	// Beliefs overrides the belief weights attached to every proposal.
	// Defaults to a uniform two-hypothesis split.
	Beliefs map[string]float64
}

// Expand implements Generator.
func (g *StubGenerator) Expand(_ context.Context, node *Node, phase Phase) ([]Proposal, error) {
	count := g.Branching
	if count <= 0 {
		count = 2
	}

	beliefs := g.Beliefs
	if beliefs == nil {
		beliefs = map[string]float64{"on_track": 0.5, "off_track": 0.5}
	}

	proposals := make([]Proposal, count)
	for i := range proposals {
		proposals[i] = Proposal{
			Thought: fmt.Sprintf("%s step d%d b%d", phase, node.Depth+1, i),
			Beliefs: beliefs,
		}
	}
	return proposals, nil
}

// EmptyGenerator always returns zero proposals; used to exercise the
// exhaustion path.
type EmptyGenerator struct{}

// Expand implements Generator.
func (EmptyGenerator) Expand(context.Context, *Node, Phase) ([]Proposal, error) {
	return nil, nil
}
