package search

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/rand/metatot/internal/metatot/active"
)

// TestProperty_SearchInvariants runs randomized searches against the stub
// generator and checks the structural invariants that must hold for any
// configuration.
func TestProperty_SearchInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		config := Config{
			MaxIterations:       rapid.IntRange(1, 12).Draw(t, "iterations"),
			MaxDepth:            rapid.IntRange(1, 5).Draw(t, "max_depth"),
			IntegrateDepth:      rapid.IntRange(0, 4).Draw(t, "integrate_depth"),
			ExplorationConstant: rapid.Float64Range(0.1, 3).Draw(t, "exploration"),
			Parallelism:         rapid.IntRange(1, 4).Draw(t, "parallelism"),
			UnexploredMalus:     rapid.Float64Range(0, 1).Draw(t, "malus"),
		}
		branching := rapid.IntRange(1, 3).Draw(t, "branching")

		goal := map[string]float64{"on_track": 1.0, "off_track": 0.0}
		beliefs, err := active.Normalized(map[string]float64{
			"on_track":  rapid.Float64Range(0.01, 1).Draw(t, "root_on"),
			"off_track": rapid.Float64Range(0.01, 1).Draw(t, "root_off"),
		})
		if err != nil {
			t.Fatalf("root beliefs: %v", err)
		}

		s := NewSearcher(&StubGenerator{Branching: branching}, goal, config)
		outcome, err := s.Run(context.Background(), "prop", active.NewState(beliefs, goal, 0))
		if err != nil && !errors.Is(err, ErrNoViableBranches) {
			t.Fatalf("run: %v", err)
		}

		seen := make(map[string]bool)
		for _, n := range outcome.Tree.Nodes() {
			if seen[n.ID] {
				t.Fatalf("duplicate node ID %s", n.ID)
			}
			seen[n.ID] = true

			if n.Depth > config.MaxDepth {
				t.Fatalf("node %s exceeds max depth: %d > %d", n.ID, n.Depth, config.MaxDepth)
			}
			if n.Visits < 1 && n.ParentID != "" {
				t.Fatalf("child %s has no recorded visits", n.ID)
			}
			if n.ParentID != "" {
				parent := outcome.Tree.Get(n.ParentID)
				if parent == nil || n.Depth != parent.Depth+1 {
					t.Fatalf("node %s breaks the depth chain", n.ID)
				}
			}
		}

		if outcome.Path != nil {
			ids := make([]string, len(outcome.Path))
			for i, n := range outcome.Path {
				ids[i] = n.ID
			}
			if err := outcome.Tree.ValidatePath(ids); err != nil {
				t.Fatalf("best path invalid: %v", err)
			}

			// Each node contributes EFE in [0,2], summed without length
			// normalization.
			if outcome.PathEFE < 0 || outcome.PathEFE > 2*float64(len(outcome.Path)) {
				t.Fatalf("path EFE %v outside [0, %d]", outcome.PathEFE, 2*len(outcome.Path))
			}
		}
	})
}

// TestProperty_PathEFEAdditive verifies the path objective is exactly the sum
// of per-node free energies.
func TestProperty_PathEFEAdditive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		goal := map[string]float64{"a": 1.0, "b": 0.0}

		depth := rapid.IntRange(1, 6).Draw(t, "depth")

		beliefs, _ := active.Normalized(map[string]float64{"a": 0.5, "b": 0.5})
		tree := NewTree("root", active.NewState(beliefs, goal, 0))

		current := tree.Root()
		var want float64 = current.EFE()
		for d := 0; d < depth; d++ {
			w, _ := active.Normalized(map[string]float64{
				"a": rapid.Float64Range(0.01, 1).Draw(t, "wa"),
				"b": rapid.Float64Range(0.01, 1).Draw(t, "wb"),
			})
			state := active.NewState(w, goal, d+1)
			current = tree.AddChild(current, PhaseForDepth(d, 0), "step", state)
			want += state.EFE()
		}

		path := tree.Path(current)
		if got := PathEFE(path); got != want {
			t.Fatalf("path EFE %v, want %v", got, want)
		}
	})
}
