package metatot

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/rand/metatot/internal/metatot/gate"
	"github.com/rand/metatot/internal/metatot/search"
)

func newTestEngine(t *testing.T, gen search.Generator) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Generator = gen
	cfg.Search.MaxIterations = 5
	cfg.Search.Deadline = 0

	e, err := NewEngine(nil, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineValidation(t *testing.T) {
	e := newTestEngine(t, &search.StubGenerator{})
	ctx := context.Background()

	if _, err := e.Run(ctx, Request{GoalVector: map[string]float64{"a": 1}}); !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("expected ErrEmptyTask, got %v", err)
	}
	if _, err := e.Run(ctx, Request{Task: "do something"}); !errors.Is(err, ErrEmptyGoal) {
		t.Fatalf("expected ErrEmptyGoal, got %v", err)
	}

	if _, err := NewEngine(nil, DefaultConfig()); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("engine without any generator must be rejected, got %v", err)
	}
}

func TestEngineDirectMode(t *testing.T) {
	e := newTestEngine(t, &search.StubGenerator{})

	// Trivial task with low declared uncertainty stays below both
	// thresholds.
	result, err := e.Run(context.Background(), Request{
		Task:       "What time is it?",
		Context:    map[string]any{"uncertainty": 0.1},
		GoalVector: map[string]float64{"answered": 1.0},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Decision.Mode != gate.ModeDirect {
		t.Fatalf("mode = %v, want direct (%s)", result.Decision.Mode, result.Decision.Rationale)
	}
	if result.Session != nil {
		t.Fatal("direct mode must not create a session")
	}
	if result.PathEFE != nil || result.Confidence != nil || result.SelectedAction != "" {
		t.Fatalf("direct mode must leave search outputs empty: %+v", result)
	}
}

func TestEngineDeepSearch(t *testing.T) {
	e := newTestEngine(t, &search.StubGenerator{Branching: 2})

	result, err := e.Run(context.Background(), Request{
		Task:       "Plan the storage migration while keeping the old API available.",
		Context:    map[string]any{"uncertainty": 0.9},
		GoalVector: map[string]float64{"on_track": 1.0, "off_track": 0.0},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Decision.Mode != gate.ModeDeepSearch {
		t.Fatalf("mode = %v, want deep_search (%s)", result.Decision.Mode, result.Decision.Rationale)
	}

	session := result.Session
	if session == nil {
		t.Fatal("deep search must create a session")
	}
	if session.ID == "" || session.CompletedAt.Before(session.StartedAt) {
		t.Fatalf("session lifecycle broken: %+v", session)
	}
	if result.SelectedAction == "" || len(session.SelectedPath) < 2 {
		t.Fatalf("expected a selected action and path, got %+v", result)
	}
	if session.SelectedPath[0] != session.Tree().Root().ID {
		t.Fatal("selected path must start at the root")
	}

	if result.PathEFE == nil || result.Confidence == nil {
		t.Fatal("deep search must report path EFE and confidence")
	}
	if *result.Confidence < 0 || *result.Confidence > 1 {
		t.Fatalf("confidence %v out of [0,1]", *result.Confidence)
	}
	wantConf := 1 - *result.PathEFE/(2*float64(len(session.SelectedPath)))
	if math.Abs(*result.Confidence-wantConf) > 1e-9 {
		t.Fatalf("confidence %v, want %v", *result.Confidence, wantConf)
	}

	if session.Metrics.TotalFreeEnergy != *result.PathEFE {
		t.Fatalf("total free energy %v should equal path EFE %v",
			session.Metrics.TotalFreeEnergy, *result.PathEFE)
	}
	if session.Metrics.Iterations == 0 || session.Metrics.NodesCreated < 2 {
		t.Fatalf("metrics not populated: %+v", session.Metrics)
	}

	if result.TraceID == "" {
		t.Fatal("completed session must be traced")
	}
}

func TestEngineScoringWorkedExample(t *testing.T) {
	// A generator that always returns one child with uniform beliefs over
	// two hypotheses, steering toward a one-hot goal. The child's EFE is
	// uncertainty 1.0 plus cosine divergence (1 - sqrt(2)/2)/2, and path EFE
	// is the plain sum over root and child.
	gen := search.GeneratorFunc(func(_ context.Context, _ *search.Node, _ search.Phase) ([]search.Proposal, error) {
		return []search.Proposal{{
			Thought: "the only option",
			Beliefs: map[string]float64{"a": 0.5, "b": 0.5},
		}}, nil
	})

	cfg := DefaultConfig()
	cfg.Generator = gen
	cfg.Search.MaxIterations = 1
	cfg.Search.Deadline = 0

	e, err := NewEngine(nil, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	result, err := e.Run(context.Background(), Request{
		Task:       "pick a branch",
		Context:    map[string]any{"uncertainty": 0.9},
		GoalVector: map[string]float64{"a": 1.0, "b": 0.0},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	nodeEFE := 1.0 + (1-math.Sqrt2/2)/2
	// Root starts uniform over the goal hypotheses, so both nodes carry the
	// same free energy.
	wantPathEFE := 2 * nodeEFE

	if result.PathEFE == nil {
		t.Fatal("path EFE missing")
	}
	if math.Abs(*result.PathEFE-wantPathEFE) > 1e-6 {
		t.Fatalf("path EFE = %v, want %v", *result.PathEFE, wantPathEFE)
	}
}

func TestEngineNoViableBranches(t *testing.T) {
	e := newTestEngine(t, search.EmptyGenerator{})

	result, err := e.Run(context.Background(), Request{
		Task:       "Design the rollout plan and evaluate alternatives step by step.",
		GoalVector: map[string]float64{"done": 1.0},
	})
	if err != nil {
		t.Fatalf("no viable branches is a defined outcome, not an error: %v", err)
	}

	if !result.NoViableBranches() {
		t.Fatalf("expected NoViableBranches, got %+v", result)
	}
	if result.SelectedAction != "" || result.PathEFE != nil || result.Confidence != nil {
		t.Fatalf("no-branch result must not carry search outputs: %+v", result)
	}
	if result.Session == nil || result.TraceID == "" {
		t.Fatal("failed sessions are still traced for audit")
	}
}

func TestEngineTraceRoundTrip(t *testing.T) {
	e := newTestEngine(t, &search.StubGenerator{Branching: 2})
	ctx := context.Background()

	result, err := e.Run(ctx, Request{
		Task:       "Plan and compare the two candidate designs; prioritize carefully.",
		GoalVector: map[string]float64{"on_track": 1.0, "off_track": 0.0},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	tr, err := e.Trace(ctx, result.TraceID)
	if err != nil {
		t.Fatalf("retrieve trace: %v", err)
	}

	var payload struct {
		Session struct {
			ID           string   `json:"session_id"`
			SelectedPath []string `json:"selected_path"`
		} `json:"session"`
		Nodes []NodeRecord `json:"nodes"`
	}
	if err := json.Unmarshal(tr.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	if payload.Session.ID != result.Session.ID {
		t.Fatalf("trace session %q, want %q", payload.Session.ID, result.Session.ID)
	}
	if len(payload.Nodes) != result.Session.Metrics.NodesCreated {
		t.Fatalf("trace carries %d nodes, session created %d",
			len(payload.Nodes), result.Session.Metrics.NodesCreated)
	}

	// The serialized selected path must be reconstructible as a chain of the
	// serialized nodes.
	byID := make(map[string]NodeRecord, len(payload.Nodes))
	for _, n := range payload.Nodes {
		byID[n.ID] = n
	}
	for i, id := range payload.Session.SelectedPath {
		n, ok := byID[id]
		if !ok {
			t.Fatalf("path node %s missing from trace", id)
		}
		if i > 0 && n.ParentID != payload.Session.SelectedPath[i-1] {
			t.Fatalf("trace path broken at %s", id)
		}
		if !n.Selected {
			t.Fatalf("path node %s not flagged selected in trace", id)
		}
	}
}
