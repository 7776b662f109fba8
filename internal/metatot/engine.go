// Package metatot is a meta tree-of-thoughts planning engine: a decision
// gate chooses between direct answering and deep search, the search engine
// explores phase-typed reasoning branches scored by active-inference free
// energy, and every completed session is persisted as a trace.
package metatot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rand/metatot/internal/metatot/active"
	"github.com/rand/metatot/internal/metatot/candidate"
	"github.com/rand/metatot/internal/metatot/gate"
	"github.com/rand/metatot/internal/metatot/search"
	"github.com/rand/metatot/internal/metatot/trace"
)

// Config configures the engine.
type Config struct {
	// Gate holds the decision thresholds.
	Gate gate.Config

	// Search configures the tree search loop.
	Search search.Config

	// Candidate configures proposal generation.
	Candidate candidate.Config

	// TracePath is the SQLite file for the trace store. Empty uses an
	// in-memory database.
	TracePath string

	// TraceFallbackSize is the capacity of the in-process trace buffer used
	// when the store is unavailable.
	TraceFallbackSize int

	// Generator overrides LLM-backed generation, mainly for tests and
	// offline runs. When set, the LLM client is not consulted.
	Generator search.Generator
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Gate:              gate.DefaultConfig(),
		Search:            search.DefaultConfig(),
		Candidate:         candidate.DefaultConfig(),
		TraceFallbackSize: 64,
	}
}

// Engine runs planning requests. It is safe for concurrent use; each run owns
// its session and tree exclusively.
type Engine struct {
	client   candidate.LLMClient
	config   Config
	recorder *trace.Recorder
}

// NewEngine creates an engine. The client may be nil only when
// Config.Generator is set.
func NewEngine(client candidate.LLMClient, cfg Config) (*Engine, error) {
	if client == nil && cfg.Generator == nil {
		return nil, ErrNoGenerator
	}
	if cfg.TraceFallbackSize <= 0 {
		cfg.TraceFallbackSize = DefaultConfig().TraceFallbackSize
	}

	store, err := trace.NewSQLiteStore(trace.SQLiteConfig{Path: cfg.TracePath})
	if err != nil {
		// The recorder degrades to its ring buffer; the engine still runs.
		slog.Warn("trace store unavailable, traces will be memory-only", "error", err)
		store = nil
	}

	var s trace.Store
	if store != nil {
		s = store
	}

	return &Engine{
		client:   client,
		config:   cfg,
		recorder: trace.NewRecorder(s, cfg.TraceFallbackSize),
	}, nil
}

// Close releases the trace store.
func (e *Engine) Close() error {
	return e.recorder.Close()
}

// Trace returns a persisted trace by ID.
func (e *Engine) Trace(ctx context.Context, traceID string) (*trace.Trace, error) {
	return e.recorder.Retrieve(ctx, traceID)
}

// RecentTraces returns the newest locally buffered traces.
func (e *Engine) RecentTraces(n int) []trace.Trace {
	return e.recorder.Recent(n)
}

// Run executes one planning request: gate, then (if selected) deep search,
// best-path extraction, and trace persistence.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Task == "" {
		return nil, ErrEmptyTask
	}
	if len(req.GoalVector) == 0 {
		return nil, ErrEmptyGoal
	}

	decision := gate.Decide(req.Task, req.Context, e.config.Gate)
	slog.Debug("gate decision",
		"mode", decision.Mode,
		"complexity", decision.ComplexityScore,
		"uncertainty", decision.UncertaintyScore)

	result := &Result{Decision: decision}
	if decision.Mode == gate.ModeDirect {
		return result, nil
	}

	session := &Session{
		ID:             uuid.NewString(),
		Task:           req.Task,
		ContextSummary: summarizeContext(req.Context),
		StartedAt:      time.Now().UTC(),
	}
	result.Session = session

	state, err := rootState(req)
	if err != nil {
		return nil, fmt.Errorf("root belief state: %w", err)
	}

	searcher := search.NewSearcher(e.generator(req), req.GoalVector, e.config.Search)
	outcome, searchErr := searcher.Run(ctx, req.Task, state)
	if searchErr != nil && !errors.Is(searchErr, search.ErrNoViableBranches) {
		return nil, fmt.Errorf("search: %w", searchErr)
	}

	session.CompletedAt = time.Now().UTC()
	session.TerminatedBy = outcome.TerminatedBy
	session.tree = outcome.Tree
	session.Metrics = sessionMetrics(outcome)

	if errors.Is(searchErr, search.ErrNoViableBranches) {
		result.Err = noViableBranches
		e.persist(ctx, session, decision, outcome)
		result.TraceID = session.TraceID
		return result, nil
	}

	leaf := outcome.Path[len(outcome.Path)-1]
	session.SelectedAction = leaf.Thought
	session.SelectedPath = pathIDs(outcome.Path)

	pathEFE := outcome.PathEFE
	conf := confidence(pathEFE, len(outcome.Path))
	result.SelectedAction = session.SelectedAction
	result.PathEFE = &pathEFE
	result.Confidence = &conf

	e.persist(ctx, session, decision, outcome)
	result.TraceID = session.TraceID

	slog.Info("planning run complete",
		"session_id", session.ID,
		"path_len", len(outcome.Path),
		"path_efe", pathEFE,
		"confidence", conf,
		"terminated_by", outcome.TerminatedBy)

	return result, nil
}

// generator returns the proposal source for one request.
func (e *Engine) generator(req Request) search.Generator {
	if e.config.Generator != nil {
		return e.config.Generator
	}
	return candidate.NewLLMGenerator(e.client, req.Task, summarizeContext(req.Context), e.config.Candidate)
}

// rootState builds the initial belief state. Context may carry an explicit
// "beliefs" map; otherwise the root starts maximally uncertain over the goal
// hypotheses.
func rootState(req Request) (active.State, error) {
	weights := beliefsFromContext(req.Context)
	if len(weights) == 0 {
		weights = make(map[string]float64, len(req.GoalVector))
		for name := range req.GoalVector {
			weights[name] = 1
		}
	}

	dist, err := active.Normalized(weights)
	if err != nil {
		return active.State{}, err
	}
	return active.NewState(dist, req.GoalVector, 0), nil
}

func beliefsFromContext(taskContext map[string]any) map[string]float64 {
	raw, ok := taskContext["beliefs"]
	if !ok {
		return nil
	}

	switch m := raw.(type) {
	case map[string]float64:
		return m
	case map[string]any:
		out := make(map[string]float64, len(m))
		for k, v := range m {
			switch f := v.(type) {
			case float64:
				out[k] = f
			case int:
				out[k] = float64(f)
			}
		}
		return out
	}
	return nil
}

// summarizeContext renders the context compactly for prompts and the session
// record.
func summarizeContext(taskContext map[string]any) string {
	if len(taskContext) == 0 {
		return ""
	}
	data, err := json.Marshal(taskContext)
	if err != nil {
		return ""
	}
	const limit = 500
	if len(data) > limit {
		data = data[:limit]
	}
	return string(data)
}

// confidence maps path EFE into [0,1]: each node contributes free energy in
// [0,2], so the sum is normalized by twice the path length and inverted.
func confidence(pathEFE float64, pathLen int) float64 {
	if pathLen <= 0 {
		return 0
	}
	c := 1 - pathEFE/(2*float64(pathLen))
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func sessionMetrics(outcome *search.Outcome) SessionMetrics {
	m := SessionMetrics{
		Duration:         outcome.Stats.Duration,
		Iterations:       outcome.Stats.Iterations,
		Expansions:       outcome.Stats.Expansions,
		FailedExpansions: outcome.Stats.FailedExpansions,
		NodesCreated:     outcome.Stats.NodesCreated,
	}
	for _, n := range outcome.Path {
		m.TotalPredictionError += n.State.PredictionError
		m.TotalFreeEnergy += n.State.FreeEnergy
	}
	return m
}

func pathIDs(path []*search.Node) []string {
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = n.ID
	}
	return ids
}

// persist writes the full session to the trace store. Failure is logged by
// the recorder and never aborts the run.
func (e *Engine) persist(ctx context.Context, session *Session, decision gate.Decision, outcome *search.Outcome) {
	payload := tracePayload{
		Session:  session,
		Decision: decision,
		Nodes:    nodeRecords(outcome.Tree),
	}

	traceID, err := e.recorder.Persist(ctx, session.ID, payload)
	if err != nil {
		slog.Error("trace payload not serializable", "session_id", session.ID, "error", err)
		return
	}
	session.TraceID = traceID
}

func nodeRecords(tree *search.Tree) []NodeRecord {
	nodes := tree.Nodes()
	records := make([]NodeRecord, len(nodes))
	for i, n := range nodes {
		records[i] = NodeRecord{
			ID:            n.ID,
			ParentID:      n.ParentID,
			Depth:         n.Depth,
			Phase:         n.Phase,
			Thought:       n.Thought,
			Score:         n.Score,
			Visits:        n.Visits,
			ValueEstimate: n.ValueEstimate(),
			Selected:      n.Selected,
			State:         n.State,
		}
	}
	return records
}
