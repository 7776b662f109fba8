package metatot

import (
	"errors"
	"time"

	"github.com/rand/metatot/internal/metatot/active"
	"github.com/rand/metatot/internal/metatot/gate"
	"github.com/rand/metatot/internal/metatot/search"
)

// Errors returned by the engine boundary.
var (
	// ErrEmptyTask indicates a run request without a task description.
	ErrEmptyTask = errors.New("task is required")

	// ErrEmptyGoal indicates a run request without a goal vector.
	ErrEmptyGoal = errors.New("goal vector is required")

	// ErrNoGenerator indicates an engine with neither an LLM client nor a
	// generator override.
	ErrNoGenerator = errors.New("no candidate generator available")
)

// noViableBranches is the defined error value surfaced in Result.Err when
// search exhausts its budget without expanding the root.
const noViableBranches = "NoViableBranches"

// Request is one planning run.
type Request struct {
	// Task is the task description. Required.
	Task string `json:"task"`

	// Context carries caller-supplied facts about the task. Recognized keys
	// feed the decision gate's uncertainty score and the root belief state.
	Context map[string]any `json:"context,omitempty"`

	// GoalVector is the target belief distribution the search steers toward.
	// Required.
	GoalVector map[string]float64 `json:"goal_vector"`
}

// SessionMetrics aggregates scoring over a completed session.
type SessionMetrics struct {
	TotalPredictionError float64       `json:"total_prediction_error"`
	TotalFreeEnergy      float64       `json:"total_free_energy"`
	Duration             time.Duration `json:"duration_ns"`
	Iterations           int           `json:"iterations"`
	Expansions           int           `json:"expansions"`
	FailedExpansions     int           `json:"failed_expansions"`
	NodesCreated         int           `json:"nodes_created"`
}

// Session is one deep-search run. It is mutated only while the search engine
// executes and becomes immutable once the best path is extracted.
type Session struct {
	ID             string                   `json:"session_id"`
	Task           string                   `json:"task"`
	ContextSummary string                   `json:"context_summary,omitempty"`
	StartedAt      time.Time                `json:"started_at"`
	CompletedAt    time.Time                `json:"completed_at"`
	SelectedAction string                   `json:"selected_action,omitempty"`
	SelectedPath   []string                 `json:"selected_path,omitempty"`
	TerminatedBy   search.TerminationReason `json:"terminated_by"`
	Metrics        SessionMetrics           `json:"metrics"`
	TraceID        string                   `json:"trace_id,omitempty"`

	tree *search.Tree
}

// Tree returns the session's planning tree.
func (s *Session) Tree() *search.Tree {
	return s.tree
}

// NodeRecord is the serialized form of one tree node, embedded in traces.
type NodeRecord struct {
	ID            string       `json:"id"`
	ParentID      string       `json:"parent_id,omitempty"`
	Depth         int          `json:"depth"`
	Phase         search.Phase `json:"phase"`
	Thought       string       `json:"thought"`
	Score         float64      `json:"score"`
	Visits        int          `json:"visits"`
	ValueEstimate float64      `json:"value_estimate"`
	Selected      bool         `json:"selected"`
	State         active.State `json:"state"`
}

// Result is the outcome of one run request.
type Result struct {
	Decision gate.Decision `json:"decision"`

	// Session is nil when the gate selected direct mode.
	Session *Session `json:"session,omitempty"`

	SelectedAction string   `json:"selected_action,omitempty"`
	PathEFE        *float64 `json:"path_efe,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`

	// Err is "NoViableBranches" when search found nothing; empty otherwise.
	// It is a defined outcome the caller handles with a fallback, not a
	// failure of the engine.
	Err string `json:"error,omitempty"`
}

// NoViableBranches reports whether the run ended without viable branches.
func (r *Result) NoViableBranches() bool {
	return r.Err == noViableBranches
}

// tracePayload is the full serialized session written to the trace store.
type tracePayload struct {
	Session  *Session      `json:"session"`
	Decision gate.Decision `json:"decision"`
	Nodes    []NodeRecord  `json:"nodes"`
}
