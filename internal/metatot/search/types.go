// Package search implements the planning tree and its POMCP-style search
// loop.
//
// The engine explores candidate reasoning paths as a tree: selection descends
// by an upper-confidence score, expansion asks the candidate generator for
// phase-typed proposals, evaluation scores each child with active-inference
// free energy, and backup propagates the best child score to the root as a
// running mean. Search maximizes score (negated EFE).
package search

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rand/metatot/internal/metatot/active"
)

// Phase is the role an expansion step plays in the reasoning process.
type Phase string

const (
	// PhaseExplore generates divergent next steps.
	PhaseExplore Phase = "explore"

	// PhaseChallenge critiques the current best child and proposes
	// counter-arguments.
	PhaseChallenge Phase = "challenge"

	// PhaseEvolve refines the current best child into a more specific
	// variant.
	PhaseEvolve Phase = "evolve"

	// PhaseIntegrate synthesizes surviving branches into a terminal action.
	PhaseIntegrate Phase = "integrate"

	// PhaseLeaf marks a node past the integrate depth; it is never expanded.
	PhaseLeaf Phase = "leaf"
)

// phaseOrder is the expansion cycle below the integrate depth.
var phaseOrder = []Phase{PhaseExplore, PhaseChallenge, PhaseEvolve, PhaseIntegrate}

// PhaseForDepth returns the phase used to expand a node at the given depth.
// Phases cycle explore -> challenge -> evolve -> integrate; once
// integrateDepth is reached every expansion integrates, and anything deeper
// is a leaf.
func PhaseForDepth(depth, integrateDepth int) Phase {
	if integrateDepth > 0 {
		if depth > integrateDepth {
			return PhaseLeaf
		}
		if depth == integrateDepth {
			return PhaseIntegrate
		}
	}
	return phaseOrder[depth%len(phaseOrder)]
}

// Node is one branch/thought in the planning tree.
type Node struct {
	// ID uniquely identifies this node within its session.
	ID string

	// Seq is the creation sequence number, used for deterministic
	// tie-breaking (lowest wins).
	Seq int64

	// ParentID is the parent node's ID (empty for root).
	ParentID string

	// Depth is the level in the tree (root = 0).
	Depth int

	// Phase is the expansion phase that created this node.
	Phase Phase

	// Thought is the textual content of this reasoning step.
	Thought string

	// Score is the raw active-inference score (negated EFE) at creation.
	Score float64

	// Visits is the number of backups observed through this node.
	Visits int

	// TotalValue is the sum of backpropagated scores; the value estimate
	// is the running mean TotalValue/Visits.
	TotalValue float64

	// State is the active-inference belief snapshot, immutable once set.
	State active.State

	// Selected marks membership in the final best path.
	Selected bool

	// Children are the child nodes, present only after expansion.
	Children []*Node

	// Unexpandable marks a node whose expansion failed or returned no
	// proposals; it is treated as a penalized terminal leaf.
	Unexpandable bool

	// CreatedAt is when this node was created.
	CreatedAt time.Time

	mu sync.RWMutex
}

// ValueEstimate returns the running mean of backpropagated scores.
func (n *Node) ValueEstimate() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.Visits == 0 {
		return 0
	}
	return n.TotalValue / float64(n.Visits)
}

// UCT computes the upper-confidence score used during selection:
//
//	value_estimate + c * sqrt(ln(parent.visits) / visits)
//
// Unvisited nodes have infinite priority and are chosen first.
func (n *Node) UCT(parentVisits int, c float64) float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.Visits == 0 {
		return math.Inf(1)
	}

	exploitation := n.TotalValue / float64(n.Visits)
	exploration := c * math.Sqrt(math.Log(float64(parentVisits))/float64(n.Visits))
	return exploitation + exploration
}

// Update applies one backup observation to this node.
func (n *Node) Update(score float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Visits++
	n.TotalValue += score
}

// EFE returns the node's expected free energy.
func (n *Node) EFE() float64 {
	return n.State.EFE()
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.Children) == 0
}

// snapshotChildren returns the child slice under the read lock.
func (n *Node) snapshotChildren() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Children
}

// Errors for tree and search operations.
var (
	// ErrNoViableBranches is returned when the root has no children after
	// budget exhaustion. It is a defined outcome, not a crash; callers fall
	// back to single-shot reasoning.
	ErrNoViableBranches = errors.New("no viable branches")

	// ErrNodeNotFound indicates a lookup for an ID absent from the tree.
	// Hitting it mid-search is a programming error, not a runtime condition.
	ErrNodeNotFound = errors.New("node not found in tree")

	// ErrPathBroken indicates a selected path that is not a root-to-leaf
	// chain of the session's node set.
	ErrPathBroken = errors.New("selected path is not a chain in the tree")
)

// TerminationReason indicates why the search loop stopped.
type TerminationReason string

const (
	TerminatedMaxIterations TerminationReason = "max_iterations"
	TerminatedDeadline      TerminationReason = "deadline"
	TerminatedCancelled     TerminationReason = "cancelled"
	TerminatedExhausted     TerminationReason = "tree_exhausted"
)

// Config configures the search engine.
type Config struct {
	// MaxIterations bounds the number of select/expand/backup cycles.
	MaxIterations int

	// MaxDepth bounds tree depth; selection stops descending at MaxDepth.
	MaxDepth int

	// IntegrateDepth is the depth at which expansion switches to the
	// integrate phase; deeper nodes are leaves. Zero keeps the phase cycle.
	IntegrateDepth int

	// ExplorationConstant is the UCT exploration weight (typically sqrt(2)).
	ExplorationConstant float64

	// Deadline bounds wall-clock search time. On expiry the in-flight
	// expansion is finished, then the loop finalizes with whatever tree
	// exists. Zero means no deadline.
	Deadline time.Duration

	// Parallelism bounds concurrent sibling expansions per iteration.
	// Kept small to avoid overwhelming the inference backend.
	Parallelism int

	// ExpansionTimeout is the per-inference-call budget, distinct from the
	// session Deadline.
	ExpansionTimeout time.Duration

	// UnexploredMalus is subtracted from the score of a node whose
	// expansion failed, so dead ends are revisited last.
	UnexploredMalus float64
}

// DefaultConfig returns default search configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       25,
		MaxDepth:            6,
		IntegrateDepth:      4,
		ExplorationConstant: math.Sqrt2,
		Deadline:            2 * time.Minute,
		Parallelism:         3,
		ExpansionTimeout:    15 * time.Second,
		UnexploredMalus:     0.5,
	}
}

// Tree holds one session's node set. A Tree is owned by exactly one search
// run; it is never shared across sessions.
type Tree struct {
	root  *Node
	nodes map[string]*Node
	seq   int64
	mu    sync.RWMutex
}

// NewTree creates a tree around the given root thought and state.
func NewTree(thought string, state active.State) *Tree {
	t := &Tree{nodes: make(map[string]*Node)}
	root := t.newNode("", 0, PhaseExplore, thought, state)
	t.root = root
	return t
}

// newNode allocates a node with the next sequence ID and registers it.
// Caller must not hold t.mu.
func (t *Tree) newNode(parentID string, depth int, phase Phase, thought string, state active.State) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq
	t.seq++

	n := &Node{
		ID:        nodeID(seq),
		Seq:       seq,
		ParentID:  parentID,
		Depth:     depth,
		Phase:     phase,
		Thought:   thought,
		Score:     state.Score(),
		State:     state,
		CreatedAt: time.Now(),
	}
	t.nodes[n.ID] = n
	return n
}

// AddChild creates a child of parent from an evaluated proposal and links it
// into the tree. The child starts with one visit recording its own score.
func (t *Tree) AddChild(parent *Node, phase Phase, thought string, state active.State) *Node {
	child := t.newNode(parent.ID, parent.Depth+1, phase, thought, state)
	child.Visits = 1
	child.TotalValue = child.Score

	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()

	return child
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Get returns a node by ID, or nil.
func (t *Tree) Get(id string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Nodes returns all nodes in creation order.
func (t *Tree) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	sortBySeq(out)
	return out
}

// Path returns the chain from the root to the given node.
func (t *Tree) Path(node *Node) []*Node {
	var path []*Node
	current := node
	for current != nil {
		path = append([]*Node{current}, path...)
		if current.ParentID == "" {
			break
		}
		current = t.Get(current.ParentID)
	}
	return path
}

// BestPath walks from the root always choosing the child with the highest
// value estimate (running mean, not raw score), ties broken by lowest node
// sequence for determinism. Nodes on the path are marked selected.
func (t *Tree) BestPath() []*Node {
	path := []*Node{t.Root()}

	current := t.Root()
	for {
		children := current.snapshotChildren()
		if len(children) == 0 {
			break
		}

		best := children[0]
		bestValue := best.ValueEstimate()
		for _, child := range children[1:] {
			v := child.ValueEstimate()
			if v > bestValue || (v == bestValue && child.Seq < best.Seq) {
				best = child
				bestValue = v
			}
		}

		path = append(path, best)
		current = best
	}

	for _, n := range path {
		n.mu.Lock()
		n.Selected = true
		n.mu.Unlock()
	}

	return path
}

// PathEFE sums expected free energy over a root-to-leaf path. The sum is not
// normalized by path length: depth here represents reasoning rigor, not
// cost.
func PathEFE(path []*Node) float64 {
	var total float64
	for _, n := range path {
		total += n.EFE()
	}
	return total
}

// ValidatePath verifies a node-ID sequence is a root-to-leaf chain that
// exists in the tree.
func (t *Tree) ValidatePath(ids []string) error {
	if len(ids) == 0 {
		return ErrPathBroken
	}

	first := t.Get(ids[0])
	if first == nil {
		return ErrNodeNotFound
	}
	if first.ParentID != "" {
		return ErrPathBroken
	}

	for i := 1; i < len(ids); i++ {
		node := t.Get(ids[i])
		if node == nil {
			return ErrNodeNotFound
		}
		if node.ParentID != ids[i-1] {
			return ErrPathBroken
		}
	}
	return nil
}

// Stats summarizes the tree shape.
type Stats struct {
	Nodes        int
	MaxDepth     int
	AvgBranching float64
}

// Stats computes tree statistics.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{Nodes: len(t.nodes)}

	var totalChildren, expanded int
	for _, n := range t.nodes {
		if n.Depth > stats.MaxDepth {
			stats.MaxDepth = n.Depth
		}
		if len(n.Children) > 0 {
			totalChildren += len(n.Children)
			expanded++
		}
	}
	if expanded > 0 {
		stats.AvgBranching = float64(totalChildren) / float64(expanded)
	}
	return stats
}

func nodeID(seq int64) string {
	// Zero-padded so lexical order matches creation order.
	const digits = 6
	buf := []byte("node-000000")
	for i := 0; i < digits && seq > 0; i++ {
		buf[len(buf)-1-i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(buf)
}

func sortBySeq(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Seq < nodes[j-1].Seq; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
