package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rand/metatot/internal/metatot/active"
)

// Searcher drives iterative expansion and selection over one planning tree.
// A Searcher instance owns its tree exclusively; the generator it holds is
// shared and must be safe for concurrent use.
type Searcher struct {
	generator Generator
	goal      map[string]float64
	config    Config

	iterations int64
	expansions int64
	failures   int64
}

// NewSearcher creates a search engine for the given goal vector.
func NewSearcher(generator Generator, goal map[string]float64, config Config) *Searcher {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultConfig().MaxDepth
	}
	if config.ExplorationConstant <= 0 {
		config.ExplorationConstant = DefaultConfig().ExplorationConstant
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultConfig().Parallelism
	}

	return &Searcher{
		generator: generator,
		goal:      goal,
		config:    config,
	}
}

// Outcome is the result of one search run.
type Outcome struct {
	// Tree is the full node set explored during the run.
	Tree *Tree

	// Path is the selected root-to-leaf chain.
	Path []*Node

	// PathEFE is the summed expected free energy over Path.
	PathEFE float64

	// TerminatedBy indicates why the loop stopped.
	TerminatedBy TerminationReason

	// Stats summarizes the run.
	Stats RunStats
}

// RunStats contains search run statistics.
type RunStats struct {
	Iterations       int
	Expansions       int
	FailedExpansions int
	NodesCreated     int
	MaxDepth         int
	Duration         time.Duration
}

// expansion is one completed generator call awaiting serial application.
type expansion struct {
	node      *Node
	phase     Phase
	proposals []Proposal
	err       error
}

// Run executes the search loop from a root thought with an initial belief
// state. It returns ErrNoViableBranches when the root has no children after
// budget exhaustion; the partial Outcome is still returned for tracing.
func (s *Searcher) Run(ctx context.Context, rootThought string, rootState active.State) (*Outcome, error) {
	start := time.Now()

	if s.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Deadline)
		defer cancel()
	}

	tree := NewTree(rootThought, rootState)
	terminatedBy := TerminationReason("")

loop:
	for iter := 0; iter < s.config.MaxIterations; iter++ {
		// Cancellation token and deadline are honored at the top of each
		// iteration; an in-flight expansion is always allowed to finish.
		select {
		case <-ctx.Done():
			terminatedBy = terminationFor(ctx)
			break loop
		default:
		}

		atomic.AddInt64(&s.iterations, 1)

		leaves := s.selectLeaves(tree)
		if len(leaves) == 0 {
			terminatedBy = TerminatedExhausted
			break
		}

		completed, err := s.expandAll(ctx, leaves)
		if err != nil {
			return nil, err
		}

		// Backups commit serially, in the order expansions completed.
		for _, exp := range completed {
			if err := s.apply(tree, exp); err != nil {
				return nil, err
			}
		}
	}

	if terminatedBy == "" {
		terminatedBy = TerminatedMaxIterations
	}

	outcome := &Outcome{
		Tree:         tree,
		TerminatedBy: terminatedBy,
		Stats:        s.runStats(tree, start),
	}

	if tree.Root().IsLeaf() {
		slog.Warn("search exhausted with no viable branches",
			"iterations", outcome.Stats.Iterations,
			"failed_expansions", outcome.Stats.FailedExpansions)
		return outcome, ErrNoViableBranches
	}

	outcome.Path = tree.BestPath()
	outcome.PathEFE = PathEFE(outcome.Path)

	slog.Debug("search finalized",
		"nodes", outcome.Stats.NodesCreated,
		"depth", len(outcome.Path)-1,
		"path_efe", outcome.PathEFE,
		"terminated_by", terminatedBy)

	return outcome, nil
}

// selectLeaves picks up to Parallelism distinct expandable leaves by
// repeated upper-confidence descent.
func (s *Searcher) selectLeaves(tree *Tree) []*Node {
	picked := make(map[string]bool)
	var leaves []*Node

	for len(leaves) < s.config.Parallelism {
		leaf := s.descend(tree.Root(), picked)
		if leaf == nil {
			break
		}
		picked[leaf.ID] = true
		leaves = append(leaves, leaf)
	}
	return leaves
}

// descend walks from node toward the best-UCT expandable leaf not yet
// picked, backtracking into siblings when a subtree is exhausted.
func (s *Searcher) descend(node *Node, picked map[string]bool) *Node {
	children := node.snapshotChildren()

	if len(children) == 0 {
		if s.expandable(node) && !picked[node.ID] {
			return node
		}
		return nil
	}

	node.mu.RLock()
	parentVisits := node.Visits
	node.mu.RUnlock()
	if parentVisits == 0 {
		parentVisits = 1
	}

	// Order children by UCT descending; ties keep creation order.
	ordered := make([]*Node, len(children))
	copy(ordered, children)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0; j-- {
			a := ordered[j].UCT(parentVisits, s.config.ExplorationConstant)
			b := ordered[j-1].UCT(parentVisits, s.config.ExplorationConstant)
			if a > b {
				ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
			} else {
				break
			}
		}
	}

	for _, child := range ordered {
		if leaf := s.descend(child, picked); leaf != nil {
			return leaf
		}
	}
	return nil
}

// expandable reports whether a leaf may still be expanded.
func (s *Searcher) expandable(node *Node) bool {
	node.mu.RLock()
	defer node.mu.RUnlock()

	if node.Unexpandable {
		return false
	}
	if node.Depth >= s.config.MaxDepth {
		return false
	}
	return PhaseForDepth(node.Depth, s.config.IntegrateDepth) != PhaseLeaf
}

// expandAll runs sibling expansions concurrently behind a bounded pool and
// returns the completed expansions in completion order. Generator calls are
// detached from the session deadline so an in-flight expansion finishes even
// when the deadline expires mid-iteration; the per-call ExpansionTimeout
// still applies.
func (s *Searcher) expandAll(ctx context.Context, leaves []*Node) ([]expansion, error) {
	var (
		mu        sync.Mutex
		completed []expansion
	)

	sem := make(chan struct{}, s.config.Parallelism)
	g := new(errgroup.Group)

	for _, leaf := range leaves {
		leaf := leaf
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			phase := PhaseForDepth(leaf.Depth, s.config.IntegrateDepth)

			expCtx := context.WithoutCancel(ctx)
			if s.config.ExpansionTimeout > 0 {
				var cancel context.CancelFunc
				expCtx, cancel = context.WithTimeout(expCtx, s.config.ExpansionTimeout)
				defer cancel()
			}

			atomic.AddInt64(&s.expansions, 1)
			proposals, err := s.generator.Expand(expCtx, leaf, phase)

			mu.Lock()
			completed = append(completed, expansion{
				node:      leaf,
				phase:     phase,
				proposals: proposals,
				err:       err,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return completed, nil
}

// apply commits one completed expansion: children are created and evaluated,
// then the best child score (or the unexplored malus) is backed up to the
// root. Apply is only called from the single-threaded loop, which serializes
// updates on shared path prefixes.
func (s *Searcher) apply(tree *Tree, exp expansion) error {
	if exp.err != nil || len(exp.proposals) == 0 {
		// Upstream transient failure: the node becomes a penalized terminal
		// leaf and the session continues.
		if exp.err != nil {
			atomic.AddInt64(&s.failures, 1)
			slog.Warn("expansion failed, marking node unexpandable",
				"node", exp.node.ID,
				"phase", exp.phase,
				"error", exp.err)
		}

		exp.node.mu.Lock()
		exp.node.Unexpandable = true
		exp.node.mu.Unlock()

		s.backup(tree, exp.node, exp.node.Score-s.config.UnexploredMalus)
		return nil
	}

	best := math.Inf(-1)
	for i, p := range exp.proposals {
		beliefs, err := active.Normalized(p.Beliefs)
		if err != nil {
			// Malformed beliefs are a generator defect, not a runtime
			// condition; fail loudly.
			return fmt.Errorf("proposal %d for node %s: %w", i, exp.node.ID, err)
		}

		state := active.NewState(beliefs, s.goal, exp.node.Depth+1)
		child := tree.AddChild(exp.node, exp.phase, p.Thought, state)

		if child.Score > best {
			best = child.Score
		}
	}

	s.backup(tree, exp.node, best)
	return nil
}

// backup propagates a score from node to the root, updating visit counts and
// running-mean value estimates.
func (s *Searcher) backup(tree *Tree, node *Node, score float64) {
	current := node
	for current != nil {
		current.Update(score)
		if current.ParentID == "" {
			break
		}
		current = tree.Get(current.ParentID)
	}
}

func (s *Searcher) runStats(tree *Tree, start time.Time) RunStats {
	treeStats := tree.Stats()
	return RunStats{
		Iterations:       int(atomic.LoadInt64(&s.iterations)),
		Expansions:       int(atomic.LoadInt64(&s.expansions)),
		FailedExpansions: int(atomic.LoadInt64(&s.failures)),
		NodesCreated:     treeStats.Nodes,
		MaxDepth:         treeStats.MaxDepth,
		Duration:         time.Since(start),
	}
}

func terminationFor(ctx context.Context) TerminationReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TerminatedDeadline
	}
	return TerminatedCancelled
}
