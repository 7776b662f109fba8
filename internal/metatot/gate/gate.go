// Package gate decides whether a task warrants deep tree search or a direct
// single-shot answer. The decision is a pure threshold policy over two
// scores: task complexity and contextual uncertainty.
package gate

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the execution mode selected for a task.
type Mode string

const (
	// ModeDirect bypasses the search engine; the caller answers single-shot.
	ModeDirect Mode = "direct"

	// ModeDeepSearch runs the full planning tree search.
	ModeDeepSearch Mode = "deep_search"
)

// Config holds the gate thresholds. Crossing either one selects deep search.
type Config struct {
	// ComplexityThreshold is the minimum complexity score that triggers
	// deep search.
	ComplexityThreshold float64

	// UncertaintyThreshold is the minimum uncertainty score that triggers
	// deep search.
	UncertaintyThreshold float64
}

// DefaultConfig returns default gate thresholds.
func DefaultConfig() Config {
	return Config{
		ComplexityThreshold:  0.5,
		UncertaintyThreshold: 0.5,
	}
}

// Decision is the immutable record of one gating call.
type Decision struct {
	Task                 string    `json:"task"`
	ComplexityScore      float64   `json:"complexity_score"`
	UncertaintyScore     float64   `json:"uncertainty_score"`
	ComplexityThreshold  float64   `json:"complexity_threshold"`
	UncertaintyThreshold float64   `json:"uncertainty_threshold"`
	Mode                 Mode      `json:"selected_mode"`
	Rationale            string    `json:"rationale"`
	Signals              []string  `json:"signals,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Decide scores a task and its context, then applies the threshold rule.
// Identical inputs always produce the same mode.
func Decide(task string, taskContext map[string]any, cfg Config) Decision {
	complexity, complexitySignals := complexityScore(task)
	uncertainty, uncertaintySignals := uncertaintyScore(taskContext)

	d := decideScores(complexity, uncertainty, cfg)
	d.Task = task
	d.Signals = append(complexitySignals, uncertaintySignals...)
	return d
}

// decideScores applies the threshold rule to precomputed scores.
func decideScores(complexity, uncertainty float64, cfg Config) Decision {
	complexityHit := complexity >= cfg.ComplexityThreshold
	uncertaintyHit := uncertainty >= cfg.UncertaintyThreshold

	mode := ModeDirect
	var triggers []string
	if complexityHit {
		triggers = append(triggers,
			fmt.Sprintf("complexity %.2f >= threshold %.2f", complexity, cfg.ComplexityThreshold))
	}
	if uncertaintyHit {
		triggers = append(triggers,
			fmt.Sprintf("uncertainty %.2f >= threshold %.2f", uncertainty, cfg.UncertaintyThreshold))
	}
	if len(triggers) > 0 {
		mode = ModeDeepSearch
	}

	rationale := fmt.Sprintf(
		"direct: complexity %.2f < threshold %.2f and uncertainty %.2f < threshold %.2f",
		complexity, cfg.ComplexityThreshold, uncertainty, cfg.UncertaintyThreshold)
	if mode == ModeDeepSearch {
		rationale = "deep_search: " + strings.Join(triggers, "; ")
	}

	return Decision{
		ComplexityScore:      complexity,
		UncertaintyScore:     uncertainty,
		ComplexityThreshold:  cfg.ComplexityThreshold,
		UncertaintyThreshold: cfg.UncertaintyThreshold,
		Mode:                 mode,
		Rationale:            rationale,
		CreatedAt:            time.Now().UTC(),
	}
}
