package gate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rand/metatot/internal/metatot/active"
)

// constraintKeywords are surface markers of multi-part or constrained tasks,
// weighted by how strongly they indicate planning complexity.
var constraintKeywords = map[string]float64{
	"while":        0.10,
	"without":      0.10,
	"must":         0.10,
	"ensure":       0.10,
	"constraint":   0.15,
	"trade-off":    0.15,
	"tradeoff":     0.15,
	"then":         0.05,
	"and also":     0.10,
	"as well as":   0.10,
	"step by step": 0.15,
	"plan":         0.10,
	"design":       0.15,
	"architect":    0.15,
	"refactor":     0.15,
	"migrate":      0.15,
	"compare":      0.10,
	"evaluate":     0.10,
	"multiple":     0.10,
	"alternatives": 0.15,
	"prioritize":   0.10,
}

// listMarkerPattern matches enumerated sub-goals ("1.", "2)", "- ", "* ").
var listMarkerPattern = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+`)

// complexityScore derives a [0,1] complexity estimate from surface features
// of the task text alone: length, sentence count, enumerations, and
// constraint keywords.
func complexityScore(task string) (float64, []string) {
	task = strings.TrimSpace(task)
	if task == "" {
		return 0, nil
	}

	var score float64
	var signals []string

	taskLower := strings.ToLower(task)

	// Length bucket: short prompts are rarely deep-planning tasks.
	words := len(strings.Fields(task))
	switch {
	case words >= 80:
		score += 0.35
		signals = append(signals, "length:long")
	case words >= 30:
		score += 0.2
		signals = append(signals, "length:medium")
	case words >= 12:
		score += 0.1
	}

	// Sentence count as a proxy for distinct sub-goals.
	sentences := 0
	for _, r := range task {
		if r == '.' || r == '?' || r == '!' || r == ';' {
			sentences++
		}
	}
	if sentences >= 3 {
		score += 0.15
		signals = append(signals, "sentences:multiple")
	}

	// Enumerated sub-goals.
	if markers := listMarkerPattern.FindAllString(task, -1); len(markers) >= 2 {
		score += 0.2
		signals = append(signals, "structure:enumeration")
	}

	// Sorted iteration keeps the score sum and signal order reproducible.
	keywords := make([]string, 0, len(constraintKeywords))
	for keyword := range constraintKeywords {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	for _, keyword := range keywords {
		if strings.Contains(taskLower, keyword) {
			score += constraintKeywords[keyword]
			signals = append(signals, "keyword:"+keyword)
		}
	}

	if score > 1 {
		score = 1
	}
	return score, signals
}

// uncertaintyScore derives a [0,1] uncertainty estimate from the
// caller-supplied context. Recognized keys, in priority order:
//
//   - "uncertainty": an explicit float estimate, clamped.
//   - "beliefs": an initial belief map; uncertainty is its normalized entropy.
//   - "known_facts"/"required_facts": counts; uncertainty is the unknown
//     fraction.
//
// An empty context means nothing is known and scores maximal uncertainty.
func uncertaintyScore(taskContext map[string]any) (float64, []string) {
	if len(taskContext) == 0 {
		return 1, []string{"context:empty"}
	}

	if v, ok := taskContext["uncertainty"]; ok {
		if f, ok := toFloat(v); ok {
			switch {
			case f < 0:
				f = 0
			case f > 1:
				f = 1
			}
			return f, []string{"context:explicit_uncertainty"}
		}
	}

	if v, ok := taskContext["beliefs"]; ok {
		if weights := toBeliefMap(v); len(weights) > 0 {
			if d, err := active.Normalized(weights); err == nil {
				return d.Uncertainty(), []string{"context:belief_entropy"}
			}
		}
	}

	if known, ok := toFloat(taskContext["known_facts"]); ok {
		if required, ok := toFloat(taskContext["required_facts"]); ok && required > 0 {
			unknown := 1 - known/required
			switch {
			case unknown < 0:
				unknown = 0
			case unknown > 1:
				unknown = 1
			}
			return unknown, []string{"context:fact_coverage"}
		}
	}

	// Context exists but carries no uncertainty signal.
	return 0.5, []string{"context:no_signal"}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toBeliefMap(v any) map[string]float64 {
	switch m := v.(type) {
	case map[string]float64:
		return m
	case map[string]any:
		out := make(map[string]float64, len(m))
		for k, raw := range m {
			if f, ok := toFloat(raw); ok {
				out[k] = f
			}
		}
		return out
	}
	return nil
}
