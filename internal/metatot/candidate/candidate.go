// Package candidate generates phase-typed branch proposals by calling an
// external language model and parsing its structured output.
package candidate

import (
	"context"
	"errors"
	"time"
)

// LLMClient is the interface for LLM completion.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Errors returned by candidate generation and parsing.
var (
	// ErrNoJSON indicates a response with no JSON object to parse.
	ErrNoJSON = errors.New("no JSON found in response")

	// ErrNoProposals indicates a parseable response that carried zero usable
	// proposals.
	ErrNoProposals = errors.New("response contains no proposals")
)

// Config configures proposal generation.
type Config struct {
	// Branching is the number of proposals requested per expansion.
	Branching int

	// MaxTokens bounds the completion size per call.
	MaxTokens int

	// CallTimeout bounds a single inference call. Zero relies on the
	// caller's context.
	CallTimeout time.Duration
}

// DefaultConfig returns default generation configuration.
func DefaultConfig() Config {
	return Config{
		Branching:   3,
		MaxTokens:   800,
		CallTimeout: 15 * time.Second,
	}
}
