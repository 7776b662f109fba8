package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder persists session payloads, falling back to the in-process ring
// buffer when the durable store fails. Persistence failure is logged, never
// surfaced: trace loss must not abort a planning run.
type Recorder struct {
	store    Store
	fallback *RingBuffer
}

// NewRecorder creates a recorder. Store may be nil, in which case every trace
// lands in the fallback buffer.
func NewRecorder(store Store, fallbackCapacity int) *Recorder {
	return &Recorder{
		store:    store,
		fallback: NewRingBuffer(fallbackCapacity),
	}
}

// Persist serializes a session payload and stores it, returning the trace ID.
func (r *Recorder) Persist(ctx context.Context, sessionID string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		// An unserializable payload is a programming error, not a store
		// failure; it does not go to the fallback.
		return "", fmt.Errorf("marshal trace payload: %w", err)
	}

	t := Trace{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}

	if r.store != nil {
		err := r.store.Persist(ctx, t)
		if err == nil {
			return t.ID, nil
		}
		slog.Warn("trace store unavailable, buffering locally",
			"trace_id", t.ID,
			"session_id", sessionID,
			"error", err)
	}

	r.fallback.Put(t)
	return t.ID, nil
}

// Retrieve looks a trace up in the durable store first, then the fallback
// buffer.
func (r *Recorder) Retrieve(ctx context.Context, traceID string) (*Trace, error) {
	if r.store != nil {
		t, err := r.store.Retrieve(ctx, traceID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrTraceNotFound) {
			slog.Warn("trace store lookup failed, trying fallback",
				"trace_id", traceID,
				"error", err)
		}
	}

	if t, ok := r.fallback.Get(traceID); ok {
		return t, nil
	}
	return nil, ErrTraceNotFound
}

// Recent returns the newest traces from the fallback buffer.
func (r *Recorder) Recent(n int) []Trace {
	return r.fallback.Recent(n)
}

// Close closes the underlying store.
func (r *Recorder) Close() error {
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}
