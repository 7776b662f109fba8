package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "trace.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"selected_action": "ship it",
		"path_efe":        1.25,
	})

	want := Trace{
		ID:        uuid.NewString(),
		SessionID: "session-1",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Payload:   payload,
	}

	if err := store.Persist(ctx, want); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, err := store.Retrieve(ctx, want.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.ID != want.ID || got.SessionID != want.SessionID {
		t.Fatalf("retrieved %+v, want %+v", got, want)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("payload mismatch: %s vs %s", got.Payload, want.Payload)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestSQLiteStorePersistIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tr := Trace{
		ID:        uuid.NewString(),
		SessionID: "session-1",
		CreatedAt: time.Now().UTC(),
		Payload:   json.RawMessage(`{"v":1}`),
	}
	if err := store.Persist(ctx, tr); err != nil {
		t.Fatalf("first persist: %v", err)
	}

	// Retrying with the same ID must not error or duplicate.
	tr.Payload = json.RawMessage(`{"v":2}`)
	if err := store.Persist(ctx, tr); err != nil {
		t.Fatalf("second persist: %v", err)
	}

	traces, err := store.BySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("expected one trace after retry, got %d", len(traces))
	}
	if string(traces[0].Payload) != `{"v":2}` {
		t.Fatalf("retry should keep the latest payload, got %s", traces[0].Payload)
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Retrieve(context.Background(), "missing"); !errors.Is(err, ErrTraceNotFound) {
		t.Fatalf("expected ErrTraceNotFound, got %v", err)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 1; i <= 5; i++ {
		rb.Put(Trace{ID: fmt.Sprintf("t%d", i), SessionID: "s"})
	}

	if rb.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", rb.Len())
	}

	// Oldest two evicted.
	for _, id := range []string{"t1", "t2"} {
		if _, ok := rb.Get(id); ok {
			t.Fatalf("%s should have been evicted", id)
		}
	}
	for _, id := range []string{"t3", "t4", "t5"} {
		if _, ok := rb.Get(id); !ok {
			t.Fatalf("%s should still be buffered", id)
		}
	}

	recent := rb.Recent(2)
	if len(recent) != 2 || recent[0].ID != "t5" || recent[1].ID != "t4" {
		t.Fatalf("Recent(2) = %v, want t5 then t4", recent)
	}

	// Re-putting an existing ID overwrites in place.
	rb.Put(Trace{ID: "t5", SessionID: "updated"})
	if rb.Len() != 3 {
		t.Fatalf("overwrite changed length to %d", rb.Len())
	}
	if got, _ := rb.Get("t5"); got.SessionID != "updated" {
		t.Fatalf("overwrite not applied: %+v", got)
	}
}

// failingStore always errors, to exercise the recorder fallback.
type failingStore struct{}

func (failingStore) Persist(context.Context, Trace) error { return errors.New("disk full") }
func (failingStore) Retrieve(context.Context, string) (*Trace, error) {
	return nil, errors.New("disk full")
}
func (failingStore) Close() error { return nil }

func TestRecorderFallsBackOnStoreFailure(t *testing.T) {
	rec := NewRecorder(failingStore{}, 8)
	ctx := context.Background()

	id, err := rec.Persist(ctx, "session-x", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("persist must not fail on store errors: %v", err)
	}
	if id == "" {
		t.Fatal("persist must return a trace ID even when falling back")
	}

	got, err := rec.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("retrieve from fallback: %v", err)
	}
	if got.SessionID != "session-x" {
		t.Fatalf("retrieved session %q, want session-x", got.SessionID)
	}

	if recent := rec.Recent(1); len(recent) != 1 || recent[0].ID != id {
		t.Fatalf("Recent(1) = %v, want the buffered trace", recent)
	}
}

func TestRecorderPrefersDurableStore(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecorder(store, 8)
	ctx := context.Background()

	id, err := rec.Persist(ctx, "session-y", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Durable write succeeded, so the fallback buffer stays empty.
	if len(rec.Recent(10)) != 0 {
		t.Fatal("fallback buffer should be empty when the store works")
	}

	got, err := rec.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.ID != id {
		t.Fatalf("retrieved %q, want %q", got.ID, id)
	}
}

func TestRecorderRejectsUnserializablePayload(t *testing.T) {
	rec := NewRecorder(nil, 4)

	if _, err := rec.Persist(context.Background(), "s", func() {}); err == nil {
		t.Fatal("unserializable payload must surface an error")
	}
}
