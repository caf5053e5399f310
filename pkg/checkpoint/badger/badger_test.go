package badger

import (
	"errors"
	"testing"
	"time"

	"github.com/meshcloud/tap-prometheus/pkg/checkpoint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoad_AbsentStream(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Load("requests")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok {
		t.Error("expected no checkpoint for a fresh stream")
	}
}

func TestAdvanceAndLoad(t *testing.T) {
	store := newTestStore(t)
	boundary := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := store.Advance("requests", boundary); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got, ok, err := store.Load("requests")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok || !got.Equal(boundary) {
		t.Errorf("Load = (%v, %v), want (%v, true)", got, ok, boundary)
	}

	// Streams are independent.
	if _, ok, _ := store.Load("errors"); ok {
		t.Error("unrelated stream must have no checkpoint")
	}
}

func TestAdvance_Monotonic(t *testing.T) {
	store := newTestStore(t)
	boundary := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := store.Advance("requests", boundary); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// Same boundary again is a no-op (re-run after crash).
	if err := store.Advance("requests", boundary); err != nil {
		t.Fatalf("re-advancing to the same boundary failed: %v", err)
	}

	// Moving backward is a caller bug.
	err := store.Advance("requests", boundary.AddDate(0, 0, -1))
	var regression *checkpoint.RegressionError
	if !errors.As(err, &regression) {
		t.Fatalf("expected RegressionError, got %v", err)
	}
	if regression.Stream != "requests" || !regression.Stored.Equal(boundary) {
		t.Errorf("regression details = %+v", regression)
	}

	// The stored value is untouched after the failed advance.
	got, _, err := store.Load("requests")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.Equal(boundary) {
		t.Errorf("checkpoint moved to %v after failed advance", got)
	}
}

func TestAdvance_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	boundary := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	store, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Advance("requests", boundary); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Load("requests")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok || !got.Equal(boundary) {
		t.Errorf("checkpoint after reopen = (%v, %v), want (%v, true)", got, ok, boundary)
	}
}
