package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (r *recorder) ingest(path string) {
	r.mu.Lock()
	r.ingested = append(r.ingested, path)
	r.mu.Unlock()
}

func (r *recorder) remove(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) waitIngested(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := append([]string(nil), r.ingested...)
		r.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("timed out waiting for %d ingests, have %v", n, r.ingested)
	return nil
}

func TestWatcher_IngestsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, []string{".txt"}, true, rec.ingest, rec.remove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	txt := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A non-matching extension must not trigger ingestion.
	if err := os.WriteFile(filepath.Join(dir, "image.png"), []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}

	got := rec.waitIngested(t, 1)
	if filepath.Clean(got[0]) != filepath.Clean(txt) {
		t.Errorf("ingested %v, want %s", got, txt)
	}
	time.Sleep(150 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, p := range rec.ingested {
		if filepath.Ext(p) == ".png" {
			t.Errorf("png should have been filtered: %v", rec.ingested)
		}
	}
}

func TestWatcher_DebounceCollapsesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, nil, false, rec.ingest, nil, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "burst.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("revision"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec.waitIngested(t, 1)
	time.Sleep(250 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ingested) != 1 {
		t.Errorf("burst of writes produced %d ingests, want 1", len(rec.ingested))
	}
}

func TestWatcher_RemoveCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	w := New([]string{dir}, []string{"txt"}, false, rec.ingest, rec.remove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.removed)
		rec.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("remove callback never fired")
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{filepath.Join(dir, "a.txt"), filepath.Join(sub, "b.txt")} {
		if err := os.WriteFile(name, []byte("pre-existing"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	w := New([]string{dir}, []string{".txt"}, true, rec.ingest, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.SyncExisting()
	got := rec.waitIngested(t, 2)
	if len(got) != 2 {
		t.Errorf("SyncExisting ingested %v", got)
	}
}

func TestWatcher_StopDuringEventBurst(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, nil, false, rec.ingest, rec.remove, WithDebounce(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Stop races the event loop against a stream of filesystem events;
	// the loop must drain its captured channels without dereferencing
	// state that Stop already cleared.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = os.WriteFile(filepath.Join(dir, "churn.txt"), []byte("x"), 0o644)
		}
	}()
	time.Sleep(5 * time.Millisecond)
	w.Stop()
	w.Stop() // idempotent
	<-done
}

func TestWatcher_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-yet")
	w := New([]string{root}, nil, false, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root was not created: %v", err)
	}
}
