package tutor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/store"
	testingclock "k8s.io/utils/clock/testing"
)

func TestTTLWorkerSweep(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	svc, clk := newTestService(t, nil, WithRepository(repo))
	idle := svc.Open(ctx, "idle")
	idle.Graph.Update([]string{"limits"}, domain.OutcomeError, testEpoch)
	svc.Open(ctx, "connected")
	svc.Sessions().Register("connected", &fakeCloser{})

	var mu sync.Mutex
	var cleaned []string
	w := NewTTLWorker(svc, repo, 30*time.Minute, clk, func(_ context.Context, id string) {
		mu.Lock()
		cleaned = append(cleaned, id)
		mu.Unlock()
	})

	if n := w.Sweep(ctx); n != 0 {
		t.Fatalf("Sweep() before ttl = %d", n)
	}

	clk.Step(31 * time.Minute)
	if n := w.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	// The snapshot keeps the session, so nothing is discarded yet.
	mu.Lock()
	if len(cleaned) != 0 {
		t.Fatalf("cleanup callback = %v", cleaned)
	}
	mu.Unlock()

	if _, ok := svc.Sessions().Get("idle"); ok {
		t.Fatal("idle session still in memory")
	}
	if _, ok := svc.Sessions().Get("connected"); !ok {
		t.Fatal("connected session evicted")
	}

	// The evicted session was persisted and comes back on reconnect.
	rec, err := repo.GetSession(ctx, "idle")
	if err != nil || rec == nil {
		t.Fatalf("GetSession() = %v, %v", rec, err)
	}
	restored := svc.Open(ctx, "idle")
	if c, _ := restored.Graph.Concept("limits"); c.ErrorCount != 1 {
		t.Fatalf("restored concept %+v", c)
	}
}

func TestTTLWorkerPrunesStaleSnapshots(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	svc, clk := newTestService(t, nil, WithRepository(repo))
	for _, id := range []string{"gone", "live"} {
		sess := svc.Open(ctx, id)
		if err := svc.Persist(ctx, sess); err != nil {
			t.Fatalf("Persist(%s) error = %v", id, err)
		}
	}
	svc.Sessions().Evict(mustSession(t, svc, "gone"))
	svc.Sessions().Register("live", &fakeCloser{})

	var cleaned []string
	w := NewTTLWorker(svc, repo, time.Hour, clk, func(_ context.Context, id string) {
		cleaned = append(cleaned, id)
	})
	clk.Step(8 * 24 * time.Hour)
	w.Sweep(ctx)

	if len(cleaned) != 1 || cleaned[0] != "gone" {
		t.Fatalf("cleanup callback = %v, want [gone]", cleaned)
	}

	if rec, _ := repo.GetSession(ctx, "gone"); rec != nil {
		t.Fatal("stale snapshot not pruned")
	}
	if rec, _ := repo.GetSession(ctx, "live"); rec == nil {
		t.Fatal("snapshot of live session pruned")
	}
}

func TestTTLWorkerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	svc.Open(context.Background(), "s1")

	clk := testingclock.NewFakeClock(testEpoch.Add(2 * time.Hour))
	swept := make(chan string, 1)
	w := NewTTLWorker(svc, nil, time.Hour, clk, func(_ context.Context, id string) { swept <- id })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Wait for the ticker to be created before advancing time.
	deadline := time.Now().Add(5 * time.Second)
	for !clk.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("worker never started its ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	clk.Step(DefaultTTLWorkerInterval)

	select {
	case id := <-swept:
		if id != "s1" {
			t.Fatalf("swept %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}
}

func mustSession(t *testing.T, svc *Service, id string) *domain.TutorSession {
	t.Helper()
	sess, ok := svc.Sessions().Get(id)
	if !ok {
		t.Fatalf("session %q missing", id)
	}
	return sess
}

func TestPersistAll(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	svc, _ := newTestService(t, nil, WithRepository(repo))
	svc.Open(ctx, "a")
	svc.Open(ctx, "b")
	svc.Sessions().Register("b", &fakeCloser{})

	if n := svc.PersistAll(ctx); n != 2 {
		t.Fatalf("PersistAll() = %d, want 2", n)
	}
	for _, id := range []string{"a", "b"} {
		if rec, _ := repo.GetSession(ctx, id); rec == nil {
			t.Fatalf("session %q not persisted", id)
		}
	}
}
