package tutor

import (
	"context"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/store"
	"k8s.io/utils/clock"
)

const (
	// DefaultTTLWorkerInterval is how often idle sessions are swept.
	DefaultTTLWorkerInterval = time.Minute
	// snapshotRetention bounds how long a persisted snapshot is kept.
	snapshotRetention = 7 * 24 * time.Hour
)

// CleanupCallback is called once a session's state is discarded for good:
// when it is evicted without a repository to keep it, or when its stored
// snapshot is pruned.
type CleanupCallback func(ctx context.Context, sessionID string)

// TTLWorker evicts sessions idle for longer than TTL, persisting them first.
type TTLWorker struct {
	svc       *Service
	repo      store.Repository
	ttl       time.Duration
	interval  time.Duration
	clock     clock.WithTicker
	onCleanup CleanupCallback
}

// NewTTLWorker creates a worker. repo may be nil.
func NewTTLWorker(svc *Service, repo store.Repository, ttl time.Duration, clk clock.WithTicker, onCleanup CleanupCallback) *TTLWorker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TTLWorker{
		svc:       svc,
		repo:      repo,
		ttl:       ttl,
		interval:  DefaultTTLWorkerInterval,
		clock:     clk,
		onCleanup: onCleanup,
	}
}

// Start runs the sweep loop in a goroutine until ctx is cancelled.
func (w *TTLWorker) Start(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		w.svc.logger.Info("TTL worker started", "interval", w.interval, "ttl", w.ttl)

		for {
			select {
			case <-ticker.C():
				w.Sweep(ctx)
			case <-ctx.Done():
				w.svc.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts idle sessions once and prunes stale snapshots. It returns
// the number of sessions evicted.
func (w *TTLWorker) Sweep(ctx context.Context) int {
	now := w.clock.Now()
	idle := w.svc.Sessions().Idle(w.ttl, now)

	evicted := 0
	for _, sess := range idle {
		if err := w.svc.Persist(ctx, sess); err != nil {
			w.svc.logger.Warn("TTL worker failed to persist session", "session_id", sess.ID, "error", err)
		}
		if !w.svc.Sessions().Evict(sess) {
			continue
		}
		evicted++
		w.svc.logger.Info("TTL worker evicted session", "session_id", sess.ID, "last_activity", sess.LastActivity())
		if w.repo == nil {
			w.cleanup(ctx, sess.ID)
		}
	}
	if evicted > 0 {
		w.svc.updateSessionGauge()
		if w.svc.metrics != nil {
			w.svc.metrics.SessionsExpired.Add(float64(evicted))
		}
		w.svc.logger.Info("TTL worker cleanup completed", "cleaned", evicted)
	}

	w.pruneSnapshots(ctx, now)
	return evicted
}

func (w *TTLWorker) pruneSnapshots(ctx context.Context, now time.Time) {
	if w.repo == nil {
		return
	}
	stale, err := w.repo.ExpiredSessions(ctx, snapshotRetention, now)
	if err != nil {
		w.svc.logger.Error("TTL worker failed to list stale snapshots", "error", err)
		return
	}
	for _, rec := range stale {
		if _, live := w.svc.Sessions().Get(rec.SessionID); live {
			continue
		}
		if _, err := w.repo.DeleteSession(ctx, rec.SessionID); err != nil {
			w.svc.logger.Warn("TTL worker failed to delete stale snapshot", "session_id", rec.SessionID, "error", err)
			continue
		}
		w.cleanup(ctx, rec.SessionID)
	}
	if len(stale) > 0 {
		w.svc.logger.Info("TTL worker pruned stale snapshots", "count", len(stale))
	}
}

func (w *TTLWorker) cleanup(ctx context.Context, sessionID string) {
	if w.onCleanup != nil {
		w.onCleanup(ctx, sessionID)
	}
}
