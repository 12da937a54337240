// Package expiry tracks outstanding lease deadlines and releases each lease
// exactly once, at or after its deadline. It holds only lease identities and
// deadlines; the actual state transition goes back through the allocator's
// conditional release.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/rentd/internal/ports"
)

type Scheduler struct {
	notifier ports.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	releaser ports.Releaser
	timers   map[int64]*leaseTimer
	nextGen  uint64
	stopped  bool
}

// leaseTimer pairs the pending timer with the generation it was scheduled
// under, so a fire from a displaced timer can be told apart from the
// current one.
type leaseTimer struct {
	timer *time.Timer
	gen   uint64
}

func NewScheduler(notifier ports.Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		notifier: notifier,
		logger:   logger.With("component", "expiry-scheduler"),
		timers:   make(map[int64]*leaseTimer),
	}
}

// Bind attaches the releaser after construction; the allocator depends on the
// scheduler, so the back edge is wired by the caller once both exist.
func (s *Scheduler) Bind(releaser ports.Releaser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaser = releaser
}

// Schedule registers a one-shot timer for the lease on itemID. An item can be
// scheduled again after an early release frees it for a new lease; the prior
// timer is stopped, and if it has already begun firing, the conditional
// release refuses the stale lease identity.
func (s *Scheduler) Schedule(itemID int64, clientID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("schedule after stop ignored", "item_id", itemID)
		return
	}

	if prev, ok := s.timers[itemID]; ok {
		prev.timer.Stop()
	}

	s.nextGen++
	gen := s.nextGen
	s.timers[itemID] = &leaseTimer{
		gen: gen,
		timer: time.AfterFunc(time.Until(deadline), func() {
			s.fire(itemID, clientID, deadline, gen)
		}),
	}
	s.logger.Debug("expiry scheduled", "item_id", itemID, "client_id", clientID, "deadline", deadline)
}

// Stop cancels every pending timer. Leases already past their deadline may
// still fire concurrently; release idempotence makes that harmless.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	for id, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, id)
	}
	s.logger.Debug("expiry scheduler stopped")
}

func (s *Scheduler) fire(itemID int64, clientID string, deadline time.Time, gen uint64) {
	s.mu.Lock()
	if entry, ok := s.timers[itemID]; ok && entry.gen == gen {
		delete(s.timers, itemID)
	}
	releaser := s.releaser
	s.mu.Unlock()

	if releaser == nil {
		s.logger.Error("expiry fired with no releaser bound", "item_id", itemID)
		return
	}

	cleared, err := releaser.ReleaseIf(context.Background(), itemID, clientID, deadline)
	if err != nil {
		s.logger.Error("expiry release failed", "item_id", itemID, "error", err.Error())
		return
	}
	if !cleared {
		// The lease was released early or superseded; notifying would be wrong.
		s.logger.Debug("expiry fired on a lease no longer current", "item_id", itemID, "client_id", clientID)
		return
	}

	s.logger.Info("lease expired", "item_id", itemID, "client_id", clientID)
	if s.notifier != nil {
		s.notifier.NotifyExpired(clientID, itemID)
	}
}
