// Package allocator implements the lease-allocation engine: atomic
// find-and-lease against the item store, enforcing one lease per item and one
// lease per client, with release funneled through a single choke point.
package allocator

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/ports"
)

type Allocator struct {
	store         ports.ItemStore
	scheduler     ports.ExpiryScheduler
	leaseDuration time.Duration
	logger        *slog.Logger
}

func New(store ports.ItemStore, scheduler ports.ExpiryScheduler, leaseDuration time.Duration, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		store:         store,
		scheduler:     scheduler,
		leaseDuration: leaseDuration,
		logger:        logger.With("component", "allocator"),
	}
}

// Rent leases the lowest-id available item to clientID. The scan and the
// lease write are not one critical section across the store boundary, so the
// CAS in TryMarkLeased is authoritative: losing a race on one item means
// rescanning, and a pool that empties mid-scan resolves to
// ErrNoItemAvailable for exactly the callers that found nothing to claim.
func (a *Allocator) Rent(ctx context.Context, clientID string) (domain.Item, error) {
	// Fast-path check; the store re-checks under its exclusion primitive.
	held, err := a.store.FindLeaseByClient(ctx, clientID)
	if err != nil {
		return domain.Item{}, err
	}
	if held != nil {
		a.logger.Debug("rent rejected, client already holds a lease", "client_id", clientID, "item_id", held.ID)
		return domain.Item{}, domain.ErrClientHasLease
	}

	for {
		candidate, err := a.store.FirstAvailable(ctx)
		if err != nil {
			return domain.Item{}, err
		}
		if candidate == nil {
			a.logger.Debug("rent rejected, pool exhausted", "client_id", clientID)
			return domain.Item{}, domain.ErrNoItemAvailable
		}

		// Computed per attempt, so a lease granted after lost races still
		// runs for the full duration from its actual acquisition.
		deadline := time.Now().Add(a.leaseDuration)
		acquired, err := a.store.TryMarkLeased(ctx, candidate.ID, clientID, deadline)
		if err != nil {
			if domain.IsItemNotFound(err) {
				continue
			}
			return domain.Item{}, err
		}
		if !acquired {
			// Lost the race on this item; another one may still be free.
			continue
		}

		a.scheduler.Schedule(candidate.ID, clientID, deadline)
		a.logger.Info("lease granted", "item_id", candidate.ID, "client_id", clientID, "deadline", deadline)

		leased, err := a.store.Get(ctx, candidate.ID)
		if err != nil {
			return domain.Item{}, err
		}
		return leased, nil
	}
}

// Release clears the lease on itemID regardless of remaining time. A false
// result means some other path already cleared it, which is an expected
// outcome of racing the expiry scheduler, not an error.
func (a *Allocator) Release(ctx context.Context, itemID int64) (bool, error) {
	lease, err := a.store.ClearLease(ctx, itemID)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}

	a.logger.Info("lease released", "item_id", itemID, "client_id", lease.ClientID)
	return true, nil
}

// ReleaseIf clears the lease on itemID only when it is still the exact lease
// instance identified by clientID and deadline. The expiry scheduler releases
// through this so a timer outliving an early release can never clear a
// successor lease granted on the same item.
func (a *Allocator) ReleaseIf(ctx context.Context, itemID int64, clientID string, deadline time.Time) (bool, error) {
	lease, err := a.store.ClearLeaseIf(ctx, itemID, clientID, deadline)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}

	a.logger.Info("lease released", "item_id", itemID, "client_id", lease.ClientID)
	return true, nil
}

// CreateItem adds a new item to the pool. Uniqueness is the only invariant;
// the store surfaces duplicates as domain.ErrDuplicateContent.
func (a *Allocator) CreateItem(ctx context.Context, content string) (int64, error) {
	id, err := a.store.Insert(ctx, content)
	if err != nil {
		return 0, err
	}
	a.logger.Info("item created", "item_id", id)
	return id, nil
}
