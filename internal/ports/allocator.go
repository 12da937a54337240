package ports

import (
	"context"
	"time"

	"github.com/eleven-am/rentd/internal/domain"
)

// Allocator implements atomic find-and-lease and release against the item
// store, enforcing one lease per item and one lease per client.
type Allocator interface {
	// Rent leases the lowest-id available item to clientID. It fails with
	// domain.ErrClientHasLease when the client already holds a lease and
	// domain.ErrNoItemAvailable when no unleased item exists at the moment of
	// the atomic step.
	Rent(ctx context.Context, clientID string) (domain.Item, error)

	// Release clears the lease on itemID regardless of remaining time. It is
	// idempotent and reports whether a lease was actually cleared; false
	// means some other path (typically expiry) got there first.
	Release(ctx context.Context, itemID int64) (bool, error)

	// CreateItem adds a new item to the pool, rejecting duplicate content.
	CreateItem(ctx context.Context, content string) (int64, error)
}

// Releaser is the narrow slice of the allocator the expiry scheduler calls
// back through, so that every lease removal funnels through one choke point.
// Expiry releases conditionally: a timer left over from an earlier lease on
// the same item must never clear its successor.
type Releaser interface {
	// ReleaseIf clears the lease on itemID only when the current lease is the
	// exact instance identified by clientID and deadline. It reports whether a
	// lease was cleared; false means the lease is gone or has been superseded.
	ReleaseIf(ctx context.Context, itemID int64, clientID string, deadline time.Time) (bool, error)
}
