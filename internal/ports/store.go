package ports

import (
	"context"
	"time"

	"github.com/eleven-am/rentd/internal/domain"
)

// ItemStore owns every Item and Lease record. The allocator is the only
// component permitted to mutate them, and every mutation must be atomic with
// respect to all other mutations on the same store.
type ItemStore interface {
	// Insert adds a new unleased item. It fails with domain.ErrDuplicateContent
	// when an item with the same content fingerprint already exists.
	Insert(ctx context.Context, content string) (int64, error)

	// Get fetches one item by id, domain.ErrItemNotFound when absent.
	Get(ctx context.Context, id int64) (domain.Item, error)

	// List returns all items in insertion order. It is a bounded snapshot
	// read and must not block lease allocation beyond that.
	List(ctx context.Context) ([]domain.Item, error)

	// FirstAvailable returns the unleased item with the smallest id, or nil
	// when every item is leased (or the pool is empty).
	FirstAvailable(ctx context.Context) (*domain.Item, error)

	// FindLeaseByClient returns the item currently leased by clientID, or nil
	// when the client holds nothing.
	FindLeaseByClient(ctx context.Context, clientID string) (*domain.Item, error)

	// TryMarkLeased atomically sets the lease on the item iff it has none and
	// clientID holds no lease anywhere in the store. It returns false when
	// the item is already leased, and domain.ErrClientHasLease when the
	// client invariant would be violated. Both checks happen under the same
	// exclusion primitive as the write.
	TryMarkLeased(ctx context.Context, id int64, clientID string, deadline time.Time) (bool, error)

	// ClearLease atomically removes and returns the item's lease. Clearing an
	// unleased item is a no-op returning nil.
	ClearLease(ctx context.Context, id int64) (*domain.Lease, error)

	// ClearLeaseIf removes the item's lease only when the current lease was
	// granted to clientID with exactly this deadline, identifying one lease
	// instance. A mismatch (different holder, different deadline, or no lease
	// at all) is a no-op returning nil. The check and the removal happen under
	// the same exclusion primitive as TryMarkLeased.
	ClearLeaseIf(ctx context.Context, id int64, clientID string, deadline time.Time) (*domain.Lease, error)

	// ClearAllLeases drops every active lease. Persistent stores run this
	// once at startup so a restarted process recovers to a leased-nothing
	// state. It returns the number of leases cleared.
	ClearAllLeases(ctx context.Context) (int, error)

	Close() error
}
