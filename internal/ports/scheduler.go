package ports

import "time"

// ExpiryScheduler guarantees that every granted lease is released at or after
// its deadline, exactly once, no matter how many leases are outstanding. It
// holds only identifiers and deadlines, never item handles; release goes back
// through the allocator so the lease invariants stay enforced in one place.
type ExpiryScheduler interface {
	// Schedule registers a one-shot timer for the lease on itemID. The
	// clientID is carried along so the expiry notification can be routed to
	// the holding connection.
	Schedule(itemID int64, clientID string, deadline time.Time)

	// Stop cancels all pending timers. Safe to call more than once.
	Stop()
}

// Notifier delivers the asynchronous expiry event to whatever holds the
// client's connection. Implementations drop the notification silently when
// the connection is gone.
type Notifier interface {
	NotifyExpired(clientID string, itemID int64)
}
