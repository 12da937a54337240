package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Item is a leasable unit in the pool. Items are created by the add command
// and live until process shutdown; there is no deletion path.
type Item struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	Fingerprint string `json:"fingerprint"`
	Lease       *Lease `json:"lease,omitempty"`
}

// Leased reports whether the item currently has an active lease record.
func (i *Item) Leased() bool {
	return i.Lease != nil
}

// Lease is a time-bounded exclusive claim on one item by one client.
type Lease struct {
	ClientID string    `json:"client_id"`
	LeasedAt time.Time `json:"leased_at"`
	Deadline time.Time `json:"deadline"`
}

// NewLease binds a client to an item for the given duration starting at now.
func NewLease(clientID string, now time.Time, duration time.Duration) *Lease {
	return &Lease{
		ClientID: clientID,
		LeasedAt: now,
		Deadline: now.Add(duration),
	}
}

func (l *Lease) IsExpired(now time.Time) bool {
	return now.After(l.Deadline)
}

func (l *Lease) Remaining(now time.Time) time.Duration {
	if l.IsExpired(now) {
		return 0
	}
	return l.Deadline.Sub(now)
}

// Fingerprint returns the canonical digest of item content used to enforce
// uniqueness. md5 is sufficient here: the requirement is uniqueness, not
// secrecy.
func Fingerprint(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ClientInfo describes a connection known to the client registry. The core
// never mutates Active; it is informational for status listings.
type ClientInfo struct {
	ClientID    string    `json:"client_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Active      bool      `json:"active"`
}
