package ports

import "github.com/eleven-am/rentd/internal/domain"

// ClientRegistry tracks connection identities for status listings. It is
// consumed only by the status command, never by the allocator.
type ClientRegistry interface {
	Register(clientID, remoteAddr string) error
	Deregister(clientID string) error
	ListActive() []domain.ClientInfo
}
