// Package registry keeps connection identity bookkeeping for the status
// command. Deregistered clients are marked inactive rather than deleted, so
// a connection's history survives its socket.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/rentd/internal/domain"
)

type MemoryClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]domain.ClientInfo
	logger  *slog.Logger
}

func NewMemoryClientRegistry(logger *slog.Logger) *MemoryClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryClientRegistry{
		clients: make(map[string]domain.ClientInfo),
		logger:  logger.With("component", "client-registry"),
	}
}

func (r *MemoryClientRegistry) Register(clientID, remoteAddr string) error {
	if clientID == "" {
		return domain.Error{
			Type:    domain.ErrorTypeInvalid,
			Message: "client id cannot be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.clients[clientID]; exists && existing.Active {
		r.logger.Warn("client registration conflict", "client_id", clientID)
		return domain.Error{
			Type:    domain.ErrorTypeConflict,
			Message: "client already registered",
			Details: map[string]interface{}{
				"client_id": clientID,
			},
		}
	}

	r.clients[clientID] = domain.ClientInfo{
		ClientID:    clientID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Active:      true,
	}
	r.logger.Debug("client registered", "client_id", clientID, "remote_addr", remoteAddr)
	return nil
}

func (r *MemoryClientRegistry) Deregister(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.clients[clientID]
	if !exists {
		return domain.Error{
			Type:    domain.ErrorTypeNotFound,
			Message: "client not registered",
			Details: map[string]interface{}{
				"client_id": clientID,
			},
		}
	}

	info.Active = false
	r.clients[clientID] = info
	r.logger.Debug("client deregistered", "client_id", clientID)
	return nil
}

func (r *MemoryClientRegistry) ListActive() []domain.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]domain.ClientInfo, 0, len(r.clients))
	for _, info := range r.clients {
		if info.Active {
			active = append(active, info)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ConnectedAt.Before(active[j].ConnectedAt)
	})
	return active
}
