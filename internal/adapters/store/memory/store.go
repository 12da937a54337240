package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/rentd/internal/domain"
)

// Store is the default in-memory item store: an arena slice indexed by item
// id plus fingerprint and client indexes, all guarded by one mutex. Every
// logical operation holds the mutex for its full duration and performs no
// I/O inside it.
type Store struct {
	mu            sync.Mutex
	items         []domain.Item
	byFingerprint map[string]int64
	byClient      map[string]int64
	logger        *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byFingerprint: make(map[string]int64),
		byClient:      make(map[string]int64),
		logger:        logger.With("component", "store", "backend", "memory"),
	}
}

func (s *Store) Insert(ctx context.Context, content string) (int64, error) {
	fingerprint := domain.Fingerprint(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[fingerprint]; exists {
		s.logger.Debug("duplicate content rejected", "fingerprint", fingerprint)
		return 0, domain.ErrDuplicateContent
	}

	id := int64(len(s.items)) + 1
	s.items = append(s.items, domain.Item{
		ID:          id,
		Content:     content,
		Fingerprint: fingerprint,
	})
	s.byFingerprint[fingerprint] = id

	s.logger.Debug("item inserted", "id", id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slot(id)
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return cloneItem(slot), nil
}

func (s *Store) List(ctx context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Item, 0, len(s.items))
	for i := range s.items {
		out = append(out, cloneItem(&s.items[i]))
	}
	return out, nil
}

func (s *Store) FirstAvailable(ctx context.Context) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Lease == nil {
			item := cloneItem(&s.items[i])
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) FindLeaseByClient(ctx context.Context, clientID string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byClient[clientID]
	if !ok {
		return nil, nil
	}
	slot, ok := s.slot(id)
	if !ok {
		return nil, nil
	}
	item := cloneItem(slot)
	return &item, nil
}

func (s *Store) TryMarkLeased(ctx context.Context, id int64, clientID string, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slot(id)
	if !ok {
		return false, domain.ErrItemNotFound
	}
	if _, held := s.byClient[clientID]; held {
		return false, domain.ErrClientHasLease
	}
	if slot.Lease != nil {
		return false, nil
	}

	now := time.Now()
	slot.Lease = &domain.Lease{
		ClientID: clientID,
		LeasedAt: now,
		Deadline: deadline,
	}
	s.byClient[clientID] = id

	s.logger.Debug("lease set", "id", id, "client_id", clientID, "deadline", deadline)
	return true, nil
}

func (s *Store) ClearLease(ctx context.Context, id int64) (*domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slot(id)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if slot.Lease == nil {
		return nil, nil
	}

	lease := slot.Lease
	slot.Lease = nil
	delete(s.byClient, lease.ClientID)

	s.logger.Debug("lease cleared", "id", id, "client_id", lease.ClientID)
	return lease, nil
}

func (s *Store) ClearLeaseIf(ctx context.Context, id int64, clientID string, deadline time.Time) (*domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slot(id)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	lease := slot.Lease
	if lease == nil || lease.ClientID != clientID || !lease.Deadline.Equal(deadline) {
		return nil, nil
	}

	slot.Lease = nil
	delete(s.byClient, lease.ClientID)

	s.logger.Debug("lease cleared", "id", id, "client_id", lease.ClientID)
	return lease, nil
}

func (s *Store) ClearAllLeases(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for i := range s.items {
		if s.items[i].Lease != nil {
			s.items[i].Lease = nil
			cleared++
		}
	}
	s.byClient = make(map[string]int64)
	return cleared, nil
}

func (s *Store) Close() error {
	return nil
}

// slot returns a mutable pointer into the arena. Caller must hold s.mu.
func (s *Store) slot(id int64) (*domain.Item, bool) {
	if id < 1 || id > int64(len(s.items)) {
		return nil, false
	}
	return &s.items[id-1], true
}

func cloneItem(item *domain.Item) domain.Item {
	out := *item
	if item.Lease != nil {
		lease := *item.Lease
		out.Lease = &lease
	}
	return out
}
