package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/xjson"
)

const (
	itemKeyPrefix        = "item:"
	fingerprintKeyPrefix = "fp:"
	clientKeyPrefix      = "client:"
	sequenceKey          = "item-seq"
	sequenceBandwidth    = 16
	maxTxnRetries        = 8
)

// Store is the durable item store on badger. Mutations run in serializable
// Update transactions and retry on write conflicts, so the one-lease-per-item
// and one-lease-per-client checks happen atomically with the write.
type Store struct {
	db     *badgerdb.DB
	seq    *badgerdb.Sequence
	logger *slog.Logger
}

func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badgerdb.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, domain.NewStorageError("open", dataDir, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, domain.NewStorageError("open", sequenceKey, err)
	}

	return &Store{
		db:     db,
		seq:    seq,
		logger: logger.With("component", "store", "backend", "badger"),
	}, nil
}

func (s *Store) Insert(ctx context.Context, content string) (int64, error) {
	fingerprint := domain.Fingerprint(content)
	fpKey := []byte(fingerprintKeyPrefix + fingerprint)

	next, err := s.seq.Next()
	if err != nil {
		return 0, domain.NewStorageError("insert", content, err)
	}
	id := int64(next) + 1

	item := domain.Item{
		ID:          id,
		Content:     content,
		Fingerprint: fingerprint,
	}
	payload, err := xjson.Marshal(item)
	if err != nil {
		return 0, domain.NewStorageError("insert", content, err)
	}

	err = s.update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(fpKey); err == nil {
			return domain.ErrDuplicateContent
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(fpKey, encodeID(id)); err != nil {
			return err
		}
		return txn.Set(itemKey(id), payload)
	})
	if err != nil {
		if domain.IsDuplicateContent(err) {
			return 0, err
		}
		return 0, domain.NewStorageError("insert", content, err)
	}

	s.logger.Debug("item inserted", "id", id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Item, error) {
	var item domain.Item
	err := s.db.View(func(txn *badgerdb.Txn) error {
		found, err := readItem(txn, id, &item)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrItemNotFound
		}
		return nil
	})
	if err != nil {
		if domain.IsItemNotFound(err) {
			return domain.Item{}, err
		}
		return domain.Item{}, domain.NewStorageError("get", string(itemKey(id)), err)
	}
	return item, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return forEachItem(txn, func(item domain.Item) error {
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, domain.NewStorageError("list", itemKeyPrefix, err)
	}
	return items, nil
}

var errStopIteration = errors.New("stop iteration")

func (s *Store) FirstAvailable(ctx context.Context) (*domain.Item, error) {
	var found *domain.Item
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return forEachItem(txn, func(item domain.Item) error {
			if item.Lease == nil {
				found = &item
				return errStopIteration
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, domain.NewStorageError("first_available", itemKeyPrefix, err)
	}
	return found, nil
}

func (s *Store) FindLeaseByClient(ctx context.Context, clientID string) (*domain.Item, error) {
	var found *domain.Item
	err := s.db.View(func(txn *badgerdb.Txn) error {
		id, held, err := readClientIndex(txn, clientID)
		if err != nil || !held {
			return err
		}
		var item domain.Item
		ok, err := readItem(txn, id, &item)
		if err != nil {
			return err
		}
		if ok {
			found = &item
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("find_lease", clientKeyPrefix+clientID, err)
	}
	return found, nil
}

func (s *Store) TryMarkLeased(ctx context.Context, id int64, clientID string, deadline time.Time) (bool, error) {
	acquired := false
	err := s.update(func(txn *badgerdb.Txn) error {
		acquired = false

		_, held, err := readClientIndex(txn, clientID)
		if err != nil {
			return err
		}
		if held {
			return domain.ErrClientHasLease
		}

		var item domain.Item
		found, err := readItem(txn, id, &item)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrItemNotFound
		}
		if item.Lease != nil {
			return nil
		}

		item.Lease = &domain.Lease{
			ClientID: clientID,
			LeasedAt: time.Now(),
			Deadline: deadline,
		}
		if err := writeItem(txn, item); err != nil {
			return err
		}
		if err := txn.Set([]byte(clientKeyPrefix+clientID), encodeID(id)); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		if domain.IsClientHasLease(err) || domain.IsItemNotFound(err) {
			return false, err
		}
		return false, domain.NewStorageError("mark_leased", string(itemKey(id)), err)
	}
	return acquired, nil
}

func (s *Store) ClearLease(ctx context.Context, id int64) (*domain.Lease, error) {
	var cleared *domain.Lease
	err := s.update(func(txn *badgerdb.Txn) error {
		cleared = nil

		var item domain.Item
		found, err := readItem(txn, id, &item)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrItemNotFound
		}
		if item.Lease == nil {
			return nil
		}

		lease := *item.Lease
		item.Lease = nil
		if err := writeItem(txn, item); err != nil {
			return err
		}
		if err := txn.Delete([]byte(clientKeyPrefix + lease.ClientID)); err != nil {
			return err
		}
		cleared = &lease
		return nil
	})
	if err != nil {
		if domain.IsItemNotFound(err) {
			return nil, err
		}
		return nil, domain.NewStorageError("clear_lease", string(itemKey(id)), err)
	}
	return cleared, nil
}

func (s *Store) ClearLeaseIf(ctx context.Context, id int64, clientID string, deadline time.Time) (*domain.Lease, error) {
	var cleared *domain.Lease
	err := s.update(func(txn *badgerdb.Txn) error {
		cleared = nil

		var item domain.Item
		found, err := readItem(txn, id, &item)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrItemNotFound
		}
		lease := item.Lease
		if lease == nil || lease.ClientID != clientID || !lease.Deadline.Equal(deadline) {
			return nil
		}

		item.Lease = nil
		if err := writeItem(txn, item); err != nil {
			return err
		}
		if err := txn.Delete([]byte(clientKeyPrefix + lease.ClientID)); err != nil {
			return err
		}
		cleared = lease
		return nil
	})
	if err != nil {
		if domain.IsItemNotFound(err) {
			return nil, err
		}
		return nil, domain.NewStorageError("clear_lease", string(itemKey(id)), err)
	}
	return cleared, nil
}

func (s *Store) ClearAllLeases(ctx context.Context) (int, error) {
	cleared := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		cleared = 0
		return forEachItem(txn, func(item domain.Item) error {
			if item.Lease == nil {
				return nil
			}
			clientID := item.Lease.ClientID
			item.Lease = nil
			if err := writeItem(txn, item); err != nil {
				return err
			}
			if err := txn.Delete([]byte(clientKeyPrefix + clientID)); err != nil {
				return err
			}
			cleared++
			return nil
		})
	})
	if err != nil {
		return 0, domain.NewStorageError("clear_all_leases", itemKeyPrefix, err)
	}
	if cleared > 0 {
		s.logger.Info("cleared stale leases at startup", "count", cleared)
	}
	return cleared, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release item sequence", "error", err.Error())
	}
	return s.db.Close()
}

// update runs fn in a serializable transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func itemKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", itemKeyPrefix, id))
}

func encodeID(id int64) []byte {
	return []byte(fmt.Sprintf("%d", id))
}

func decodeID(raw []byte) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(string(raw), "%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}

func readItem(txn *badgerdb.Txn, id int64, out *domain.Item) (bool, error) {
	entry, err := txn.Get(itemKey(id))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	value, err := entry.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	if err := xjson.Unmarshal(value, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeItem(txn *badgerdb.Txn, item domain.Item) error {
	payload, err := xjson.Marshal(item)
	if err != nil {
		return err
	}
	return txn.Set(itemKey(item.ID), payload)
}

func readClientIndex(txn *badgerdb.Txn, clientID string) (int64, bool, error) {
	entry, err := txn.Get([]byte(clientKeyPrefix + clientID))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	raw, err := entry.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	id, err := decodeID(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// forEachItem iterates item records in id order; zero-padded keys make the
// lexical iteration order match insertion order.
func forEachItem(txn *badgerdb.Txn, fn func(domain.Item) error) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(itemKeyPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		var item domain.Item
		if err := xjson.Unmarshal(value, &item); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}
