package redis

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/xjson"
)

// Store keeps the item pool in redis for deployments that already run one.
// Item bodies, the fingerprint index and the insertion-order index are plain
// keys; lease state lives in per-item lease keys plus a client index, and the
// multi-key transitions run as Lua scripts so they stay atomic per item.
type Store struct {
	client goredis.Cmdable
	prefix string
	logger *slog.Logger
}

func NewStore(client goredis.Cmdable, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = "rentd"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "store", "backend", "redis"),
	}
}

// insertScript claims the fingerprint key, writes the item body and appends
// the id to the insertion-order index in one atomic step.
const insertScript = `
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("RPUSH", KEYS[3], ARGV[1])
return 1
`

// leaseScript sets the lease iff the item exists, is unleased, and the client
// holds nothing. Returns 1 on success, 0 on item conflict, -1 when the client
// already holds a lease, -2 when the item does not exist.
const leaseScript = `
if redis.call("EXISTS", KEYS[3]) == 0 then
	return -2
end
if redis.call("EXISTS", KEYS[2]) == 1 then
	return -1
end
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
return 1
`

// clearScript removes the lease and its client index entry, returning the
// removed lease payload, or false when the item was not leased.
const clearScript = `
local lease = redis.call("GET", KEYS[1])
if lease == false then
	return false
end
redis.call("DEL", KEYS[1])
local decoded = cjson.decode(lease)
redis.call("DEL", ARGV[1] .. decoded.client_id)
return lease
`

// clearIfScript removes the lease only when the stored lease matches the
// given holder and deadline, so a caller can target one lease instance.
// Returns the removed lease payload, or false on mismatch or no lease.
const clearIfScript = `
local lease = redis.call("GET", KEYS[1])
if lease == false then
	return false
end
local decoded = cjson.decode(lease)
if decoded.client_id ~= ARGV[2] or decoded.deadline ~= ARGV[3] then
	return false
end
redis.call("DEL", KEYS[1])
redis.call("DEL", ARGV[1] .. decoded.client_id)
return lease
`

func (s *Store) Insert(ctx context.Context, content string) (int64, error) {
	fingerprint := domain.Fingerprint(content)

	id, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return 0, domain.NewStorageError("insert", content, err)
	}

	item := domain.Item{
		ID:          id,
		Content:     content,
		Fingerprint: fingerprint,
	}
	payload, err := xjson.Marshal(item)
	if err != nil {
		return 0, domain.NewStorageError("insert", content, err)
	}

	res, err := s.client.Eval(ctx, insertScript,
		[]string{s.fingerprintKey(fingerprint), s.itemKey(id), s.key("index")},
		id, payload).Result()
	if err != nil {
		return 0, domain.NewStorageError("insert", content, err)
	}
	if res == int64(0) {
		return 0, domain.ErrDuplicateContent
	}

	s.logger.Debug("item inserted", "id", id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Item, error) {
	raw, err := s.client.Get(ctx, s.itemKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, domain.NewStorageError("get", s.itemKey(id), err)
	}

	var item domain.Item
	if err := xjson.Unmarshal([]byte(raw), &item); err != nil {
		return domain.Item{}, domain.NewStorageError("get", s.itemKey(id), err)
	}
	if err := s.attachLease(ctx, &item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Item, error) {
	ids, err := s.indexIDs(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err != nil {
			if domain.IsItemNotFound(err) {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) FirstAvailable(ctx context.Context) (*domain.Item, error) {
	ids, err := s.indexIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.leaseKey(id)).Result()
		if err != nil {
			return nil, domain.NewStorageError("first_available", s.leaseKey(id), err)
		}
		if exists == 0 {
			item, err := s.Get(ctx, id)
			if err != nil {
				if domain.IsItemNotFound(err) {
					continue
				}
				return nil, err
			}
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) FindLeaseByClient(ctx context.Context, clientID string) (*domain.Item, error) {
	raw, err := s.client.Get(ctx, s.clientKey(clientID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("find_lease", s.clientKey(clientID), err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, domain.NewStorageError("find_lease", s.clientKey(clientID), err)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		if domain.IsItemNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) TryMarkLeased(ctx context.Context, id int64, clientID string, deadline time.Time) (bool, error) {
	lease := domain.Lease{
		ClientID: clientID,
		LeasedAt: time.Now(),
		Deadline: deadline,
	}
	payload, err := xjson.Marshal(lease)
	if err != nil {
		return false, domain.NewStorageError("mark_leased", s.leaseKey(id), err)
	}

	res, err := s.client.Eval(ctx, leaseScript,
		[]string{s.leaseKey(id), s.clientKey(clientID), s.itemKey(id)},
		payload, id).Result()
	if err != nil {
		return false, domain.NewStorageError("mark_leased", s.leaseKey(id), err)
	}

	switch res {
	case int64(1):
		s.logger.Debug("lease set", "id", id, "client_id", clientID)
		return true, nil
	case int64(0):
		return false, nil
	case int64(-1):
		return false, domain.ErrClientHasLease
	default:
		return false, domain.ErrItemNotFound
	}
}

func (s *Store) ClearLease(ctx context.Context, id int64) (*domain.Lease, error) {
	res, err := s.client.Eval(ctx, clearScript,
		[]string{s.leaseKey(id)},
		s.key("client")+":").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("clear_lease", s.leaseKey(id), err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var lease domain.Lease
	if err := xjson.Unmarshal([]byte(raw), &lease); err != nil {
		return nil, domain.NewStorageError("clear_lease", s.leaseKey(id), err)
	}

	s.logger.Debug("lease cleared", "id", id, "client_id", lease.ClientID)
	return &lease, nil
}

func (s *Store) ClearLeaseIf(ctx context.Context, id int64, clientID string, deadline time.Time) (*domain.Lease, error) {
	// Encode the deadline exactly as it was stored in the lease payload so
	// the script can compare the decoded field by string equality.
	rawDeadline, err := xjson.Marshal(deadline)
	if err != nil {
		return nil, domain.NewStorageError("clear_lease", s.leaseKey(id), err)
	}

	res, err := s.client.Eval(ctx, clearIfScript,
		[]string{s.leaseKey(id)},
		s.key("client")+":", clientID, strings.Trim(string(rawDeadline), `"`)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("clear_lease", s.leaseKey(id), err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var lease domain.Lease
	if err := xjson.Unmarshal([]byte(raw), &lease); err != nil {
		return nil, domain.NewStorageError("clear_lease", s.leaseKey(id), err)
	}

	s.logger.Debug("lease cleared", "id", id, "client_id", lease.ClientID)
	return &lease, nil
}

func (s *Store) ClearAllLeases(ctx context.Context) (int, error) {
	cleared := 0
	ids, err := s.indexIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		lease, err := s.ClearLease(ctx, id)
		if err != nil {
			return cleared, err
		}
		if lease != nil {
			cleared++
		}
	}
	if cleared > 0 {
		s.logger.Info("cleared stale leases at startup", "count", cleared)
	}
	return cleared, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) attachLease(ctx context.Context, item *domain.Item) error {
	raw, err := s.client.Get(ctx, s.leaseKey(item.ID)).Result()
	if errors.Is(err, goredis.Nil) {
		item.Lease = nil
		return nil
	}
	if err != nil {
		return domain.NewStorageError("get", s.leaseKey(item.ID), err)
	}

	var lease domain.Lease
	if err := xjson.Unmarshal([]byte(raw), &lease); err != nil {
		return domain.NewStorageError("get", s.leaseKey(item.ID), err)
	}
	item.Lease = &lease
	return nil
}

func (s *Store) indexIDs(ctx context.Context) ([]int64, error) {
	raw, err := s.client.LRange(ctx, s.key("index"), 0, -1).Result()
	if err != nil {
		return nil, domain.NewStorageError("list", s.key("index"), err)
	}

	ids := make([]int64, 0, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseInt(entry, 10, 64)
		if err != nil {
			return nil, domain.NewStorageError("list", s.key("index"), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (s *Store) itemKey(id int64) string {
	return s.key("item", strconv.FormatInt(id, 10))
}

func (s *Store) leaseKey(id int64) string {
	return s.key("lease", strconv.FormatInt(id, 10))
}

func (s *Store) fingerprintKey(fp string) string {
	return s.key("fp", fp)
}

func (s *Store) clientKey(clientID string) string {
	return s.key("client", clientID)
}
