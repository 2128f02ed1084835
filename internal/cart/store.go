package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists carts between requests, keyed by owner.
type Store interface {
	// Load returns the owner's cart, or a new empty one.
	Load(ctx context.Context, ownerID string) (*Cart, error)
	// Save stores c if the stored version still equals c.Version, then
	// bumps c.Version.  Otherwise it returns ErrStaleCart and writes
	// nothing.  A missing cart has version 0.
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, ownerID string) error
}

// RedisStore keeps each cart as a JSON document that expires after ttl of
// inactivity.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "cart:"}
}

func (s *RedisStore) key(ownerID string) string { return s.prefix + ownerID }

func (s *RedisStore) Load(ctx context.Context, ownerID string) (*Cart, error) {
	b, err := s.rdb.Get(ctx, s.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(ownerID), nil
	}
	if err != nil {
		return nil, err
	}
	var c Cart
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Lines == nil {
		c.Lines = []Line{}
	}
	c.OwnerID = ownerID
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Cart) error {
	next := *c
	next.Version++
	b, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	key := s.key(c.OwnerID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != c.Version {
			return ErrStaleCart
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleCart
	}
	if err != nil {
		return err
	}
	c.Version = next.Version
	return nil
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	b, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return 0, err
	}
	return head.Version, nil
}

func (s *RedisStore) Delete(ctx context.Context, ownerID string) error {
	return s.rdb.Del(ctx, s.key(ownerID)).Err()
}

// MemoryStore is a process-local Store used when Redis is not configured.
// Carts are copied in and out so callers never share a Cart value.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Cart)}
}

func (s *MemoryStore) Load(_ context.Context, ownerID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	if !ok {
		return New(ownerID), nil
	}
	return c.clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[c.OwnerID].Version != c.Version {
		return ErrStaleCart
	}
	next := c.clone()
	next.Version++
	s.carts[c.OwnerID] = *next
	c.Version = next.Version
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, ownerID)
	return nil
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Lines = append([]Line{}, c.Lines...)
	return &cp
}
