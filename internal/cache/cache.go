// Package cache implements the two-tier read-through cache: a bounded
// in-process LRU (L1) backed by a shared Redis store (L2) with TTL,
// HMAC-signed wallet entries, delete-on-write invalidation, and
// best-effort pub/sub propagation.
package cache

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Resource-typed TTLs.
const (
	TTLWallet    = 60 * time.Second
	TTLPlayer    = 600 * time.Second
	TTLGameList  = 1800 * time.Second
	TTLGameState = 30 * time.Second
	TTLDefault   = 300 * time.Second

	maxL1BackfillTTL = 60 * time.Second
	coalesceLockTTL  = 5 * time.Second

	walletUpdatesChannel = "wallet_updates"
)

// WalletKey builds the `wallet:{player_id}` cache key.
func WalletKey(playerID string) string { return fmt.Sprintf("wallet:%s", playerID) }

// SessionKey builds the `session:{player_id}` cache key.
func SessionKey(playerID string) string { return fmt.Sprintf("session:%s", playerID) }

// GameStateKey builds the `game_state:{game_id}` cache key.
func GameStateKey(gameID string) string { return fmt.Sprintf("game_state:%s", gameID) }

// lruNode is one doubly-linked-list entry backing the L1 LRU.
type lruNode struct {
	key        string
	value      []byte
	signed     bool
	expiresAt  time.Time
	prev, next *lruNode
}

// l1 is a bounded LRU with per-entry expiry: map + intrusive list,
// all operations O(1) under one mutex.
type l1 struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode
	head     *lruNode // most recently used
	tail     *lruNode // least recently used
}

func newL1(capacity int) *l1 {
	if capacity <= 0 {
		capacity = 5000
	}
	return &l1{capacity: capacity, items: make(map[string]*lruNode)}
}

func (c *l1) detach(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *l1) pushFront(n *lruNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *l1) get(key string) ([]byte, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return nil, false, false
	}
	if time.Now().After(n.expiresAt) {
		c.detach(n)
		delete(c.items, key)
		return nil, false, false
	}
	c.detach(n)
	c.pushFront(n)
	return n.value, n.signed, true
}

func (c *l1) set(key string, value []byte, signed bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		c.detach(n)
		delete(c.items, key)
	}
	n := &lruNode{key: key, value: value, signed: signed, expiresAt: time.Now().Add(ttl)}
	c.pushFront(n)
	c.items[key] = n

	for len(c.items) > c.capacity {
		lru := c.tail
		if lru == nil {
			break
		}
		c.detach(lru)
		delete(c.items, lru.key)
	}
}

func (c *l1) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[key]; ok {
		c.detach(n)
		delete(c.items, key)
	}
}

// Cache is the two-tier read-through cache: L1 LRU in front of a
// shared Redis L2.
type Cache struct {
	l1      *l1
	rdb     *redis.Client
	hmacKey []byte
	log     zerolog.Logger
}

// New constructs a Cache. redisURL is parsed with redis.ParseURL;
// hmacKey signs cached wallet balance entries.
func New(redisURL string, hmacKey []byte, l1Capacity int, log zerolog.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &Cache{
		l1:      newL1(l1Capacity),
		rdb:     redis.NewClient(opt),
		hmacKey: hmacKey,
		log:     log,
	}, nil
}

func (c *Cache) sign(key string, value []byte) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(key))
	mac.Write(value)
	return hex.EncodeToString(mac.Sum(nil))
}

// envelope wraps a signed payload for L2 storage so the signature
// travels alongside the bytes it protects.
type envelope struct {
	Value []byte `json:"value"`
	Sig   string `json:"sig,omitempty"`
}

// GetSigned reads a key that carries an HMAC tag (wallet entries). A
// signature mismatch is treated as a miss and the key is deleted.
func (c *Cache) GetSigned(ctx context.Context, key string) ([]byte, bool) {
	if v, signed, ok := c.l1.get(key); ok && signed {
		return v, true
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.deleteBoth(ctx, key)
		return nil, false
	}
	if !hmac.Equal([]byte(env.Sig), []byte(c.sign(key, env.Value))) {
		c.deleteBoth(ctx, key)
		return nil, false
	}

	ttl, err := c.rdb.TTL(ctx, key).Result()
	backfill := maxL1BackfillTTL
	if err == nil && ttl > 0 && ttl < backfill {
		backfill = ttl
	}
	c.l1.set(key, env.Value, true, backfill)
	return env.Value, true
}

// SetSigned writes a wallet-shaped value to both tiers with an HMAC tag.
func (c *Cache) SetSigned(ctx context.Context, key string, value []byte, ttl time.Duration) {
	env := envelope{Value: value, Sig: c.sign(key, value)}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache: L2 set failed")
	}
	l1ttl := ttl
	if l1ttl > maxL1BackfillTTL {
		l1ttl = maxL1BackfillTTL
	}
	c.l1.set(key, value, true, l1ttl)
}

// Get reads an unsigned value (player profile, game state, derived
// query results).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, _, ok := c.l1.get(key); ok {
		return v, true
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	ttl, err := c.rdb.TTL(ctx, key).Result()
	backfill := maxL1BackfillTTL
	if err == nil && ttl > 0 && ttl < backfill {
		backfill = ttl
	}
	c.l1.set(key, raw, false, backfill)
	return raw, true
}

// Set writes an unsigned value to both tiers.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache: L2 set failed")
	}
	l1ttl := ttl
	if l1ttl > maxL1BackfillTTL {
		l1ttl = maxL1BackfillTTL
	}
	c.l1.set(key, value, false, l1ttl)
}

// deleteBoth removes a key from both tiers without publishing.
func (c *Cache) deleteBoth(ctx context.Context, key string) {
	c.l1.delete(key)
	c.rdb.Del(ctx, key)
}

// Invalidate deletes a key from both tiers. Writers call this after a
// committed mutation instead of re-populating the cache; next read
// back-fills, which avoids stale-write races under concurrent mutations.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.deleteBoth(ctx, key)
}

// PublishWalletUpdated publishes the best-effort wallet_updates event.
// Failure to publish never fails the caller's mutation.
func (c *Cache) PublishWalletUpdated(ctx context.Context, playerID string) {
	payload, err := json.Marshal(map[string]any{
		"event":     "wallet_updated",
		"player_id": playerID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, walletUpdatesChannel, payload).Err(); err != nil {
		c.log.Debug().Err(err).Str("player_id", playerID).Msg("cache: wallet_updates publish failed")
	}
}

// RunInvalidationListener consumes wallet_updates events published by
// other processes and drops the matching L1 entry, so a stale local
// copy never outlives its committed mutation by more than the publish
// latency. Blocks until ctx is canceled.
func (c *Cache) RunInvalidationListener(ctx context.Context) {
	sub := c.rdb.Subscribe(ctx, walletUpdatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt struct {
				PlayerID string `json:"player_id"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil || evt.PlayerID == "" {
				continue
			}
			c.l1.delete(WalletKey(evt.PlayerID))
		case <-ctx.Done():
			return
		}
	}
}

// AcquireCoalesceLock takes the short-TTL SET-NX lock guarding a rare
// direct cache write. A false return means another writer holds it and
// the caller should invalidate instead of writing.
func (c *Cache) AcquireCoalesceLock(ctx context.Context, key string) bool {
	ok, err := c.rdb.SetNX(ctx, "lock:"+key, "1", coalesceLockTTL).Result()
	if err != nil {
		return false
	}
	return ok
}

// ReleaseCoalesceLock releases a previously acquired coalesce lock.
func (c *Cache) ReleaseCoalesceLock(ctx context.Context, key string) {
	c.rdb.Del(ctx, "lock:"+key)
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error { return c.rdb.Close() }
