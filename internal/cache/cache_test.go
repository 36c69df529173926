package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// setupTestCache points L2 at an address nothing listens on: every L2
// operation fails quietly, which is exactly the "cache failures are
// logged and swallowed" contract, and leaves L1 behavior observable in
// isolation.
func setupTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New("redis://127.0.0.1:1/0", []byte("test-hmac-key"), 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// =============================================================================
// L1 LRU
// =============================================================================

func TestL1_EvictsLeastRecentlyUsed(t *testing.T) {
	l := newL1(2)
	l.set("a", []byte("1"), false, time.Minute)
	l.set("b", []byte("2"), false, time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, _, ok := l.get("a"); !ok {
		t.Fatalf("expected a to be present")
	}
	l.set("c", []byte("3"), false, time.Minute)

	if _, _, ok := l.get("b"); ok {
		t.Errorf("expected b to be evicted as least recently used")
	}
	if _, _, ok := l.get("a"); !ok {
		t.Errorf("expected a to survive eviction")
	}
	if _, _, ok := l.get("c"); !ok {
		t.Errorf("expected c to be present")
	}
}

func TestL1_ExpiredEntryIsMiss(t *testing.T) {
	l := newL1(4)
	l.set("k", []byte("v"), false, -time.Second)
	if _, _, ok := l.get("k"); ok {
		t.Errorf("expected an already-expired entry to read as a miss")
	}
}

func TestL1_SetReplacesExistingKey(t *testing.T) {
	l := newL1(4)
	l.set("k", []byte("old"), false, time.Minute)
	l.set("k", []byte("new"), false, time.Minute)
	v, _, ok := l.get("k")
	if !ok || string(v) != "new" {
		t.Errorf("expected replaced value, got %q ok=%v", v, ok)
	}
}

// =============================================================================
// SIGNED ENTRIES
// =============================================================================

func TestSetSignedGetSigned_RoundTripViaL1(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()
	key := WalletKey("p1")

	c.SetSigned(ctx, key, []byte(`{"balance":"100.00","currency":"KRW"}`), TTLWallet)

	v, ok := c.GetSigned(ctx, key)
	if !ok {
		t.Fatalf("expected a hit after SetSigned")
	}
	if string(v) != `{"balance":"100.00","currency":"KRW"}` {
		t.Errorf("unexpected cached value %q", v)
	}
}

func TestInvalidate_RemovesKey(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()
	key := WalletKey("p1")

	c.SetSigned(ctx, key, []byte(`{"balance":"100.00","currency":"KRW"}`), TTLWallet)
	c.Invalidate(ctx, key)

	if _, ok := c.GetSigned(ctx, key); ok {
		t.Errorf("expected a miss after Invalidate")
	}
}

func TestSign_DiffersPerKeyAndValue(t *testing.T) {
	c := setupTestCache(t)
	base := c.sign("wallet:p1", []byte("100.00"))
	if c.sign("wallet:p2", []byte("100.00")) == base {
		t.Errorf("signature must bind the key")
	}
	if c.sign("wallet:p1", []byte("999.99")) == base {
		t.Errorf("signature must bind the value")
	}
}

// =============================================================================
// KEY FORMATS
// =============================================================================

func TestKeyBuilders(t *testing.T) {
	if got := WalletKey("p1"); got != "wallet:p1" {
		t.Errorf("WalletKey = %q", got)
	}
	if got := SessionKey("p1"); got != "session:p1" {
		t.Errorf("SessionKey = %q", got)
	}
	if got := GameStateKey("g9"); got != "game_state:g9" {
		t.Errorf("GameStateKey = %q", got)
	}
}
