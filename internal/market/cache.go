package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a best-effort fragment cache. A nil client disables caching;
// lookup and store failures are treated as misses.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func fragmentKey(fragment, ticker string) string {
	if fragment == FragmentMacroCards {
		// Macro cards are market-wide, not per ticker.
		return "market:fragment:" + fragment
	}
	return "market:fragment:" + fragment + ":" + ticker
}

func (c *Cache) Get(ctx context.Context, fragment, ticker string) (json.RawMessage, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, fragmentKey(fragment, ticker)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return json.RawMessage(b), true
}

func (c *Cache) Set(ctx context.Context, fragment, ticker string, payload json.RawMessage, ttl time.Duration) {
	if c == nil || c.rdb == nil || ttl <= 0 {
		return
	}
	_ = c.rdb.Set(ctx, fragmentKey(fragment, ticker), []byte(payload), ttl).Err()
}
