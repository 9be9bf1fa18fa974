// Package cache stores backend payloads for read actions.
package cache

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// StoreStats contains storage-level statistics.
type StoreStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`  // 0 if N/A (e.g., Redis)
	Evictions int64 `json:"evictions"` // 0 if not tracked (e.g., Redis)
}

// Store abstracts the cache storage backend. Failures are treated as misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
	DeleteByPrefix(ctx context.Context, prefix string)
	Purge(ctx context.Context)
	Stats() StoreStats
}

// Key builds a cache key scoped to a brand so one brand can be purged
// without touching others. Parts are hashed in order.
func Key(brand string, parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		h.WriteString(p)
		h.Write([]byte{0})
	}
	var sum [8]byte
	return BrandPrefix(brand) + hex.EncodeToString(h.Sum(sum[:0]))
}

// BrandPrefix is the key prefix shared by every entry of a brand.
func BrandPrefix(brand string) string {
	return strings.ToLower(brand) + ":"
}
