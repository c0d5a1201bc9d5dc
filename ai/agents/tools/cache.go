// Package tools provides the tools agents call while they run, plus a
// result cache shared by the read-only ones.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hrygo/productsense/ai/cache"
	"github.com/hrygo/productsense/ai/metrics"
)

// CacheKey identifies one tool call for one product.
type CacheKey struct {
	ToolName  string
	ProductID int32
	InputHash string
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return fmt.Sprintf("tool:%s:product:%d:hash:%s", k.ToolName, k.ProductID, k.InputHash)
}

// NewCacheKey creates a CacheKey from tool name, product ID and raw input.
func NewCacheKey(toolName string, productID int32, input string) CacheKey {
	hash := sha256.Sum256([]byte(input))
	return CacheKey{
		ToolName:  toolName,
		ProductID: productID,
		InputHash: hex.EncodeToString(hash[:]),
	}
}

// ResultCache caches tool output for a short TTL. A nil *ResultCache never hits.
type ResultCache struct {
	entries *cache.LRUCache[CacheKey, string]
	metrics *metrics.PrometheusExporter
}

// NewResultCache creates a cache holding up to maxEntries results for ttl.
func NewResultCache(maxEntries int, ttl time.Duration, exporter *metrics.PrometheusExporter) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{
		entries: cache.NewLRUCache[CacheKey, string](maxEntries, ttl),
		metrics: exporter,
	}
}

// Get returns a cached result.
func (c *ResultCache) Get(key CacheKey) (string, bool) {
	if c == nil {
		return "", false
	}
	out, ok := c.entries.Get(key)
	if ok {
		c.metrics.RecordCacheHit(key.ToolName)
	} else {
		c.metrics.RecordCacheMiss(key.ToolName)
	}
	return out, ok
}

// Set stores a result under the default TTL.
func (c *ResultCache) Set(key CacheKey, output string) {
	if c == nil {
		return
	}
	c.entries.SetWithDefaultTTL(key, output)
}

// InvalidateProduct drops every cached result for productID.
func (c *ResultCache) InvalidateProduct(productID int32) int {
	if c == nil {
		return 0
	}
	return c.entries.RemoveFunc(func(k CacheKey) bool { return k.ProductID == productID })
}
