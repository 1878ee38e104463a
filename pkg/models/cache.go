package models

import "time"

// Record is an opaque document held by the cache. The cache only looks at
// its "id" field, and only to derive a storage key.
type Record map[string]any

// CacheEntry is the full set of records cached for one store.
type CacheEntry struct {
	Store    string    `json:"store"`
	Records  []Record  `json:"records"`
	CachedAt time.Time `json:"cached_at"`
}

// CacheMetadata describes the last write to a store.
type CacheMetadata struct {
	Store       string    `json:"store"`
	LastUpdated time.Time `json:"last_updated"`
	ItemCount   int       `json:"item_count"`
}

// StoreStats is the per-store part of a cache stats snapshot.
type StoreStats struct {
	ItemCount   int       `json:"item_count"`
	LastUpdated time.Time `json:"last_updated"`
	IsValid     bool      `json:"is_valid"`
}

// CacheStats reports cache contents and lookup counters.
type CacheStats struct {
	Stores map[string]StoreStats `json:"stores"`
	Hits   int64                 `json:"hits"`
	Misses int64                 `json:"misses"`
	Errors int64                 `json:"errors"`
}
