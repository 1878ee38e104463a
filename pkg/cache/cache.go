package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/metrics"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/recordstore"
)

// DefaultTTL is used when no TTL option is given.
const DefaultTTL = 5 * time.Minute

const (
	metadataCollection = "_cache_metadata"
	recordsPrefix      = "records:"
	probeKey           = "__probe__"

	fieldCachedAt = "_cached_at"
	fieldSeq      = "_cache_seq"
)

// ErrUnavailable is reported when the cache gave up on its storage after a
// failed initialization or reset.
var ErrUnavailable = errors.New("cache: storage unavailable")

// Error describes a swallowed storage failure.
type Error struct {
	Op    string
	Store string
	Err   error
}

func (e *Error) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Store, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of a lookup. Records is never nil. Hit is true only
// when fresh metadata exists, so a verified-empty store is a hit with no
// records.
type Result struct {
	Records []models.Record
	Hit     bool
	Err     error
}

// FetchFn loads a store's records from the source of truth.
type FetchFn func(ctx context.Context) ([]models.Record, error)

// Cache is an expiring record cache over a recordstore.Store.
type Cache struct {
	store recordstore.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger

	resetMu     sync.Mutex
	unavailable atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the time-to-live of every store. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used to report swallowed failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New creates a Cache over store. The cache owns the store handle from here on.
func New(store recordstore.Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.WithModule("cache")
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Initialize probes the store. On failure it resets the storage once and
// probes again. A second failure leaves the cache unavailable (every read
// misses, every write is dropped); the returned error is informational.
func (c *Cache) Initialize(ctx context.Context) error {
	err := c.probe(ctx)
	if err == nil {
		c.unavailable.Store(false)
		return nil
	}

	c.log.Warn("cache probe failed, resetting storage", zap.Error(err))
	c.ResetDatabase(ctx)

	if err := c.probe(ctx); err != nil {
		c.unavailable.Store(true)
		c.log.Error("cache unavailable, continuing without it", zap.Error(err))
		return &Error{Op: "initialize", Err: err}
	}
	c.unavailable.Store(false)
	return nil
}

func (c *Cache) probe(ctx context.Context) error {
	_, _, err := c.store.Get(ctx, metadataCollection, probeKey)
	return err
}

// Available reports whether the cache is using its storage.
func (c *Cache) Available() bool { return !c.unavailable.Load() }

// Write replaces every record of store and stamps it with the current time.
// Failures are logged and dropped.
func (c *Cache) Write(ctx context.Context, store string, records []models.Record) {
	if c.unavailable.Load() {
		return
	}
	if err := c.write(ctx, store, records); err != nil {
		c.fail("write", store, err)
		metrics.CacheWrites.WithLabelValues(store, "error").Inc()
		return
	}
	metrics.CacheWrites.WithLabelValues(store, "ok").Inc()
}

// write drops the metadata first and puts it back last, so an interrupted
// write reads as a miss rather than a partial hit.
func (c *Cache) write(ctx context.Context, store string, records []models.Record) error {
	now := c.now()

	if _, err := c.store.Delete(ctx, metadataCollection, store); err != nil {
		return err
	}
	if err := c.store.Clear(ctx, recordsPrefix+store); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		doc := make(models.Record, len(r)+2)
		for k, v := range r {
			doc[k] = v
		}
		doc[fieldCachedAt] = now.Format(time.RFC3339Nano)
		doc[fieldSeq] = i

		key := recordKey(r, i, seen)
		if err := c.store.Put(ctx, recordsPrefix+store, key, doc); err != nil {
			return err
		}
	}

	return c.store.Put(ctx, metadataCollection, store, encodeMetadata(models.CacheMetadata{
		Store:       store,
		LastUpdated: now,
		ItemCount:   len(records),
	}))
}

// Lookup returns the fresh records of store.
func (c *Cache) Lookup(ctx context.Context, store string) Result {
	if c.unavailable.Load() {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues(store, "miss").Inc()
		return Result{Records: []models.Record{}, Err: ErrUnavailable}
	}

	meta, ok, err := c.metadata(ctx, store)
	if err != nil {
		return c.failedLookup(store, err)
	}
	if !ok {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues(store, "miss").Inc()
		return Result{Records: []models.Record{}}
	}
	if !c.fresh(meta) {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues(store, "expired").Inc()
		return Result{Records: []models.Record{}}
	}

	docs, err := c.store.GetAll(ctx, recordsPrefix+store)
	if err != nil {
		return c.failedLookup(store, err)
	}

	c.hits.Add(1)
	metrics.CacheRequests.WithLabelValues(store, "hit").Inc()
	return Result{Records: strip(docs), Hit: true}
}

func (c *Cache) failedLookup(store string, err error) Result {
	e := c.fail("read", store, err)
	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues(store, "error").Inc()
	return Result{Records: []models.Record{}, Err: e}
}

// Read returns the fresh records of store, or an empty slice on a miss,
// an expired entry, or a storage failure.
func (c *Cache) Read(ctx context.Context, store string) []models.Record {
	return c.Lookup(ctx, store).Records
}

// GetOrFetch returns the cached records of store, or calls fetch on a miss
// and caches what it returns. Fetch errors are returned as is.
func (c *Cache) GetOrFetch(ctx context.Context, store string, fetch FetchFn) ([]models.Record, error) {
	if res := c.Lookup(ctx, store); res.Hit {
		return res.Records, nil
	}
	records, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Write(ctx, store, records)
	return records, nil
}

// IsValid reports whether store has metadata younger than the TTL. It is
// the only way to tell a verified-empty store from one never cached.
func (c *Cache) IsValid(ctx context.Context, store string) bool {
	if c.unavailable.Load() {
		return false
	}
	meta, ok, err := c.metadata(ctx, store)
	if err != nil {
		c.fail("validate", store, err)
		return false
	}
	return ok && c.fresh(meta)
}

// Clear removes the records and metadata of store. Clearing a store that
// was never written is a no-op.
func (c *Cache) Clear(ctx context.Context, store string) {
	if c.unavailable.Load() {
		return
	}
	if err := c.clear(ctx, store); err != nil {
		c.fail("clear", store, err)
	}
}

func (c *Cache) clear(ctx context.Context, store string) error {
	_, errMeta := c.store.Delete(ctx, metadataCollection, store)
	errRecords := c.store.Clear(ctx, recordsPrefix+store)
	return multierr.Append(errMeta, errRecords)
}

// ClearAll removes every store's records and metadata.
func (c *Cache) ClearAll(ctx context.Context) {
	if c.unavailable.Load() {
		return
	}
	if err := c.clearAll(ctx); err != nil {
		c.fail("clear_all", "", err)
	}
}

func (c *Cache) clearAll(ctx context.Context) error {
	names, err := c.store.Collections(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, name := range names {
		if name == metadataCollection || strings.HasPrefix(name, recordsPrefix) {
			errs = multierr.Append(errs, c.store.Clear(ctx, name))
		}
	}
	return errs
}

// ResetDatabase clears everything and recreates the underlying storage.
// Concurrent calls wait for the reset in flight instead of starting another.
// If the reset fails the cache becomes unavailable rather than failing callers.
func (c *Cache) ResetDatabase(ctx context.Context) {
	if !c.resetMu.TryLock() {
		c.resetMu.Lock()
		c.resetMu.Unlock()
		return
	}
	defer c.resetMu.Unlock()

	if err := c.clearAll(ctx); err != nil {
		c.log.Warn("cache clear before reset failed", zap.Error(err))
	}
	if err := c.store.Reset(ctx); err != nil {
		c.fail("reset", "", err)
		metrics.CacheResets.WithLabelValues("error").Inc()
		c.unavailable.Store(true)
		return
	}
	metrics.CacheResets.WithLabelValues("ok").Inc()
	c.unavailable.Store(false)
	c.log.Info("cache storage reset")
}

// Stats returns a snapshot of every known store plus lookup counters.
func (c *Cache) Stats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{
		Stores: make(map[string]models.StoreStats),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
	if c.unavailable.Load() {
		return stats
	}

	docs, err := c.store.GetAll(ctx, metadataCollection)
	if err != nil {
		c.fail("stats", "", err)
		stats.Errors = c.errs.Load()
		return stats
	}
	for _, doc := range docs {
		meta, err := decodeMetadata(doc)
		if err != nil {
			c.log.Warn("skipping malformed cache metadata", zap.Error(err))
			continue
		}
		stats.Stores[meta.Store] = models.StoreStats{
			ItemCount:   meta.ItemCount,
			LastUpdated: meta.LastUpdated,
			IsValid:     c.fresh(meta),
		}
	}
	return stats
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) metadata(ctx context.Context, store string) (models.CacheMetadata, bool, error) {
	doc, ok, err := c.store.Get(ctx, metadataCollection, store)
	if err != nil || !ok {
		return models.CacheMetadata{}, false, err
	}
	meta, err := decodeMetadata(doc)
	if err != nil {
		return models.CacheMetadata{}, false, err
	}
	return meta, true, nil
}

// fresh is evaluated against the clock at call time, so an entry can turn
// stale between two reads.
func (c *Cache) fresh(meta models.CacheMetadata) bool {
	return c.now().Sub(meta.LastUpdated) <= c.ttl
}

func (c *Cache) fail(op, store string, err error) *Error {
	c.errs.Add(1)
	e := &Error{Op: op, Store: store, Err: err}
	c.log.Warn("cache operation failed", zap.String("op", op), zap.String("store", store), zap.Error(err))
	return e
}

// recordKey keys a record by its id, or by its position when the id is
// missing or repeated. The two kinds live in separate key spaces so an id
// can never shadow a positional key.
func recordKey(r models.Record, i int, seen map[string]struct{}) string {
	if id, ok := r["id"]; ok && id != nil {
		if k := "id:" + fmt.Sprint(id); k != "id:" {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				return k
			}
		}
	}
	return "pos:" + strconv.Itoa(i)
}

// strip removes bookkeeping fields and restores write order.
func strip(docs []models.Record) []models.Record {
	sort.SliceStable(docs, func(i, j int) bool { return seq(docs[i]) < seq(docs[j]) })
	for _, d := range docs {
		delete(d, fieldCachedAt)
		delete(d, fieldSeq)
	}
	if docs == nil {
		return []models.Record{}
	}
	return docs
}

func seq(doc models.Record) float64 {
	switch v := doc[fieldSeq].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func encodeMetadata(m models.CacheMetadata) models.Record {
	return models.Record{
		"store":        m.Store,
		"last_updated": m.LastUpdated.Format(time.RFC3339Nano),
		"item_count":   m.ItemCount,
	}
}

func decodeMetadata(doc models.Record) (models.CacheMetadata, error) {
	store, _ := doc["store"].(string)
	raw, _ := doc["last_updated"].(string)
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return models.CacheMetadata{}, fmt.Errorf("metadata %q: last_updated: %w", store, err)
	}
	var count int
	switch v := doc["item_count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}
	return models.CacheMetadata{Store: store, LastUpdated: ts, ItemCount: count}, nil
}
