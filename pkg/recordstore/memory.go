package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// Memory keeps everything in memory. Safe for concurrent use.
type Memory struct {
	collections *xsync.MapOf[string, *memCollection]
	closed      atomic.Bool
}

type memCollection struct {
	mu   sync.RWMutex
	docs map[string]memDoc
	next int64
}

type memDoc struct {
	data models.Record
	pos  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: xsync.NewMapOf[string, *memCollection]()}
}

// deepCopy returns a copy of a document by round-tripping through JSON, so
// callers never share maps with the store.
func deepCopy(src models.Record) (models.Record, error) {
	if src == nil {
		return nil, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var dst models.Record
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return dst, nil
}

func (m *Memory) collection(name string) *memCollection {
	c, _ := m.collections.LoadOrCompute(name, func() *memCollection {
		return &memCollection{docs: make(map[string]memDoc)}
	})
	return c
}

func (m *Memory) GetAll(ctx context.Context, collection string) ([]models.Record, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	c, ok := m.collections.Load(collection)
	if !ok {
		return []models.Record{}, nil
	}
	c.mu.RLock()
	docs := make([]memDoc, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	c.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].pos < docs[j].pos })
	out := make([]models.Record, len(docs))
	for i, d := range docs {
		doc, err := deepCopy(d.data)
		if err != nil {
			return nil, err
		}
		out[i] = doc
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, collection, key string) (models.Record, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrClosed
	}
	c, ok := m.collections.Load(collection)
	if !ok {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[key]
	if !ok {
		return nil, false, nil
	}
	doc, err := deepCopy(d.data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *Memory) Put(ctx context.Context, collection, key string, doc models.Record) error {
	if m.closed.Load() {
		return ErrClosed
	}
	data, err := deepCopy(doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	c := m.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.next
	if existing, ok := c.docs[key]; ok {
		pos = existing.pos
	} else {
		c.next++
	}
	c.docs[key] = memDoc{data: data, pos: pos}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, key string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	c, ok := m.collections.Load(collection)
	if !ok {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[key]; !exists {
		return false, nil
	}
	delete(c.docs, key)
	return true, nil
}

func (m *Memory) Clear(ctx context.Context, collection string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.collections.Delete(collection)
	return nil
}

func (m *Memory) Collections(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	var names []string
	m.collections.Range(func(name string, c *memCollection) bool {
		c.mu.RLock()
		n := len(c.docs)
		c.mu.RUnlock()
		if n > 0 {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names, nil
}

// Reset drops every collection and reopens a closed store.
func (m *Memory) Reset(ctx context.Context) error {
	m.collections.Clear()
	m.closed.Store(false)
	return nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
