package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend for development and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	data    map[string]map[string]json.RawMessage
	feeds   *hub
	loadErr map[string]error
	closed  bool
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:    make(map[string]map[string]json.RawMessage),
		feeds:   newHub(),
		loadErr: make(map[string]error),
	}
}

// Load returns the whole collection ordered by key.
func (m *MemoryBackend) Load(_ context.Context, collection string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.loadErr[collection]; err != nil {
		return Snapshot{}, err
	}
	docs := m.data[collection]
	records := make([]Record, 0, len(docs))
	for k, v := range docs {
		records = append(records, Record{Key: k, Data: append(json.RawMessage(nil), v...)})
	}
	sortRecords(records)
	return Snapshot{Collection: collection, Records: records}, nil
}

// Get returns one document.
func (m *MemoryBackend) Get(_ context.Context, collection, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), doc...), true, nil
}

// Watch registers a change listener until ctx is done.
func (m *MemoryBackend) Watch(ctx context.Context, collection string) (<-chan Notice, error) {
	ch, err := m.feeds.add(ctx, collection)
	if err != nil {
		return nil, errors.New("memory backend closed")
	}
	return ch, nil
}

// Watchers returns the number of open change feeds on collection.
func (m *MemoryBackend) Watchers(collection string) int {
	return m.feeds.count(collection)
}

// Update merges fields into a document and notifies watchers.
func (m *MemoryBackend) Update(_ context.Context, collection, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory backend closed")
	}
	doc, err := mergeDoc(m.data[collection][key], fields)
	if err != nil {
		return err
	}
	m.put(collection, key, doc)
	m.notify(collection, Notice{})
	return nil
}

// Put replaces a document with the JSON encoding of v.
func (m *MemoryBackend) Put(collection, key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, key, doc)
	m.notify(collection, Notice{})
	return nil
}

// Delete removes a document.
func (m *MemoryBackend) Delete(collection, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], key)
	m.notify(collection, Notice{})
}

// InjectError reports err on every change feed of collection.
func (m *MemoryBackend) InjectError(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify(collection, Notice{Err: err})
}

// FailLoads makes Load fail with err until cleared with a nil err.
func (m *MemoryBackend) FailLoads(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.loadErr, collection)
		return
	}
	m.loadErr[collection] = err
}

// Close ends every change feed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.feeds.close()
	return nil
}

func (m *MemoryBackend) put(collection, key string, doc []byte) {
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]json.RawMessage)
	}
	m.data[collection][key] = doc
}

func (m *MemoryBackend) notify(collection string, n Notice) {
	m.feeds.notify(collection, n)
}

// Seed loads documents from a JSON object of the form
// {"collection": {"key": {...}}}, replacing existing ones.
func (m *MemoryBackend) Seed(r io.Reader) error {
	var data map[string]map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for collection, docs := range data {
		for key, doc := range docs {
			if key == "" || strings.Contains(key, "/") {
				return fmt.Errorf("%w: %s/%s", ErrInvalidPath, collection, key)
			}
			m.put(collection, key, doc)
		}
		m.notify(collection, Notice{})
	}
	return nil
}
