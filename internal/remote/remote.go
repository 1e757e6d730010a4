// Package remote keeps live, keyed snapshots of remote record collections.
//
// A Backend stores collections of JSON documents and announces changes. A
// Source wraps a Backend and hands out Subscriptions: each one yields the
// current snapshot of a collection and then one full snapshot per observed
// change. Every snapshot is an authoritative replacement of the collection,
// never a diff.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"buddyband/internal/metrics"
)

// Collections known to the dashboard.
const (
	Students = "students"
	Alerts   = "alerts"
)

var (
	// ErrClosed is returned by Next after the subscription has been closed.
	ErrClosed = errors.New("remote: subscription closed")

	// ErrInvalidPath is returned for record paths that are not collection/key.
	ErrInvalidPath = errors.New("remote: invalid record path")

	// errWatchLost is reported when a backend stops delivering change notices.
	errWatchLost = errors.New("remote: change feed lost")
)

// Record is a single document of a collection together with its key.
type Record struct {
	Key  string
	Data json.RawMessage
}

// Snapshot is the full content of a collection at one point in time.
// Records are ordered by key.
type Snapshot struct {
	Collection string
	Seq        uint64
	Records    []Record
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.Records) }

// Notice is a change announcement from a backend. A non-nil Err reports a
// failure of the change feed; the feed keeps going afterwards.
type Notice struct {
	Err error
}

// SubscriptionError reports a transport or permission failure on a
// collection subscription.
type SubscriptionError struct {
	Collection string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Collection, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Backend is a store of keyed JSON documents with a change feed.
type Backend interface {
	// Load returns the whole collection.
	Load(ctx context.Context, collection string) (Snapshot, error)
	// Get returns one document. The bool is false when the key is absent.
	Get(ctx context.Context, collection, key string) (json.RawMessage, bool, error)
	// Watch announces changes to the collection until ctx is done, then
	// closes the returned channel.
	Watch(ctx context.Context, collection string) (<-chan Notice, error)
	// Update merges fields into the document, creating it when absent.
	Update(ctx context.Context, collection, key string, fields map[string]any) error
	Close() error
}

// Source hands out subscriptions and writes against a Backend.
type Source struct {
	backend Backend
	log     *zap.Logger
}

// NewSource creates a Source over backend.
func NewSource(backend Backend, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{backend: backend, log: log}
}

// Subscribe opens a subscription on collection. Failures to establish the
// change feed are reported as error events on the subscription, not here.
func (s *Source) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	if collection == "" || strings.Contains(collection, "/") {
		return nil, fmt.Errorf("%w: collection %q", ErrInvalidPath, collection)
	}
	return newSubscription(ctx, s.backend, collection, s.log), nil
}

// Write merges fields into the record at recordPath ("collection/key").
// The local snapshots are not touched; the change becomes visible with the
// next snapshot delivered by a subscription.
func (s *Source) Write(ctx context.Context, recordPath string, fields map[string]any) error {
	collection, key, err := ParsePath(recordPath)
	if err != nil {
		metrics.Writes.WithLabelValues(metrics.OutcomeRejected).Inc()
		return err
	}
	if len(fields) == 0 {
		metrics.Writes.WithLabelValues(metrics.OutcomeRejected).Inc()
		return fmt.Errorf("write %s: no fields", recordPath)
	}
	if err := s.backend.Update(ctx, collection, key, fields); err != nil {
		metrics.Writes.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.log.Warn("remote write failed", zap.String("path", recordPath), zap.Error(err))
		return err
	}
	metrics.Writes.WithLabelValues(metrics.OutcomeOK).Inc()
	return nil
}

// Get reads a single record at recordPath.
func (s *Source) Get(ctx context.Context, recordPath string) (json.RawMessage, bool, error) {
	collection, key, err := ParsePath(recordPath)
	if err != nil {
		return nil, false, err
	}
	return s.backend.Get(ctx, collection, key)
}

// Close releases the backend.
func (s *Source) Close() error {
	return s.backend.Close()
}

// Path joins a collection and a key into a record path.
func Path(collection, key string) string {
	return collection + "/" + key
}

// ParsePath splits "collection/key".
func ParsePath(p string) (collection, key string, err error) {
	collection, key, ok := strings.Cut(p, "/")
	if !ok || collection == "" || key == "" || strings.Contains(key, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return collection, key, nil
}

// mergeDoc applies fields on top of an existing JSON object.
func mergeDoc(existing []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("decode existing document: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// sortRecords orders records by key, the order snapshots are delivered in.
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
}
