package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"buddyband/internal/metrics"
)

// Event is one element of a subscription's sequence: either a full
// snapshot or a subscription error. An error does not end the sequence.
type Event struct {
	Snapshot Snapshot
	Err      error
}

// Subscription is a live handle on one collection.
//
// Change notices from the backend only mark the subscription dirty; the
// snapshot itself is loaded when the caller asks for the next event, so a
// burst of changes yields a single snapshot of the latest state.
type Subscription struct {
	collection string
	backend    Backend
	log        *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// wake holds at most one pending wake-up for Next.
	wake    chan struct{}
	rewatch chan struct{}

	stateMu sync.Mutex
	dirty   bool
	err     error

	// nextMu serializes Next so no two events are delivered concurrently.
	nextMu sync.Mutex
	seq    uint64
}

func newSubscription(ctx context.Context, backend Backend, collection string, log *zap.Logger) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		collection: collection,
		backend:    backend,
		log:        log.With(zap.String("collection", collection)),
		cancel:     cancel,
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		rewatch:    make(chan struct{}, 1),
		dirty:      true,
	}
	s.poke()
	context.AfterFunc(ctx, s.Close)
	// The first feed is opened before returning so no change made after
	// Subscribe can be missed.
	notices, err := backend.Watch(ctx, collection)
	go s.watch(ctx, notices, err)
	return s
}

// Collection returns the subscribed collection name.
func (s *Subscription) Collection() string { return s.collection }

// Next blocks until the next event is available. The first event is the
// current snapshot. After Close, Next returns ErrClosed and any snapshot
// that was being loaded is discarded.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	for {
		if s.closed.Load() {
			return Event{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
			return Event{}, ErrClosed
		case <-s.wake:
		}
		if s.closed.Load() {
			return Event{}, ErrClosed
		}

		s.stateMu.Lock()
		err, dirty := s.err, s.dirty
		s.err = nil
		if err == nil {
			s.dirty = false
		}
		s.stateMu.Unlock()

		if err != nil {
			if dirty {
				s.poke()
			}
			metrics.SubscriptionErrors.WithLabelValues(s.collection).Inc()
			return Event{Err: &SubscriptionError{Collection: s.collection, Err: err}}, nil
		}
		if dirty {
			break
		}
		// Spurious wake-up: a Resync raced a notice that was already consumed.
	}

	snap, err := s.backend.Load(ctx, s.collection)
	if err != nil {
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
		metrics.SubscriptionErrors.WithLabelValues(s.collection).Inc()
		return Event{Err: &SubscriptionError{Collection: s.collection, Err: err}}, nil
	}
	if s.closed.Load() {
		return Event{}, ErrClosed
	}
	s.seq++
	snap.Collection = s.collection
	snap.Seq = s.seq
	metrics.Snapshots.WithLabelValues(s.collection).Inc()
	return Event{Snapshot: snap}, nil
}

// Resync asks for a fresh snapshot on the next call to Next and, if the
// change feed was lost, re-establishes it. Callers use it to retry after an
// error event.
func (s *Subscription) Resync() {
	if s.closed.Load() {
		return
	}
	s.markDirty()
	select {
	case s.rewatch <- struct{}{}:
	default:
	}
}

// Close releases the change feed. It is safe to call more than once and
// from any goroutine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		close(s.done)
	})
}

func (s *Subscription) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) markDirty() {
	s.stateMu.Lock()
	s.dirty = true
	s.stateMu.Unlock()
	s.poke()
}

func (s *Subscription) fail(err error) {
	s.log.Warn("subscription error", zap.Error(err))
	s.stateMu.Lock()
	s.err = err
	s.stateMu.Unlock()
	s.poke()
}

// watch keeps the backend change feed open for the life of the subscription.
func (s *Subscription) watch(ctx context.Context, notices <-chan Notice, err error) {
	for {
		if err == nil {
			for n := range notices {
				if n.Err != nil {
					s.fail(n.Err)
					continue
				}
				s.markDirty()
			}
			err = errWatchLost
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-s.rewatch:
		default:
		}
		s.fail(err)

		select {
		case <-ctx.Done():
			return
		case <-s.rewatch:
		}
		notices, err = s.backend.Watch(ctx, s.collection)
		// Changes may have been missed while the feed was down.
		s.markDirty()
	}
}

// IsSubscriptionError reports whether err is a *SubscriptionError.
func IsSubscriptionError(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}
