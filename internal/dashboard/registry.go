package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"buddyband/internal/metrics"
	"buddyband/internal/session"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("dashboard: registry closed")

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEngineOptions passes opts to every engine the registry starts.
func WithEngineOptions(opts ...Option) RegistryOption {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// WithIdleTTL stops an engine once it has had no watchers and no Get for
// d. Zero keeps engines until Close.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = d }
}

type registryEntry struct {
	engine   *Engine
	cancel   context.CancelFunc
	lastUsed time.Time
}

// Registry runs one Engine per supervisor, started on first use.
//
// Engines are keyed by TeacherID. An engine keeps the session it was
// started with, so the display name in its views comes from the first
// Get; a new name shows up once the idle engine has been stopped and
// started again.
type Registry struct {
	source  Source
	log     *zap.Logger
	opts    []Option
	idleTTL time.Duration
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	engines map[string]*registryEntry
	closed  bool
}

// NewRegistry creates a registry whose engines read and write through source.
func NewRegistry(source Source, log *zap.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		source:  source,
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		engines: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.idleTTL > 0 {
		r.wg.Add(1)
		go r.reap()
	}
	return r
}

// Get returns the running engine for s, starting it if needed. An absent
// session gets an inert engine that is never started.
func (r *Registry) Get(s session.Session) (*Engine, error) {
	if !s.Present() {
		return NewEngine(s, r.source, r.engineOpts(s)...), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if ent, ok := r.engines[s.TeacherID]; ok {
		select {
		case <-ent.engine.Done():
			// Run failed and the cleanup has not removed it yet.
		default:
			ent.lastUsed = r.now()
			return ent.engine, nil
		}
	}

	e := NewEngine(s, r.source, r.engineOpts(s)...)
	ctx, cancel := context.WithCancel(r.ctx)
	ent := &registryEntry{engine: e, cancel: cancel, lastUsed: r.now()}
	r.engines[s.TeacherID] = ent
	r.wg.Add(1)
	metrics.Engines.Inc()
	go func() {
		defer r.wg.Done()
		defer metrics.Engines.Dec()
		defer cancel()
		if err := e.Run(ctx); err != nil {
			r.log.Error("dashboard engine failed", zap.String("teacher_id", s.TeacherID), zap.Error(err))
		}
		r.mu.Lock()
		if r.engines[s.TeacherID] == ent {
			delete(r.engines, s.TeacherID)
		}
		r.mu.Unlock()
	}()
	return e, nil
}

// Len returns the number of running engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close stops every engine and waits for them to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) reap() {
	defer r.wg.Done()
	tick := time.NewTicker(max(r.idleTTL/4, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-tick.C:
			r.evictIdle()
		}
	}
}

// evictIdle stops engines with no watchers that nobody asked for within
// the idle TTL.
func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, ent := range r.engines {
		if ent.engine.watchers.count() > 0 {
			ent.lastUsed = now
			continue
		}
		if now.Sub(ent.lastUsed) < r.idleTTL {
			continue
		}
		r.log.Info("stopping idle dashboard engine", zap.String("teacher_id", id))
		delete(r.engines, id)
		ent.cancel()
	}
}

func (r *Registry) engineOpts(s session.Session) []Option {
	opts := make([]Option, 0, len(r.opts)+1)
	opts = append(opts, WithLogger(r.log.With(zap.String("teacher_id", s.TeacherID))))
	return append(opts, r.opts...)
}
