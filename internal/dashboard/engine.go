package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"buddyband/internal/remote"
	"buddyband/internal/session"
)

var (
	// ErrNotInScope is returned when a command names a student the
	// supervisor does not see.
	ErrNotInScope = errors.New("dashboard: student not in scope")

	// ErrStopped is returned by commands issued after the engine stopped.
	ErrStopped = errors.New("dashboard: engine stopped")

	errAlreadyRunning = errors.New("dashboard: engine already running")
)

// Source is the remote collection layer the engine reads and writes.
type Source interface {
	Writer
	Subscribe(ctx context.Context, collection string) (*remote.Subscription, error)
}

// View is an immutable picture of one supervisor's dashboard.
type View struct {
	Teacher       session.Session `json:"teacher"`
	Students      []Student       `json:"students"`
	Attention     []Student       `json:"attention"`
	Alerts        []FeedItem      `json:"alerts"`
	Markers       []Marker        `json:"markers"`
	Focus         FocusPoint      `json:"focus"`
	StudentsError string          `json:"studentsError,omitempty"`
	AlertsError   string          `json:"alertsError,omitempty"`
	Ready         bool            `json:"ready"`
	Seq           uint64          `json:"seq"`
}

func emptyView(s session.Session) View {
	return View{
		Teacher:   s,
		Students:  []Student{},
		Attention: []Student{},
		Alerts:    []FeedItem{},
		Markers:   []Marker{},
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithOutOfRange sets the out-of-range predicate for the attention list.
func WithOutOfRange(p OutOfRange) Option {
	return func(e *Engine) { e.outOfRange = p }
}

// WithResyncDelay makes the engine request a fresh snapshot d after a
// subscription error. Zero disables it.
func WithResyncDelay(d time.Duration) Option {
	return func(e *Engine) { e.resyncDelay = d }
}

type collectionEvent struct {
	collection string
	ev         remote.Event
}

// Engine keeps one supervisor's dashboard in sync with the remote store.
//
// Run subscribes to the students and alerts collections and processes
// their events on a single loop goroutine, which owns all derived state.
// Readers get immutable Views. A known-good snapshot is never dropped
// because of a subscription error; the error is reported next to it.
type Engine struct {
	session     session.Session
	source      Source
	gateway     *Gateway
	log         *zap.Logger
	outOfRange  OutOfRange
	resyncDelay time.Duration

	cmds    chan func()
	stopped chan struct{}
	running atomic.Bool

	mu   sync.RWMutex
	view View

	watchers *broadcaster

	// Owned by the loop goroutine.
	focus          *Focus
	students       []Student
	feed           []Alert
	idx            Index
	subs           map[string]*remote.Subscription
	studentsErr    error
	alertsErr      error
	studentsLoaded bool
	alertsLoaded   bool
	seq            uint64
}

// NewEngine creates an engine for s. With an absent session the engine is
// inert: Run returns at once and the view stays empty.
func NewEngine(s session.Session, src Source, opts ...Option) *Engine {
	e := &Engine{
		session:    s,
		source:     src,
		log:        zap.NewNop(),
		outOfRange: OutOfRangeFlag,
		cmds:       make(chan func()),
		stopped:    make(chan struct{}),
		view:       emptyView(s),
		watchers:   newBroadcaster(),
		focus:      NewFocus(),
		students:   []Student{},
		feed:       []Alert{},
		idx:        NewIndex(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gateway = NewGateway(src, e.log)
	return e
}

// Session returns the supervisor the engine is scoped to.
func (e *Engine) Session() session.Session { return e.session }

// View returns the latest view.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Watch returns a channel receiving the current view and then every new
// one. Only the latest view is kept for a slow reader. Call the returned
// func to stop watching. The channel is closed when Run returns; after
// that Watch yields the final view on an already closed channel.
func (e *Engine) Watch() (<-chan View, func()) {
	id, ch := e.watchers.add(e.View())
	return ch, func() { e.watchers.remove(id) }
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Run syncs until ctx is done. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.session.Present() {
		e.log.Info("no supervisor session, not subscribing")
		return nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(e.stopped)
	defer e.watchers.closeAll()

	e.subs = make(map[string]*remote.Subscription, 2)
	defer func() {
		for _, sub := range e.subs {
			sub.Close()
		}
	}()
	for _, c := range []string{remote.Students, remote.Alerts} {
		sub, err := e.source.Subscribe(ctx, c)
		if err != nil {
			return err
		}
		e.subs[c] = sub
	}
	e.log.Info("dashboard engine started", zap.String("teacher_id", e.session.TeacherID))

	events := make(chan collectionEvent)
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range e.subs {
		g.Go(func() error { return e.pump(gctx, sub, events) })
	}
	g.Go(func() error { return e.loop(gctx, events) })

	err := g.Wait()
	e.log.Info("dashboard engine stopped", zap.String("teacher_id", e.session.TeacherID))
	if errors.Is(err, context.Canceled) || errors.Is(err, remote.ErrClosed) {
		return nil
	}
	return err
}

func (e *Engine) pump(ctx context.Context, sub *remote.Subscription, out chan<- collectionEvent) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		select {
		case out <- collectionEvent{collection: sub.Collection(), ev: ev}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) loop(ctx context.Context, events <-chan collectionEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ce := <-events:
			e.apply(ce)
		case fn := <-e.cmds:
			fn()
		}
	}
}

func (e *Engine) apply(ce collectionEvent) {
	log := e.log.With(zap.String("collection", ce.collection))
	if ce.ev.Err != nil {
		log.Warn("subscription error, keeping last snapshot", zap.Error(ce.ev.Err))
		switch ce.collection {
		case remote.Students:
			e.studentsErr = ce.ev.Err
		case remote.Alerts:
			e.alertsErr = ce.ev.Err
		}
		e.scheduleResync(ce.collection)
		e.publish()
		return
	}

	tid := e.session.TeacherID
	switch ce.collection {
	case remote.Students:
		all, bad := DecodeStudents(ce.ev.Snapshot)
		if len(bad) > 0 {
			log.Warn("ignoring malformed student data", zap.Strings("keys", bad))
		}
		e.students = ScopeStudents(all, tid)
		e.idx = NewIndex(e.students)
		e.studentsErr = nil
		e.studentsLoaded = true
		e.focus.OnSnapshotArrived(e.students)
	case remote.Alerts:
		all, bad := DecodeAlerts(ce.ev.Snapshot)
		if len(bad) > 0 {
			log.Warn("skipping malformed records", zap.Strings("keys", bad))
		}
		e.feed = AlertFeed(ScopeAlerts(all, tid))
		e.alertsErr = nil
		e.alertsLoaded = true
	}
	log.Debug("snapshot applied", zap.Uint64("seq", ce.ev.Snapshot.Seq), zap.Int("records", ce.ev.Snapshot.Len()))
	e.publish()
}

func (e *Engine) scheduleResync(collection string) {
	if e.resyncDelay <= 0 {
		return
	}
	if sub := e.subs[collection]; sub != nil {
		time.AfterFunc(e.resyncDelay, sub.Resync)
	}
}

// publish recomputes the derived views and swaps in a new View.
func (e *Engine) publish() {
	e.seq++
	v := View{
		Teacher:   e.session,
		Students:  e.students,
		Attention: AttentionRequired(e.students, e.outOfRange),
		Alerts:    EnrichAlerts(e.feed, e.idx),
		Markers:   Markers(e.students),
		Focus:     e.focus.Point(),
		Ready:     e.studentsLoaded && e.alertsLoaded,
		Seq:       e.seq,
	}
	if e.studentsErr != nil {
		v.StudentsError = e.studentsErr.Error()
	}
	if e.alertsErr != nil {
		v.AlertsError = e.alertsErr.Error()
	}

	e.mu.Lock()
	e.view = v
	e.mu.Unlock()
	e.watchers.publish(v)
}

// do runs fn on the loop goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if !e.session.Present() {
		return nil
	}
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectStudent centers the map on a student. Unknown or unlocated students
// leave the focus unchanged. It returns the resulting focal point.
func (e *Engine) SelectStudent(ctx context.Context, studentID string) (FocusPoint, error) {
	var p FocusPoint
	err := e.do(ctx, func() {
		if e.focus.OnAlertSelected(studentID, e.idx) {
			e.publish()
		}
		p = e.focus.Point()
	})
	return p, err
}

// SelectAlert centers the map on the student an alert refers to. Unknown
// alerts and dangling student references are no-ops.
func (e *Engine) SelectAlert(ctx context.Context, alertID string) (FocusPoint, error) {
	var p FocusPoint
	err := e.do(ctx, func() {
		for _, a := range e.feed {
			if a.ID == alertID {
				if e.focus.OnAlertSelected(a.StudentID, e.idx) {
					e.publish()
				}
				break
			}
		}
		p = e.focus.Point()
	})
	return p, err
}

// ToggleBuzzer flips the buzzer of a student in scope, based on the value
// in the current view. The view does not change until the store confirms
// the write with a new snapshot.
func (e *Engine) ToggleBuzzer(ctx context.Context, studentID string) (<-chan error, error) {
	for _, s := range e.View().Students {
		if s.ID == studentID {
			return e.gateway.ToggleBuzzer(ctx, studentID, s.BuzzerOn), nil
		}
	}
	return nil, ErrNotInScope
}
