package remote

import (
	"context"
	"errors"
	"sync"
)

var errHubClosed = errors.New("change feed closed")

// hub fans change notices out to per-Watch channels keyed by collection.
// Sends never block; a full buffer already guarantees a pending reload.
type hub struct {
	mu       sync.Mutex
	nextID   int
	watchers map[string]map[int]chan Notice
	closed   bool
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[int]chan Notice)}
}

// add registers a watcher for collection until ctx is done.
func (h *hub) add(ctx context.Context, collection string) (<-chan Notice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}
	ch := make(chan Notice, 64)
	id := h.nextID
	h.nextID++
	if h.watchers[collection] == nil {
		h.watchers[collection] = make(map[int]chan Notice)
	}
	h.watchers[collection][id] = ch

	context.AfterFunc(ctx, func() { h.remove(collection, id) })
	return ch, nil
}

func (h *hub) remove(collection string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.watchers[collection]
	if ch, ok := ws[id]; ok {
		delete(ws, id)
		close(ch)
	}
	if len(ws) == 0 {
		delete(h.watchers, collection)
	}
}

func (h *hub) notify(collection string, n Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.watchers[collection] {
		send(ch, n)
	}
}

// broadcast delivers n to every watcher of every collection.
func (h *hub) broadcast(n Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ws := range h.watchers {
		for _, ch := range ws {
			send(ch, n)
		}
	}
}

// count returns the number of watchers of collection, or of all
// collections when collection is empty.
func (h *hub) count(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if collection != "" {
		return len(h.watchers[collection])
	}
	n := 0
	for _, ws := range h.watchers {
		n += len(ws)
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c, ws := range h.watchers {
		for _, ch := range ws {
			close(ch)
		}
		delete(h.watchers, c)
	}
}

// send drops a data notice when the buffer is full. An error notice
// replaces the oldest queued one so a failure is not lost.
func send(ch chan Notice, n Notice) {
	select {
	case ch <- n:
		return
	default:
	}
	if n.Err == nil {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- n:
	default:
	}
}
