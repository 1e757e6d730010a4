package dashboard

import "sync"

// broadcaster fans views out to watchers. Each watcher holds only the
// latest view: a slow reader skips intermediate views instead of building
// a backlog, and publishing never blocks.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan View
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan View)}
}

// add after closeAll returns a closed channel holding only initial.
func (b *broadcaster) add(initial View) (int, <-chan View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan View, 1)
	ch <- initial
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(v View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		// Replace a stale pending view with the new one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
