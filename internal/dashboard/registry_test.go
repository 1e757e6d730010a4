package dashboard

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"buddyband/internal/remote"
	"buddyband/internal/session"
)

func TestRegistryReusesEngines(t *testing.T) {
	mb := remote.NewMemoryBackend()
	seedClass(mb)
	r := NewRegistry(remote.NewSource(mb, zap.NewNop()), zap.NewNop())

	e1, err := r.Get(session.New("t1", "Tess"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	e2, _ := r.Get(session.New("t1", "Tess"))
	if e1 != e2 {
		t.Error("same supervisor got two engines")
	}
	e3, _ := r.Get(session.New("t2", "Tom"))
	if e3 == e1 {
		t.Error("different supervisors share an engine")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	views, stop := e3.Watch()
	defer stop()
	deadline := time.After(2 * time.Second)
	for ready := false; !ready; {
		select {
		case v := <-views:
			ready = v.Ready
		case <-deadline:
			t.Fatal("engine never became ready")
		}
	}

	r.Close()
	if r.Len() != 0 {
		t.Errorf("Len after Close = %d", r.Len())
	}
	if _, err := r.Get(session.New("t3", "")); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Get after Close: err = %v", err)
	}
}

func TestRegistryAbsentSession(t *testing.T) {
	r := NewRegistry(remote.NewSource(remote.NewMemoryBackend(), nil), nil)
	defer r.Close()

	e, err := r.Get(session.Session{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Session().Present() || r.Len() != 0 {
		t.Errorf("absent session registered an engine")
	}
}

func waitReady(t *testing.T, views <-chan View) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-views:
			if v.Ready {
				return
			}
		case <-deadline:
			t.Fatal("engine never became ready")
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryEvictsIdleEngines(t *testing.T) {
	mb := remote.NewMemoryBackend()
	seedClass(mb)
	r := NewRegistry(remote.NewSource(mb, zap.NewNop()), zap.NewNop(), WithIdleTTL(40*time.Millisecond))
	defer r.Close()

	e, err := r.Get(session.New("t1", "Tess"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	views, stop := e.Watch()
	waitReady(t, views)
	if n := mb.Watchers(remote.Students); n != 1 {
		t.Fatalf("student feeds = %d, want 1", n)
	}

	// A watched engine outlives the TTL.
	time.Sleep(150 * time.Millisecond)
	if r.Len() != 1 {
		t.Fatalf("watched engine evicted, Len = %d", r.Len())
	}

	stop()
	eventually(t, "idle eviction", func() bool { return r.Len() == 0 })
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("evicted engine still running")
	}
	eventually(t, "feeds closed", func() bool {
		return mb.Watchers(remote.Students) == 0 && mb.Watchers(remote.Alerts) == 0
	})

	// The next Get starts a fresh engine, which picks up the new name.
	e2, err := r.Get(session.New("t1", "Tess Renamed"))
	if err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}
	if e2 == e {
		t.Fatal("Get returned the evicted engine")
	}
	if got := e2.View().Teacher.Name; got != "Tess Renamed" {
		t.Errorf("teacher name = %q", got)
	}
}

func TestRegistryKeepsFirstNameWhileRunning(t *testing.T) {
	mb := remote.NewMemoryBackend()
	r := NewRegistry(remote.NewSource(mb, zap.NewNop()), zap.NewNop())
	defer r.Close()

	e1, _ := r.Get(session.New("t1", "Tess"))
	e2, _ := r.Get(session.New("t1", "Tessa"))
	if e1 != e2 {
		t.Fatal("same teacher id got two engines")
	}
	if got := e2.View().Teacher.Name; got != "Tess" {
		t.Errorf("teacher name = %q, want the first session's", got)
	}
}

func TestRegistryGetRefreshesIdleClock(t *testing.T) {
	mb := remote.NewMemoryBackend()
	r := NewRegistry(remote.NewSource(mb, zap.NewNop()), zap.NewNop(), WithIdleTTL(80*time.Millisecond))
	defer r.Close()

	e, _ := r.Get(session.New("t1", "Tess"))
	for range 6 {
		time.Sleep(25 * time.Millisecond)
		if got, _ := r.Get(session.New("t1", "Tess")); got != e {
			t.Fatal("engine replaced while in use")
		}
	}
	eventually(t, "idle eviction", func() bool { return r.Len() == 0 })
}
