package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvNotice(t *testing.T, ch <-chan Notice) Notice {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func TestHubFansOutToManyWatchers(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var students, alerts []<-chan Notice
	for range 25 {
		ch, err := h.add(ctx, "students")
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		students = append(students, ch)
	}
	for range 3 {
		ch, _ := h.add(ctx, "alerts")
		alerts = append(alerts, ch)
	}

	h.notify("students", Notice{})
	for i, ch := range students {
		if n := recvNotice(t, ch); n.Err != nil {
			t.Fatalf("watcher %d: %v", i, n.Err)
		}
	}
	for _, ch := range alerts {
		select {
		case <-ch:
			t.Fatal("alerts watcher saw a students notice")
		default:
		}
	}

	boom := errors.New("connection reset")
	h.broadcast(Notice{Err: boom})
	for _, ch := range append(students, alerts...) {
		if n := recvNotice(t, ch); !errors.Is(n.Err, boom) {
			t.Fatalf("broadcast = %+v", n)
		}
	}
}

func TestHubRemovesWatcherOnCancel(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.add(ctx, "students")
	keep, _ := h.add(context.Background(), "students")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed feed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
	if n := h.count("students"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	h.close()
	if _, ok := <-keep; ok {
		t.Error("close left a feed open")
	}
	if _, err := h.add(context.Background(), "students"); err == nil {
		t.Error("add after close should fail")
	}
}

func TestHubKeepsErrorWhenBufferFull(t *testing.T) {
	h := newHub()
	ch, _ := h.add(context.Background(), "students")
	for range 100 {
		h.notify("students", Notice{})
	}
	boom := errors.New("lost")
	h.notify("students", Notice{Err: boom})

	var sawErr bool
	for len(ch) > 0 {
		if n := <-ch; errors.Is(n.Err, boom) {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("error notice dropped on a full buffer")
	}
}
