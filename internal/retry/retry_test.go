package retry

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 35 * time.Millisecond}
	want := []time.Duration{10, 20, 35, 35}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Fatalf("step %d = %v, want %v", i, got, w*time.Millisecond)
		}
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("after Reset = %v", got)
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	var b Backoff
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("first = %v", got)
	}
	for range 10 {
		b.Next()
	}
	if got := b.Next(); got != 5*time.Second {
		t.Errorf("cap = %v", got)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if Sleep(ctx, time.Minute) {
		t.Fatal("Sleep reported completion on a cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("Sleep on a live context should complete")
	}
}
