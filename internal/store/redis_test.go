package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()

	if !r.Healthy(context.Background()) {
		t.Error("expected healthy redis")
	}

	mr.Close()
	if r.Healthy(context.Background()) {
		t.Error("expected unhealthy redis after shutdown")
	}
}

func TestNilStoresAreUnhealthy(t *testing.T) {
	var r *Redis
	var d *DB
	if r.Healthy(context.Background()) || d.Healthy(context.Background()) {
		t.Error("nil stores must report unhealthy")
	}
	if err := d.Close(); err != nil {
		t.Errorf("nil DB Close: %v", err)
	}
}
