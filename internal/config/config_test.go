package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "STORE_BACKEND", "ACCESS_TTL", "RATE_LIMIT_PER_MIN", "ENGINE_IDLE_TTL"} {
		t.Setenv(k, "")
	}
	app := Load()
	if app.Env != "dev" || app.StoreBackend != BackendMemory || app.AccessTTL != 12*time.Hour {
		t.Errorf("defaults = %+v", app)
	}
	if app.EngineIdleTTL != 5*time.Minute {
		t.Errorf("idle ttl = %s", app.EngineIdleTTL)
	}
	if app.Production() {
		t.Error("dev reported as production")
	}
	if len(app.Warnings) != 0 {
		t.Errorf("warnings = %v", app.Warnings)
	}
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("RESYNC_DELAY", "250ms")
	t.Setenv("ENGINE_IDLE_TTL", "0s")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("LOW_BATTERY_PERCENT", "15")

	app := Load()
	if !app.Production() || app.StoreBackend != BackendPostgres {
		t.Errorf("env/store = %s/%s", app.Env, app.StoreBackend)
	}
	if app.QueueBackend != BackendMemory {
		t.Errorf("queue = %s, want fallback", app.QueueBackend)
	}
	if app.ResyncDelay != 250*time.Millisecond || app.LowBatteryPercent != 15 {
		t.Errorf("resync/battery = %s/%d", app.ResyncDelay, app.LowBatteryPercent)
	}
	if app.EngineIdleTTL != 0 {
		t.Errorf("idle ttl = %s, want disabled", app.EngineIdleTTL)
	}
	if app.RateLimitPerMin != 120 {
		t.Errorf("rate = %d, want fallback", app.RateLimitPerMin)
	}
	if len(app.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", app.Warnings)
	}
}
