package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevel(t *testing.T) {
	tests := []struct {
		env, level string
		want       zapcore.Level
	}{
		{"dev", "debug", zapcore.DebugLevel},
		{"production", "warn", zapcore.WarnLevel},
		{"production", "loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		log, err := New(tt.env, tt.level)
		if err != nil {
			t.Fatalf("New(%s, %s): %v", tt.env, tt.level, err)
		}
		if !log.Core().Enabled(tt.want) || (tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1)) {
			t.Errorf("New(%s, %s): level not %s", tt.env, tt.level, tt.want)
		}
	}
}
