package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func TestDispatcherLogger(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*DispatcherLogger)
		level string
		msg   string
		attrs map[string]any
	}{
		{
			name:  "debug",
			log:   func(l *DispatcherLogger) { l.Debug("handler registered", "kind", "TurnEnded", "buffer", 64) },
			level: "DEBUG",
			msg:   "handler registered",
			attrs: map[string]any{"kind": "TurnEnded", "buffer": float64(64)},
		},
		{
			name:  "info",
			log:   func(l *DispatcherLogger) { l.Info("dispatcher closed") },
			level: "INFO",
			msg:   "dispatcher closed",
		},
		{
			name:  "error",
			log:   func(l *DispatcherLogger) { l.Error("handler failed", "error", "boom") },
			level: "ERROR",
			msg:   "handler failed",
			attrs: map[string]any{"error": "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			tt.log(NewDispatcherLogger(logger))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.msg, entry["msg"])
			assert.Equal(t, "dispatcher", entry["component"])
			for k, v := range tt.attrs {
				assert.Equal(t, v, entry[k], k)
			}
		})
	}
}
