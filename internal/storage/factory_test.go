package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/storage"
	"github.com/OCAP2/arena/internal/storage/memory"
	"github.com/OCAP2/arena/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/arena/internal/storage/sqlite"
	"github.com/OCAP2/arena/internal/storage/websocket"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		kind string
		want any
	}{
		{"memory", &memory.Backend{}},
		{"postgres", &postgres.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b, err := storage.NewBackend(config.StorageConfig{Type: tt.kind}, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := storage.NewBackend(config.StorageConfig{Type: "tape"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type: tape")
}

func TestNewStream(t *testing.T) {
	assert.Nil(t, storage.NewStream(config.StreamConfig{}, nil))
	assert.IsType(t, &websocket.Backend{}, storage.NewStream(config.StreamConfig{URL: "ws://localhost:1"}, nil))
}
