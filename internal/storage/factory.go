package storage

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/storage/memory"
	"github.com/OCAP2/arena/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/arena/internal/storage/sqlite"
	"github.com/OCAP2/arena/internal/storage/websocket"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.DB, log), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, "", log)
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewStream creates the live websocket stream, or nil when no URL is
// configured.
func NewStream(cfg config.StreamConfig, log *slog.Logger) Backend {
	if cfg.URL == "" {
		return nil
	}
	return websocket.New(cfg, log)
}
