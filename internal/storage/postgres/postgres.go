// Package postgres implements the storage.Backend interface on a PostgreSQL
// (PostGIS) database through the GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/database"
	gormstorage "github.com/OCAP2/arena/internal/storage/gorm"
)

// Backend opens its own postgres connection on Init.
type Backend struct {
	*gormstorage.Backend
	cfg config.DBConfig
	log *slog.Logger
}

// New creates a new postgres storage backend.
func New(cfg config.DBConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{Logger: log}),
		cfg:     cfg,
		log:     log.With("component", "storage.postgres"),
	}
}

// Init connects, then runs the GORM backend's migration and writer.
func (b *Backend) Init() error {
	if b.DB() == nil {
		db, err := database.GetPostgresDB(b.cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.SetDB(db)
		b.log.Info("Connected to database", "host", b.cfg.Host, "database", b.cfg.Database)
	}
	return b.Backend.Init()
}
