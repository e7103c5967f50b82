package postgres

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/database"
)

func TestNew(t *testing.T) {
	b := New(config.DBConfig{Host: "localhost"}, nil)
	require.NotNil(t, b)
	assert.Nil(t, b.DB())
}

func TestInit_Unreachable(t *testing.T) {
	b := New(config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "x", Password: "x", Database: "x"}, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to postgres")
}

func TestInit_InjectedDB(t *testing.T) {
	// an injected connection skips dialing
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "pg.db"))
	require.NoError(t, err)

	b := New(config.DBConfig{}, nil)
	b.SetDB(db)
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
}
