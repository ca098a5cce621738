package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ernie/namesweep/internal/config"
	"github.com/ernie/namesweep/internal/domain"
	"github.com/stretchr/testify/require"
)

// insertRecord seeds a record directly
func (s *Store) insertRecord(ctx context.Context, rec domain.IdentityRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES (?, ?)`, s.table, s.idCol, s.nameCol)), rec.ID, rec.Name)
	return err
}

func sqliteConfig(path string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         path,
		Table:        "user",
		IDColumn:     "uuid",
		NameColumn:   "last_username",
		CreateSchema: true,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), sqliteConfig(filepath.Join(t.TempDir(), "mail.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
