package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  host: db.internal
  user: mail
  password: hunter2
  database: minecraft
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "user", cfg.Database.Table)
	assert.Equal(t, "uuid", cfg.Database.IDColumn)
	assert.Equal(t, "last_username", cfg.Database.NameColumn)

	assert.Equal(t, DefaultResolverURL, cfg.Resolver.URL)
	assert.Equal(t, MaxBatchSize, cfg.Resolver.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Resolver.Throttle)
	assert.Equal(t, 10*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, "namesweep", cfg.Resolver.UserAgent)
	assert.NotEmpty(t, cfg.LockFile)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestParseSQLite(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: SQLite
  path: /var/lib/mail/mail.db
  create_schema: true
resolver:
  batch_size: 50
  throttle: 500ms
metrics:
  textfile: /var/lib/node_exporter/namesweep.prom
lock_file: /run/namesweep.lock
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0, cfg.Database.Port)
	assert.True(t, cfg.Database.CreateSchema)
	assert.Equal(t, 50, cfg.Resolver.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Resolver.Throttle)
	assert.Equal(t, "/var/lib/node_exporter/namesweep.prom", cfg.Metrics.Textfile)
	assert.Equal(t, "/run/namesweep.lock", cfg.LockFile)
}

func TestParseMySQL(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: mysql
  user: mail
  database: minecraft
`))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestParseLegacyDBBlock(t *testing.T) {
	cfg, err := Parse([]byte(`
db:
  host: mc.example.net
  user: mail
  password: hunter2
  database: minecraft
`))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "mc.example.net", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "mail", cfg.Database.User)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "minecraft", cfg.Database.Name)
	assert.Equal(t, "user", cfg.Database.Table)
}

func TestParseDatabaseBlockOverridesLegacy(t *testing.T) {
	cfg, err := Parse([]byte(`
db:
  host: old.example.net
  user: mail
  database: minecraft
database:
  driver: postgres
  host: new.example.net
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "new.example.net", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "mail", cfg.Database.User)
	assert.Equal(t, "minecraft", cfg.Database.Name)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "database: [",
			wantErr: "parsing config file",
		},
		{
			name:    "unknown driver",
			yaml:    "database: {driver: oracle}",
			wantErr: `database.driver: unsupported value "oracle"`,
		},
		{
			name:    "postgres without database",
			yaml:    "database: {user: mail}",
			wantErr: "database.database is required",
		},
		{
			name:    "mysql without user",
			yaml:    "database: {driver: mysql, database: minecraft}",
			wantErr: "database.user is required for mysql",
		},
		{
			name:    "sqlite without path",
			yaml:    "database: {driver: sqlite}",
			wantErr: "database.path is required",
		},
		{
			name:    "batch size above limit",
			yaml:    "database: {driver: sqlite, path: x.db}\nresolver: {batch_size: 101}",
			wantErr: "resolver.batch_size must be between 1 and 100",
		},
		{
			name:    "negative batch size",
			yaml:    "database: {driver: sqlite, path: x.db}\nresolver: {batch_size: -1}",
			wantErr: "resolver.batch_size",
		},
		{
			name:    "unsafe table name",
			yaml:    "database: {driver: sqlite, path: x.db, table: \"user; DROP TABLE user\"}",
			wantErr: "database.table: invalid identifier",
		},
		{
			name:    "unsafe column name",
			yaml:    "database: {driver: sqlite, path: x.db, name_column: \"a-b\"}",
			wantErr: "database.name_column: invalid identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("database: {driver: sqlite, path: mail.db}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mail.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
