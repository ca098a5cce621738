package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ernie/namesweep/internal/config"
	"github.com/ernie/namesweep/internal/domain"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when a delete matches no rows
var ErrRecordNotFound = domain.ErrRecordNotFound

// Store provides access to the identity record table
type Store struct {
	db     *sql.DB
	driver string

	table   string
	idCol   string
	nameCol string
}

// New opens the identity store described by cfg and verifies the connection
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case "postgres":
		driverName, dsn = "postgres", postgresDSN(cfg)
	case "mysql":
		driverName, dsn = "mysql", mysqlDSN(cfg)
	case "sqlite":
		driverName, dsn = "sqlite", cfg.Path
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One session for the whole run keeps deletions strictly ordered
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragmas: %w", err)
		}
	}

	s := &Store{
		db:      db,
		driver:  cfg.Driver,
		table:   quoteIdent(cfg.Driver, cfg.Table),
		idCol:   quoteIdent(cfg.Driver, cfg.IDColumn),
		nameCol: quoteIdent(cfg.Driver, cfg.NameColumn),
	}

	if cfg.CreateSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func postgresDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func mysqlDSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.TLSConfig = mysqlTLS(cfg.SSLMode)
	return mc.FormatDSN()
}

// mysqlTLS maps a libpq sslmode onto the MySQL driver's tls parameter
func mysqlTLS(sslmode string) string {
	switch sslmode {
	case "verify-ca", "verify-full":
		return "true"
	case "require":
		return "skip-verify"
	case "prefer", "allow":
		return "preferred"
	default:
		return "false"
	}
}

// quoteIdent quotes a SQL identifier for the driver. Config validation
// already restricts identifiers to [A-Za-z0-9_], so this only guards
// reserved words like user.
func quoteIdent(driver, name string) string {
	if driver == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// rebind converts ? placeholders to $n for postgres
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the identity table if it does not exist. Production
// tables belong to the plugin that owns them; this is for local SQLite
// stores and tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(36) NOT NULL, %s VARCHAR(64))`,
		s.table, s.idCol, s.nameCol))
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// --- Identity record methods ---

// ListDuplicateGroups returns every name stored against more than one
// identifier, along with the total number of records in the table
func (s *Store) ListDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[2]s, COUNT(*) FROM %[1]s
		WHERE %[2]s IS NOT NULL
		GROUP BY %[2]s
		HAVING COUNT(*) > 1
		ORDER BY %[2]s
	`, s.table, s.nameCol))
	if err != nil {
		return nil, 0, fmt.Errorf("listing duplicate names: %w", err)
	}
	defer rows.Close()

	var groups []domain.DuplicateGroup
	for rows.Next() {
		g, err := scanDuplicateGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning duplicate name: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing duplicate names: %w", err)
	}

	total, err := s.TotalRecords(ctx)
	if err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// TotalRecords returns the number of records in the identity table
func (s *Store) TotalRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

// FetchRecords returns every record stored for the exact display name
func (s *Store) FetchRecords(ctx context.Context, name string) ([]domain.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s = ?`, s.idCol, s.nameCol, s.table, s.nameCol)), name)
	if err != nil {
		return nil, fmt.Errorf("fetching records for %q: %w", name, err)
	}
	defer rows.Close()

	var records []domain.IdentityRecord
	for rows.Next() {
		rec, err := scanIdentityRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRecord removes the record with the given identifier in its own
// transaction. Deleting an identifier that no longer exists returns
// ErrRecordNotFound and changes nothing.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE %s = ?`, s.table, s.idCol)), id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
