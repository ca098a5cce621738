package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxBatchSize is the most names the profile lookup endpoint accepts per call
const MaxBatchSize = 100

// DefaultResolverURL is Mojang's bulk name to profile endpoint
const DefaultResolverURL = "https://api.mojang.com/profiles/minecraft"

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	DB       *LegacyDBConfig `yaml:"db"`
	Resolver ResolverConfig  `yaml:"resolver"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	LockFile string          `yaml:"lock_file"`
}

// DatabaseConfig holds connection settings for the identity store
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"database"`
	SSLMode      string `yaml:"sslmode"`
	Path         string `yaml:"path"`
	Table        string `yaml:"table"`
	IDColumn     string `yaml:"id_column"`
	NameColumn   string `yaml:"name_column"`
	CreateSchema bool   `yaml:"create_schema"`
}

// LegacyDBConfig is the flat MySQL block used by NerdMailCleaner's
// config.yml. Its values fill any database settings left empty.
type LegacyDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ResolverConfig holds settings for the external identity authority
type ResolverConfig struct {
	URL       string        `yaml:"url"`
	BatchSize int           `yaml:"batch_size"`
	Throttle  time.Duration `yaml:"throttle"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// MetricsConfig holds run metrics output settings
type MetricsConfig struct {
	// Textfile is written in Prometheus text format after each run, for
	// node_exporter's textfile collector. Empty disables it.
	Textfile string `yaml:"textfile"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.DB != nil {
		c.applyLegacyDB()
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		case "mysql":
			c.Database.Port = 3306
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	// Column defaults match the Mail plugin's user table
	if c.Database.Table == "" {
		c.Database.Table = "user"
	}
	if c.Database.IDColumn == "" {
		c.Database.IDColumn = "uuid"
	}
	if c.Database.NameColumn == "" {
		c.Database.NameColumn = "last_username"
	}

	if c.Resolver.URL == "" {
		c.Resolver.URL = DefaultResolverURL
	}
	if c.Resolver.BatchSize == 0 {
		c.Resolver.BatchSize = MaxBatchSize
	}
	if c.Resolver.Throttle == 0 {
		c.Resolver.Throttle = 2 * time.Second
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 10 * time.Second
	}
	if c.Resolver.UserAgent == "" {
		c.Resolver.UserAgent = "namesweep"
	}

	if c.LockFile == "" {
		c.LockFile = filepath.Join(os.TempDir(), "namesweep.lock")
	}
}

// applyLegacyDB maps a NerdMailCleaner db block onto the database settings.
// That tool only ever talked to MySQL.
func (c *Config) applyLegacyDB() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = c.DB.Host
	}
	if c.Database.Port == 0 {
		c.Database.Port = c.DB.Port
	}
	if c.Database.User == "" {
		c.Database.User = c.DB.User
	}
	if c.Database.Password == "" {
		c.Database.Password = c.DB.Password
	}
	if c.Database.Name == "" {
		c.Database.Name = c.DB.Database
	}
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration for values the tool cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.database is required for %s", c.Database.Driver))
		}
		if c.Database.User == "" {
			errs = append(errs, fmt.Errorf("database.user is required for %s", c.Database.Driver))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver))
	}

	identifiers := []struct{ key, value string }{
		{"database.table", c.Database.Table},
		{"database.id_column", c.Database.IDColumn},
		{"database.name_column", c.Database.NameColumn},
	}
	for _, ident := range identifiers {
		if !identifierRegex.MatchString(ident.value) {
			errs = append(errs, fmt.Errorf("%s: invalid identifier %q", ident.key, ident.value))
		}
	}

	if c.Resolver.BatchSize < 1 || c.Resolver.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("resolver.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Resolver.BatchSize))
	}
	if c.Resolver.Throttle < 0 {
		errs = append(errs, errors.New("resolver.throttle must not be negative"))
	}
	if c.Resolver.Timeout < 0 {
		errs = append(errs, errors.New("resolver.timeout must not be negative"))
	}

	return errors.Join(errs...)
}
