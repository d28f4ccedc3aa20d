// Package config loads the runstore configuration file.
//
// The configuration is an explicit value handed to every constructor;
// nothing in runstore reads configuration from package globals.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/runstore/config"
)

// Config represents the complete runstore configuration.
type Config struct {
	// DataDir is the directory container files are written to.
	DataDir string `yaml:"data_dir"`

	// File configures container files.
	File FileConfig `yaml:"file"`

	// Catalog configures the searchable catalog.
	Catalog CatalogConfig `yaml:"catalog"`

	// Document configures catalog document construction.
	Document DocumentConfig `yaml:"document"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`

	// Archive configures optional off-site copies of container files.
	Archive ArchiveConfig `yaml:"archive"`

	// Metrics configures metric publication.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// FileConfig configures container files.
type FileConfig struct {
	// Extension is appended to every file name, including the dot.
	Extension string `yaml:"extension"`

	// Compression is the codec: zstd, snappy, gzip, lz4, none.
	Compression string `yaml:"compression"`

	// CollisionAttempts is how many suffixed names are tried when the
	// target file already exists.
	CollisionAttempts int `yaml:"collision_attempts"`
}

// CatalogConfig configures the catalog connection.
type CatalogConfig struct {
	// Driver is the backend: duckdb, postgres, memory or none.
	Driver string `yaml:"driver"`

	// DSN is the connection string. For duckdb, a database file path
	// (empty for in-memory). For postgres, a URL or key/value DSN.
	DSN string `yaml:"dsn"`

	// Username and Password are merged into a postgres URL DSN when set.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Database is the schema that holds the collection.
	Database string `yaml:"database"`

	// Collection is the table holding catalog documents.
	Collection string `yaml:"collection"`

	// ConnectTimeout bounds the initial connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// OpTimeout bounds every catalog operation.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// RetryAfter is how long a failed connection attempt is remembered.
	RetryAfter time.Duration `yaml:"retry_after"`

	// CounterRetries is the number of attempts on counter write conflicts.
	CounterRetries int `yaml:"counter_retries"`

	// MaxOpenConns limits the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// Enabled reports whether a catalog backend is configured.
func (c CatalogConfig) Enabled() bool {
	return c.Driver != "" && c.Driver != "none"
}

// ConnString returns the DSN with credentials applied.
func (c CatalogConfig) ConnString() string {
	if c.Driver != "postgres" || (c.Username == "" && c.Password == "") {
		return c.DSN
	}
	u, err := url.Parse(c.DSN)
	if err != nil || u.Scheme == "" {
		return c.DSN
	}
	user := c.Username
	if user == "" && u.User != nil {
		user = u.User.Username()
	}
	if c.Password != "" {
		u.User = url.UserPassword(user, c.Password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// DocumentConfig configures catalog documents.
type DocumentConfig struct {
	// ExcludedFields are kept out of the catalog in addition to the
	// fixed large arrays.
	ExcludedFields []string `yaml:"excluded_fields"`

	// ArraySummaries adds count/min/max/mean/quantile keys for excluded arrays.
	ArraySummaries bool `yaml:"array_summaries"`

	// SummaryAccuracy is the relative accuracy of the quantile sketches.
	SummaryAccuracy float64 `yaml:"summary_accuracy"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned. 0 means unlimited.
	MaxRows int `yaml:"max_rows"`
}

// ArchiveConfig configures uploads of container files.
type ArchiveConfig struct {
	// Driver is none, s3 or minio.
	Driver string `yaml:"driver"`

	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// UseSSL applies to minio endpoints.
	UseSSL bool `yaml:"use_ssl"`

	// PathStyle forces path-style addressing on s3 compatible endpoints.
	PathStyle bool `yaml:"path_style"`

	// PartSize and Concurrency tune s3 multipart uploads.
	PartSize    int64 `yaml:"part_size"`
	Concurrency int   `yaml:"concurrency"`

	// Timeout bounds one upload.
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether archiving is configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Driver != "" && c.Driver != "none"
}

// MetricsConfig configures metric publication.
type MetricsConfig struct {
	// Pushgateway is the URL metrics are pushed to after batch commands.
	Pushgateway string `yaml:"pushgateway"`

	// Job is the pushgateway job label.
	Job string `yaml:"job"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load loads configuration from a YAML file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.ApplyEnv()
	config.resolvePaths(filepath.Dir(path))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path if it is set, otherwise returns the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	config := DefaultConfig()
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		File: FileConfig{
			Extension:         defaults.DefaultFileExtension,
			Compression:       defaults.DefaultCompression,
			CollisionAttempts: defaults.DefaultCollisionAttempts,
		},
		Catalog: CatalogConfig{
			Driver:         defaults.DefaultCatalogDriver,
			DSN:            defaults.DefaultCatalogDSN,
			Database:       defaults.DefaultCatalogDatabase,
			Collection:     defaults.DefaultCatalogCollection,
			ConnectTimeout: defaults.DefaultCatalogConnectTimeout,
			OpTimeout:      defaults.DefaultCatalogOpTimeout,
			RetryAfter:     defaults.DefaultCatalogRetryAfter,
			CounterRetries: defaults.DefaultCounterRetries,
			MaxOpenConns:   defaults.DefaultMaxOpenConns,
		},
		Document: DocumentConfig{
			ArraySummaries:  defaults.DefaultArraySummaries,
			SummaryAccuracy: defaults.DefaultSummaryAccuracy,
		},
		Query: QueryConfig{
			Timeout: defaults.DefaultQueryTimeout,
			MaxRows: defaults.DefaultQueryMaxRows,
		},
		Archive: ArchiveConfig{
			Driver:      defaults.DefaultArchiveDriver,
			Prefix:      defaults.DefaultArchivePrefix,
			PartSize:    defaults.DefaultArchivePartSize,
			Concurrency: defaults.DefaultArchiveConcurrency,
			Timeout:     defaults.DefaultArchiveTimeout,
		},
		Metrics: MetricsConfig{
			Job: defaults.DefaultMetricsJob,
		},
		Logging: LoggingConfig{
			Level: defaults.DefaultLogLevel,
		},
	}
}

// Environment variables that override file settings.
const (
	EnvDataDir         = "RUNSTORE_DATA_DIR"
	EnvCatalogDriver   = "RUNSTORE_CATALOG_DRIVER"
	EnvCatalogDSN      = "RUNSTORE_CATALOG_DSN"
	EnvCatalogUsername = "RUNSTORE_CATALOG_USERNAME"
	EnvCatalogPassword = "RUNSTORE_CATALOG_PASSWORD"
	EnvArchiveDriver   = "RUNSTORE_ARCHIVE_DRIVER"
	EnvArchiveBucket   = "RUNSTORE_ARCHIVE_BUCKET"
	EnvArchiveEndpoint = "RUNSTORE_ARCHIVE_ENDPOINT"
	EnvArchiveKeyID    = "RUNSTORE_ARCHIVE_ACCESS_KEY_ID"
	EnvArchiveSecret   = "RUNSTORE_ARCHIVE_SECRET_ACCESS_KEY"
	EnvArchiveUseSSL   = "RUNSTORE_ARCHIVE_USE_SSL"
	EnvPushgateway     = "RUNSTORE_PUSHGATEWAY"
)

// ApplyEnv overrides settings from the environment. Credentials usually
// arrive this way instead of through the file.
func (c *Config) ApplyEnv() {
	setString(&c.DataDir, EnvDataDir)
	setString(&c.Catalog.Driver, EnvCatalogDriver)
	setString(&c.Catalog.DSN, EnvCatalogDSN)
	setString(&c.Catalog.Username, EnvCatalogUsername)
	setString(&c.Catalog.Password, EnvCatalogPassword)
	setString(&c.Archive.Driver, EnvArchiveDriver)
	setString(&c.Archive.Bucket, EnvArchiveBucket)
	setString(&c.Archive.Endpoint, EnvArchiveEndpoint)
	setString(&c.Archive.AccessKeyID, EnvArchiveKeyID)
	setString(&c.Archive.SecretAccessKey, EnvArchiveSecret)
	setString(&c.Metrics.Pushgateway, EnvPushgateway)

	if v, ok := os.LookupEnv(EnvArchiveUseSSL); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Archive.UseSSL = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// resolvePaths makes relative paths in the file relative to its directory.
func (c *Config) resolvePaths(base string) {
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(base, c.DataDir)
	}
	if c.Catalog.Driver == "duckdb" && c.Catalog.DSN != "" && !filepath.IsAbs(c.Catalog.DSN) && !strings.Contains(c.Catalog.DSN, "?") {
		c.Catalog.DSN = filepath.Join(base, c.Catalog.DSN)
	}
}
