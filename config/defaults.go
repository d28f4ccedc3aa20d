// Package config provides configuration defaults for runstore.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via runstore.yaml or environment variables.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is where container files are written.
	// Override via config: data_dir, env: RUNSTORE_DATA_DIR
	DefaultDataDir = "./data"

	// DefaultFileExtension is appended to every container file name.
	// Legacy layouts that expect ".h5" names can set it explicitly.
	// Override via config: file.extension
	DefaultFileExtension = ".parquet"

	// DefaultCompression is the codec used for container files.
	// One of: zstd, snappy, gzip, lz4, none.
	// Override via config: file.compression
	DefaultCompression = "zstd"

	// DefaultCollisionAttempts is how many suffixed names are tried when the
	// target file of a run already exists.
	// Override via config: file.collision_attempts
	DefaultCollisionAttempts = 10
)

// =============================================================================
// Catalog Defaults
// =============================================================================

const (
	// DefaultCatalogDriver selects the catalog backend.
	// One of: duckdb, postgres, memory, none.
	// Override via config: catalog.driver, env: RUNSTORE_CATALOG_DRIVER
	DefaultCatalogDriver = "duckdb"

	// DefaultCatalogDSN is the DuckDB database file.
	// Override via config: catalog.dsn, env: RUNSTORE_CATALOG_DSN
	DefaultCatalogDSN = "./data/catalog.duckdb"

	// DefaultCatalogDatabase is the schema that holds the collection.
	// Override via config: catalog.database
	DefaultCatalogDatabase = "runstore"

	// DefaultCatalogCollection is the table holding catalog documents.
	// Override via config: catalog.collection
	DefaultCatalogCollection = "measurement"

	// DefaultCatalogConnectTimeout bounds the first connection attempt.
	// A capture must not stall on a dead catalog, so keep this short.
	// Override via config: catalog.connect_timeout
	DefaultCatalogConnectTimeout = 5 * time.Second

	// DefaultCatalogOpTimeout bounds every catalog operation.
	// Override via config: catalog.op_timeout
	DefaultCatalogOpTimeout = 10 * time.Second

	// DefaultCatalogRetryAfter is how long a failed connection is remembered
	// before the next attempt.
	// Override via config: catalog.retry_after
	DefaultCatalogRetryAfter = 30 * time.Second

	// DefaultCounterRetries is the number of attempts for the atomic run
	// counter when the backend reports a write conflict.
	// Override via config: catalog.counter_retries
	DefaultCounterRetries = 5

	// DefaultMaxOpenConns limits the catalog connection pool.
	// Override via config: catalog.max_open_conns
	DefaultMaxOpenConns = 4
)

// =============================================================================
// Document Defaults
// =============================================================================

const (
	// DefaultArraySummaries enables DDSketch summaries of excluded arrays.
	// Override via config: document.array_summaries
	DefaultArraySummaries = true

	// DefaultSummaryAccuracy is the relative accuracy of array summaries
	// (0.01 = 1% error on quantiles).
	// Override via config: document.summary_accuracy
	DefaultSummaryAccuracy = 0.01
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds a single selectRuns or listDevices call.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps result tables. 0 means unlimited.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 0
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultArchiveDriver disables archiving unless configured.
	// One of: none, s3, minio.
	// Override via config: archive.driver, env: RUNSTORE_ARCHIVE_DRIVER
	DefaultArchiveDriver = "none"

	// DefaultArchivePrefix is prepended to object keys.
	// Override via config: archive.prefix
	DefaultArchivePrefix = "runs/"

	// DefaultArchivePartSize is the multipart upload part size for s3.
	// Override via config: archive.part_size
	DefaultArchivePartSize = 8 * 1024 * 1024

	// DefaultArchiveConcurrency is the number of parts uploaded in parallel.
	// Override via config: archive.concurrency
	DefaultArchiveConcurrency = 4

	// DefaultArchiveTimeout bounds one upload.
	// Override via config: archive.timeout
	DefaultArchiveTimeout = 2 * time.Minute
)

// =============================================================================
// CLI Defaults
// =============================================================================

const (
	// DefaultIngestWorkers is the number of record files persisted in parallel.
	// Override via flag: runstore ingest --workers
	DefaultIngestWorkers = 4

	// DefaultMetricsJob is the pushgateway job name.
	// Override via config: metrics.job
	DefaultMetricsJob = "runstore"

	// DefaultLogLevel is the log level when none is configured.
	// Override via config: logging.level, flag: --log-level
	DefaultLogLevel = "info"
)
