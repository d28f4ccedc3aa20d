package config

import (
	"strings"

	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/validation"
)

var (
	catalogDrivers    = []string{"duckdb", "postgres", "memory", "none", ""}
	archiveDrivers    = []string{"s3", "minio", "none", ""}
	compressionCodecs = []string{"zstd", "snappy", "gzip", "lz4", "none", "uncompressed"}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	if c.DataDir == "" {
		errs.AddMissing("data_dir")
	}

	c.File.validate(errs)
	c.Catalog.validate(errs)
	c.Document.validate(errs)
	c.Query.validate(errs)
	c.Archive.validate(errs)

	return errs.Err()
}

func (c *FileConfig) validate(errs *errors.ValidationErrors) {
	if c.Extension != "" && !strings.HasPrefix(c.Extension, ".") {
		errs.AddField("file.extension", "must start with '.'")
	}
	if strings.ContainsAny(c.Extension, `/\`) {
		errs.AddField("file.extension", "cannot contain path separators")
	}
	if !oneOf(strings.ToLower(c.Compression), compressionCodecs) {
		errs.AddField("file.compression", "unknown codec "+c.Compression)
	}
	if c.CollisionAttempts < 1 {
		errs.AddField("file.collision_attempts", "must be positive")
	}
}

func (c *CatalogConfig) validate(errs *errors.ValidationErrors) {
	if !oneOf(c.Driver, catalogDrivers) {
		errs.AddField("catalog.driver", "unknown driver "+c.Driver)
		return
	}
	if !c.Enabled() {
		return
	}

	if c.Driver == "postgres" && c.DSN == "" {
		errs.AddMissing("catalog.dsn")
	}
	if c.Database != "" {
		if err := validation.ValidateIdentifier(c.Database); err != nil {
			errs.AddField("catalog.database", err.Error())
		}
	}
	if err := validation.ValidateIdentifier(c.Collection); err != nil {
		errs.AddField("catalog.collection", err.Error())
	}
	if c.ConnectTimeout <= 0 {
		errs.AddField("catalog.connect_timeout", "must be positive")
	}
	if c.OpTimeout <= 0 {
		errs.AddField("catalog.op_timeout", "must be positive")
	}
	if c.RetryAfter < 0 {
		errs.AddField("catalog.retry_after", "cannot be negative")
	}
	if c.CounterRetries < 1 {
		errs.AddField("catalog.counter_retries", "must be positive")
	}
	if c.MaxOpenConns < 1 {
		errs.AddField("catalog.max_open_conns", "must be positive")
	}
}

func (c *DocumentConfig) validate(errs *errors.ValidationErrors) {
	if c.ArraySummaries && (c.SummaryAccuracy <= 0 || c.SummaryAccuracy >= 1) {
		errs.AddField("document.summary_accuracy", "must be between 0 and 1")
	}
}

func (c *QueryConfig) validate(errs *errors.ValidationErrors) {
	if c.Timeout <= 0 {
		errs.AddField("query.timeout", "must be positive")
	}
	if c.MaxRows < 0 {
		errs.AddField("query.max_rows", "cannot be negative")
	}
}

func (c *ArchiveConfig) validate(errs *errors.ValidationErrors) {
	if !oneOf(c.Driver, archiveDrivers) {
		errs.AddField("archive.driver", "unknown driver "+c.Driver)
		return
	}
	if !c.Enabled() {
		return
	}
	if c.Bucket == "" {
		errs.AddMissing("archive.bucket")
	}
	if c.Driver == "minio" && c.Endpoint == "" {
		errs.AddMissing("archive.endpoint")
	}
	if c.Timeout <= 0 {
		errs.AddField("archive.timeout", "must be positive")
	}
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
