// Package persist saves finished measurement runs.
//
// Save is the single entry point used by acquisition code:
//
//	validate -> allocate number -> write container -> archive -> build document -> insert
//
// Only a record without a device fails. Every other problem degrades the
// run (fallback number, skipped field, no catalog entry, no archive copy),
// is logged as a warning and is listed in Result.Warnings.
package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtxerr/runstore/internal/archive"
	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/config"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/container"
	"github.com/xtxerr/runstore/internal/document"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/metrics"
	"github.com/xtxerr/runstore/internal/record"
	"github.com/xtxerr/runstore/internal/sequence"
)

// UnknownType is used when a run has no measurement type.
const UnknownType = "unknown"

// Run is one finished measurement handed over for persistence.
type Run struct {
	Record *record.Record

	// Type is the measurement type. When empty it is derived from
	// SourcePath.
	Type string

	// SourcePath is the procedure file that produced the run.
	SourcePath string

	// Source holds the procedure source lines. When nil and SourcePath
	// is set, the file is read.
	Source []string

	// Dir overrides the data directory for this run.
	Dir string
}

// Result describes a persisted run.
type Result struct {
	Number     sequence.Number
	Path       string
	DocumentID string
	Inserted   bool
	Archived   bool
	Warnings   []record.FieldWarning
}

// Options configures a Persister.
type Options struct {
	DataDir  string
	Writer   *container.Writer
	Builder  *document.Builder
	Catalog  catalog.Catalog
	Archiver archive.Archiver

	ArchiveTimeout    time.Duration
	CollisionAttempts int

	// Now is the clock used for fallback numbers and timestamps.
	Now func() time.Time
}

// Persister saves runs. It is safe for concurrent use.
type Persister struct {
	opts      Options
	allocator *sequence.Allocator
}

// New creates a Persister.
func New(opts Options) (*Persister, error) {
	if opts.Writer == nil || opts.Builder == nil {
		return nil, fmt.Errorf("persister needs a writer and a document builder: %w", errors.ErrInvalidConfig)
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Disabled{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CollisionAttempts < 1 {
		opts.CollisionAttempts = 1
	}
	return &Persister{
		opts:      opts,
		allocator: sequence.New(opts.Catalog, sequence.WithClock(opts.Now)),
	}, nil
}

// NewFromConfig creates a Persister from configuration. The catalog is
// passed in so callers control its lifetime.
func NewFromConfig(ctx context.Context, cfg *config.Config, c catalog.Catalog) (*Persister, error) {
	compression, err := container.ParseCompressionType(cfg.File.Compression)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errors.ErrInvalidConfig)
	}
	builder, err := document.New(document.OptionsFromConfig(cfg.Document))
	if err != nil {
		return nil, err
	}
	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	return New(Options{
		DataDir:           cfg.DataDir,
		Writer:            container.NewWriter(container.Options{Compression: compression, Extension: cfg.File.Extension}),
		Builder:           builder,
		Catalog:           c,
		Archiver:          arch,
		ArchiveTimeout:    cfg.Archive.Timeout,
		CollisionAttempts: cfg.File.CollisionAttempts,
	})
}

// Save persists run. It returns an error only when the record is invalid
// or the container file cannot be created.
func (p *Persister) Save(ctx context.Context, run Run) (*Result, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.SaveDuration, start)

	rec := run.Record
	if err := rec.Validate(); err != nil {
		metrics.RunsFailed.Inc()
		return nil, err
	}
	device, _ := rec.Device()

	source := run.Source
	if source == nil && run.SourcePath != "" {
		lines, err := record.ReadSourceLines(run.SourcePath)
		if err != nil {
			metrics.RunsFailed.Inc()
			return nil, err
		}
		source = lines
	}
	typ := run.Type
	if typ == "" {
		typ = record.TypeFromSource(run.SourcePath)
	}
	if typ == "" {
		typ = UnknownType
	}

	result := &Result{}
	warn := func(field, reason string, err error) {
		result.Warnings = append(result.Warnings, record.FieldWarning{Field: field, Reason: reason, Err: err})
	}

	number, available := p.allocator.Allocate(ctx)
	result.Number = number
	if !available {
		warn(constants.DocNumber, record.ReasonFallback,
			fmt.Errorf("catalog unavailable, run saved as %s: %w", number.Value, errors.ErrCatalogUnavailable))
	}

	ctx = logging.ContextWithOperation(ctx, "save")
	ctx = logging.ContextWithDevice(logging.ContextWithRunNumber(ctx, number.Value), device)
	log := logging.WithContext(ctx)

	created := p.opts.Now()
	report, err := p.write(ctx, run, rec, source, container.Meta{
		Number:      number.Value,
		NumberSpace: string(number.Space),
		Device:      device,
		Type:        typ,
		Created:     created,
	}, warn)
	if err != nil {
		metrics.RunsFailed.Inc()
		log.Error("unable to write container file", "error", err)
		return nil, err
	}
	result.Path = report.Path
	metrics.BytesWritten.Add(float64(report.Bytes))
	for _, w := range report.Skipped {
		metrics.FieldWarnings.WithLabelValues("write", w.Reason).Inc()
		result.Warnings = append(result.Warnings, w)
	}

	if p.opts.Archiver != nil {
		_, ok, err := archive.Upload(ctx, p.opts.Archiver, report.Path, p.opts.ArchiveTimeout)
		result.Archived = ok
		if err != nil {
			warn(constants.DocFile, record.ReasonArchive, err)
		}
	}

	if !available {
		metrics.RunsSaved.WithLabelValues("skipped").Inc()
		log.Info("run saved without catalog entry", "path", report.Path)
		return result, nil
	}

	doc, warnings := p.opts.Builder.Build(rec, document.Input{
		Number: number.Value,
		Type:   typ,
		File:   report.Path,
		Time:   created,
	})
	result.Warnings = append(result.Warnings, warnings...)

	id, err := p.opts.Catalog.Insert(ctx, doc)
	if err != nil {
		metrics.RunsSaved.WithLabelValues("failed").Inc()
		log.Warn("catalog insert skipped", "reason", record.ReasonCatalog, "path", report.Path, "error", err)
		warn(constants.DocID, record.ReasonCatalog, err)
		return result, nil
	}

	result.DocumentID = id
	result.Inserted = true
	metrics.RunsSaved.WithLabelValues("inserted").Inc()
	log.Info("run saved", "path", report.Path, "id", id, "warnings", len(result.Warnings))
	return result, nil
}

// write writes the container, moving to a suffixed name when the target
// already exists.
func (p *Persister) write(ctx context.Context, run Run, rec *record.Record, source []string, meta container.Meta, warn func(string, string, error)) (*container.Report, error) {
	dir := run.Dir
	if dir == "" {
		dir = p.opts.DataDir
	}
	name := p.opts.Writer.FileName(meta.Number, meta.Device, meta.Type)
	target := filepath.Join(dir, name)

	var lastErr error
	for attempt := 1; attempt <= p.opts.CollisionAttempts; attempt++ {
		path := suffixed(target, attempt)
		report, err := p.opts.Writer.Write(rec, source, meta, path)
		if err == nil {
			if attempt > 1 {
				warn(constants.DocFile, record.ReasonCollision,
					fmt.Errorf("%s exists, saved as %s: %w", target, filepath.Base(path), errors.ErrFileAlreadyExists))
				logging.WithContext(ctx).Warn("container file name taken",
					"reason", record.ReasonCollision, "target", target, "path", path)
			}
			return report, nil
		}
		if !errors.Is(err, errors.ErrFileAlreadyExists) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free file name after %d attempts: %w", p.opts.CollisionAttempts, lastErr)
}

// suffixed returns path for the first attempt and <base>_<n><ext> after.
func suffixed(path string, attempt int) string {
	if attempt <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), attempt, ext)
}
