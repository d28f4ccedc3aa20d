// Package archive copies container files to object storage.
//
// Archiving is optional. A failed upload never fails a run; the local
// container file stays authoritative.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/xtxerr/runstore/internal/config"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/metrics"
)

var log = logging.Component("archive")

// Driver names.
const (
	DriverS3    = "s3"
	DriverMinIO = "minio"
	DriverNone  = "none"
)

// ContentType is sent with every upload.
const ContentType = "application/vnd.apache.parquet"

// Object describes an uploaded file.
type Object struct {
	Bucket string
	Key    string
	Size   int64
}

// URL returns the object as bucket URL.
func (o Object) URL(driver string) string {
	return fmt.Sprintf("%s://%s/%s", driver, o.Bucket, o.Key)
}

// Archiver uploads container files.
type Archiver interface {
	// Upload copies the file at path and returns where it went.
	Upload(ctx context.Context, path string) (Object, error)

	// Driver names the backend.
	Driver() string
}

// Key returns the object key of a local file under prefix.
func Key(prefix, file string) string {
	return path.Join(prefix, filepath.Base(file))
}

// Open returns the archiver described by cfg, or nil when archiving is
// disabled.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverS3:
		a, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case DriverMinIO:
		a, err := NewMinIO(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("archive driver %q: %w", cfg.Driver, errors.ErrInvalidConfig)
}

// Upload archives path with a. A nil archiver does nothing. The outcome is
// counted and logged; the error is returned for the caller to report.
func Upload(ctx context.Context, a Archiver, file string, timeout time.Duration) (Object, bool, error) {
	if a == nil {
		return Object{}, false, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	obj, err := a.Upload(ctx, file)
	if err != nil {
		metrics.ArchiveUploads.WithLabelValues("error").Inc()
		log.Warn("unable to archive container file",
			"reason", "archive",
			"driver", a.Driver(),
			"path", file,
			"error", err)
		return Object{}, false, err
	}

	metrics.ArchiveUploads.WithLabelValues("success").Inc()
	log.Debug("container file archived", "driver", a.Driver(), "url", obj.URL(a.Driver()), "size", obj.Size)
	return obj, true, nil
}
