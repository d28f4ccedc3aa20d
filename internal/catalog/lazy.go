package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
)

var log = logging.Component("catalog")

// Opener connects a catalog backend.
type Opener func(ctx context.Context) (Catalog, error)

// LazyOptions configures a Lazy catalog.
type LazyOptions struct {
	// ConnectTimeout bounds one connection attempt.
	ConnectTimeout time.Duration

	// OpTimeout bounds every catalog call. Zero leaves calls unbounded.
	OpTimeout time.Duration

	// RetryAfter is how long a failed connect is remembered before the
	// next call tries again.
	RetryAfter time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Lazy is a Catalog that connects on first use.
//
// Concurrent first calls share one connection attempt. A failed attempt is
// reported as errors.ErrCatalogUnavailable and cached for RetryAfter, so a
// dead catalog costs one connect timeout instead of one per call.
//
// Lazy is safe for concurrent use.
type Lazy struct {
	open Opener
	opts LazyOptions

	group singleflight.Group

	mu       sync.Mutex
	cat      Catalog
	lastErr  error
	failedAt time.Time
	closed   bool
}

// NewLazy creates a Lazy catalog.
func NewLazy(open Opener, opts LazyOptions) *Lazy {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Lazy{open: open, opts: opts}
}

// Connected reports whether a backend connection is established.
func (l *Lazy) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cat != nil
}

func (l *Lazy) get(ctx context.Context) (Catalog, error) {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return nil, errors.ErrCatalogClosed
	case l.cat != nil:
		cat := l.cat
		l.mu.Unlock()
		return cat, nil
	case l.lastErr != nil && l.opts.Now().Sub(l.failedAt) < l.opts.RetryAfter:
		err := l.lastErr
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("connect", func() (interface{}, error) {
		return l.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Catalog), nil
}

func (l *Lazy) connect(ctx context.Context) (Catalog, error) {
	if l.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.ConnectTimeout)
		defer cancel()
	}

	cat, err := l.open(ctx)
	if err == nil {
		err = cat.Ping(ctx)
		if err != nil {
			cat.Close()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		err = errors.Unavailable(err)
		l.lastErr = err
		l.failedAt = l.opts.Now()
		log.Warn("catalog connect failed", "error", err, "retry_after", l.opts.RetryAfter)
		return nil, err
	}
	if l.closed {
		cat.Close()
		return nil, errors.ErrCatalogClosed
	}
	if l.cat != nil {
		cat.Close()
		return l.cat, nil
	}

	l.cat = cat
	l.lastErr = nil
	log.Debug("catalog connected")
	return cat, nil
}

func (l *Lazy) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.OpTimeout > 0 {
		return context.WithTimeout(ctx, l.opts.OpTimeout)
	}
	return ctx, func() {}
}

// Insert implements Catalog.
func (l *Lazy) Insert(ctx context.Context, doc Document) (string, error) {
	cat, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.Insert(ctx, doc)
}

// FindMax implements Catalog.
func (l *Lazy) FindMax(ctx context.Context, field string) (Document, bool, error) {
	cat, err := l.get(ctx)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.FindMax(ctx, field)
}

// Find implements Catalog.
func (l *Lazy) Find(ctx context.Context, q Query) ([]Document, error) {
	cat, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.Find(ctx, q)
}

// Aggregate implements Catalog.
func (l *Lazy) Aggregate(ctx context.Context, p Pipeline) ([]Document, error) {
	cat, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.Aggregate(ctx, p)
}

// NextNumber implements Catalog.
func (l *Lazy) NextNumber(ctx context.Context) (int64, error) {
	cat, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.NextNumber(ctx)
}

// Ping implements Catalog. It connects when needed.
func (l *Lazy) Ping(ctx context.Context) error {
	cat, err := l.get(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return cat.Ping(ctx)
}

// Close closes the backend if one was opened. Later calls fail with
// errors.ErrCatalogClosed.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.cat == nil {
		return nil
	}
	err := l.cat.Close()
	l.cat = nil
	return err
}

// Disabled is a Catalog that refuses every call with
// errors.ErrCatalogDisabled. It stands in when no catalog is configured.
type Disabled struct{}

func (Disabled) Insert(context.Context, Document) (string, error) {
	return "", errors.ErrCatalogDisabled
}

func (Disabled) FindMax(context.Context, string) (Document, bool, error) {
	return nil, false, errors.ErrCatalogDisabled
}

func (Disabled) Find(context.Context, Query) ([]Document, error) {
	return nil, errors.ErrCatalogDisabled
}

func (Disabled) Aggregate(context.Context, Pipeline) ([]Document, error) {
	return nil, errors.ErrCatalogDisabled
}

func (Disabled) NextNumber(context.Context) (int64, error) {
	return 0, errors.ErrCatalogDisabled
}

func (Disabled) Ping(context.Context) error { return errors.ErrCatalogDisabled }

func (Disabled) Close() error { return nil }
