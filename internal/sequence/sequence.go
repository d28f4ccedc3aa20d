// Package sequence issues run numbers.
//
// Numbers come from one of two spaces. Catalog numbers are the zero-padded
// 8 digit values of the catalog counter. When the catalog cannot be asked,
// a fallback surrogate is built from the local wall clock (YYYYMMDDHHMMSS).
// The two spaces are tagged and never compared with each other.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/metrics"
)

var log = logging.Component("sequence")

// Space is a numbering space.
type Space string

const (
	SpaceCatalog  Space = constants.NumberSpaceCatalog
	SpaceFallback Space = constants.NumberSpaceFallback
)

// Number is a run number tagged with its space.
type Number struct {
	Value string
	Space Space
}

func (n Number) String() string { return n.Value }

// IsCatalog reports whether n was issued by the catalog.
func (n Number) IsCatalog() bool { return n.Space == SpaceCatalog }

// FormatCatalog formats a counter value as a catalog number.
func FormatCatalog(n int64) string {
	return fmt.Sprintf("%0*d", constants.NumberWidth, n)
}

// Fallback returns the surrogate number for t.
func Fallback(t time.Time) Number {
	return Number{Value: t.Format(constants.FallbackLayout), Space: SpaceFallback}
}

// Parse recovers the space of a stored number: 14 digit values that read as
// a timestamp are fallback surrogates, shorter digit strings are catalog
// numbers.
func Parse(value string) (Number, error) {
	if value == "" {
		return Number{}, errors.NewMissingField("number")
	}
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return Number{}, fmt.Errorf("run number %q: %w", value, errors.ErrInvalidName)
	}
	if len(value) == len(constants.FallbackLayout) {
		if _, err := time.ParseInLocation(constants.FallbackLayout, value, time.Local); err == nil {
			return Number{Value: value, Space: SpaceFallback}, nil
		}
	}
	if len(value) > constants.MaxCounterDigits {
		return Number{}, fmt.Errorf("run number %q: too long: %w", value, errors.ErrInvalidName)
	}
	return Number{Value: value, Space: SpaceCatalog}, nil
}

// =============================================================================
// Allocator
// =============================================================================

// Allocator issues run numbers.
//
// Allocator holds no mutable state of its own; the catalog counter makes
// concurrent allocation safe across goroutines and processes.
type Allocator struct {
	catalog catalog.Catalog
	now     func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock sets the clock used for fallback surrogates.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// New creates an Allocator over c.
func New(c catalog.Catalog, opts ...Option) *Allocator {
	a := &Allocator{
		catalog: c,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next run number. The boolean reports whether the
// catalog answered; when it is false the number is a fallback surrogate
// and the run must not be inserted into the catalog.
//
// Allocate never fails. Every catalog problem is logged as a warning and
// answered with a fallback number.
func (a *Allocator) Allocate(ctx context.Context) (Number, bool) {
	n, err := a.catalog.NextNumber(ctx)
	if err == nil && n > 0 {
		num := Number{Value: FormatCatalog(n), Space: SpaceCatalog}
		metrics.NumbersAllocated.WithLabelValues(string(SpaceCatalog)).Inc()
		log.Debug("run number allocated", "number", num.Value)
		return num, true
	}
	if err == nil {
		err = fmt.Errorf("counter returned %d: %w", n, errors.ErrInternal)
	}

	num := Fallback(a.now())
	metrics.NumbersAllocated.WithLabelValues(string(SpaceFallback)).Inc()
	log.Warn("catalog unavailable, using fallback run number",
		"reason", reason(err),
		"number", num.Value,
		"error", err)
	return num, false
}

func reason(err error) string {
	switch {
	case errors.Is(err, errors.ErrCatalogDisabled):
		return "catalog_disabled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.IsCatalogUnavailable(err):
		return "catalog_unavailable"
	}
	return "catalog_error"
}
