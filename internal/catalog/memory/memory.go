// Package memory is an in-process catalog backend.
//
// It keeps documents in a slice and evaluates queries with the catalog
// matcher. Documents are normalised on insert so they come back in the
// same shape as from the SQL backends.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
)

// Store is an in-memory catalog.
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	docs    []catalog.Document
	ids     map[string]struct{}
	numbers map[string]struct{}
	counter int64
	failure error
	closed  bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		ids:     make(map[string]struct{}),
		numbers: make(map[string]struct{}),
	}
}

// SetFailure makes every following call fail as unavailable with err.
// A nil err restores normal operation.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) check() error {
	if s.closed {
		return errors.ErrCatalogClosed
	}
	if s.failure != nil {
		return errors.Unavailable(s.failure)
	}
	return nil
}

// Insert implements catalog.Catalog.
func (s *Store) Insert(ctx context.Context, doc catalog.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Unavailable(err)
	}

	stored, err := catalog.Normalize(doc)
	if err != nil {
		return "", err
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored[constants.DocID] = id
	}
	number, hasNumber := stored.String(constants.DocNumber)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return "", err
	}
	if _, ok := s.ids[id]; ok {
		return "", errors.NewAlreadyExists("document", id)
	}
	if hasNumber {
		if _, ok := s.numbers[number]; ok {
			return "", errors.Wrapf(errors.ErrDuplicateNumber, "number %s", number)
		}
		s.numbers[number] = struct{}{}
	}

	s.ids[id] = struct{}{}
	s.docs = append(s.docs, stored)
	return id, nil
}

// FindMax implements catalog.Catalog.
func (s *Store) FindMax(ctx context.Context, field string) (catalog.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errors.Unavailable(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, false, err
	}

	best, ok := catalog.MaxBy(s.docs, field)
	if !ok {
		return nil, false, nil
	}
	return best.Clone(), true, nil
}

// Find implements catalog.Catalog.
func (s *Store) Find(ctx context.Context, q catalog.Query) ([]catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	out, err := catalog.Apply(s.docs, q)
	if err != nil {
		return nil, err
	}
	return clones(out), nil
}

// Aggregate implements catalog.Catalog.
func (s *Store) Aggregate(ctx context.Context, p catalog.Pipeline) ([]catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	out, err := catalog.Evaluate(s.docs, p)
	if err != nil {
		return nil, err
	}
	return clones(out), nil
}

// NextNumber implements catalog.Catalog.
func (s *Store) NextNumber(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}

	next := s.counter
	for number := range s.numbers {
		if n, ok := counterValue(number); ok && n > next {
			next = n
		}
	}
	next++
	s.counter = next
	return next, nil
}

// Ping implements catalog.Catalog.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// Close implements catalog.Catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// counterValue parses a catalog-space run number. Fallback surrogates are
// longer than any catalog number and never advance the counter.
func counterValue(number string) (int64, bool) {
	if number == "" || len(number) > constants.MaxCounterDigits {
		return 0, false
	}
	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func clones(docs []catalog.Document) []catalog.Document {
	out := make([]catalog.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
