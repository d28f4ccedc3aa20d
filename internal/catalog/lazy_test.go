package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/runstore/internal/errors"
	testutil "github.com/xtxerr/runstore/internal/testing"
)

// stubCatalog counts calls and answers NextNumber from a counter.
type stubCatalog struct {
	Disabled
	mu     sync.Mutex
	next   int64
	closed bool
}

func (s *stubCatalog) NextNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func (s *stubCatalog) Ping(context.Context) error { return nil }

func (s *stubCatalog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestLazyConnectsOnce(t *testing.T) {
	var opens atomic.Int32
	stub := &stubCatalog{}
	l := NewLazy(func(ctx context.Context) (Catalog, error) {
		opens.Add(1)
		time.Sleep(10 * time.Millisecond)
		return stub, nil
	}, LazyOptions{RetryAfter: time.Minute})

	if l.Connected() {
		t.Fatal("Lazy must not connect before first use")
	}

	h := testutil.NewTestHelper(t)
	for i := 0; i < 8; i++ {
		h.Add(1)
		go func() {
			defer h.Done()
			if _, err := l.NextNumber(context.Background()); err != nil {
				h.Error(err)
			}
		}()
	}
	h.Wait()

	// Later callers may start a second attempt only if the first had not
	// published its result yet; one open is expected in practice.
	if n := opens.Load(); n < 1 || n > 2 {
		t.Errorf("expected one connection attempt, got %d", n)
	}
	if !l.Connected() {
		t.Error("expected connected")
	}

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !stub.closed {
		t.Error("Close must close the backend")
	}
	if _, err := l.NextNumber(context.Background()); !errors.Is(err, errors.ErrCatalogClosed) {
		t.Errorf("expected closed, got %v", err)
	}
}

func TestLazyRemembersFailure(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	var opens atomic.Int32
	fail := true

	l := NewLazy(func(ctx context.Context) (Catalog, error) {
		opens.Add(1)
		if fail {
			return nil, fmt.Errorf("dial tcp 10.0.0.1:5432: connection refused")
		}
		return &stubCatalog{}, nil
	}, LazyOptions{RetryAfter: 30 * time.Second, Now: clock.Now})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.NextNumber(ctx)
		if !errors.IsCatalogUnavailable(err) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("failed connect must be cached, got %d attempts", n)
	}

	fail = false
	clock.Advance(31 * time.Second)

	n, err := l.NextNumber(ctx)
	if err != nil || n != 1 {
		t.Fatalf("NextNumber after retry window = %d, %v", n, err)
	}
	if opens.Load() != 2 {
		t.Errorf("expected a second attempt after the retry window, got %d", opens.Load())
	}
}

func TestLazyConnectTimeout(t *testing.T) {
	l := NewLazy(func(ctx context.Context) (Catalog, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, LazyOptions{ConnectTimeout: 20 * time.Millisecond})

	var err error
	if terr := testutil.RunWithTimeout(2*time.Second, func() { err = l.Ping(context.Background()) }); terr != nil {
		t.Fatalf("connect timeout not applied: %v", terr)
	}
	if !errors.IsCatalogUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	var c Catalog = Disabled{}
	if _, err := c.NextNumber(context.Background()); !errors.IsCatalogUnavailable(err) {
		t.Errorf("expected disabled to count as unavailable, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Error(err)
	}
}
