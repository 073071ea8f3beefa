package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"enrichd/internal/platform/store/ch"
)

type fakeCH struct {
	pingErr error
	closed  bool
	inserts int
}

func (f *fakeCH) Ping(context.Context) error                  { return f.pingErr }
func (f *fakeCH) Exec(context.Context, string, ...any) error { return nil }
func (f *fakeCH) Insert(_ context.Context, _ string, _ []string, rows [][]any) error {
	f.inserts += len(rows)
	return nil
}
func (f *fakeCH) Query(context.Context, string, ...any) (ch.Rows, error) { return nil, errors.New("no rows") }
func (f *fakeCH) Close() error                                         { f.closed = true; return nil }

func TestOpen_InjectedSeamsSkipOpeners(t *testing.T) {
	t.Parallel()

	pgSeam := &fakeTxWithPing{}
	chSeam := &clickhouseAdapter{inner: &fakeCH{}}

	// enabled backends with unusable URLs: openers must not run when seams are injected
	s, err := Open(context.Background(), Config{
		PG: PGConfig{Enabled: true, URL: "://bad"},
		CH: CHConfig{Enabled: true, URL: "://bad"},
	}, WithPG(pgSeam), WithCH(chSeam))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s.PG != pgSeam || s.CH != chSeam {
		t.Fatalf("injected seams were replaced")
	}
	if err := s.Guard(context.Background()); err != nil {
		t.Fatalf("Guard = %v, want nil", err)
	}
}

func TestOpen_PGEnabled_BadURL_BubblesError(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{PG: PGConfig{Enabled: true, URL: "://bad"}})
	if err == nil || s != nil {
		t.Fatalf("expected error and nil store, got %v, %v", s, err)
	}
}

func TestOpen_CHEnabled_BadURL_BubblesError(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{CH: CHConfig{Enabled: true, URL: "://bad"}})
	if err == nil || s != nil {
		t.Fatalf("expected error and nil store, got %v, %v", s, err)
	}
}

func TestCHAdapter_ForwardsInsertAndQueryErrors(t *testing.T) {
	t.Parallel()

	inner := &fakeCH{}
	a := &clickhouseAdapter{inner: inner}
	if err := a.Insert(context.Background(), "t", []string{"id"}, [][]any{{"a"}, {"b"}}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if inner.inserts != 2 {
		t.Fatalf("inserts = %d, want 2", inner.inserts)
	}
	if _, err := a.Query(context.Background(), "SELECT 1"); err == nil {
		t.Fatalf("Query should surface inner error")
	}
	var nilAdapter *clickhouseAdapter
	if err := nilAdapter.Ping(context.Background()); err == nil {
		t.Fatalf("nil adapter Ping should error")
	}
}

func TestPingWithBackoff(t *testing.T) {
	t.Parallel()

	calls := 0
	err := pingWithBackoff(context.Background(), 3, time.Second, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("pingWithBackoff = %v after %d calls, want nil after 2", err, calls)
	}

	calls = 0
	err = pingWithBackoff(context.Background(), 2, time.Second, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 2 || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("pingWithBackoff = %v after %d calls", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pingWithBackoff(ctx, 5, time.Second, func(context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled ctx = %v, want context.Canceled", err)
	}
}
