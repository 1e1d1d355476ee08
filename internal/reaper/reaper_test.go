package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSweeper struct {
	calls atomic.Int32
	ids   []string
	err   error
}

func (c *countingSweeper) ReapStale(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.ids, c.err
}

func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New(nil, time.Second, zerolog.Nop()); err == nil {
		t.Fatal("expected error for nil sweeper")
	}
	if _, err := New(&countingSweeper{}, 0, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestSweepCountsReapedRequests(t *testing.T) {
	sw := &countingSweeper{ids: []string{"a", "b"}}
	r, err := New(sw, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.Sweep(context.Background()); got != 2 {
		t.Fatalf("Sweep = %d, want 2", got)
	}

	sw.err = errors.New("db down")
	if got := r.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep after error = %d, want 0", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := r.Sweep(ctx); got != 0 {
		t.Fatalf("Sweep on cancelled context = %d, want 0", got)
	}
	if calls := sw.calls.Load(); calls != 2 {
		t.Fatalf("sweeper calls = %d, want 2", calls)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	sw := &countingSweeper{}
	r, err := New(sw, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sw.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep did not run after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
