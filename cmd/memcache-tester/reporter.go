package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

type Stats struct {
	operations atomic.Int64
	successes  atomic.Int64
	misses     atomic.Int64
	failures   atomic.Int64
	errors     atomic.Int64
}

func (s *Stats) snapshot() (ops, success, miss, fail, errs int64) {
	return s.operations.Load(), s.successes.Load(), s.misses.Load(), s.failures.Load(), s.errors.Load()
}

func (s *Stats) failed() bool {
	return s.failures.Load() > 0
}

// Reporter prints the progress of a check until its context ends.
type Reporter struct {
	stats     *Stats
	startedAt time.Time
	done      chan struct{}
}

func NewReporter(ctx context.Context, stats *Stats) *Reporter {
	r := &Reporter{
		stats:     stats,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go r.loop(ctx)
	return r
}

func (r *Reporter) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastOps := int64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			now := time.Now()
			ops, success, miss, fail, errs := r.stats.snapshot()
			rate := float64(ops-lastOps) / now.Sub(lastTime).Seconds()
			lastOps = ops
			lastTime = now

			fmt.Printf("\rRunning: %d ops (%.0f ops/sec) | Success: %d | Miss: %d | Fail: %d | Errors: %d",
				ops, rate, success, miss, fail, errs)
		}
	}
}

func (r *Reporter) Stop() {
	close(r.done)

	duration := time.Since(r.startedAt)
	ops, success, miss, fail, errs := r.stats.snapshot()
	opsPerSec := float64(ops) / duration.Seconds()

	fmt.Printf("\rCompleted: %d ops in %v (%.0f ops/sec) | Success: %d | Miss: %d | Fail: %d | Errors: %d\n",
		ops, duration.Round(time.Millisecond), opsPerSec, success, miss, fail, errs)
}
