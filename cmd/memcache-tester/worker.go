package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/mctext"
)

// worker owns one client. A client is never shared between goroutines.
type worker struct {
	id      int
	client  *mctext.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

func newWorker(id int, config mctext.Config, logger *slog.Logger) (*worker, error) {
	client, err := mctext.NewClient(config)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        fmt.Sprintf("worker-%d", id),
		MaxRequests: 1,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("reconnect breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &worker{id: id, client: client, breaker: breaker, logger: logger}, nil
}

// ensureConnected replaces a faulted connection. Repeated dial failures
// open the breaker, and reconnects are then refused until it half-opens.
func (w *worker) ensureConnected(ctx context.Context, timeout time.Duration) error {
	if w.client.IsConnected() {
		return nil
	}

	_, err := w.breaker.Execute(func() (struct{}, error) {
		if w.client.State() == mctext.StateFaulted {
			w.logger.Info("reconnecting faulted client", "worker", w.id)
			_ = w.client.Close()
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return struct{}{}, w.client.Connect(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("reconnect suspended: %w", err)
	}
	return err
}

func (w *worker) close() {
	if err := w.client.Close(); err != nil {
		w.logger.Debug("close failed", "worker", w.id, "error", err)
	}
}
