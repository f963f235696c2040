package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pior/mctext"
)

// metrics exposes benchmark progress in the Prometheus format.
type metrics struct {
	registry   *prometheus.Registry
	opsTotal   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reconnects *prometheus.CounterVec
}

func newMetrics(pool *puddle.Pool[*mctext.Client]) *metrics {
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcache_bench_operations_total",
				Help: "Total number of commands issued",
			},
			[]string{"operation", "status"}, // success, failed
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memcache_bench_latency_seconds",
				Help:    "Command latency",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
			},
			[]string{"operation"},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcache_bench_faulted_clients_total",
				Help: "Clients destroyed after a transport or protocol fault",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.opsTotal,
		m.latency,
		m.reconnects,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memcache_bench_pool_clients",
			Help: "Clients currently held by the pool",
		}, func() float64 { return float64(pool.Stat().TotalResources()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memcache_bench_pool_acquired_clients",
			Help: "Clients currently acquired by workers",
		}, func() float64 { return float64(pool.Stat().AcquiredResources()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "memcache_bench_pool_acquires_total",
			Help: "Total pool acquisitions",
		}, func() float64 { return float64(pool.Stat().AcquireCount()) }),
	)

	return m
}

func (m *metrics) observe(op OperationType, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.opsTotal.WithLabelValues(string(op), status).Inc()
	m.latency.WithLabelValues(string(op)).Observe(latency.Seconds())
}

func (m *metrics) faulted(op OperationType) {
	m.reconnects.WithLabelValues(string(op)).Inc()
}

// serve exposes /metrics on addr until ctx is done.
func (m *metrics) serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
