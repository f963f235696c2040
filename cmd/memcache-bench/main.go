package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/puddle/v2"
	"github.com/lmittmann/tint"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/pior/mctext"
	"github.com/pior/mctext/ascii"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	MultiGet     OperationType = "multi-get"
	Increment    OperationType = "increment"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

var operations = []OperationType{CacheHit, DynamicValue, CacheMiss, MultiGet, Increment, Delete}

type CLI struct {
	Operation   string        `short:"o" default:"all" enum:"all,cache-hit,dynamic-value,cache-miss,multi-get,increment,delete" help:"Operation to benchmark (${enum})."`
	Duration    time.Duration `short:"d" default:"5s" help:"Duration of each benchmark."`
	Concurrency int           `short:"c" default:"4" help:"Number of concurrent workers."`
	Batch       int           `default:"100" help:"Operations per client acquisition."`
	ValueSize   int           `default:"512" help:"Size of the values written, in bytes."`
	Server      string        `short:"s" default:"localhost:11211" env:"MEMCACHE_ADDR" help:"Server address: host[:port], unix:/path or /path."`
	Timeout     time.Duration `default:"1s" help:"Deadline for a single operation."`
	MetricsAddr string        `env:"METRICS_ADDR" help:"Serve Prometheus metrics on this address (e.g. :9090)."`
	Verbose     bool          `short:"v" help:"Enable debug logging."`
}

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	Reconnects   int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("memcache-bench"),
		kong.Description("Load generator for a memcached server (text protocol)."),
	)

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))

	endpoint, err := mctext.ParseEndpoint(cli.Server)
	kctx.FatalIfErrorf(err)

	fmt.Printf("Memcache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Operation: %s\n", cli.Operation)
	fmt.Printf("Duration: %v\n", cli.Duration)
	fmt.Printf("Concurrency: %d\n", cli.Concurrency)
	fmt.Printf("Server: %s\n", endpoint)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Each pooled resource is an independent client with its own connection
	pool, err := puddle.NewPool(&puddle.Config[*mctext.Client]{
		Constructor: func(ctx context.Context) (*mctext.Client, error) {
			return mctext.Dial(ctx, mctext.Config{Endpoint: endpoint, DialTimeout: cli.Timeout, MaxItemSize: max(cli.ValueSize, ascii.DefaultMaxItemSize)})
		},
		Destructor: func(client *mctext.Client) {
			if err := client.Close(); err != nil {
				logger.Debug("close failed", "error", err)
			}
		},
		MaxSize: int32(cli.Concurrency),
	})
	kctx.FatalIfErrorf(err)
	defer pool.Close()

	m := newMetrics(pool)
	if cli.MetricsAddr != "" {
		go m.serve(ctx, cli.MetricsAddr, logger)
	}

	fmt.Print("Testing connection...")
	version, err := probe(ctx, pool, cli.Timeout)
	if err != nil {
		fmt.Printf(" failed: %v\n", err)
		fmt.Printf("Make sure memcached is running on %s\n", endpoint)
		os.Exit(1)
	}
	fmt.Printf(" success! (server %s)\n\n", version)

	b := &bench{
		pool:        pool,
		metrics:     m,
		logger:      logger,
		duration:    cli.Duration,
		concurrency: cli.Concurrency,
		batch:       cli.Batch,
		timeout:     cli.Timeout,
		value:       makeValue(cli.ValueSize),
	}

	selected := operations
	if op := OperationType(cli.Operation); op != All {
		selected = []OperationType{op}
	}

	failed := false
	for _, op := range selected {
		if ctx.Err() != nil {
			break
		}
		fmt.Printf("\n--- Running %s benchmark ---\n", op)
		result := b.run(ctx, op)
		printResult(result)
		failed = failed || !result.Correctness
	}

	stat := pool.Stat()
	logger.Debug("pool", "acquires", stat.AcquireCount(), "empty_acquires", stat.EmptyAcquireCount(), "resources", stat.TotalResources())

	if failed {
		os.Exit(1)
	}
}

func probe(ctx context.Context, pool *puddle.Pool[*mctext.Client], timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	version, err := res.Value().Version(ctx)
	if err != nil {
		res.Destroy()
		return "", err
	}
	res.Release()
	return version, nil
}

// makeValue returns a value of the given size ending with the xxh3 checksum
// of its head, in hex.
func makeValue(size int) []byte {
	size = max(size, 17)
	head := make([]byte, size-16)
	for i := range head {
		head[i] = 'a' + byte(i%26)
	}
	return fmt.Appendf(head, "%016x", xxh3.Hash(head))
}

func validValue(b []byte) bool {
	if len(b) < 17 {
		return false
	}
	head, sum := b[:len(b)-16], b[len(b)-16:]
	return string(sum) == fmt.Sprintf("%016x", xxh3.Hash(head))
}

// benchKey derives a deterministic key for a worker and sequence number.
func benchKey(op OperationType, workerID, seq int) string {
	return fmt.Sprintf("bench:%s:%d:%016x", op, workerID, xxh3.HashString(strconv.Itoa(seq)))
}

type bench struct {
	pool        *puddle.Pool[*mctext.Client]
	metrics     *metrics
	logger      *slog.Logger
	duration    time.Duration
	concurrency int
	batch       int
	timeout     time.Duration
	value       []byte
}

type collector struct {
	op      OperationType
	metrics *metrics

	totalOps     atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	reconnects   atomic.Int64
	totalLatency atomic.Int64
	mismatch     atomic.Pointer[string]
}

func (c *collector) observe(start time.Time, err error) {
	latency := time.Since(start)
	c.metrics.observe(c.op, latency, err)

	c.totalOps.Add(1)
	c.totalLatency.Add(int64(latency))
	if err != nil {
		c.failures.Add(1)
	} else {
		c.successes.Add(1)
	}
}

func (c *collector) incorrect(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mismatch.CompareAndSwap(nil, &msg)
}

// step runs one unit of work on a client and records each command.
type step func(ctx context.Context, client *mctext.Client, c *collector, workerID, seq int)

func (b *bench) run(ctx context.Context, op OperationType) *BenchmarkResult {
	result := &BenchmarkResult{Operation: op, Correctness: true}

	fn, err := b.prepare(ctx, op)
	if err != nil {
		result.Correctness = false
		result.ErrorMessage = err.Error()
		return result
	}

	c := &collector{op: op, metrics: b.metrics}
	startTime := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, b.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for workerID := range b.concurrency {
		g.Go(func() error {
			seq := 0
			for gctx.Err() == nil {
				if err := b.runBatch(ctx, gctx, fn, c, workerID, &seq); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		result.Correctness = false
		result.ErrorMessage = err.Error()
	}

	if op == Increment && result.ErrorMessage == "" {
		b.verifyCounters(ctx, c)
	}

	result.Duration = time.Since(startTime)
	result.TotalOps = c.totalOps.Load()
	result.Successes = c.successes.Load()
	result.Failures = c.failures.Load()
	result.Reconnects = c.reconnects.Load()
	if msg := c.mismatch.Load(); msg != nil {
		result.Correctness = false
		result.ErrorMessage = *msg
	}

	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(c.totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}
	return result
}

// runBatch acquires a client for a batch of steps. A client left faulted is
// destroyed so the pool dials a fresh one.
func (b *bench) runBatch(ctx, runCtx context.Context, fn step, c *collector, workerID int, seq *int) error {
	res, err := b.pool.Acquire(runCtx)
	if err != nil {
		return err
	}
	client := res.Value()

	for range b.batch {
		if runCtx.Err() != nil {
			break
		}

		opCtx, cancel := context.WithTimeout(ctx, b.timeout)
		fn(opCtx, client, c, workerID, *seq)
		cancel()
		*seq++

		if client.State() == mctext.StateFaulted {
			b.logger.Debug("destroying faulted client", "worker", workerID)
			c.reconnects.Add(1)
			c.metrics.faulted(c.op)
			res.Destroy()
			return nil
		}
	}

	res.Release()
	return nil
}

func (b *bench) prepare(ctx context.Context, op OperationType) (step, error) {
	switch op {
	case CacheHit:
		// 1 set, then every worker reads the same key
		key := benchKey(CacheHit, 0, 0)
		if err := b.withClient(ctx, func(ctx context.Context, client *mctext.Client) error {
			return client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(b.value), Expiration: 3600})
		}); err != nil {
			return nil, fmt.Errorf("failed to set initial value: %w", err)
		}
		return b.cacheHit(key), nil

	case DynamicValue:
		return b.dynamicValue, nil

	case CacheMiss:
		return b.cacheMiss, nil

	case MultiGet:
		keys := make([]string, 10)
		if err := b.withClient(ctx, func(ctx context.Context, client *mctext.Client) error {
			for i := range keys {
				keys[i] = benchKey(MultiGet, 0, i)
				if err := client.Set(ctx, mctext.Item{Key: keys[i], Value: mctext.Raw(b.value), Expiration: 3600}); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to set initial values: %w", err)
		}
		return b.multiGet(keys), nil

	case Increment:
		if err := b.withClient(ctx, func(ctx context.Context, client *mctext.Client) error {
			for workerID := range b.concurrency {
				if err := client.Set(ctx, mctext.Item{Key: benchKey(Increment, workerID, 0), Value: mctext.Int(0)}); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to reset counters: %w", err)
		}
		return b.increment, nil

	case Delete:
		return b.delete, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", op)
	}
}

func (b *bench) withClient(ctx context.Context, fn func(ctx context.Context, client *mctext.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*b.timeout)
	defer cancel()

	res, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, res.Value()); err != nil {
		res.Destroy()
		return err
	}
	res.Release()
	return nil
}

func (b *bench) cacheHit(key string) step {
	return func(ctx context.Context, client *mctext.Client, c *collector, _, _ int) {
		start := time.Now()
		item, err := client.Get(ctx, key)
		c.observe(start, err)
		if err == nil && (!item.Found || !validValue(item.Value.Bytes())) {
			c.incorrect("value mismatch for %s", key)
		}
	}
}

func (b *bench) dynamicValue(ctx context.Context, client *mctext.Client, c *collector, workerID, seq int) {
	key := benchKey(DynamicValue, workerID, seq)

	start := time.Now()
	err := client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(b.value), Expiration: 3600})
	c.observe(start, err)
	if err != nil {
		return
	}

	start = time.Now()
	item, err := client.Get(ctx, key)
	c.observe(start, err)
	if err == nil && (!item.Found || !validValue(item.Value.Bytes())) {
		c.incorrect("value mismatch for %s", key)
	}
}

func (b *bench) cacheMiss(ctx context.Context, client *mctext.Client, c *collector, workerID, seq int) {
	key := benchKey(CacheMiss, workerID, seq)

	start := time.Now()
	item, err := client.Get(ctx, key)
	c.observe(start, err)
	if err == nil && item.Found {
		c.incorrect("expected cache miss but got value for %s", key)
	}
}

func (b *bench) multiGet(keys []string) step {
	return func(ctx context.Context, client *mctext.Client, c *collector, _, _ int) {
		start := time.Now()
		items, err := client.GetMulti(ctx, keys...)
		if err == nil {
			var found []mctext.Item
			found, err = items.Collect()
			if err == nil && len(found) != len(keys) {
				c.incorrect("multi-get returned %d items, expected %d", len(found), len(keys))
			}
		}
		c.observe(start, err)
	}
}

func (b *bench) increment(ctx context.Context, client *mctext.Client, c *collector, workerID, _ int) {
	start := time.Now()
	_, err := client.Increment(ctx, benchKey(Increment, workerID, 0), 1)
	c.observe(start, err)
}

// verifyCounters compares the per-worker counters with the number of
// successful increments.
func (b *bench) verifyCounters(ctx context.Context, c *collector) {
	var total uint64
	err := b.withClient(ctx, func(ctx context.Context, client *mctext.Client) error {
		for workerID := range b.concurrency {
			item, err := client.Get(ctx, benchKey(Increment, workerID, 0))
			if err != nil {
				return err
			}
			n, _ := strconv.ParseUint(string(item.Value.Bytes()), 10, 64)
			total += n
		}
		return nil
	})
	if err != nil {
		c.incorrect("failed to read counters: %v", err)
		return
	}
	if want := uint64(c.successes.Load()); total != want {
		c.incorrect("counters sum to %d, expected %d", total, want)
	}
}

func (b *bench) delete(ctx context.Context, client *mctext.Client, c *collector, workerID, seq int) {
	key := benchKey(Delete, workerID, seq)

	start := time.Now()
	err := client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(b.value), Expiration: 3600})
	c.observe(start, err)
	if err != nil {
		return
	}

	start = time.Now()
	err = client.Delete(ctx, key)
	if errors.Is(err, mctext.ErrNotFound) {
		c.incorrect("key %s missing before delete", key)
		err = nil
	}
	c.observe(start, err)
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("Operation: %s\n", result.Operation)
	fmt.Printf("Duration: %v\n", result.Duration)
	fmt.Printf("Total Operations: %d\n", result.TotalOps)
	fmt.Printf("Successes: %d\n", result.Successes)
	fmt.Printf("Failures: %d\n", result.Failures)
	fmt.Printf("Reconnects: %d\n", result.Reconnects)
	if result.TotalOps > 0 {
		fmt.Printf("Success Rate: %.2f%%\n", float64(result.Successes)/float64(result.TotalOps)*100)
		fmt.Printf("Ops/sec: %.2f\n", result.OpsPerSecond)
		fmt.Printf("Avg Latency: %v\n", result.AvgLatency)
	}
	fmt.Printf("Correctness: %t\n", result.Correctness)
	if result.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", result.ErrorMessage)
	}
	fmt.Println()
}
