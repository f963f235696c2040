package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/pior/mctext"
)

type CLI struct {
	Server      string        `short:"s" default:"127.0.0.1:11211" env:"MEMCACHE_ADDR" help:"Server address: host[:port], unix:/path or /path."`
	Concurrency int           `short:"c" default:"10" help:"Number of concurrent workers, each with its own connection."`
	Cycles      int           `default:"1" help:"Number of cycles to run (0 = infinite)."`
	Duration    time.Duration `short:"d" default:"5s" help:"Duration per check."`
	OpTimeout   time.Duration `default:"1s" help:"Deadline for a single check iteration."`
	Only        []string      `help:"Run only the named checks."`
	Toxiproxy   string        `env:"TOXIPROXY_ADDR" help:"Toxiproxy API address. When set, traffic goes through a proxy and fault scenarios run after the checks."`
	ProxyListen string        `default:"127.0.0.1:21211" help:"Listen address of the toxiproxy proxy."`
	Verbose     bool          `short:"v" help:"Enable debug logging."`
}

type Check struct {
	name string
	run  func(ctx context.Context, w *worker, stats *Stats)
}

var checks = []Check{
	{name: "Set/Get", run: checkSetGet},
	{name: "Add", run: checkAdd},
	{name: "Replace", run: checkReplace},
	{name: "Set/Delete/Get", run: checkDelete},
	{name: "CAS", run: checkCAS},
	{name: "Batch", run: checkBatch},
	{name: "Increment", run: checkIncrement},
	{name: "Decrement", run: checkDecrement},
	{name: "Append/Prepend", run: checkAppendPrepend},
	{name: "Expiration", run: checkExpiration},
	{name: "Structured", run: checkStructured},
	{name: "Large Values", run: checkLargeValues},
	{name: "Mixed Operations", run: checkMixed},
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("memcache-tester"),
		kong.Description("Smoke and load checks against a live memcached server."),
	)

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))

	endpoint, err := mctext.ParseEndpoint(cli.Server)
	kctx.FatalIfErrorf(err)

	selected, err := selectChecks(cli.Only)
	kctx.FatalIfErrorf(err)

	var proxy *toxiproxy.Proxy
	if cli.Toxiproxy != "" {
		if endpoint.Network == "unix" {
			kctx.Fatalf("fault scenarios need a TCP server, got %s", endpoint)
		}
		setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		proxy, err = setupProxy(setupCtx, cli.Toxiproxy, cli.ProxyListen, endpoint.Address)
		setupCancel()
		kctx.FatalIfErrorf(err)
		defer proxy.Delete()

		endpoint, err = proxyEndpoint(proxy)
		kctx.FatalIfErrorf(err)
		logger.Info("traffic goes through toxiproxy", "proxy", proxy.Name, "upstream", proxy.Upstream)
	}

	fmt.Printf("Memcache Tester\n")
	fmt.Printf("===============\n")
	fmt.Printf("Server:      %s\n", endpoint)
	fmt.Printf("Concurrency: %d\n", cli.Concurrency)
	fmt.Printf("Cycles:      %s\n", cyclesString(cli.Cycles))
	fmt.Printf("Duration:    %s per check\n\n", cli.Duration)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workers := make([]*worker, cli.Concurrency)
	for i := range workers {
		workers[i], err = newWorker(i, mctext.Config{Endpoint: endpoint, DialTimeout: cli.OpTimeout, Logger: logger}, logger)
		kctx.FatalIfErrorf(err)
	}
	defer func() {
		for _, w := range workers {
			w.close()
		}
	}()

	failed := false
	for cycle := 1; cli.Cycles == 0 || cycle <= cli.Cycles; cycle++ {
		if ctx.Err() != nil {
			break
		}
		fmt.Printf("=== Cycle %d ===\n", cycle)

		for _, check := range selected {
			if ctx.Err() != nil {
				break
			}
			stats := runCheck(ctx, workers, check, cli.Duration, cli.OpTimeout)
			failed = failed || stats.failed()
		}

		if proxy != nil {
			for _, scenario := range scenarios {
				if ctx.Err() != nil {
					break
				}
				failed = !runScenario(ctx, workers, proxy, scenario, cli.Duration, cli.OpTimeout) || failed
			}
		}
		fmt.Println()
	}

	for _, w := range workers {
		c := w.client.Counters()
		logger.Debug("worker counters", "worker", w.id, "connects", c.Connects, "faults", c.Faults, "errors", c.Errors)
	}

	if failed {
		fmt.Println("Testing completed with failures.")
		os.Exit(1)
	}
	fmt.Println("Testing completed.")
}

func selectChecks(names []string) ([]Check, error) {
	if len(names) == 0 {
		return checks, nil
	}

	var selected []Check
	for _, name := range names {
		found := false
		for _, check := range checks {
			if check.name == name {
				selected = append(selected, check)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown check %q", name)
		}
	}
	return selected, nil
}

func cyclesString(cycles int) string {
	if cycles == 0 {
		return "infinite"
	}
	return fmt.Sprintf("%d", cycles)
}

func runCheck(ctx context.Context, workers []*worker, check Check, duration, opTimeout time.Duration) *Stats {
	fmt.Printf("\n[%s]\n", check.name)

	stats := &Stats{}

	checkCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	reporter := NewReporter(checkCtx, stats)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Go(func() {
			for checkCtx.Err() == nil {
				if err := w.ensureConnected(ctx, opTimeout); err != nil {
					stats.errors.Add(1)
					w.logger.Warn("worker cannot connect", "worker", w.id, "error", err)
					sleepContext(checkCtx, opTimeout)
					continue
				}

				// Iteration deadline, independent of the check duration
				opCtx, opCancel := context.WithTimeout(ctx, opTimeout)
				check.run(opCtx, w, stats)
				opCancel()
			}
		})
	}
	wg.Wait()

	reporter.Stop()
	return stats
}

func sleepContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
