package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"

	"github.com/pior/mctext"
)

const proxyName = "mctext-tester"

// Scenario perturbs the proxy in front of the server while the Set/Get
// workload runs, then checks that every worker recovers.
type Scenario struct {
	name        string
	description string

	// tolerant scenarios must not produce a single error
	tolerant bool

	apply func(proxy *toxiproxy.Proxy, opTimeout time.Duration) (undo func() error, err error)
}

var scenarios = []Scenario{
	{
		name:        "fragmented",
		description: "responses sliced into 1-8 byte segments",
		tolerant:    true,
		apply: func(proxy *toxiproxy.Proxy, _ time.Duration) (func() error, error) {
			return addToxic(proxy, "slicer", toxiproxy.Attributes{"average_size": 4, "size_variation": 3, "delay": 0})
		},
	},
	{
		name:        "latency",
		description: "downstream latency above the operation deadline",
		apply: func(proxy *toxiproxy.Proxy, opTimeout time.Duration) (func() error, error) {
			return addToxic(proxy, "latency", toxiproxy.Attributes{"latency": 2 * opTimeout.Milliseconds(), "jitter": 50})
		},
	},
	{
		name:        "reset-peer",
		description: "connections reset by the proxy",
		apply: func(proxy *toxiproxy.Proxy, _ time.Duration) (func() error, error) {
			return addToxic(proxy, "reset_peer", toxiproxy.Attributes{"timeout": 100})
		},
	},
	{
		name:        "partition",
		description: "proxy disabled, new connections refused",
		apply: func(proxy *toxiproxy.Proxy, _ time.Duration) (func() error, error) {
			if err := proxy.Disable(); err != nil {
				return nil, err
			}
			return proxy.Enable, nil
		},
	},
}

func addToxic(proxy *toxiproxy.Proxy, typeName string, attrs toxiproxy.Attributes) (func() error, error) {
	toxic, err := proxy.AddToxic("", typeName, "downstream", 1.0, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s toxic: %w", typeName, err)
	}
	return func() error { return proxy.RemoveToxic(toxic.Name) }, nil
}

// setupProxy creates a proxy forwarding listen to upstream, replacing any
// stale proxy left by a previous run.
func setupProxy(ctx context.Context, apiAddr, listen, upstream string) (*toxiproxy.Proxy, error) {
	client := toxiproxy.NewClient(apiAddr)

	for {
		proxies, err := client.Proxies()
		if err == nil {
			if stale, ok := proxies[proxyName]; ok {
				_ = stale.Delete()
			}
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for toxiproxy: %w", err)
		case <-time.After(500 * time.Millisecond):
		}
	}

	proxy, err := client.CreateProxy(proxyName, listen, upstream)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}
	return proxy, nil
}

func proxyEndpoint(proxy *toxiproxy.Proxy) (mctext.Endpoint, error) {
	host, port, err := net.SplitHostPort(proxy.Listen)
	if err != nil {
		return mctext.Endpoint{}, err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return mctext.ParseEndpoint(net.JoinHostPort(host, port))
}

// runScenario returns false when the scenario corrupted data, produced errors
// while tolerant, or left a worker unable to recover.
func runScenario(ctx context.Context, workers []*worker, proxy *toxiproxy.Proxy, scenario Scenario, duration, opTimeout time.Duration) bool {
	fmt.Printf("\n[Fault: %s] %s\n", scenario.name, scenario.description)

	undo, err := scenario.apply(proxy, opTimeout)
	if err != nil {
		fmt.Printf("Failed to apply scenario: %v\n", err)
		return false
	}

	stats := runCheck(ctx, workers, Check{name: "Set/Get under " + scenario.name, run: checkSetGet}, duration, opTimeout)

	if err := undo(); err != nil {
		fmt.Printf("Failed to revert scenario: %v\n", err)
		return false
	}

	ok := !stats.failed()
	if scenario.tolerant && stats.errors.Load() > 0 {
		fmt.Printf("UNEXPECTED: %d errors under a tolerant scenario\n", stats.errors.Load())
		ok = false
	}

	if err := recoverWorkers(ctx, workers, opTimeout); err != nil {
		fmt.Printf("UNEXPECTED: %v\n", err)
		return false
	}
	fmt.Println("All workers recovered.")
	return ok
}

// recoverWorkers waits until every worker completes a round-trip, giving the
// reconnect breakers time to half-open.
func recoverWorkers(ctx context.Context, workers []*worker, opTimeout time.Duration) error {
	deadline := time.Now().Add(30 * time.Second)

	for _, w := range workers {
		for {
			err := roundTrip(ctx, w, opTimeout)
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("worker %d did not recover: %w", w.id, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	return nil
}

func roundTrip(ctx context.Context, w *worker, opTimeout time.Duration) error {
	if err := w.ensureConnected(ctx, opTimeout); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := testKey("recover", w.id, 0)
	value := payload(32)
	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(value)}); err != nil {
		return err
	}
	item, err := w.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if !item.Found {
		return errors.New("value lost after recovery")
	}
	return verifyPayload(item.Value.Bytes())
}
