package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/pior/mctext"
)

type CLI struct {
	Server  string        `short:"s" default:"localhost:11211" env:"MEMCACHE_ADDR" help:"Server address: host[:port], unix:/path or /path."`
	Timeout time.Duration `short:"t" default:"2s" env:"MEMCACHE_TIMEOUT" help:"Deadline for each command."`
	Verbose bool          `short:"v" help:"Log every command sent to the server."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("memcache-cli"),
		kong.Description("Interactive shell for a memcached server (text protocol)."),
	)

	level := slog.LevelWarn
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))

	endpoint, err := mctext.ParseEndpoint(cli.Server)
	kctx.FatalIfErrorf(err)

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	client, err := mctext.Dial(ctx, mctext.Config{Endpoint: endpoint, Logger: logger})
	cancel()
	kctx.FatalIfErrorf(err)
	defer client.Close()

	sh := &shell{client: client, timeout: cli.Timeout}
	sh.run()
}

type shell struct {
	client  *mctext.Client
	timeout time.Duration
}

func (sh *shell) run() {
	fmt.Printf("Connected to %s\n", sh.client.Endpoint())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		if command == "quit" || command == "exit" {
			fmt.Println("Goodbye!")
			return
		}

		if err := sh.reconnectIfFaulted(); err != nil {
			fmt.Printf("Reconnect failed: %v\n", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
		start := time.Now()
		err := sh.dispatch(ctx, command, parts[1:])
		duration := time.Since(start)
		cancel()

		if errors.Is(err, errUsage) {
			continue
		}
		if err != nil {
			fmt.Printf("Error (%s): %v (took %v)\n", mctext.KindOf(err), err, duration)
			continue
		}
		fmt.Printf("(took %v)\n", duration)
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func (sh *shell) reconnectIfFaulted() error {
	if sh.client.State() != mctext.StateFaulted {
		return nil
	}
	fmt.Println("Connection faulted, reconnecting...")
	_ = sh.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
	defer cancel()
	return sh.client.Connect(ctx)
}

var errUsage = errors.New("usage")

func usage(format string) error {
	fmt.Println("Usage: " + format)
	return errUsage
}

func (sh *shell) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "get", "gets":
		if len(args) == 0 {
			return usage(command + " <key> [key...]")
		}
		return sh.get(ctx, command == "gets", args)

	case "set", "add", "replace", "append", "prepend":
		if len(args) < 2 || len(args) > 3 {
			return usage(command + " <key> <value> [exptime]")
		}
		return sh.store(ctx, command, args[0], mctext.String(args[1]), args[2:])

	case "seti":
		if len(args) < 2 || len(args) > 3 {
			return usage("seti <key> <integer> [exptime]")
		}
		if n, err := strconv.ParseInt(args[1], 10, 64); err == nil {
			return sh.store(ctx, "set", args[0], mctext.Int(n), args[2:])
		}
		u, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return usage("seti <key> <integer> [exptime]")
		}
		return sh.store(ctx, "set", args[0], mctext.Uint(u), args[2:])

	case "setj":
		if len(args) < 2 || len(args) > 3 {
			return usage("setj <key> <json> [exptime]")
		}
		if !json.Valid([]byte(args[1])) {
			fmt.Println("Invalid JSON document")
			return errUsage
		}
		return sh.store(ctx, "set", args[0], mctext.Object(json.RawMessage(args[1])), args[2:])

	case "cas":
		if len(args) < 3 || len(args) > 4 {
			return usage("cas <key> <value> <cas> [exptime]")
		}
		token, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return usage("cas <key> <value> <cas> [exptime]")
		}
		exptime, err := parseExptime(args[3:])
		if err != nil {
			return err
		}
		swapped, err := sh.client.CompareAndSwap(ctx, mctext.Item{Key: args[0], Value: mctext.String(args[1]), CAS: token, Expiration: exptime})
		if err != nil {
			return err
		}
		if swapped {
			fmt.Println("STORED")
		} else {
			fmt.Println("EXISTS")
		}
		return nil

	case "delete", "del":
		if len(args) != 1 {
			return usage("delete <key>")
		}
		if err := sh.client.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("DELETED")
		return nil

	case "touch":
		if len(args) != 2 {
			return usage("touch <key> <exptime>")
		}
		exptime, err := parseExptime(args[1:])
		if err != nil {
			return err
		}
		touched, err := sh.client.Touch(ctx, args[0], exptime)
		if err != nil {
			return err
		}
		if touched {
			fmt.Println("TOUCHED")
		} else {
			fmt.Println("NOT_FOUND")
		}
		return nil

	case "incr", "decr":
		if len(args) != 2 {
			return usage(command + " <key> <delta>")
		}
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return usage(command + " <key> <delta>")
		}
		var n uint64
		if command == "incr" {
			n, err = sh.client.Increment(ctx, args[0], delta)
		} else {
			n, err = sh.client.Decrement(ctx, args[0], delta)
		}
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "stats":
		if len(args) > 1 {
			return usage("stats [items|slabs|settings|...]")
		}
		arg := ""
		if len(args) == 1 {
			arg = args[0]
		}
		return sh.stats(ctx, arg)

	case "flush_all", "flush":
		exptime, err := parseExptime(args)
		if err != nil {
			return err
		}
		if err := sh.client.FlushAll(ctx, exptime); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil

	case "version":
		version, err := sh.client.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil

	case "counters":
		c := sh.client.Counters()
		fmt.Printf("gets=%d hits=%d stores=%d cas_misses=%d deletes=%d touches=%d arithmetic=%d errors=%d faults=%d connects=%d\n",
			c.Gets, c.GetHits, c.Stores, c.CASMisses, c.Deletes, c.Touches, c.Arithmetic, c.Errors, c.Faults, c.Connects)
		return nil

	case "help":
		printHelp()
		return errUsage

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		return errUsage
	}
}

func (sh *shell) get(ctx context.Context, withCAS bool, keys []string) error {
	var items *mctext.Items
	var err error
	if withCAS {
		items, err = sh.client.GetsMulti(ctx, keys...)
	} else {
		items, err = sh.client.GetMulti(ctx, keys...)
	}
	if err != nil {
		return err
	}

	found := 0
	for items.Next() {
		item := items.Item()
		found++
		if withCAS {
			fmt.Printf("  %s: %s (flags=%d cas=%d)\n", item.Key, item.Value, item.Flags, item.CAS)
		} else {
			fmt.Printf("  %s: %s (flags=%d)\n", item.Key, item.Value, item.Flags)
		}
	}
	if err := items.Err(); err != nil {
		return err
	}

	fmt.Printf("Retrieved %d out of %d keys\n", found, len(keys))
	return nil
}

func (sh *shell) store(ctx context.Context, command, key string, value mctext.Value, rest []string) error {
	exptime, err := parseExptime(rest)
	if err != nil {
		return err
	}
	item := mctext.Item{Key: key, Value: value, Expiration: exptime}

	if command == "set" {
		if err := sh.client.Set(ctx, item); err != nil {
			return err
		}
		fmt.Println("STORED")
		return nil
	}

	var stored bool
	switch command {
	case "add":
		stored, err = sh.client.Add(ctx, item)
	case "replace":
		stored, err = sh.client.Replace(ctx, item)
	case "append":
		stored, err = sh.client.Append(ctx, item)
	case "prepend":
		stored, err = sh.client.Prepend(ctx, item)
	}
	if err != nil {
		return err
	}
	if stored {
		fmt.Println("STORED")
	} else {
		fmt.Println("NOT_STORED")
	}
	return nil
}

func (sh *shell) stats(ctx context.Context, arg string) error {
	stats, err := sh.client.Stats(ctx, arg)
	if err != nil {
		return err
	}
	defer stats.Close()

	for stats.Next() {
		name, value := stats.Stat()
		fmt.Printf("  %-24s %s\n", name, value)
	}
	return stats.Err()
}

func parseExptime(args []string) (int32, error) {
	if len(args) == 0 {
		return mctext.NoExpiration, nil
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid exptime %q: %w", args[0], err)
	}
	return int32(n), nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <key> [key...]                  - Get values")
	fmt.Println("  gets <key> [key...]                 - Get values with their CAS tokens")
	fmt.Println("  set <key> <value> [exptime]         - Store a raw value")
	fmt.Println("  seti <key> <integer> [exptime]      - Store an integer value")
	fmt.Println("  setj <key> <json> [exptime]         - Store a structured value")
	fmt.Println("  add|replace <key> <value> [exptime] - Conditional store")
	fmt.Println("  append|prepend <key> <value>        - Extend an existing value")
	fmt.Println("  cas <key> <value> <cas> [exptime]   - Compare and swap")
	fmt.Println("  delete <key>                        - Delete a key")
	fmt.Println("  touch <key> <exptime>               - Update the expiration of a key")
	fmt.Println("  incr|decr <key> <delta>             - Adjust a counter")
	fmt.Println("  stats [group]                       - Show server statistics")
	fmt.Println("  flush_all [delay]                   - Invalidate all items")
	fmt.Println("  version                             - Show the server version")
	fmt.Println("  counters                            - Show client-side counters")
	fmt.Println("  quit                                - Exit the CLI")
}
