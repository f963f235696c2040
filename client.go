package mctext

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/pior/mctext/ascii"
)

// NoExpiration keeps an item until it is evicted.
const NoExpiration = 0

// Item is a cache entry.
type Item struct {
	Key   string
	Value Value

	// Expiration is passed to the server verbatim: 0 never expires, values
	// up to 30 days are relative seconds, larger values are unix timestamps.
	// Only used when storing.
	Expiration int32

	// Flags is the flags word read from the server. When storing, the flags
	// word is derived from Value.
	Flags uint32

	// CAS is the token returned by Gets, and required by CompareAndSwap.
	CAS uint64

	// Found indicates whether the key was found in cache
	Found bool
}

// Querier is the subset of operations most callers need.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) (bool, error)
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
}

// Client is a memcached text protocol client owning exactly one connection.
//
// Exactly one request is in flight at a time. A Client is not safe for
// concurrent use; use one Client per goroutine.
//
// A context deadline, when present, bounds the whole exchange. An expired
// deadline is a transport failure: the connection becomes faulted.
type Client struct {
	config   Config
	endpoint Endpoint
	codec    *Codec
	logger   *slog.Logger
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	state   State
	conn    net.Conn
	stream  *ascii.Stream
	fault   error
	pending response

	counters *countersCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates an unconnected client. Call Connect before use, or use
// Dial to do both.
func NewClient(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("mctext: %w", err)
	}

	return &Client{
		config:   config,
		endpoint: config.Endpoint,
		codec:    NewCodec(config.Serializer),
		logger:   config.logger().With("component", "mctext"),
		dial:     defaultDial(config.dialer()),
		counters: newCountersCollector(),
	}, nil
}

// Endpoint returns the server address of the client.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Counters returns a snapshot of the client operation counters.
func (c *Client) Counters() Counters {
	return c.counters.snapshot()
}

// Get retrieves a single item. A missing key is not an error: the returned
// item has Found set to false.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	return c.getOne(ctx, ascii.CmdGet, key)
}

// Gets is Get, also returning the CAS token of the item.
func (c *Client) Gets(ctx context.Context, key string) (Item, error) {
	return c.getOne(ctx, ascii.CmdGets, key)
}

func (c *Client) getOne(ctx context.Context, cmd ascii.CmdType, key string) (Item, error) {
	items, err := c.retrieve(ctx, cmd, []string{key})
	if err != nil {
		return Item{Key: key}, err
	}

	item := Item{Key: key}
	for items.Next() {
		if found := items.Item(); found.Key == key {
			item = found
		}
	}
	if err := items.Err(); err != nil {
		return Item{Key: key}, err
	}
	return item, nil
}

// GetMulti retrieves several items in one round trip. Missing keys are
// absent from the result. The returned iterator must be consumed, or closed,
// before the next operation; otherwise that operation drains it first.
func (c *Client) GetMulti(ctx context.Context, keys ...string) (*Items, error) {
	return c.retrieve(ctx, ascii.CmdGet, keys)
}

// GetsMulti is GetMulti, also returning CAS tokens.
func (c *Client) GetsMulti(ctx context.Context, keys ...string) (*Items, error) {
	return c.retrieve(ctx, ascii.CmdGets, keys)
}

func (c *Client) retrieve(ctx context.Context, cmd ascii.CmdType, keys []string) (*Items, error) {
	if err := c.begin(ctx, ascii.NewRetrievalRequest(cmd, keys...)); err != nil {
		return nil, err
	}

	reader := ascii.NewValueReader(c.stream, cmd)
	c.pending = reader
	return &Items{client: c, reader: reader, requested: len(keys)}, nil
}

// Set stores an item unconditionally.
func (c *Client) Set(ctx context.Context, item Item) error {
	status, err := c.store(ctx, ascii.CmdSet, item)
	if err != nil {
		return err
	}

	// Plain set never reports a condition failure
	_, err = c.expect(ascii.CmdSet, status, ascii.StatusStored, ascii.StatusNotStored, ascii.StatusExists)
	return err
}

// Add stores an item only if the key does not exist yet.
// Returns false when the key already exists.
func (c *Client) Add(ctx context.Context, item Item) (bool, error) {
	return c.storeIf(ctx, ascii.CmdAdd, item)
}

// Replace stores an item only if the key already exists.
// Returns false when the key does not exist.
func (c *Client) Replace(ctx context.Context, item Item) (bool, error) {
	return c.storeIf(ctx, ascii.CmdReplace, item)
}

// Append adds the raw payload of item after the existing value.
// Returns false when the key does not exist. Flags and expiration of the
// existing item are kept by the server.
func (c *Client) Append(ctx context.Context, item Item) (bool, error) {
	return c.storeIf(ctx, ascii.CmdAppend, item)
}

// Prepend adds the raw payload of item before the existing value.
// Returns false when the key does not exist.
func (c *Client) Prepend(ctx context.Context, item Item) (bool, error) {
	return c.storeIf(ctx, ascii.CmdPrepend, item)
}

// CompareAndSwap stores an item only if it was not modified since item.CAS
// was obtained with Gets.
//
// Returns true when stored, false when the item was modified concurrently,
// and a *NotFoundError when the item does not exist anymore.
func (c *Client) CompareAndSwap(ctx context.Context, item Item) (bool, error) {
	status, err := c.store(ctx, ascii.CmdCAS, item)
	if err != nil {
		return false, err
	}

	switch status {
	case ascii.StatusStored:
		return true, nil
	case ascii.StatusExists:
		c.counters.recordCASMiss()
		return false, nil
	case ascii.StatusNotStored, ascii.StatusNotFound:
		return false, &ascii.NotFoundError{Command: ascii.CmdCAS, Key: item.Key}
	default:
		_, err := c.expect(ascii.CmdCAS, status, ascii.StatusStored, ascii.StatusExists, ascii.StatusNotStored, ascii.StatusNotFound)
		return false, err
	}
}

func (c *Client) storeIf(ctx context.Context, cmd ascii.CmdType, item Item) (bool, error) {
	status, err := c.store(ctx, cmd, item)
	if err != nil {
		return false, err
	}

	if status == ascii.StatusNotFound {
		return false, &ascii.NotFoundError{Command: cmd, Key: item.Key}
	}

	status, err = c.expect(cmd, status, ascii.StatusStored, ascii.StatusNotStored)
	return status == ascii.StatusStored, err
}

func (c *Client) store(ctx context.Context, cmd ascii.CmdType, item Item) (string, error) {
	flags, data, err := c.codec.Encode(item.Value)
	if err != nil {
		c.counters.recordError()
		return "", err
	}

	var req *ascii.Request
	if cmd == ascii.CmdCAS {
		req = ascii.NewCASRequest(item.Key, flags, item.Expiration, data, item.CAS)
	} else {
		req = ascii.NewStorageRequest(cmd, item.Key, flags, item.Expiration, data)
	}

	status, err := c.roundTrip(ctx, req)
	if err != nil {
		return "", err
	}

	c.counters.recordStore()
	return status, nil
}

// Delete removes an item. Returns a *NotFoundError when the key does not exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	status, err := c.roundTrip(ctx, ascii.NewDeleteRequest(key))
	if err != nil {
		return err
	}
	c.counters.recordDelete()

	if status == ascii.StatusNotFound {
		return &ascii.NotFoundError{Command: ascii.CmdDelete, Key: key}
	}
	_, err = c.expect(ascii.CmdDelete, status, ascii.StatusDeleted)
	return err
}

// Touch updates the expiration of an item without fetching it.
// Returns false when the key does not exist.
func (c *Client) Touch(ctx context.Context, key string, expiration int32) (bool, error) {
	status, err := c.roundTrip(ctx, ascii.NewTouchRequest(key, expiration))
	if err != nil {
		return false, err
	}
	c.counters.recordTouch()

	status, err = c.expect(ascii.CmdTouch, status, ascii.StatusTouched, ascii.StatusNotFound)
	return status == ascii.StatusTouched, err
}

// Increment adds delta to a decimal counter and returns the new value.
// The server wraps around at 2^64. Returns a *NotFoundError when the key
// does not exist.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdIncr, key, delta)
}

// Decrement subtracts delta from a decimal counter and returns the new
// value. The server stops at 0. Returns a *NotFoundError when the key does
// not exist.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdDecr, key, delta)
}

func (c *Client) arithmetic(ctx context.Context, cmd ascii.CmdType, key string, delta uint64) (uint64, error) {
	status, err := c.roundTrip(ctx, ascii.NewArithmeticRequest(cmd, key, delta))
	if err != nil {
		return 0, err
	}
	c.counters.recordArithmetic()

	if status == ascii.StatusNotFound {
		return 0, &ascii.NotFoundError{Command: cmd, Key: key}
	}

	value, err := ascii.ParseCounter(status)
	return value, c.check(err)
}

// Stats requests server statistics. arg selects a group ("items", "slabs",
// ...) and may be empty. The returned iterator must be consumed, or closed,
// before the next operation; otherwise that operation drains it first.
func (c *Client) Stats(ctx context.Context, arg string) (*Stats, error) {
	if err := c.begin(ctx, ascii.NewStatsRequest(arg)); err != nil {
		return nil, err
	}

	reader := ascii.NewStatReader(c.stream)
	c.pending = reader
	return &Stats{client: c, reader: reader}, nil
}

// StatsMap returns all statistics of a group at once.
func (c *Client) StatsMap(ctx context.Context, arg string) (map[string]string, error) {
	stats, err := c.Stats(ctx, arg)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for stats.Next() {
		name, value := stats.Stat()
		result[name] = value
	}
	if err := stats.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FlushAll invalidates all items, after delay seconds when delay > 0.
func (c *Client) FlushAll(ctx context.Context, delay int32) error {
	status, err := c.roundTrip(ctx, ascii.NewFlushAllRequest(delay))
	if err != nil {
		return err
	}
	_, err = c.expect(ascii.CmdFlushAll, status, ascii.StatusOK)
	return err
}

// Version returns the version string of the server.
func (c *Client) Version(ctx context.Context) (string, error) {
	status, err := c.roundTrip(ctx, ascii.NewVersionRequest())
	if err != nil {
		return "", err
	}

	version, err := ascii.ParseVersion(status)
	return version, c.check(err)
}
