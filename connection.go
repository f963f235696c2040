package mctext

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/multierr"

	"github.com/pior/mctext/ascii"
)

// State is the lifecycle state of a client connection.
type State int

const (
	// StateUnconnected: no connection, Connect may be called.
	StateUnconnected State = iota

	// StateConnected: the connection is in sync and usable.
	StateConnected

	// StateFaulted: a transport or protocol failure left the connection
	// unusable. Only Close is meaningful.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// response is an in-flight multi-part response that must be fully read
// before the next request.
type response interface {
	Done() bool
	Drain() error
}

// closeWriter is implemented by *net.TCPConn and *net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// Connect opens the connection to the configured endpoint.
func (c *Client) Connect(ctx context.Context) error {
	if c.state != StateUnconnected {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx, c.endpoint.Network, c.endpoint.Address)
	if err != nil {
		c.counters.recordError()
		return &ascii.ConnectionError{Op: "dial", Err: err}
	}

	c.conn = conn
	c.stream = ascii.NewStream(conn, c.config.ReadChunkSize)
	c.stream.SetMaxItemSize(c.config.MaxItemSize)
	c.state = StateConnected
	c.fault = nil
	c.counters.recordConnect()

	c.logger.Info("memcache connected", "endpoint", c.endpoint.String())
	return nil
}

// Close shuts down the connection: the write side is closed first when the
// transport supports it, then the connection itself. Close is idempotent;
// operations after Close fail with ErrNotConnected until Connect is called
// again.
func (c *Client) Close() error {
	if c.state == StateUnconnected {
		return nil
	}

	conn, wasConnected := c.conn, c.state == StateConnected
	c.conn = nil
	c.stream = nil
	c.pending = nil
	c.fault = nil
	c.state = StateUnconnected

	var err error
	if cw, ok := conn.(closeWriter); ok && wasConnected {
		err = multierr.Append(err, cw.CloseWrite())
	}
	err = multierr.Append(err, conn.Close())

	if err != nil {
		c.logger.Info("memcache connection closed", "endpoint", c.endpoint.String(), "error", err)
	} else {
		c.logger.Info("memcache connection closed", "endpoint", c.endpoint.String())
	}
	return err
}

// State returns the lifecycle state of the connection.
func (c *Client) State() State {
	return c.state
}

// IsConnected reports whether the client holds a usable connection.
func (c *Client) IsConnected() bool {
	return c.state == StateConnected
}

// usable returns the error an operation must fail with, if any.
func (c *Client) usable() error {
	switch c.state {
	case StateConnected:
		return nil
	case StateFaulted:
		return fmt.Errorf("%w: %w", ErrFaulted, c.fault)
	default:
		return ErrNotConnected
	}
}

// begin starts an exchange: it drains any unfinished response, applies the
// context deadline and writes req.
func (c *Client) begin(ctx context.Context, req *ascii.Request) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ascii.ValidateRequest(req); err != nil {
		c.counters.recordError()
		return err
	}

	if err := c.drainPending(); err != nil {
		return fmt.Errorf("drain previous response: %w", err)
	}

	// A zero deadline clears the one left by the previous exchange
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.check(&ascii.ConnectionError{Op: "set deadline", Err: err})
	}

	c.logger.Debug("memcache command", "command", string(req.Command), "key", req.Key(), "keys", len(req.Keys))

	return c.check(c.stream.WriteRequest(req))
}

// roundTrip sends req and reads its single-line response.
func (c *Client) roundTrip(ctx context.Context, req *ascii.Request) (string, error) {
	if err := c.begin(ctx, req); err != nil {
		return "", err
	}

	status, err := ascii.ReadStatus(c.stream)
	if err != nil {
		return "", c.check(err)
	}
	return status, nil
}

// expect fails with a protocol error, faulting the connection, when status
// is not one of expected.
func (c *Client) expect(cmd ascii.CmdType, status string, expected ...string) (string, error) {
	status, err := ascii.ExpectStatus(cmd, status, expected...)
	return status, c.check(err)
}

// check records err and faults the connection when err leaves it out of sync.
func (c *Client) check(err error) error {
	if err == nil {
		return nil
	}

	if ascii.KindOf(err) != ascii.KindNotFound {
		c.counters.recordError()
	}

	if c.state == StateConnected && ascii.ShouldCloseConnection(err) {
		c.state = StateFaulted
		c.fault = err
		c.pending = nil
		c.counters.recordFault()
		c.logger.Warn("memcache connection faulted", "endpoint", c.endpoint.String(), "error", err)
	}
	return err
}

// drainPending reads the rest of an unfinished multi-part response.
func (c *Client) drainPending() error {
	p := c.pending
	c.pending = nil
	if p == nil || p.Done() {
		return nil
	}

	c.logger.Warn("memcache draining unfinished response")
	return c.check(p.Drain())
}

func defaultDial(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	return dialer.DialContext
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, config Config) (*Client, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DialTCP connects to a server listening on host:port.
func DialTCP(ctx context.Context, host string, port int, config Config) (*Client, error) {
	config.Endpoint = TCPEndpoint(host, port)
	return Dial(ctx, config)
}

// DialUnix connects to a server listening on a unix socket.
func DialUnix(ctx context.Context, path string, config Config) (*Client, error) {
	config.Endpoint = UnixEndpoint(path)
	return Dial(ctx, config)
}
