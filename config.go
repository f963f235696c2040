package mctext

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Endpoint is the address of a memcached server.
type Endpoint struct {
	// Network is "tcp" or "unix"
	Network string

	// Address is host:port for tcp, a socket path for unix
	Address string
}

// TCPEndpoint returns the endpoint of a server listening on host:port.
func TCPEndpoint(host string, port int) Endpoint {
	return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, strconv.Itoa(port))}
}

// UnixEndpoint returns the endpoint of a server listening on a unix socket.
func UnixEndpoint(path string) Endpoint {
	return Endpoint{Network: "unix", Address: path}
}

// ParseEndpoint parses "unix:/path/to/socket", "/path/to/socket" or
// "host:port". A missing port defaults to 11211.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New("empty endpoint")
	}

	if path, ok := strings.CutPrefix(s, "unix:"); ok {
		if path == "" {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: empty socket path", s)
		}
		return UnixEndpoint(path), nil
	}
	if strings.HasPrefix(s, "/") {
		return UnixEndpoint(s), nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// Bare host
		if strings.Contains(err.Error(), "missing port") {
			return TCPEndpoint(strings.Trim(s, "[]"), DefaultPort), nil
		}
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}

	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %q", s, port)
	}
	return TCPEndpoint(host, p), nil
}

func (e Endpoint) String() string {
	if e.Network == "unix" {
		return "unix:" + e.Address
	}
	return e.Address
}

// DefaultPort is the standard memcached port.
const DefaultPort = 11211

// Config holds configuration for a Client.
type Config struct {
	// Endpoint is the server to connect to.
	// Required.
	Endpoint Endpoint

	// Dialer is the net.Dialer used to open the connection.
	// If nil, a net.Dialer with DialTimeout is used.
	Dialer *net.Dialer

	// DialTimeout bounds connection establishment when Dialer is nil.
	// Zero means no timeout beyond the context passed to Connect.
	DialTimeout time.Duration

	// Logger receives debug traces of each command and lifecycle events.
	// If nil, nothing is logged.
	Logger *slog.Logger

	// Serializer encodes structured values.
	// If nil, JSONSerializer is used.
	Serializer Serializer

	// ReadChunkSize is the size of each read from the connection.
	// Zero selects ascii.DefaultChunkSize.
	ReadChunkSize int

	// MaxItemSize is the largest data block accepted in a response. A
	// larger VALUE header faults the connection.
	// Zero selects ascii.DefaultMaxItemSize.
	MaxItemSize int
}

func (c Config) validate() error {
	switch c.Endpoint.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	case "":
		return errors.New("no endpoint provided")
	default:
		return fmt.Errorf("unsupported network %q", c.Endpoint.Network)
	}

	if c.Endpoint.Address == "" {
		return errors.New("endpoint address is empty")
	}
	if c.ReadChunkSize < 0 {
		return fmt.Errorf("invalid read chunk size %d", c.ReadChunkSize)
	}
	if c.MaxItemSize < 0 {
		return fmt.Errorf("invalid max item size %d", c.MaxItemSize)
	}
	return nil
}

func (c Config) dialer() *net.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &net.Dialer{Timeout: c.DialTimeout}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}
