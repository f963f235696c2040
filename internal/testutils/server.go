package testutils

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// ServerVersion is reported by the version command of Server.
const ServerVersion = "1.6.21-fake"

// maxRelativeExptime: larger exptime values are unix timestamps.
const maxRelativeExptime = 60 * 60 * 24 * 30

var crlf = []byte("\r\n")

// Server is an in-memory memcached text protocol server for tests.
//
// It implements get, gets, set, add, replace, append, prepend, cas, delete,
// touch, incr, decr, stats, flush_all, version and quit, with the response
// semantics of memcached 1.6: incr wraps around at 2^64, decr stops at 0,
// every store assigns a fresh cas unique.
type Server struct {
	listener net.Listener

	mu       sync.Mutex
	items    map[string]*entry
	casSeq   uint64
	flushAt  time.Time
	commands []string
	conns    map[net.Conn]struct{}
	started  time.Time
	now      func() time.Time

	wg sync.WaitGroup
}

type entry struct {
	flags     uint32
	data      []byte
	cas       uint64
	storedAt  time.Time
	expiresAt time.Time
}

// NewServer starts a server on a random local TCP port. It is stopped when
// the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	return startServer(tb, l)
}

// NewUnixServer starts a server on a unix socket in a temporary directory.
func NewUnixServer(tb testing.TB) *Server {
	tb.Helper()

	l, err := net.Listen("unix", filepath.Join(tb.TempDir(), "memcached.sock"))
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	return startServer(tb, l)
}

func startServer(tb testing.TB, l net.Listener) *Server {
	s := &Server{
		listener: l,
		items:    make(map[string]*entry),
		conns:    make(map[net.Conn]struct{}),
		started:  time.Now(),
		now:      time.Now,
	}

	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)
	return s
}

// Network returns "tcp" or "unix".
func (s *Server) Network() string {
	return s.listener.Addr().Network()
}

// Addr returns the listening address: host:port or socket path.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// HostPort returns the host and port of a TCP server.
func (s *Server) HostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Close stops accepting connections and closes the open ones.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// DropConnections closes all open connections without stopping the server.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Advance moves the clock of the server forward, expiring items.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.now
	s.now = func() time.Time { return prev().Add(d) }
}

// Put stores an item directly, as a concurrent client would.
func (s *Server) Put(key string, flags uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, flags, 0, data)
}

// Lookup returns the raw payload and flags of an item.
func (s *Server) Lookup(key string) (data []byte, flags uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil, 0, false
	}
	return bytes.Clone(e.data), e.flags, true
}

// Commands returns the command lines received so far, without payloads.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

var errQuit = errors.New("quit")

func (s *Server) handle(conn net.Conn) {
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		err = s.dispatch(rw, line)
		if flushErr := rw.Flush(); flushErr != nil {
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(rw *bufio.ReadWriter, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		rw.WriteString("ERROR\r\n")
		return nil
	}

	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()

	switch cmd := fields[0]; cmd {
	case "get", "gets":
		s.handleGet(rw, cmd == "gets", fields[1:])
	case "set", "add", "replace", "append", "prepend", "cas":
		return s.handleStore(rw, cmd, fields[1:])
	case "delete":
		s.handleDelete(rw, fields[1:])
	case "touch":
		s.handleTouch(rw, fields[1:])
	case "incr", "decr":
		s.handleArithmetic(rw, cmd == "incr", fields[1:])
	case "stats":
		s.handleStats(rw, fields[1:])
	case "flush_all":
		s.handleFlushAll(rw, fields[1:])
	case "version":
		fmt.Fprintf(rw, "VERSION %s\r\n", ServerVersion)
	case "quit":
		return errQuit
	default:
		rw.WriteString("ERROR\r\n")
	}
	return nil
}

func (s *Server) handleGet(rw *bufio.ReadWriter, withCAS bool, keys []string) {
	if len(keys) == 0 {
		rw.WriteString("ERROR\r\n")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		e := s.lookup(key)
		if e == nil {
			continue
		}
		if withCAS {
			fmt.Fprintf(rw, "VALUE %s %d %d %d\r\n", key, e.flags, len(e.data), e.cas)
		} else {
			fmt.Fprintf(rw, "VALUE %s %d %d\r\n", key, e.flags, len(e.data))
		}
		rw.Write(e.data)
		rw.Write(crlf)
	}
	rw.WriteString("END\r\n")
}

func (s *Server) handleStore(rw *bufio.ReadWriter, cmd string, args []string) error {
	want := 4
	if cmd == "cas" {
		want = 5
	}
	if len(args) != want {
		rw.WriteString("ERROR\r\n")
		return nil
	}

	flags, err1 := strconv.ParseUint(args[1], 10, 32)
	exptime, err2 := strconv.ParseInt(args[2], 10, 64)
	length, err3 := strconv.Atoi(args[3])
	if err := errors.Join(err1, err2, err3); err != nil || length < 0 {
		rw.WriteString("CLIENT_ERROR bad command line format\r\n")
		return nil
	}

	data := make([]byte, length+2)
	if _, err := io.ReadFull(rw, data); err != nil {
		return err
	}
	if !bytes.HasSuffix(data, crlf) {
		rw.WriteString("CLIENT_ERROR bad data chunk\r\n")
		return nil
	}
	data = data[:length]
	key := args[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.lookup(key)

	switch cmd {
	case "add":
		if existing != nil {
			rw.WriteString("NOT_STORED\r\n")
			return nil
		}
	case "replace":
		if existing == nil {
			rw.WriteString("NOT_STORED\r\n")
			return nil
		}
	case "append", "prepend":
		if existing == nil {
			rw.WriteString("NOT_STORED\r\n")
			return nil
		}
		if cmd == "append" {
			data = append(bytes.Clone(existing.data), data...)
		} else {
			data = append(data, existing.data...)
		}
		// Flags and expiration of the existing item are kept
		s.casSeq++
		existing.data = data
		existing.cas = s.casSeq
		rw.WriteString("STORED\r\n")
		return nil
	case "cas":
		token, err := strconv.ParseUint(args[4], 10, 64)
		if err != nil {
			rw.WriteString("CLIENT_ERROR bad command line format\r\n")
			return nil
		}
		if existing == nil {
			rw.WriteString("NOT_FOUND\r\n")
			return nil
		}
		if existing.cas != token {
			rw.WriteString("EXISTS\r\n")
			return nil
		}
	}

	s.store(key, uint32(flags), exptime, data)
	rw.WriteString("STORED\r\n")
	return nil
}

func (s *Server) handleDelete(rw *bufio.ReadWriter, args []string) {
	if len(args) != 1 {
		rw.WriteString("ERROR\r\n")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(args[0]) == nil {
		rw.WriteString("NOT_FOUND\r\n")
		return
	}
	delete(s.items, args[0])
	rw.WriteString("DELETED\r\n")
}

func (s *Server) handleTouch(rw *bufio.ReadWriter, args []string) {
	if len(args) != 2 {
		rw.WriteString("ERROR\r\n")
		return
	}
	exptime, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		rw.WriteString("CLIENT_ERROR invalid exptime argument\r\n")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(args[0])
	if e == nil {
		rw.WriteString("NOT_FOUND\r\n")
		return
	}
	e.expiresAt = s.expiresAt(exptime)
	rw.WriteString("TOUCHED\r\n")
}

func (s *Server) handleArithmetic(rw *bufio.ReadWriter, incr bool, args []string) {
	if len(args) != 2 {
		rw.WriteString("ERROR\r\n")
		return
	}
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		rw.WriteString("CLIENT_ERROR invalid numeric delta argument\r\n")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(args[0])
	if e == nil {
		rw.WriteString("NOT_FOUND\r\n")
		return
	}

	value, err := strconv.ParseUint(string(e.data), 10, 64)
	if err != nil {
		rw.WriteString("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
		return
	}

	switch {
	case incr:
		value += delta // wraps
	case delta > value:
		value = 0
	default:
		value -= delta
	}

	s.casSeq++
	e.data = strconv.AppendUint(nil, value, 10)
	e.cas = s.casSeq
	fmt.Fprintf(rw, "%d\r\n", value)
}

func (s *Server) handleStats(rw *bufio.ReadWriter, args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(args) == 0 {
		now := s.now()
		fmt.Fprintf(rw, "STAT pid %d\r\n", 4242)
		fmt.Fprintf(rw, "STAT uptime %d\r\n", int64(now.Sub(s.started).Seconds()))
		fmt.Fprintf(rw, "STAT time %d\r\n", now.Unix())
		fmt.Fprintf(rw, "STAT version %s\r\n", ServerVersion)
		fmt.Fprintf(rw, "STAT libevent %s\r\n", "2.1.12-stable fake")
		fmt.Fprintf(rw, "STAT curr_items %d\r\n", len(s.items))
		fmt.Fprintf(rw, "STAT curr_connections %d\r\n", len(s.conns))
	} else if args[0] == "items" {
		fmt.Fprintf(rw, "STAT items:1:number %d\r\n", len(s.items))
	}
	rw.WriteString("END\r\n")
}

func (s *Server) handleFlushAll(rw *bufio.ReadWriter, args []string) {
	var delay int64
	if len(args) > 0 {
		var err error
		if delay, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			rw.WriteString("CLIENT_ERROR bad command line format\r\n")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if delay <= 0 {
		clear(s.items)
	} else {
		s.flushAt = s.now().Add(time.Duration(delay) * time.Second)
	}
	rw.WriteString("OK\r\n")
}

// store must be called with s.mu held.
func (s *Server) store(key string, flags uint32, exptime int64, data []byte) {
	s.casSeq++
	s.items[key] = &entry{
		flags:     flags,
		data:      bytes.Clone(data),
		cas:       s.casSeq,
		storedAt:  s.now(),
		expiresAt: s.expiresAt(exptime),
	}
}

// lookup must be called with s.mu held.
func (s *Server) lookup(key string) *entry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}

	now := s.now()
	expired := !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
	flushed := !s.flushAt.IsZero() && !now.Before(s.flushAt) && e.storedAt.Before(s.flushAt)
	if expired || flushed {
		delete(s.items, key)
		return nil
	}
	return e
}

func (s *Server) expiresAt(exptime int64) time.Time {
	switch {
	case exptime == 0:
		return time.Time{}
	case exptime < 0:
		return s.now()
	case exptime <= maxRelativeExptime:
		return s.now().Add(time.Duration(exptime) * time.Second)
	case exptime > math.MaxInt32:
		return time.Time{}
	default:
		return time.Unix(exptime, 0)
	}
}
