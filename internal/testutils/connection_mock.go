package testutils

import (
	"bytes"
	"net"
	"strings"
	"time"
)

// ConnectionMock is a mock implementation of net.Conn for testing.
//
// Reads return the scripted response data, at most ChunkSize bytes per call
// when ChunkSize > 0, so tests can deliver a response in arbitrary fragments.
// Once the data is exhausted Read returns io.EOF.
type ConnectionMock struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer

	// ChunkSize bounds the bytes returned by each Read, 0 means unbounded
	ChunkSize int

	// WriteErr, when set, is returned by every Write
	WriteErr error

	// ReadErr, when set, is returned once the scripted data is exhausted
	ReadErr error

	Reads       int
	closed      bool
	writeClosed bool
	deadline    time.Time
}

// NewConnectionMock creates a new mock connection with pre-configured response data
func NewConnectionMock(responseData ...string) *ConnectionMock {
	readBuf := bytes.NewBufferString(strings.Join(responseData, ""))
	return &ConnectionMock{
		readBuf:  readBuf,
		writeBuf: &bytes.Buffer{},
	}
}

// NewChunkedConnectionMock creates a mock that returns at most chunkSize bytes per Read.
func NewChunkedConnectionMock(chunkSize int, responseData ...string) *ConnectionMock {
	m := NewConnectionMock(responseData...)
	m.ChunkSize = chunkSize
	return m
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.Reads++
	if m.ReadErr != nil && m.readBuf.Len() == 0 {
		return 0, m.ReadErr
	}
	if m.ChunkSize > 0 && len(b) > m.ChunkSize {
		b = b[:m.ChunkSize]
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	return m.writeBuf.Write(b)
}

// Feed appends data to the scripted response.
func (m *ConnectionMock) Feed(data ...string) {
	for _, d := range data {
		m.readBuf.WriteString(d)
	}
}

func (m *ConnectionMock) Close() error {
	m.closed = true
	return nil
}

// CloseWrite records a half-close, like *net.TCPConn.
func (m *ConnectionMock) CloseWrite() error {
	m.writeClosed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool { return m.closed }

// IsWriteClosed reports whether CloseWrite was called.
func (m *ConnectionMock) IsWriteClosed() bool { return m.writeClosed }

// Unread returns the number of scripted bytes not read yet.
func (m *ConnectionMock) Unread() int { return m.readBuf.Len() }

// Deadline returns the last deadline set on the connection.
func (m *ConnectionMock) Deadline() time.Time { return m.deadline }

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.deadline = t
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	return m.writeBuf.String()
}

// ResetWritten clears the captured request bytes.
func (m *ConnectionMock) ResetWritten() {
	m.writeBuf.Reset()
}
