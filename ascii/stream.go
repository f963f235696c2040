package ascii

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

// maxEmptyReads bounds the number of consecutive (0, nil) reads tolerated
// before giving up with io.ErrNoProgress.
const maxEmptyReads = 100

var crlfBytes = []byte(CRLF)

// Stream is the receive/send side of a single connection.
//
// Received bytes accumulate in an arena; r is the read cursor. Consumption
// only advances r, bytes before r are never returned again. The arena grows
// from the transport in chunks of chunkSize bytes and is compacted when it
// needs room.
//
// The first I/O failure faults the Stream: Err returns it and every later
// call fails with it without touching the transport.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	rw          io.ReadWriter
	buf         []byte
	r           int
	chunkSize   int
	maxItemSize int
	err         error
}

// NewStream returns a Stream reading and writing rw.
// A chunkSize <= 0 selects DefaultChunkSize.
func NewStream(rw io.ReadWriter, chunkSize int) *Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Stream{
		rw:          rw,
		buf:         make([]byte, 0, chunkSize),
		chunkSize:   chunkSize,
		maxItemSize: DefaultMaxItemSize,
	}
}

// SetMaxItemSize sets the largest data block ReadExact and Discard accept.
// A size <= 0 selects DefaultMaxItemSize.
func (s *Stream) SetMaxItemSize(size int) {
	if size <= 0 {
		size = DefaultMaxItemSize
	}
	s.maxItemSize = size
}

// checkSize rejects block sizes before any byte is buffered for them.
func (s *Stream) checkSize(n int) error {
	if n < 0 {
		return &ParseError{Message: "negative read size"}
	}
	if n > s.maxItemSize {
		return &ParseError{Message: "data block of " + strconv.Itoa(n) + " bytes exceeds maximum item size " + strconv.Itoa(s.maxItemSize)}
	}
	return nil
}

// Err returns the error that faulted the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Buffered returns the number of received bytes not consumed yet.
func (s *Stream) Buffered() int {
	return len(s.buf) - s.r
}

// ReadLine returns the next line without its CRLF terminator, reading from
// the transport until a full line is available.
//
// The returned slice aliases the internal arena and is only valid until the
// next call on the Stream.
func (s *Stream) ReadLine() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	// searched is relative to s.r, fill may move the cursor
	searched := 0
	for {
		unread := s.buf[s.r:]
		if i := bytes.Index(unread[searched:], crlfBytes); i >= 0 {
			end := s.r + searched + i
			line := s.buf[s.r:end]
			s.r = end + len(crlfBytes)
			return line, nil
		}

		if len(unread) > MaxLineLength {
			return nil, &ParseError{Message: "response line too long"}
		}

		// A trailing CR may pair with an LF from the next read
		searched = max(len(unread)-1, 0)
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// ReadExact returns exactly n bytes, reading from the transport as needed.
// The returned slice is a copy owned by the caller. n above the maximum item
// size is a *ParseError.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.checkSize(n); err != nil {
		return nil, err
	}

	for s.Buffered() < n {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}

	out := make([]byte, n)
	copy(out, s.buf[s.r:s.r+n])
	s.r += n
	return out, nil
}

// Peek returns the next n bytes without consuming them. The slice aliases
// the internal arena and is only valid until the next call on the Stream.
func (s *Stream) Peek(n int) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	for s.Buffered() < n {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	return s.buf[s.r : s.r+n], nil
}

// Discard consumes exactly n bytes without returning them.
func (s *Stream) Discard(n int) error {
	if s.err != nil {
		return s.err
	}
	if err := s.checkSize(n); err != nil {
		return err
	}

	for s.Buffered() < n {
		if err := s.fill(); err != nil {
			return err
		}
	}
	s.r += n
	return nil
}

// Write writes p in full to the transport.
func (s *Stream) Write(p []byte) error {
	if s.err != nil {
		return s.err
	}

	n, err := s.rw.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return s.fault("write", err)
	}
	return nil
}

// fill reads one chunk from the transport into the arena.
// The read cursor may move (compaction); callers must only keep offsets
// relative to s.r across calls.
func (s *Stream) fill() error {
	s.makeRoom()

	for empty := 0; empty < maxEmptyReads; empty++ {
		free := s.buf[len(s.buf) : len(s.buf)+s.chunkSize]
		n, err := s.rw.Read(free)
		s.buf = s.buf[:len(s.buf)+n]

		if err != nil {
			if errors.Is(err, io.EOF) {
				if n > 0 {
					return nil
				}
				err = ErrConnectionAborted
			}
			return s.fault("read", err)
		}
		if n > 0 {
			return nil
		}
	}
	return s.fault("read", io.ErrNoProgress)
}

// makeRoom guarantees at least chunkSize free bytes after the unread data.
func (s *Stream) makeRoom() {
	if cap(s.buf)-len(s.buf) >= s.chunkSize {
		return
	}

	unread := s.Buffered()

	// Slide the unread tail to the front when that frees enough space
	if s.r > 0 && cap(s.buf)-unread >= s.chunkSize {
		copy(s.buf[:unread], s.buf[s.r:])
		s.buf = s.buf[:unread]
		s.r = 0
		return
	}

	grown := make([]byte, unread, 2*cap(s.buf)+s.chunkSize)
	copy(grown, s.buf[s.r:])
	s.buf = grown
	s.r = 0
}

func (s *Stream) fault(op string, err error) error {
	s.err = &ConnectionError{Op: op, Err: err}
	return s.err
}
