package ascii

import (
	"bytes"
	"strconv"
	"strings"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	endBytes          = []byte(StatusEnd)
	errorGenericBytes = []byte(ErrorGeneric)
	clientErrorPrefix = []byte(ErrorClientPrefix)
	serverErrorPrefix = []byte(ErrorServerPrefix)
	valuePrefix       = []byte(ValuePrefix + Space)
	statPrefix        = []byte(StatPrefix + Space)
	versionPrefix     = []byte(VersionPrefix + Space)
)

// decodeState is the position of a response decoder within a response.
type decodeState int

const (
	stateAwaitStatus decodeState = iota
	stateAwaitValueHeader
	stateAwaitValueBody
	stateAwaitValueTrailer
	stateDone
)

func (st decodeState) String() string {
	switch st {
	case stateAwaitStatus:
		return "AWAIT_STATUS"
	case stateAwaitValueHeader:
		return "AWAIT_VALUE_HEADER"
	case stateAwaitValueBody:
		return "AWAIT_VALUE_BODY"
	case stateAwaitValueTrailer:
		return "AWAIT_VALUE_TRAILER"
	default:
		return "DONE"
	}
}

// errorFromLine returns the typed error for ERROR, CLIENT_ERROR and
// SERVER_ERROR lines, and nil for any other line.
func errorFromLine(line []byte) error {
	if bytes.Equal(line, errorGenericBytes) {
		return &GenericError{Message: ErrorGeneric}
	}

	if msg, ok := bytes.CutPrefix(line, clientErrorPrefix); ok {
		return &ClientError{Message: string(bytes.TrimSpace(msg))}
	}

	if msg, ok := bytes.CutPrefix(line, serverErrorPrefix); ok {
		return &ServerError{Message: string(bytes.TrimSpace(msg))}
	}

	return nil
}

// ReadStatus reads a single-line response: a status token such as STORED
// or DELETED, a decimal incr/decr result, or a VERSION line.
//
// Error lines are returned as Go errors:
//   - ERROR: *GenericError
//   - CLIENT_ERROR <msg>: *ClientError
//   - SERVER_ERROR <msg>: *ServerError
//
// I/O failures are returned as *ConnectionError.
func ReadStatus(s *Stream) (string, error) {
	line, err := s.ReadLine()
	if err != nil {
		return "", err
	}

	if err := errorFromLine(line); err != nil {
		return "", err
	}

	return string(line), nil
}

// ExpectStatus returns status if it is one of expected, and a *ParseError
// naming the command otherwise.
func ExpectStatus(cmd CmdType, status string, expected ...string) (string, error) {
	for _, e := range expected {
		if status == e {
			return status, nil
		}
	}

	return "", &ParseError{
		Message: "unexpected " + string(cmd) + " response " + strconv.Quote(status) +
			", expected one of [" + strings.Join(expected, " ") + "]",
	}
}

// ParseCounter parses the decimal reply of incr and decr.
func ParseCounter(status string) (uint64, error) {
	// Some servers pad the reply with spaces
	value, err := strconv.ParseUint(strings.TrimSpace(status), 10, 64)
	if err != nil {
		return 0, &ParseError{Message: "invalid counter value " + strconv.Quote(status), Err: err}
	}
	return value, nil
}

// ParseVersion extracts the version from a "VERSION <version>" line.
func ParseVersion(status string) (string, error) {
	version, ok := strings.CutPrefix(status, string(versionPrefix))
	if !ok {
		return "", &ParseError{Message: "invalid version response " + strconv.Quote(status)}
	}
	return version, nil
}

// Block is one value block of a retrieval response.
type Block struct {
	Key   string
	Flags uint32
	Data  []byte

	// CAS is the cas unique of the item, set for gets only
	CAS uint64
}

// ValueReader decodes the response of get and gets:
//
//	VALUE <key> <flags> <bytes> [<cas unique>]\r\n
//	<data block>\r\n
//	...
//	END\r\n
//
// Next pulls exactly one value block from the stream per call. The reader
// is finite and cannot be restarted; after Next returns false, Err tells
// whether the response ended with END or failed.
type ValueReader struct {
	s     *Stream
	cmd   CmdType
	state decodeState

	pending Block
	length  int
	block   Block
	discard bool
	err     error
}

// NewValueReader returns a reader for the response to a cmd request that
// has already been written to s.
func NewValueReader(s *Stream, cmd CmdType) *ValueReader {
	return &ValueReader{
		s:     s,
		cmd:   cmd,
		state: stateAwaitStatus,
	}
}

// Next advances to the next value block. It returns false at END or on error.
func (r *ValueReader) Next() bool {
	if r.err != nil || r.state == stateDone {
		return false
	}

	for {
		switch r.state {
		case stateAwaitStatus, stateAwaitValueHeader:
			line, err := r.s.ReadLine()
			if err != nil {
				return r.fail(err)
			}
			if err := errorFromLine(line); err != nil {
				return r.fail(err)
			}
			if bytes.Equal(line, endBytes) {
				r.state = stateDone
				return false
			}
			if err := r.parseHeader(line); err != nil {
				return r.fail(err)
			}
			r.state = stateAwaitValueBody

		case stateAwaitValueBody:
			if r.discard {
				if err := r.s.Discard(r.length); err != nil {
					return r.fail(err)
				}
			} else {
				data, err := r.s.ReadExact(r.length)
				if err != nil {
					return r.fail(err)
				}
				r.pending.Data = data
			}
			r.state = stateAwaitValueTrailer

		case stateAwaitValueTrailer:
			trailer, err := r.s.Peek(len(crlfBytes))
			if err != nil {
				return r.fail(err)
			}
			if !bytes.Equal(trailer, crlfBytes) {
				return r.fail(&ParseError{Message: "invalid data block terminator"})
			}
			if err := r.s.Discard(len(crlfBytes)); err != nil {
				return r.fail(err)
			}
			r.block = r.pending
			r.pending = Block{}
			r.state = stateAwaitValueHeader
			return true

		default:
			return false
		}
	}
}

// Block returns the value block read by the last successful call to Next.
func (r *ValueReader) Block() Block {
	return r.block
}

// Err returns the error that stopped the reader, or nil after END.
func (r *ValueReader) Err() error {
	return r.err
}

// Done reports whether the whole response has been consumed or the
// reader failed.
func (r *ValueReader) Done() bool {
	return r.err != nil || r.state == stateDone
}

// Drain consumes the rest of the response without keeping the data.
func (r *ValueReader) Drain() error {
	r.discard = true
	for r.Next() {
	}
	return r.err
}

func (r *ValueReader) fail(err error) bool {
	r.err = err
	return false
}

// parseHeader parses "VALUE <key> <flags> <bytes> [<cas unique>]".
func (r *ValueReader) parseHeader(line []byte) error {
	rest, ok := bytes.CutPrefix(line, valuePrefix)
	if !ok {
		return &ParseError{Message: "unexpected " + string(r.cmd) + " response line " + strconv.Quote(string(line))}
	}

	fields := strings.Fields(string(rest))
	switch {
	case r.cmd == CmdGets && len(fields) != 4:
		return &ParseError{Message: "gets value header requires a cas unique: " + strconv.Quote(string(line))}
	case len(fields) != 3 && len(fields) != 4:
		return &ParseError{Message: "malformed value header " + strconv.Quote(string(line))}
	}

	flags, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return &ParseError{Message: "invalid flags in value header", Err: err}
	}

	length, err := strconv.Atoi(fields[2])
	if err != nil {
		return &ParseError{Message: "invalid size in value header", Err: err}
	}
	if length < 0 {
		return &ParseError{Message: "negative size in value header"}
	}

	var cas uint64
	if r.cmd == CmdGets {
		cas, err = strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return &ParseError{Message: "invalid cas unique in value header", Err: err}
		}
	}

	r.pending = Block{
		Key:   fields[0],
		Flags: uint32(flags),
		CAS:   cas,
	}
	r.length = length
	return nil
}

// StatReader decodes the response of stats:
//
//	STAT <name> <value>\r\n
//	...
//	END\r\n
//
// Like ValueReader it is finite and cannot be restarted.
type StatReader struct {
	s     *Stream
	state decodeState

	name  string
	value string
	err   error
}

// NewStatReader returns a reader for the response to a stats request that
// has already been written to s.
func NewStatReader(s *Stream) *StatReader {
	return &StatReader{s: s, state: stateAwaitStatus}
}

// Next advances to the next statistic. It returns false at END or on error.
func (r *StatReader) Next() bool {
	if r.err != nil || r.state == stateDone {
		return false
	}

	line, err := r.s.ReadLine()
	if err != nil {
		r.err = err
		return false
	}
	if err := errorFromLine(line); err != nil {
		r.err = err
		return false
	}
	if bytes.Equal(line, endBytes) {
		r.state = stateDone
		return false
	}

	rest, ok := bytes.CutPrefix(line, statPrefix)
	if !ok {
		r.err = &ParseError{Message: "invalid stats response line " + strconv.Quote(string(line))}
		return false
	}

	// Value may contain spaces
	name, value, _ := strings.Cut(string(rest), Space)
	if name == "" {
		r.err = &ParseError{Message: "invalid STAT line format " + strconv.Quote(string(line))}
		return false
	}

	r.name, r.value = name, value
	return true
}

// Stat returns the statistic read by the last successful call to Next.
func (r *StatReader) Stat() (name, value string) {
	return r.name, r.value
}

// Err returns the error that stopped the reader, or nil after END.
func (r *StatReader) Err() error {
	return r.err
}

// Done reports whether the whole response has been consumed or the
// reader failed.
func (r *StatReader) Done() bool {
	return r.err != nil || r.state == stateDone
}

// Drain consumes the rest of the response.
func (r *StatReader) Drain() error {
	for r.Next() {
	}
	return r.err
}
