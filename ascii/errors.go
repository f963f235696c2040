package ascii

import (
	"errors"
	"fmt"
)

// Error types for text protocol operations.
// Every error produced by this package belongs to exactly one Kind, which
// tells the caller whether the connection is still usable.

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is returned by KindOf for nil and foreign errors.
	KindUnknown Kind = iota

	// KindTransport: the connection was reset, closed or timed out.
	KindTransport

	// KindProtocol: the response did not match the expected grammar.
	KindProtocol

	// KindServer: SERVER_ERROR, the server failed a valid command.
	KindServer

	// KindClient: CLIENT_ERROR, ERROR, or a request rejected locally.
	KindClient

	// KindNotFound: the command targeted a key that does not exist.
	KindNotFound

	// KindDecode: a stored value could not be interpreted.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindNotFound:
		return "not_found"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Kinded is implemented by all errors of this module.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the Kind of the first Kinded error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

var (
	// ErrConnectionAborted is returned when the peer closes the connection
	// while a response is still expected.
	ErrConnectionAborted = errors.New("connection aborted by peer")

	// ErrNotFound matches every *NotFoundError with errors.Is.
	ErrNotFound = errors.New("not found")
)

// ClientError represents a CLIENT_ERROR response from memcached.
// The server rejected the request; it has already discarded the offending
// line so the connection stays in sync.
//
// Common causes:
//   - Bad data chunk (size mismatch)
//   - Non-numeric value for incr/decr
//   - Line too long
//
// Connection handling: Connection can be REUSED
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "CLIENT_ERROR: " + e.Message
}

func (e *ClientError) Kind() Kind { return KindClient }

// ShouldCloseConnection returns false
func (e *ClientError) ShouldCloseConnection() bool {
	return false
}

// ServerError represents a SERVER_ERROR response from memcached.
// Indicates a server-side error condition. The connection protocol state
// is still valid, but the operation failed due to server issues.
//
// Common causes:
//   - Out of memory
//   - Object too large for cache
//
// Connection handling: Connection can be REUSED, operation may be retried
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "SERVER_ERROR: " + e.Message
}

func (e *ServerError) Kind() Kind { return KindServer }

// ShouldCloseConnection returns false - server errors don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a generic ERROR response from memcached.
// The server did not recognize the command name.
//
// Connection handling: Connection can be REUSED
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return e.Message
}

func (e *GenericError) Kind() Kind { return KindClient }

// ShouldCloseConnection returns false
func (e *GenericError) ShouldCloseConnection() bool {
	return false
}

// InvalidKeyError is returned when a key fails validation.
// The request is rejected before anything is written to the connection.
//
// Common causes:
//   - Empty key
//   - Key exceeds 250 bytes
//   - Key contains whitespace or control characters
//
// Connection handling: Connection is still valid, operation was rejected client-side
type InvalidKeyError struct {
	Key     string
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "invalid key: " + e.Message
}

func (e *InvalidKeyError) Kind() Kind { return KindClient }

// ShouldCloseConnection returns false
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// RequestError is returned when a request cannot be encoded, for example
// an unknown command or a stats argument containing a line break.
// Nothing is written to the connection.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Message
}

func (e *RequestError) Kind() Kind { return KindClient }

// ShouldCloseConnection returns false
func (e *RequestError) ShouldCloseConnection() bool {
	return false
}

// NotFoundError is the outcome of delete, incr, decr and cas on a key that
// does not exist. It is not a failure of the connection.
type NotFoundError struct {
	Command CmdType
	Key     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Command, e.Key)
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }

// Is makes errors.Is(err, ErrNotFound) hold for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ShouldCloseConnection returns false
func (e *NotFoundError) ShouldCloseConnection() bool {
	return false
}

// ParseError represents a client-side parsing error.
// Indicates the response did not match the grammar expected for the issued
// command, either a protocol violation by the server or a desynchronized
// stream.
//
// Common causes:
//   - Unexpected status for the command
//   - Malformed VALUE header
//   - Invalid data block terminator
//   - Non-numeric incr/decr reply
//
// Connection handling: Connection should be CLOSED as state is uncertain
type ParseError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "parse error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Kind() Kind { return KindProtocol }

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps underlying I/O errors from connection operations.
// Used to distinguish network/connection issues from protocol errors.
//
// Common causes:
//   - Connection closed by peer (ErrConnectionAborted)
//   - Network timeout
//   - Connection reset
//
// Connection handling: Connection is already broken, CLOSE and potentially RECONNECT
type ConnectionError struct {
	Op  string // Operation that failed (read, write, etc.)
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Kind() Kind { return KindTransport }

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is an interface for errors that indicate
// whether the connection should be closed.
// Implemented by all protocol error types.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection is a helper function to determine if an error
// requires closing the connection.
//
// Returns true for:
//   - ParseError
//   - ConnectionError
//   - unknown error types
//
// Returns false for:
//   - ClientError, GenericError, InvalidKeyError, RequestError
//   - ServerError
//   - NotFoundError
//   - nil
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	// Unknown error type - be conservative and close connection
	return true
}
