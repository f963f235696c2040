package mctext

import (
	"errors"

	"github.com/pior/mctext/ascii"
)

// Lifecycle errors.
var (
	// ErrNotConnected is returned by operations on a client that is not
	// connected, or was closed.
	ErrNotConnected = errors.New("mctext: not connected")

	// ErrAlreadyConnected is returned by Connect on a client that owns a
	// connection. A faulted client must be closed before reconnecting.
	ErrAlreadyConnected = errors.New("mctext: already connected")

	// ErrFaulted is returned by operations on a client whose connection
	// failed. The returned error also wraps the original failure.
	ErrFaulted = errors.New("mctext: connection faulted")
)

// Aliases of the wire layer errors, so that most callers only import this
// package.
var (
	ErrNotFound          = ascii.ErrNotFound
	ErrConnectionAborted = ascii.ErrConnectionAborted
)

type (
	NotFoundError   = ascii.NotFoundError
	ClientError     = ascii.ClientError
	ServerError     = ascii.ServerError
	ParseError      = ascii.ParseError
	ConnectionError = ascii.ConnectionError
	InvalidKeyError = ascii.InvalidKeyError
)

// KindOf returns the kind of err. See ascii.Kind.
func KindOf(err error) ascii.Kind {
	return ascii.KindOf(err)
}
