package ascii

import (
	"strconv"
	"strings"

	"github.com/pior/mctext/internal"
)

// Typical request is ~100 bytes, allocate 256 bytes
var bufferPool = internal.NewBufferPool(256)

// ValidateKey checks if a key is valid for the text protocol.
// Keys must be 1-250 bytes and contain no whitespace or control characters.
// Returns an error describing the validation failure.
func ValidateKey(key string) error {
	keyLen := len(key)

	if keyLen < MinKeyLength {
		return &InvalidKeyError{Key: key, Message: "key is empty"}
	}

	if keyLen > MaxKeyLength {
		return &InvalidKeyError{Key: key, Message: "key exceeds maximum length of 250 bytes"}
	}

	for i := 0; i < keyLen; i++ {
		if b := key[i]; b <= ' ' || b == 0x7f {
			return &InvalidKeyError{Key: key, Message: "key contains whitespace or control characters"}
		}
	}

	return nil
}

// ValidateRequest checks everything AppendRequest would reject, without
// encoding anything.
func ValidateRequest(req *Request) error {
	switch {
	case req.Command.IsRetrieval():
		if len(req.Keys) == 0 {
			return &RequestError{Message: string(req.Command) + " requires at least one key"}
		}
		for _, key := range req.Keys {
			if err := ValidateKey(key); err != nil {
				return err
			}
		}
		return nil

	case req.Command.IsStorage(), req.Command == CmdDelete, req.Command == CmdTouch,
		req.Command == CmdIncr, req.Command == CmdDecr:
		if len(req.Keys) != 1 {
			return &RequestError{Message: string(req.Command) + " requires exactly one key"}
		}
		return ValidateKey(req.Keys[0])

	case req.Command == CmdStats:
		if strings.ContainsAny(req.Arg, "\r\n") {
			return &RequestError{Message: "stats argument contains a line break"}
		}
		return nil

	case req.Command == CmdFlushAll, req.Command == CmdVersion:
		return nil

	default:
		return &RequestError{Message: "unknown command " + strconv.Quote(string(req.Command))}
	}
}

// AppendRequest appends the wire form of req to dst.
//
// Wire formats:
//
//	get <key>*\r\n
//	<cmd> <key> <flags> <exptime> <bytes> [<cas>]\r\n<data>\r\n
//	delete <key>\r\n
//	touch <key> <exptime>\r\n
//	incr <key> <delta>\r\n
//	stats [<arg>]\r\n
//	flush_all [<delay>]\r\n
//	version\r\n
//
// The request is validated first; on error dst is returned unchanged.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	if err := ValidateRequest(req); err != nil {
		return dst, err
	}

	dst = append(dst, string(req.Command)...)

	switch {
	case req.Command.IsRetrieval():
		for _, key := range req.Keys {
			dst = append(dst, ' ')
			dst = append(dst, key...)
		}

	case req.Command.IsStorage():
		dst = append(dst, ' ')
		dst = append(dst, req.Keys[0]...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(req.Flags), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(req.Exptime), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Data)), 10)
		if req.Command == CmdCAS {
			dst = append(dst, ' ')
			dst = strconv.AppendUint(dst, req.CAS, 10)
		}
		dst = append(dst, CRLF...)
		dst = append(dst, req.Data...)

	case req.Command == CmdDelete:
		dst = append(dst, ' ')
		dst = append(dst, req.Keys[0]...)

	case req.Command == CmdTouch:
		dst = append(dst, ' ')
		dst = append(dst, req.Keys[0]...)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(req.Exptime), 10)

	case req.Command == CmdIncr, req.Command == CmdDecr:
		dst = append(dst, ' ')
		dst = append(dst, req.Keys[0]...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, req.Delta, 10)

	case req.Command == CmdStats:
		if req.Arg != "" {
			dst = append(dst, ' ')
			dst = append(dst, req.Arg...)
		}

	case req.Command == CmdFlushAll:
		if req.Delay > 0 {
			dst = append(dst, ' ')
			dst = strconv.AppendInt(dst, int64(req.Delay), 10)
		}
	}

	dst = append(dst, CRLF...)
	return dst, nil
}

// WriteRequest encodes req and writes it to the stream in a single Write
// call. Validation errors leave the stream untouched; write errors fault it.
func (s *Stream) WriteRequest(req *Request) error {
	if s.err != nil {
		return s.err
	}

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	b, err := AppendRequest(buf.AvailableBuffer(), req)
	if err != nil {
		return err
	}
	buf.Write(b)

	return s.Write(buf.Bytes())
}
