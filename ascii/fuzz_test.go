package ascii

import (
	"bytes"
	"io"
	"testing"
)

type fuzzConn struct {
	io.Reader
}

func (fuzzConn) Write(p []byte) (int, error) { return len(p), nil }

// FuzzReadStatus checks that arbitrary single-line responses never panic and
// that every failure carries a Kind.
// Run with: go test -fuzz='^FuzzReadStatus$' -fuzztime=60s ./ascii
func FuzzReadStatus(f *testing.F) {
	f.Add([]byte("STORED\r\n"))
	f.Add([]byte("NOT_FOUND\r\n"))
	f.Add([]byte("12345\r\n"))
	f.Add([]byte("VERSION 1.6.21\r\n"))
	f.Add([]byte("ERROR\r\n"))
	f.Add([]byte("CLIENT_ERROR bad command line format\r\n"))
	f.Add([]byte("SERVER_ERROR\r\n"))
	f.Add([]byte("\r\n"))
	f.Add([]byte(""))
	f.Add([]byte("STORED"))
	f.Add([]byte("STORED\r"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := NewStream(fuzzConn{bytes.NewReader(data)}, 7)

		status, err := ReadStatus(s)
		if err != nil {
			if KindOf(err) == KindUnknown {
				t.Errorf("error without kind: %v", err)
			}
			return
		}

		if bytes.Contains([]byte(status), crlfBytes) {
			t.Errorf("status contains CRLF: %q", status)
		}
	})
}

// FuzzValueReader checks that retrieval responses decode without panics and
// that every block matches its declared length.
// Run with: go test -fuzz='^FuzzValueReader$' -fuzztime=60s ./ascii
func FuzzValueReader(f *testing.F) {
	f.Add([]byte("END\r\n"), false)
	f.Add([]byte("VALUE a 0 5\r\nhello\r\nEND\r\n"), false)
	f.Add([]byte("VALUE a 0 5 12\r\nhello\r\nEND\r\n"), true)
	f.Add([]byte("VALUE a 0 5\r\nhello\r\nEND\r\n"), true)
	f.Add([]byte("VALUE a 1 2\r\n42\r\nVALUE b 2 2\r\n{}\r\nEND\r\n"), false)
	f.Add([]byte("VALUE a 0 -1\r\nEND\r\n"), false)
	f.Add([]byte("VALUE a 0 3\r\nab\r\nEND\r\n"), false)
	f.Add([]byte("VALUE a 0 99999999999\r\n"), false)
	f.Add([]byte("SERVER_ERROR out of memory\r\n"), false)
	f.Add([]byte("VALUE\r\n"), false)

	f.Fuzz(func(t *testing.T, data []byte, gets bool) {
		cmd := CmdGet
		if gets {
			cmd = CmdGets
		}

		r := NewValueReader(NewStream(fuzzConn{bytes.NewReader(data)}, 5), cmd)
		for r.Next() {
			b := r.Block()
			if b.Key == "" {
				t.Errorf("block without key")
			}
		}

		if !r.Done() {
			t.Errorf("reader stopped without being done")
		}
		if err := r.Err(); err != nil && KindOf(err) == KindUnknown {
			t.Errorf("error without kind: %v", err)
		}
	})
}
