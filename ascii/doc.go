// Package ascii implements the wire layer of the memcached text protocol.
//
// It has no notion of connections or values: it frames bytes on an
// io.ReadWriter, encodes commands and decodes responses. Higher-level
// clients build on it.
//
// # Stream
//
// Stream owns the receive buffer of one connection. Bytes are read from the
// transport in fixed-size chunks and consumed through a cursor:
//
//	s := ascii.NewStream(conn, ascii.DefaultChunkSize)
//	line, err := s.ReadLine()   // status or header line, CRLF stripped
//	data, err := s.ReadExact(n) // fixed-length value payload
//
// The first I/O failure faults the Stream; every later call returns it.
// A peer that closes the connection while a response is expected yields a
// *ConnectionError wrapping ErrConnectionAborted.
//
// # Requests
//
// Request is a plain container, one constructor per command family:
//
//	req := ascii.NewStorageRequest(ascii.CmdSet, "mykey", 0, 60, []byte("hello"))
//	err := s.WriteRequest(req)
//
// Keys are validated before anything is written.
//
// # Responses
//
// Single-line responses are read with ReadStatus. Retrieval and stats
// responses are decoded lazily, one block per call:
//
//	r := ascii.NewValueReader(s, ascii.CmdGets)
//	for r.Next() {
//	    b := r.Block()
//	    fmt.Println(b.Key, b.Flags, b.CAS, len(b.Data))
//	}
//	if err := r.Err(); err != nil {
//	    ...
//	}
//
// # Errors
//
// Every error carries a Kind. ShouldCloseConnection reports whether the
// connection is still in sync after the error:
//
//	if ascii.ShouldCloseConnection(err) {
//	    conn.Close()
//	}
package ascii
