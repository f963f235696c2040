package ascii

// Request represents a text protocol command.
// This is a low-level container for request data without serialization logic.
// Which fields are used depends on Command:
//
//   - CmdGet, CmdGets: Keys
//   - storage commands: Keys[0], Flags, Exptime, Data, and CAS for CmdCAS
//   - CmdDelete: Keys[0]
//   - CmdTouch: Keys[0], Exptime
//   - CmdIncr, CmdDecr: Keys[0], Delta
//   - CmdStats: Arg (optional)
//   - CmdFlushAll: Delay (optional)
//   - CmdVersion: nothing
type Request struct {
	// Command is the verb
	Command CmdType

	// Keys holds one key, or several for retrieval commands
	Keys []string

	// Flags is the opaque 32-bit word stored with the item
	Flags uint32

	// Exptime is passed to the server verbatim: 0 never expires, values up
	// to 30 days are relative seconds, larger values are unix timestamps
	Exptime int32

	// Data is the value to store
	// Size is derived from len(Data), not stored separately
	Data []byte

	// CAS is the token obtained by gets, for CmdCAS only
	CAS uint64

	// Delta is the incr/decr amount
	Delta uint64

	// Arg is the optional stats argument (e.g. "items", "slabs")
	Arg string

	// Delay is the optional flush_all delay in seconds
	Delay int32
}

// Key returns the first key of the request, or "" when there is none.
func (r *Request) Key() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0]
}

// NewRetrievalRequest creates a get or gets request for one or more keys.
func NewRetrievalRequest(cmd CmdType, keys ...string) *Request {
	return &Request{Command: cmd, Keys: keys}
}

// NewStorageRequest creates a set, add, replace, append or prepend request.
func NewStorageRequest(cmd CmdType, key string, flags uint32, exptime int32, data []byte) *Request {
	return &Request{
		Command: cmd,
		Keys:    []string{key},
		Flags:   flags,
		Exptime: exptime,
		Data:    data,
	}
}

// NewCASRequest creates a cas request.
func NewCASRequest(key string, flags uint32, exptime int32, data []byte, cas uint64) *Request {
	req := NewStorageRequest(CmdCAS, key, flags, exptime, data)
	req.CAS = cas
	return req
}

// NewDeleteRequest creates a delete request.
func NewDeleteRequest(key string) *Request {
	return &Request{Command: CmdDelete, Keys: []string{key}}
}

// NewTouchRequest creates a touch request.
func NewTouchRequest(key string, exptime int32) *Request {
	return &Request{Command: CmdTouch, Keys: []string{key}, Exptime: exptime}
}

// NewArithmeticRequest creates an incr or decr request.
func NewArithmeticRequest(cmd CmdType, key string, delta uint64) *Request {
	return &Request{Command: cmd, Keys: []string{key}, Delta: delta}
}

// NewStatsRequest creates a stats request. arg may be empty.
func NewStatsRequest(arg string) *Request {
	return &Request{Command: CmdStats, Arg: arg}
}

// NewFlushAllRequest creates a flush_all request. A delay of 0 flushes now.
func NewFlushAllRequest(delay int32) *Request {
	return &Request{Command: CmdFlushAll, Delay: delay}
}

// NewVersionRequest creates a version request.
func NewVersionRequest() *Request {
	return &Request{Command: CmdVersion}
}
