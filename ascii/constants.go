package ascii

// CmdType is a text protocol command verb.
type CmdType string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = " "
)

// Retrieval commands.
//
// Wire format: get <key>*\r\n
//
// Response: zero or more value blocks followed by END:
//
//	VALUE <key> <flags> <bytes> [<cas unique>]\r\n
//	<data block>\r\n
//	...
//	END\r\n
//
// The cas unique field is only present for gets. Keys that are not found
// are simply absent from the response.
const (
	CmdGet  CmdType = "get"
	CmdGets CmdType = "gets"
)

// Storage commands.
//
// Wire format: <command> <key> <flags> <exptime> <bytes> [<cas unique>]\r\n<data block>\r\n
//
// Response statuses:
//   - STORED: the data was stored
//   - NOT_STORED: the add/replace/append/prepend condition was not met,
//     or the cas item does not exist anymore
//   - EXISTS: cas only, the item was modified since it was last fetched
//   - NOT_FOUND: cas only (some servers), the item does not exist
const (
	CmdSet     CmdType = "set"
	CmdAdd     CmdType = "add"
	CmdReplace CmdType = "replace"
	CmdAppend  CmdType = "append"
	CmdPrepend CmdType = "prepend"
	CmdCAS     CmdType = "cas"
)

// Other commands.
const (
	// CmdDelete removes an item. Wire format: delete <key>\r\n
	// Response: DELETED or NOT_FOUND.
	CmdDelete CmdType = "delete"

	// CmdTouch updates the expiration time of an item.
	// Wire format: touch <key> <exptime>\r\n
	// Response: TOUCHED or NOT_FOUND.
	CmdTouch CmdType = "touch"

	// CmdIncr and CmdDecr change a decimal counter.
	// Wire format: incr <key> <value>\r\n
	// Response: the new value as a decimal line, or NOT_FOUND.
	//
	// Increments wrap around at 2^64, decrements stop at 0.
	CmdIncr CmdType = "incr"
	CmdDecr CmdType = "decr"

	// CmdStats returns server statistics.
	// Wire format: stats [<args>]\r\n
	// Response: STAT <name> <value>\r\n lines terminated by END\r\n.
	CmdStats CmdType = "stats"

	// CmdFlushAll invalidates all items. Wire format: flush_all [<delay>]\r\n
	// Response: OK.
	CmdFlushAll CmdType = "flush_all"

	// CmdVersion returns the server version. Wire format: version\r\n
	// Response: VERSION <version>.
	CmdVersion CmdType = "version"
)

// Status lines
const (
	StatusStored    = "STORED"
	StatusNotStored = "NOT_STORED"
	StatusExists    = "EXISTS"
	StatusNotFound  = "NOT_FOUND"
	StatusDeleted   = "DELETED"
	StatusTouched   = "TOUCHED"
	StatusOK        = "OK"
	StatusEnd       = "END"
)

// Line prefixes
const (
	ValuePrefix   = "VALUE"
	StatPrefix    = "STAT"
	VersionPrefix = "VERSION"
)

// Error responses
const (
	ErrorGeneric      = "ERROR"
	ErrorClientPrefix = "CLIENT_ERROR"
	ErrorServerPrefix = "SERVER_ERROR"
)

// Protocol limits
const (
	MinKeyLength = 1
	MaxKeyLength = 250

	// MaxLineLength bounds a status or header line.
	MaxLineLength = 64 * 1024

	// DefaultChunkSize is the size of each read from the transport.
	DefaultChunkSize = 4096

	// DefaultMaxItemSize bounds a data block, matching memcached's default
	// item size limit.
	DefaultMaxItemSize = 1024 * 1024
)

// IsStorage reports whether cmd carries a data block.
func (c CmdType) IsStorage() bool {
	switch c {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCAS:
		return true
	default:
		return false
	}
}

// IsRetrieval reports whether cmd is answered with value blocks.
func (c CmdType) IsRetrieval() bool {
	return c == CmdGet || c == CmdGets
}
