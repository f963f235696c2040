package ascii

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mctext/internal/testutils"
)

func TestAppendRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{
			name: "get",
			req:  NewRetrievalRequest(CmdGet, "foo"),
			want: "get foo\r\n",
		},
		{
			name: "gets multi",
			req:  NewRetrievalRequest(CmdGets, "a", "b", "c"),
			want: "gets a b c\r\n",
		},
		{
			name: "set",
			req:  NewStorageRequest(CmdSet, "foo", 0, 0, []byte("hello")),
			want: "set foo 0 0 5\r\nhello\r\n",
		},
		{
			name: "set empty payload",
			req:  NewStorageRequest(CmdSet, "foo", 0, 0, nil),
			want: "set foo 0 0 0\r\n\r\n",
		},
		{
			name: "add with flags and exptime",
			req:  NewStorageRequest(CmdAdd, "foo", 2, 3600, []byte(`{"a":1}`)),
			want: "add foo 2 3600 7\r\n{\"a\":1}\r\n",
		},
		{
			name: "replace max flags",
			req:  NewStorageRequest(CmdReplace, "foo", 4294967295, 1, []byte("x")),
			want: "replace foo 4294967295 1 1\r\nx\r\n",
		},
		{
			name: "append",
			req:  NewStorageRequest(CmdAppend, "foo", 0, 0, []byte("tail")),
			want: "append foo 0 0 4\r\ntail\r\n",
		},
		{
			name: "prepend",
			req:  NewStorageRequest(CmdPrepend, "foo", 0, 0, []byte("head")),
			want: "prepend foo 0 0 4\r\nhead\r\n",
		},
		{
			name: "negative exptime passed verbatim",
			req:  NewStorageRequest(CmdSet, "foo", 0, -1, []byte("x")),
			want: "set foo 0 -1 1\r\nx\r\n",
		},
		{
			name: "payload with CRLF",
			req:  NewStorageRequest(CmdSet, "foo", 0, 0, []byte("a\r\nb")),
			want: "set foo 0 0 4\r\na\r\nb\r\n",
		},
		{
			name: "cas",
			req:  NewCASRequest("foo", 1, 0, []byte("42"), 18446744073709551615),
			want: "cas foo 1 0 2 18446744073709551615\r\n42\r\n",
		},
		{
			name: "delete",
			req:  NewDeleteRequest("foo"),
			want: "delete foo\r\n",
		},
		{
			name: "touch",
			req:  NewTouchRequest("foo", 10),
			want: "touch foo 10\r\n",
		},
		{
			name: "incr",
			req:  NewArithmeticRequest(CmdIncr, "n", 18446744073709551615),
			want: "incr n 18446744073709551615\r\n",
		},
		{
			name: "decr",
			req:  NewArithmeticRequest(CmdDecr, "n", 1),
			want: "decr n 1\r\n",
		},
		{
			name: "stats",
			req:  NewStatsRequest(""),
			want: "stats\r\n",
		},
		{
			name: "stats with argument",
			req:  NewStatsRequest("items"),
			want: "stats items\r\n",
		},
		{
			name: "flush_all",
			req:  NewFlushAllRequest(0),
			want: "flush_all\r\n",
		},
		{
			name: "flush_all delayed",
			req:  NewFlushAllRequest(30),
			want: "flush_all 30\r\n",
		},
		{
			name: "version",
			req:  NewVersionRequest(),
			want: "version\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AppendRequest(nil, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestAppendRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"get without keys", NewRetrievalRequest(CmdGet)},
		{"get with empty key", NewRetrievalRequest(CmdGet, "ok", "")},
		{"set with space in key", NewStorageRequest(CmdSet, "a b", 0, 0, nil)},
		{"delete with newline in key", NewDeleteRequest("a\nb")},
		{"touch with long key", NewTouchRequest(strings.Repeat("k", MaxKeyLength+1), 0)},
		{"incr with control char", NewArithmeticRequest(CmdIncr, "a\x7f", 1)},
		{"set with two keys", &Request{Command: CmdSet, Keys: []string{"a", "b"}}},
		{"stats with line break", NewStatsRequest("items\r\nflush_all")},
		{"unknown command", &Request{Command: "verbosity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := []byte("prefix")
			got, err := AppendRequest(dst, tt.req)
			require.Error(t, err)
			assert.Equal(t, "prefix", string(got))
			assert.Equal(t, KindClient, KindOf(err))
			assert.False(t, ShouldCloseConnection(err))
		})
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("k"))
	assert.NoError(t, ValidateKey(strings.Repeat("k", MaxKeyLength)))
	assert.NoError(t, ValidateKey("user:42/profile"))
	assert.NoError(t, ValidateKey("ключ"))

	for _, key := range []string{"", strings.Repeat("k", MaxKeyLength+1), "a b", "a\tb", "a\r", "\x00", "a\x7f"} {
		err := ValidateKey(key)
		var keyErr *InvalidKeyError
		require.ErrorAs(t, err, &keyErr, "key %q", key)
		assert.Equal(t, key, keyErr.Key)
	}
}

func TestStream_WriteRequest(t *testing.T) {
	conn := testutils.NewConnectionMock()
	s := NewStream(conn, 0)

	require.NoError(t, s.WriteRequest(NewRetrievalRequest(CmdGet, "a", "b")))
	require.NoError(t, s.WriteRequest(NewVersionRequest()))
	assert.Equal(t, "get a b\r\nversion\r\n", conn.GetWrittenRequest())

	conn.ResetWritten()
	require.NoError(t, s.WriteRequest(NewStorageRequest(CmdSet, "foo", 0, 0, []byte("bar"))))
	assert.Equal(t, "set foo 0 0 3\r\nbar\r\n", conn.GetWrittenRequest())

	// Validation errors leave the stream usable and write nothing
	conn.ResetWritten()
	require.Error(t, s.WriteRequest(NewDeleteRequest("bad key")))
	require.Error(t, s.WriteRequest(NewDeleteRequest("")))
	assert.Empty(t, conn.GetWrittenRequest())
	assert.NoError(t, s.Err())
}
