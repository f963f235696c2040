package ascii

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mctext/internal/testutils"
)

func newTestStream(size int, data ...string) *Stream {
	return NewStream(testutils.NewChunkedConnectionMock(size, data...), 8)
}

func TestReadStatus(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"STORED\r\n", StatusStored},
		{"NOT_STORED\r\n", StatusNotStored},
		{"EXISTS\r\n", StatusExists},
		{"NOT_FOUND\r\n", StatusNotFound},
		{"DELETED\r\n", StatusDeleted},
		{"TOUCHED\r\n", StatusTouched},
		{"OK\r\n", StatusOK},
		{"42\r\n", "42"},
		{"VERSION 1.6.21\r\n", "VERSION 1.6.21"},
	}

	for _, tt := range tests {
		status, err := ReadStatus(newTestStream(3, tt.input))
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, status)
	}
}

func TestReadStatus_Errors(t *testing.T) {
	t.Run("ERROR", func(t *testing.T) {
		_, err := ReadStatus(newTestStream(0, "ERROR\r\n"))
		var genericErr *GenericError
		require.ErrorAs(t, err, &genericErr)
		assert.Equal(t, KindClient, KindOf(err))
		assert.False(t, ShouldCloseConnection(err))
	})

	t.Run("CLIENT_ERROR", func(t *testing.T) {
		_, err := ReadStatus(newTestStream(0, "CLIENT_ERROR bad data chunk\r\n"))
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, "bad data chunk", clientErr.Message)
		assert.Equal(t, KindClient, KindOf(err))
		assert.False(t, ShouldCloseConnection(err))
	})

	t.Run("SERVER_ERROR", func(t *testing.T) {
		_, err := ReadStatus(newTestStream(0, "SERVER_ERROR out of memory storing object\r\n"))
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, "out of memory storing object", serverErr.Message)
		assert.Equal(t, KindServer, KindOf(err))
		assert.False(t, ShouldCloseConnection(err))
	})

	t.Run("error line is fully consumed", func(t *testing.T) {
		s := newTestStream(0, "CLIENT_ERROR x\r\nSTORED\r\n")
		_, err := ReadStatus(s)
		require.Error(t, err)

		status, err := ReadStatus(s)
		require.NoError(t, err)
		assert.Equal(t, StatusStored, status)
	})

	t.Run("peer close", func(t *testing.T) {
		_, err := ReadStatus(newTestStream(0, "STOR"))
		assert.ErrorIs(t, err, ErrConnectionAborted)
		assert.Equal(t, KindTransport, KindOf(err))
	})
}

func TestExpectStatus(t *testing.T) {
	status, err := ExpectStatus(CmdDelete, StatusDeleted, StatusDeleted, StatusNotFound)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, status)

	_, err = ExpectStatus(CmdDelete, StatusStored, StatusDeleted, StatusNotFound)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "delete")
	assert.True(t, ShouldCloseConnection(err))
}

func TestParseCounter(t *testing.T) {
	n, err := ParseCounter("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), n)

	n, err = ParseCounter("7  ")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	for _, bad := range []string{"", "-1", "abc", "18446744073709551616"} {
		_, err := ParseCounter(bad)
		assert.Equal(t, KindProtocol, KindOf(err), bad)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("VERSION 1.6.21")
	require.NoError(t, err)
	assert.Equal(t, "1.6.21", v)

	_, err = ParseVersion("STORED")
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestValueReader(t *testing.T) {
	response := []string{
		"VALUE a 0 5\r\nhello\r\n",
		"VALUE b 2 4\r\n\r\n\r\n\r\n",
		"VALUE c 1 0\r\n\r\n",
		"END\r\n",
	}

	for _, size := range fragmentSizes {
		r := NewValueReader(newTestStream(size, response...), CmdGet)

		var blocks []Block
		for r.Next() {
			blocks = append(blocks, r.Block())
		}
		require.NoError(t, r.Err(), "fragment size %d", size)
		assert.True(t, r.Done())

		assert.Equal(t, []Block{
			{Key: "a", Flags: 0, Data: []byte("hello")},
			{Key: "b", Flags: 2, Data: []byte("\r\n\r\n")},
			{Key: "c", Flags: 1, Data: []byte{}},
		}, blocks, "fragment size %d", size)

		// Finite and not restartable
		assert.False(t, r.Next())
	}
}

func TestValueReader_Empty(t *testing.T) {
	r := NewValueReader(newTestStream(0, "END\r\n"), CmdGet)
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
	assert.True(t, r.Done())
}

func TestValueReader_Gets(t *testing.T) {
	r := NewValueReader(newTestStream(1, "VALUE a 0 1 99\r\nx\r\nEND\r\n"), CmdGets)

	require.True(t, r.Next())
	assert.Equal(t, Block{Key: "a", Data: []byte("x"), CAS: 99}, r.Block())
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestValueReader_GetIgnoresCAS(t *testing.T) {
	r := NewValueReader(newTestStream(0, "VALUE a 0 1 99\r\nx\r\nEND\r\n"), CmdGet)

	require.True(t, r.Next())
	assert.Equal(t, uint64(0), r.Block().CAS)
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestValueReader_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		cmd   CmdType
		input string
	}{
		{"gets without cas", CmdGets, "VALUE a 0 1\r\nx\r\nEND\r\n"},
		{"missing length", CmdGet, "VALUE a 0\r\nEND\r\n"},
		{"bad flags", CmdGet, "VALUE a x 1\r\nx\r\nEND\r\n"},
		{"flags overflow", CmdGet, "VALUE a 4294967296 1\r\nx\r\nEND\r\n"},
		{"bad length", CmdGet, "VALUE a 0 one\r\nx\r\nEND\r\n"},
		{"negative length", CmdGet, "VALUE a 0 -1\r\nEND\r\n"},
		{"oversized length", CmdGet, "VALUE k 0 99999999999\r\nx\r\nEND\r\n"},
		{"bad cas", CmdGets, "VALUE a 0 1 x\r\nx\r\nEND\r\n"},
		{"bad trailer", CmdGet, "VALUE a 0 1\r\nxyz\r\nEND\r\n"},
		{"unexpected status", CmdGet, "STORED\r\n"},
		{"too many fields", CmdGet, "VALUE a 0 1 2 3\r\nx\r\nEND\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewValueReader(newTestStream(0, tt.input), tt.cmd)
			for r.Next() {
			}
			err := r.Err()
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.True(t, ShouldCloseConnection(err))
			assert.True(t, r.Done())
		})
	}
}

func TestValueReader_OversizedDrain(t *testing.T) {
	s := newTestStream(0, "VALUE a 0 3\r\nabc\r\n", "VALUE b 0 2000\r\n")
	s.SetMaxItemSize(1000)

	r := NewValueReader(s, CmdGet)
	require.True(t, r.Next())

	var parseErr *ParseError
	require.ErrorAs(t, r.Drain(), &parseErr)
	assert.Contains(t, parseErr.Message, "exceeds maximum item size 1000")
	assert.Equal(t, KindProtocol, KindOf(r.Err()))
}

func TestValueReader_ServerError(t *testing.T) {
	r := NewValueReader(newTestStream(0, "SERVER_ERROR busy\r\n"), CmdGet)
	assert.False(t, r.Next())

	var serverErr *ServerError
	require.ErrorAs(t, r.Err(), &serverErr)
}

func TestValueReader_Truncated(t *testing.T) {
	r := NewValueReader(newTestStream(2, "VALUE a 0 10\r\nhel"), CmdGet)
	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), ErrConnectionAborted)
}

func TestValueReader_Drain(t *testing.T) {
	s := newTestStream(3,
		"VALUE a 0 3\r\nabc\r\n",
		"VALUE b 0 3\r\ndef\r\n",
		"END\r\n",
		"STORED\r\n",
	)

	r := NewValueReader(s, CmdGet)
	require.True(t, r.Next())
	assert.Equal(t, "a", r.Block().Key)

	require.NoError(t, r.Drain())
	assert.True(t, r.Done())

	// The stream is positioned at the next response
	status, err := ReadStatus(s)
	require.NoError(t, err)
	assert.Equal(t, StatusStored, status)
}

func TestStatReader(t *testing.T) {
	s := newTestStream(5,
		"STAT pid 1234\r\n",
		"STAT version 1.6.21\r\n",
		"STAT libevent 2.1.12-stable extra words\r\n",
		"STAT empty \r\n",
		"END\r\n",
	)

	r := NewStatReader(s)
	got := map[string]string{}
	for r.Next() {
		name, value := r.Stat()
		got[name] = value
	}
	require.NoError(t, r.Err())
	assert.True(t, r.Done())

	assert.Equal(t, map[string]string{
		"pid":      "1234",
		"version":  "1.6.21",
		"libevent": "2.1.12-stable extra words",
		"empty":    "",
	}, got)
}

func TestStatReader_Errors(t *testing.T) {
	r := NewStatReader(newTestStream(0, "STAT pid 1\r\nVALUE a 0 1\r\n"))
	require.True(t, r.Next())
	assert.False(t, r.Next())
	assert.Equal(t, KindProtocol, KindOf(r.Err()))

	r = NewStatReader(newTestStream(0, "ERROR\r\n"))
	assert.False(t, r.Next())
	var genericErr *GenericError
	assert.True(t, errors.As(r.Err(), &genericErr))
}

func TestStatReader_Drain(t *testing.T) {
	s := newTestStream(0, "STAT a 1\r\nSTAT b 2\r\nEND\r\nOK\r\n")

	r := NewStatReader(s)
	require.NoError(t, r.Drain())

	status, err := ReadStatus(s)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}
