package mctext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		input string
		want  Endpoint
	}{
		{"localhost:11211", Endpoint{Network: "tcp", Address: "localhost:11211"}},
		{"10.0.0.1:22122", Endpoint{Network: "tcp", Address: "10.0.0.1:22122"}},
		{"[::1]:11211", Endpoint{Network: "tcp", Address: "[::1]:11211"}},
		{"cache.internal", Endpoint{Network: "tcp", Address: "cache.internal:11211"}},
		{" localhost:1 ", Endpoint{Network: "tcp", Address: "localhost:1"}},
		{"unix:/var/run/memcached.sock", Endpoint{Network: "unix", Address: "/var/run/memcached.sock"}},
		{"/tmp/memcached.sock", Endpoint{Network: "unix", Address: "/tmp/memcached.sock"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, input := range []string{"", "unix:", "localhost:port", "localhost:0", "localhost:70000"} {
		_, err := ParseEndpoint(input)
		assert.Error(t, err, input)
	}
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "127.0.0.1:11211", TCPEndpoint("127.0.0.1", 11211).String())
	assert.Equal(t, "[::1]:11211", TCPEndpoint("::1", 11211).String())
	assert.Equal(t, "unix:/tmp/mc.sock", UnixEndpoint("/tmp/mc.sock").String())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: Endpoint{Network: "udp", Address: "localhost:11211"}})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: Endpoint{Network: "tcp"}})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: TCPEndpoint("localhost", 11211), ReadChunkSize: -1})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: TCPEndpoint("localhost", 11211), MaxItemSize: -1})
	assert.Error(t, err)

	client, err := NewClient(Config{Endpoint: TCPEndpoint("localhost", 11211)})
	require.NoError(t, err)
	assert.Equal(t, StateUnconnected, client.State())
	assert.False(t, client.IsConnected())
	assert.Equal(t, Counters{}, client.Counters())
}
