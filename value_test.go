package mctext

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mctext/ascii"
	"github.com/pior/mctext/internal/testutils"
)

func TestCodec_Encode(t *testing.T) {
	codec := NewCodec(nil)

	tests := []struct {
		name      string
		value     Value
		wantFlags uint32
		wantData  string
	}{
		{"raw", Raw([]byte("abc")), FlagRaw, "abc"},
		{"string", String("hello world"), FlagRaw, "hello world"},
		{"zero value", Value{}, FlagRaw, ""},
		{"integer", Int(42), FlagInteger, "42"},
		{"negative integer", Int(-42), FlagInteger, "-42"},
		{"max integer", Int(math.MaxInt64), FlagInteger, "9223372036854775807"},
		{"min integer", Int(math.MinInt64), FlagInteger, "-9223372036854775808"},
		{"max unsigned", Uint(math.MaxUint64), FlagInteger, "18446744073709551615"},
		{"object", Object(map[string]int{"a": 1}), FlagSerialized, `{"a":1}`},
		{"nil object", Object(nil), FlagSerialized, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, data, err := codec.Encode(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlags, flags)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}

func TestCodec_Decode(t *testing.T) {
	codec := NewCodec(nil)

	v, err := codec.Decode(FlagRaw, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, TypeRaw, v.Type())
	assert.Equal(t, "abc", string(v.Bytes()))
	_, ok := v.Int()
	assert.False(t, ok)

	v, err = codec.Decode(FlagInteger, []byte("-17"))
	require.NoError(t, err)
	n, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(-17), n)
	assert.Equal(t, "-17", string(v.Bytes()))
	_, ok = v.Uint()
	assert.False(t, ok)

	v, err = codec.Decode(FlagInteger, []byte("9223372036854775808"))
	require.NoError(t, err)
	u, ok := v.Uint()
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxInt64)+1, u)
	_, ok = v.Int()
	assert.False(t, ok, "above the int64 range")
	assert.Equal(t, "9223372036854775808", string(v.Bytes()))

	v, err = codec.Decode(FlagInteger, []byte("18446744073709551615"))
	require.NoError(t, err)
	u, ok = v.Uint()
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64), u)

	v, err = codec.Decode(FlagSerialized, []byte(`{"name":"bob","age":7}`))
	require.NoError(t, err)
	var p profile
	require.NoError(t, v.Decode(&p))
	assert.Equal(t, profile{Name: "bob", Age: 7}, p)
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec := NewCodec(nil)

	tests := []struct {
		name  string
		flags uint32
		data  string
	}{
		{"unknown flags", 4, "x"},
		{"combined flags", FlagInteger | FlagSerialized, "1"},
		{"integer not decimal", FlagInteger, "12a"},
		{"integer empty", FlagInteger, ""},
		{"integer overflow", FlagInteger, "18446744073709551616"},
		{"integer underflow", FlagInteger, "-9223372036854775809"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.flags, []byte(tt.data))
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tt.flags, decodeErr.Flags)
			assert.Equal(t, ascii.KindDecode, KindOf(err))
			assert.False(t, ascii.ShouldCloseConnection(err))
		})
	}
}

func TestValue_Decode(t *testing.T) {
	var dst profile

	err := String("x").Decode(&dst)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	// Local objects decode through the default serializer
	require.NoError(t, Object(profile{Name: "eve"}).Decode(&dst))
	assert.Equal(t, "eve", dst.Name)
	require.NoError(t, NewCodec(nil).Object(profile{Name: "ann"}).Decode(&dst))
	assert.Equal(t, "ann", dst.Name)

	codec := NewCodec(nil)
	v, err := codec.Decode(FlagSerialized, []byte("{not json"))
	require.NoError(t, err, "payload is only parsed by Decode")
	require.ErrorAs(t, v.Decode(&dst), &decodeErr)
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, `"abc"`, String("abc").String())
	assert.Equal(t, "12", Int(12).String())
	assert.Equal(t, "-12", Int(-12).String())
	assert.Equal(t, "18446744073709551615", Uint(math.MaxUint64).String())
	assert.Equal(t, "object(mctext.profile)", Object(profile{}).String())
	assert.Equal(t, "structured", TypeStructured.String())
}

type gobSerializer struct{}

func (gobSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes(), err
}

func (gobSerializer) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func TestCodec_CustomSerializer(t *testing.T) {
	codec := NewCodec(gobSerializer{})

	flags, data, err := codec.Encode(Object(profile{Name: "gob", Age: 3}))
	require.NoError(t, err)
	assert.Equal(t, FlagSerialized, flags)

	v, err := codec.Decode(flags, data)
	require.NoError(t, err)

	var got profile
	require.NoError(t, v.Decode(&got))
	assert.Equal(t, profile{Name: "gob", Age: 3}, got)
}

type countingSerializer struct {
	Serializer
	marshals, unmarshals int
}

func (s *countingSerializer) Marshal(v any) ([]byte, error) {
	s.marshals++
	return s.Serializer.Marshal(v)
}

func (s *countingSerializer) Unmarshal(data []byte, v any) error {
	s.unmarshals++
	return s.Serializer.Unmarshal(data, v)
}

func TestCodec_Object(t *testing.T) {
	serializer := &countingSerializer{Serializer: gobSerializer{}}
	codec := NewCodec(serializer)

	v := codec.Object(profile{Name: "gob", Age: 3, Tags: []string{"a"}})
	assert.Equal(t, TypeStructured, v.Type())

	var got profile
	require.NoError(t, v.Decode(&got))
	assert.Equal(t, profile{Name: "gob", Age: 3, Tags: []string{"a"}}, got)
	assert.Equal(t, 1, serializer.marshals)
	assert.Equal(t, 1, serializer.unmarshals)

	flags, data, err := codec.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, FlagSerialized, flags)
	assert.Equal(t, 2, serializer.marshals)

	decoded, err := codec.Decode(flags, data)
	require.NoError(t, err)
	got = profile{}
	require.NoError(t, decoded.Decode(&got))
	assert.Equal(t, "gob", got.Name)
	assert.Equal(t, 2, serializer.unmarshals)
}

func TestClient_CustomSerializer(t *testing.T) {
	server := testutils.NewServer(t)
	host, port := server.HostPort()

	client, err := DialTCP(t.Context(), host, port, Config{Serializer: gobSerializer{}, Logger: testLogger(t)})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(t.Context(), Item{Key: "k", Value: Object(profile{Name: "x", Age: 1})}))

	item, err := client.Get(t.Context(), "k")
	require.NoError(t, err)

	var got profile
	require.NoError(t, item.Value.Decode(&got))
	assert.Equal(t, profile{Name: "x", Age: 1}, got)
}
