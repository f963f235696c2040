package mctext

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/pior/mctext/ascii"
)

// Flags words written with each item. Exactly one interpretation applies
// to a stored value; the words are never combined.
const (
	FlagRaw        uint32 = 0      // opaque bytes
	FlagInteger    uint32 = 1 << 0 // decimal integer text
	FlagSerialized uint32 = 1 << 1 // payload produced by a Serializer
)

// ValueType identifies the variant held by a Value.
type ValueType uint8

const (
	TypeRaw ValueType = iota
	TypeInteger
	TypeStructured
)

func (t ValueType) String() string {
	switch t {
	case TypeRaw:
		return "raw"
	case TypeInteger:
		return "integer"
	case TypeStructured:
		return "structured"
	default:
		return "ValueType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Value is a cache value: raw bytes, an integer or a structured object.
// Integers cover the int64 range and the full uint64 range of counters.
// The zero Value is an empty raw value.
type Value struct {
	typ  ValueType
	data []byte
	obj  any

	// n holds the integer bits; negative means n is a negative int64
	n        uint64
	negative bool

	// serializer used by Decode, set for values read from the server and
	// for objects built with Codec.Object
	serializer Serializer
}

// Raw returns a value stored as-is.
func Raw(b []byte) Value {
	return Value{typ: TypeRaw, data: b}
}

// String returns a raw value holding s.
func String(s string) Value {
	return Value{typ: TypeRaw, data: []byte(s)}
}

// Int returns an integer value, stored as decimal text.
func Int(n int64) Value {
	return Value{typ: TypeInteger, n: uint64(n), negative: n < 0}
}

// Uint returns an integer value, stored as decimal text. Counters modified
// with incr and decr hold values up to math.MaxUint64.
func Uint(n uint64) Value {
	return Value{typ: TypeInteger, n: n}
}

// Object returns a structured value, stored with the client's Serializer.
func Object(v any) Value {
	return Value{typ: TypeStructured, obj: v}
}

// Type returns the variant held by v.
func (v Value) Type() ValueType {
	return v.typ
}

// Bytes returns the payload of a raw value, the decimal text of an integer,
// or the serialized payload of a structured value read from the server.
func (v Value) Bytes() []byte {
	switch v.typ {
	case TypeInteger:
		return v.appendInt(nil)
	default:
		return v.data
	}
}

// Int returns the integer held by v. ok is false for other variants and
// for integers above math.MaxInt64.
func (v Value) Int() (n int64, ok bool) {
	if v.typ != TypeInteger || (!v.negative && v.n > math.MaxInt64) {
		return 0, false
	}
	return int64(v.n), true
}

// Uint returns the integer held by v. ok is false for other variants and
// for negative integers.
func (v Value) Uint() (n uint64, ok bool) {
	if v.typ != TypeInteger || v.negative {
		return 0, false
	}
	return v.n, true
}

func (v Value) appendInt(dst []byte) []byte {
	if v.negative {
		return strconv.AppendInt(dst, int64(v.n), 10)
	}
	return strconv.AppendUint(dst, v.n, 10)
}

// Decode deserializes a structured value into dst.
//
// Values read from the server use the serializer of the client that read
// them. A local Object round-trips through JSONSerializer; build it with
// Codec.Object to use another serializer.
func (v Value) Decode(dst any) error {
	if v.typ != TypeStructured {
		return &DecodeError{Message: "value is " + v.typ.String() + ", not structured"}
	}

	serializer := v.serializer
	if serializer == nil {
		serializer = JSONSerializer{}
	}

	data := v.data
	if data == nil {
		var err error
		if data, err = serializer.Marshal(v.obj); err != nil {
			return &DecodeError{Flags: FlagSerialized, Message: "marshal object", Err: err}
		}
	}

	if err := serializer.Unmarshal(data, dst); err != nil {
		return &DecodeError{Flags: FlagSerialized, Message: "unmarshal object", Err: err}
	}
	return nil
}

func (v Value) String() string {
	switch v.typ {
	case TypeInteger:
		return string(v.appendInt(nil))
	case TypeStructured:
		if v.data != nil {
			return fmt.Sprintf("object(%d bytes)", len(v.data))
		}
		return fmt.Sprintf("object(%T)", v.obj)
	default:
		return strconv.Quote(string(v.data))
	}
}

// Serializer turns structured values into payloads and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeError is returned when a stored value cannot be interpreted: an
// unknown flags word, an integer payload that is not decimal, or a
// structured payload the Serializer rejects. The connection is unaffected.
type DecodeError struct {
	Key     string
	Flags   uint32
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := "decode error: " + e.Message
	if e.Key != "" {
		msg = "decode error for " + strconv.Quote(e.Key) + ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Kind() ascii.Kind { return ascii.KindDecode }

// ShouldCloseConnection returns false - the response was fully consumed
func (e *DecodeError) ShouldCloseConnection() bool { return false }

// Codec converts Values to (flags, payload) pairs and back.
type Codec struct {
	serializer Serializer
}

// NewCodec returns a Codec using s for structured values, or JSON when s is nil.
func NewCodec(s Serializer) *Codec {
	if s == nil {
		s = JSONSerializer{}
	}
	return &Codec{serializer: s}
}

// Object returns a structured value whose Decode uses the codec serializer.
func (c *Codec) Object(v any) Value {
	return Value{typ: TypeStructured, obj: v, serializer: c.serializer}
}

// Encode returns the flags word and payload for v.
func (c *Codec) Encode(v Value) (uint32, []byte, error) {
	switch v.typ {
	case TypeRaw:
		return FlagRaw, v.data, nil

	case TypeInteger:
		return FlagInteger, v.appendInt(nil), nil

	case TypeStructured:
		if v.data != nil {
			return FlagSerialized, v.data, nil
		}
		data, err := c.serializer.Marshal(v.obj)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %T: %w", v.obj, err)
		}
		return FlagSerialized, data, nil

	default:
		return 0, nil, fmt.Errorf("encode: unknown value type %s", v.typ)
	}
}

// Decode interprets a payload according to its flags word.
func (c *Codec) Decode(flags uint32, data []byte) (Value, error) {
	switch flags {
	case FlagRaw:
		return Value{typ: TypeRaw, data: data}, nil

	case FlagInteger:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err == nil {
			return Int(n), nil
		}
		// Counters wrap at 2^64, past the int64 range
		if errors.Is(err, strconv.ErrRange) {
			if u, uerr := strconv.ParseUint(string(data), 10, 64); uerr == nil {
				return Uint(u), nil
			}
		}
		return Value{}, &DecodeError{Flags: flags, Message: "invalid integer payload", Err: err}

	case FlagSerialized:
		return Value{typ: TypeStructured, data: data, serializer: c.serializer}, nil

	default:
		return Value{}, &DecodeError{Flags: flags, Message: "unknown flags " + strconv.FormatUint(uint64(flags), 10)}
	}
}
