package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zakazai/ulin-mvcc/internal/types"
)

// Keys are order-preserving: comparing two encoded keys bytewise gives the
// same result as comparing the (table, primary key) pairs they encode.
//
//	key   = string(table) value(pk)
//	value = tag payload
//	string: bytes with 0x00 escaped as 0x00 0xFF, terminated by 0x00 0x00
//	int:    8 bytes big-endian with the sign bit flipped
//	float:  8 bytes big-endian, sign bit flipped for positives, all bits flipped for negatives
//	bool:   one byte
const (
	tagBoolean byte = 0x01
	tagInteger byte = 0x02
	tagFloat   byte = 0x03
	tagText    byte = 0x04
)

var errBadKey = errors.New("storage: malformed key")

// TablePrefix returns the prefix shared by every row key of table.
func TablePrefix(table string) []byte {
	return appendString(nil, table)
}

// RowKey returns the logical key of the row of table whose primary key is pk.
func RowKey(table string, pk types.Value) ([]byte, error) {
	return appendValue(TablePrefix(table), pk)
}

// DecodeRowKey splits a key built by RowKey back into its parts.
func DecodeRowKey(key []byte) (string, types.Value, error) {
	table, rest, err := readString(key)
	if err != nil {
		return "", types.Value{}, err
	}
	v, rest, err := readValue(rest)
	if err != nil {
		return "", types.Value{}, err
	}
	if len(rest) != 0 {
		return "", types.Value{}, errBadKey
	}
	return table, v, nil
}

// FormatKey renders a row key for error messages.
func FormatKey(key []byte) string {
	table, pk, err := DecodeRowKey(key)
	if err != nil {
		return fmt.Sprintf("%x", key)
	}
	return fmt.Sprintf("%s[%s]", table, pk)
}

func appendString(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, s[i])
		}
	}
	return append(dst, 0x00, 0x00)
}

func readString(b []byte) (string, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return "", nil, errBadKey
		}
		switch b[i+1] {
		case 0x00:
			return string(out), b[i+2:], nil
		case 0xFF:
			out = append(out, 0x00)
			i++
		default:
			return "", nil, errBadKey
		}
	}
	return "", nil, errBadKey
}

func appendValue(dst []byte, v types.Value) ([]byte, error) {
	var buf [8]byte
	switch v.Type {
	case types.TypeBoolean:
		b := byte(0)
		if v.B {
			b = 1
		}
		return append(dst, tagBoolean, b), nil
	case types.TypeInteger:
		binary.BigEndian.PutUint64(buf[:], uint64(v.I64)^(1<<63))
		return append(append(dst, tagInteger), buf[:]...), nil
	case types.TypeFloat:
		f := v.F64
		if f == 0 {
			// -0 and +0 compare equal and must map to one key.
			f = 0
		}
		bits := math.Float64bits(f)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		binary.BigEndian.PutUint64(buf[:], bits)
		return append(append(dst, tagFloat), buf[:]...), nil
	case types.TypeText:
		return appendString(append(dst, tagText), v.S), nil
	case types.TypeNull:
		return nil, errors.New("storage: NULL cannot be part of a key")
	default:
		return nil, fmt.Errorf("storage: cannot encode %v in a key", v.Type)
	}
}

func readValue(b []byte) (types.Value, []byte, error) {
	if len(b) == 0 {
		return types.Value{}, nil, errBadKey
	}
	tag, b := b[0], b[1:]
	switch tag {
	case tagBoolean:
		if len(b) < 1 {
			return types.Value{}, nil, errBadKey
		}
		return types.BoolValue(b[0] == 1), b[1:], nil
	case tagInteger:
		if len(b) < 8 {
			return types.Value{}, nil, errBadKey
		}
		u := binary.BigEndian.Uint64(b) ^ (1 << 63)
		return types.IntValue(int64(u)), b[8:], nil
	case tagFloat:
		if len(b) < 8 {
			return types.Value{}, nil, errBadKey
		}
		bits := binary.BigEndian.Uint64(b)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return types.FloatValue(math.Float64frombits(bits)), b[8:], nil
	case tagText:
		s, rest, err := readString(b)
		if err != nil {
			return types.Value{}, nil, err
		}
		return types.TextValue(s), rest, nil
	default:
		return types.Value{}, nil, errBadKey
	}
}
