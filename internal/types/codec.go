package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeRow serializes a row as a column count followed by typed values.
func EncodeRow(row Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRow(&buf, row); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(data []byte) (Row, error) {
	return ReadRow(bytes.NewReader(data))
}

// WriteRow encodes row onto w.
func WriteRow(w io.Writer, row Row) error {
	if len(row) > 0xFFFF {
		return fmt.Errorf("types: too many columns: %d", len(row))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(row))); err != nil {
		return err
	}
	for _, v := range row {
		if err := binary.Write(w, binary.LittleEndian, uint8(v.Type)); err != nil {
			return err
		}

		switch v.Type {
		case TypeInteger:
			if err := binary.Write(w, binary.LittleEndian, v.I64); err != nil {
				return err
			}
		case TypeFloat:
			if err := binary.Write(w, binary.LittleEndian, v.F64); err != nil {
				return err
			}
		case TypeText:
			if err := binary.Write(w, binary.LittleEndian, uint32(len(v.S))); err != nil {
				return err
			}
			if _, err := io.WriteString(w, v.S); err != nil {
				return err
			}
		case TypeBoolean:
			var b byte
			if v.B {
				b = 1
			}
			if err := binary.Write(w, binary.LittleEndian, b); err != nil {
				return err
			}
		case TypeNull:
			// tag only
		default:
			return fmt.Errorf("types: cannot encode value of type %v", v.Type)
		}
	}
	return nil
}

// ReadRow decodes one row written by WriteRow.
func ReadRow(r io.Reader) (Row, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	row := make(Row, n)
	for i := range row {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, err
		}

		v := Value{Type: DataType(tag)}
		switch v.Type {
		case TypeInteger:
			if err := binary.Read(r, binary.LittleEndian, &v.I64); err != nil {
				return nil, err
			}
		case TypeFloat:
			if err := binary.Read(r, binary.LittleEndian, &v.F64); err != nil {
				return nil, err
			}
		case TypeText:
			var l uint32
			if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
				return nil, err
			}
			b := make([]byte, l)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			v.S = string(b)
		case TypeBoolean:
			var b byte
			if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
				return nil, err
			}
			v.B = b != 0
		case TypeNull:
		default:
			return nil, fmt.Errorf("types: unknown value tag %d", tag)
		}
		row[i] = v
	}
	return row, nil
}
