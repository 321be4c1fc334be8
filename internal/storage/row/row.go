package row

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// Row is an ordered sequence of typed field values, one per schema column.
// A nil entry means the field is null. INT values are int32, FLOAT values
// are float32, CHAR values are string (at most the column's declared
// length, NUL-padded on encode and trimmed of trailing NULs on decode).
type Row struct {
	Values []any
}

// Validate checks row against schema: column count, per-field type, CHAR
// length, and nullability.
func (r Row) Validate(s *Schema) error {
	if len(r.Values) != len(s.Columns) {
		return fmt.Errorf("%w: row has %d values, schema has %d columns", storageerr.ErrSchemaViolation, len(r.Values), len(s.Columns))
	}
	for i, c := range s.Columns {
		v := r.Values[i]
		if v == nil {
			if !c.Nullable {
				return fmt.Errorf("%w: column %q is not nullable", storageerr.ErrSchemaViolation, c.Name)
			}
			continue
		}
		switch c.Type {
		case INT:
			if _, ok := v.(int32); !ok {
				return fmt.Errorf("%w: column %q expects INT, got %T", storageerr.ErrSchemaViolation, c.Name, v)
			}
		case FLOAT:
			if _, ok := v.(float32); !ok {
				return fmt.Errorf("%w: column %q expects FLOAT, got %T", storageerr.ErrSchemaViolation, c.Name, v)
			}
		case CHAR:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: column %q expects CHAR, got %T", storageerr.ErrSchemaViolation, c.Name, v)
			}
			if len(s) > int(c.Length) {
				return fmt.Errorf("%w: column %q: value length %d exceeds CHAR(%d)", storageerr.ErrSchemaViolation, c.Name, len(s), c.Length)
			}
		}
	}
	return nil
}

// Encode serializes row per schema into the on-disk form: a null-bitmap
// followed by each non-null field in declared order at its fixed width.
func Encode(s *Schema, r Row) ([]byte, error) {
	if err := r.Validate(s); err != nil {
		return nil, err
	}
	nb := bitmapBytes(len(s.Columns))
	size := nb
	for i, c := range s.Columns {
		if r.Values[i] != nil {
			size += c.Width()
		}
	}
	buf := make([]byte, size)
	off := nb
	for i, c := range s.Columns {
		v := r.Values[i]
		if v == nil {
			buf[i/8] |= 1 << uint(i%8)
			continue
		}
		switch c.Type {
		case INT:
			binary.LittleEndian.PutUint32(buf[off:], uint32(v.(int32)))
			off += 4
		case FLOAT:
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.(float32)))
			off += 4
		case CHAR:
			s := v.(string)
			n := copy(buf[off:off+int(c.Length)], s)
			for j := off + n; j < off+int(c.Length); j++ {
				buf[j] = 0
			}
			off += int(c.Length)
		}
	}
	return buf, nil
}

// Decode parses a row encoded per schema out of buf.
func Decode(s *Schema, buf []byte) (Row, error) {
	nb := bitmapBytes(len(s.Columns))
	if len(buf) < nb {
		return Row{}, fmt.Errorf("%w: row buffer shorter than null bitmap", storageerr.ErrCorruption)
	}
	values := make([]any, len(s.Columns))
	off := nb
	for i, c := range s.Columns {
		if buf[i/8]&(1<<uint(i%8)) != 0 {
			values[i] = nil
			continue
		}
		w := c.Width()
		if off+w > len(buf) {
			return Row{}, fmt.Errorf("%w: row buffer truncated at column %q", storageerr.ErrCorruption, c.Name)
		}
		switch c.Type {
		case INT:
			values[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		case FLOAT:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		case CHAR:
			end := w
			for end > 0 && buf[off+end-1] == 0 {
				end--
			}
			values[i] = string(buf[off : off+end])
		}
		off += w
	}
	return Row{Values: values}, nil
}

// EncodedLen returns the exact byte length Encode would produce for a row
// with the given set of null columns (by ordinal), without touching the
// actual values.
func EncodedLen(s *Schema, isNull func(ordinal int) bool) int {
	size := bitmapBytes(len(s.Columns))
	for i, c := range s.Columns {
		if !isNull(i) {
			size += c.Width()
		}
	}
	return size
}
