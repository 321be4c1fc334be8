// Package btree implements the disk-resident B+Tree index (§4.4): a
// classic (non-blink) B+Tree keyed by a tuple of column values and mapping
// to a heap.RowID, with point lookup, range scan over linked leaves,
// insert with split/push-up, and delete with redistribute/coalesce/parent
// fix-up/root collapse.
package btree

import (
	"encoding/binary"
	"math"

	"github.com/minisql-db/minisql/internal/storage/row"
)

// Key is one index key: one value per column of the index's key schema,
// in the same order and typing as row.Row.Values (nil = null).
type Key struct {
	Values []any
}

// KeyLen returns the fixed on-disk width of every key built from schema.
// Unlike row.Encode (which omits bytes for null fields to save heap
// space), index keys are fixed width regardless of nullability — every
// field's slot is reserved whether or not it is null — so that B+Tree
// node capacity (and therefore binary search over a plain array) can be
// computed once at index-creation time instead of varying per entry.
func KeyLen(schema *row.Schema) int {
	nb := (len(schema.Columns) + 7) / 8
	n := nb
	for _, c := range schema.Columns {
		n += c.Width()
	}
	return n
}

// EncodeKey writes k into a fixed KeyLen(schema)-byte buffer: a null
// bitmap followed by every field's slot (zero-filled when null).
func EncodeKey(schema *row.Schema, k Key) []byte {
	nb := (len(schema.Columns) + 7) / 8
	buf := make([]byte, KeyLen(schema))
	off := nb
	for i, c := range schema.Columns {
		v := k.Values[i]
		if v == nil {
			buf[i/8] |= 1 << uint(i%8)
			off += c.Width()
			continue
		}
		switch c.Type {
		case row.INT:
			binary.LittleEndian.PutUint32(buf[off:], uint32(v.(int32)))
		case row.FLOAT:
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.(float32)))
		case row.CHAR:
			s := v.(string)
			n := copy(buf[off:off+int(c.Length)], s)
			for j := off + n; j < off+int(c.Length); j++ {
				buf[j] = 0
			}
		}
		off += c.Width()
	}
	return buf
}

// DecodeKey parses a KeyLen(schema)-byte buffer written by EncodeKey.
func DecodeKey(schema *row.Schema, buf []byte) Key {
	nb := (len(schema.Columns) + 7) / 8
	values := make([]any, len(schema.Columns))
	off := nb
	for i, c := range schema.Columns {
		if buf[i/8]&(1<<uint(i%8)) != 0 {
			values[i] = nil
			off += c.Width()
			continue
		}
		switch c.Type {
		case row.INT:
			values[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		case row.FLOAT:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		case row.CHAR:
			w := int(c.Length)
			end := w
			for end > 0 && buf[off+end-1] == 0 {
				end--
			}
			values[i] = string(buf[off : off+end])
		}
		off += c.Width()
	}
	return Key{Values: values}
}

// Compare orders two keys field-by-field per schema: a null sorts before
// any non-null value in the same field; INT and FLOAT compare
// numerically; CHAR compares as unsigned bytes up to the column's
// declared length (shorter values are zero-padded for the comparison,
// matching their zero-padded on-disk form).
func Compare(schema *row.Schema, a, b Key) int {
	for i, c := range schema.Columns {
		av, bv := a.Values[i], b.Values[i]
		if av == nil && bv == nil {
			continue
		}
		if av == nil {
			return -1
		}
		if bv == nil {
			return 1
		}
		var cmp int
		switch c.Type {
		case row.INT:
			x, y := av.(int32), bv.(int32)
			cmp = cmpInt32(x, y)
		case row.FLOAT:
			x, y := av.(float32), bv.(float32)
			cmp = cmpFloat32(x, y)
		case row.CHAR:
			cmp = compareCharPadded(av.(string), bv.(string), int(c.Length))
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func cmpInt32(x, y int32) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func cmpFloat32(x, y float32) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func compareCharPadded(a, b string, n int) int {
	for i := 0; i < n; i++ {
		var ba, bb byte
		if i < len(a) {
			ba = a[i]
		}
		if i < len(b) {
			bb = b[i]
		}
		if ba != bb {
			if ba < bb {
				return -1
			}
			return 1
		}
	}
	return 0
}
