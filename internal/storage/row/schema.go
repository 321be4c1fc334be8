// Package row defines the typed row/schema model (§3) and its fixed-width
// on-disk encoding: a null-bitmap followed by each non-null field in
// declared order, with no host-struct-layout dependency (§9 "Serialization").
package row

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// Type is a column's field type.
type Type uint8

const (
	INT  Type = 1
	FLOAT Type = 2
	CHAR Type = 3
)

func (t Type) String() string {
	switch t {
	case INT:
		return "INT"
	case FLOAT:
		return "FLOAT"
	case CHAR:
		return "CHAR"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxColumns is the largest number of fields one schema may declare.
const MaxColumns = 32

// MaxColumnNameLen bounds a column name's on-disk length.
const MaxColumnNameLen = 64

// Column describes one schema field.
type Column struct {
	Name      string
	Type      Type
	Length    uint8 // CHAR(n), 1 <= n <= 255; ignored for INT/FLOAT
	Nullable  bool
	Unique    bool
	PrimaryKey bool
}

// Width returns the fixed on-disk byte width of one value of this column.
func (c Column) Width() int {
	switch c.Type {
	case INT:
		return 4
	case FLOAT:
		return 4
	case CHAR:
		return int(c.Length)
	default:
		return 0
	}
}

// Schema is an ordered sequence of columns.
type Schema struct {
	Columns []Column
}

// Validate checks the structural constraints of §3: at most MaxColumns
// fields, at most one primary key (implicitly unique and not nullable),
// CHAR lengths in [1,255], and column names within their length bound.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: schema has no columns", storageerr.ErrSchemaViolation)
	}
	if len(s.Columns) > MaxColumns {
		return fmt.Errorf("%w: schema has %d columns, max %d", storageerr.ErrSchemaViolation, len(s.Columns), MaxColumns)
	}
	pkSeen := false
	for _, c := range s.Columns {
		if len(c.Name) == 0 || len(c.Name) > MaxColumnNameLen {
			return fmt.Errorf("%w: column name %q invalid length", storageerr.ErrSchemaViolation, c.Name)
		}
		if c.Type == CHAR && (c.Length < 1 || c.Length > 255) {
			return fmt.Errorf("%w: column %q: CHAR length %d out of range [1,255]", storageerr.ErrSchemaViolation, c.Name, c.Length)
		}
		if c.PrimaryKey {
			if pkSeen {
				return fmt.Errorf("%w: schema declares more than one primary key", storageerr.ErrSchemaViolation)
			}
			pkSeen = true
			if c.Nullable {
				return fmt.Errorf("%w: primary key column %q cannot be nullable", storageerr.ErrSchemaViolation, c.Name)
			}
		}
	}
	return nil
}

// PrimaryKeyOrdinal returns the ordinal of the schema's primary key column,
// or -1 if none is declared.
func (s *Schema) PrimaryKeyOrdinal() int {
	for i, c := range s.Columns {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}

// UniqueOrdinals returns the ordinals of every column with the unique flag
// set, including the primary key (which is implicitly unique).
func (s *Schema) UniqueOrdinals() []int {
	var out []int
	for i, c := range s.Columns {
		if c.Unique || c.PrimaryKey {
			out = append(out, i)
		}
	}
	return out
}

// bitmapBytes returns the number of null-bitmap bytes for n columns.
func bitmapBytes(n int) int {
	return (n + 7) / 8
}
