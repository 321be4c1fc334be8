package engine

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/catalog"
	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/row"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// Table is an open handle on one catalog table: its record heap plus
// every index maintained against it.
type Table struct {
	engine  *Engine
	def     *catalog.TableDef
	schema  *row.Schema
	heap    *heap.Heap
	indexes map[string]*Index // by index name
	byOrd   []*Index          // by column ordinal, nil where no index exists
}

func newTableHandle(e *Engine, def *catalog.TableDef) (*Table, error) {
	schema := def.Schema()
	t := &Table{
		engine:  e,
		def:     def,
		schema:  schema,
		heap:    heap.Open(e.pool, schema, def.HeapHead),
		indexes: map[string]*Index{},
		byOrd:   make([]*Index, len(def.Columns)),
	}
	for _, ixDef := range def.Indexes {
		ix := openIndex(t, ixDef)
		t.indexes[ixDef.Name] = ix
		t.byOrd[ixDef.ColumnOrdinal] = ix
	}
	return t, nil
}

// Schema returns the table's row schema.
func (t *Table) Schema() *row.Schema { return t.schema }

// Name returns the table's name.
func (t *Table) Name() string { return t.def.Name }

// Indexes enumerates every index maintained on this table.
func (t *Table) Indexes() []*Index {
	out := make([]*Index, 0, len(t.indexes))
	for _, ix := range t.indexes {
		out = append(out, ix)
	}
	return out
}

// Index returns the index by name, or (nil, false) if none exists.
func (t *Table) Index(name string) (*Index, bool) {
	ix, ok := t.indexes[name]
	return ix, ok
}

// createIndex builds a new B+Tree for column ordinal and registers it in
// the catalog. Used both for CreateTable's auto-indexes and for explicit
// secondary-index creation.
func (t *Table) createIndex(name string, ordinal int, unique bool) error {
	if _, ok := t.indexes[name]; ok {
		return fmt.Errorf("%w: index %q already exists", storageerr.ErrDuplicateKey, name)
	}
	ix, err := createIndex(t, ordinal, unique)
	if err != nil {
		return t.engine.noteIOError(err)
	}
	ix.name = name

	if err := t.engine.cat.AddIndex(t.def.Name, catalog.IndexDef{
		Name: name, ColumnOrdinal: ordinal, Root: ix.tree.RootPageID(), Unique: unique,
	}); err != nil {
		return t.engine.noteIOError(err)
	}

	cur := t.heap.Scan()
	for {
		rid, r, ok, err := cur.Next()
		if err != nil {
			return t.engine.noteIOError(err)
		}
		if !ok {
			break
		}
		if err := ix.insertValue(r.Values[ordinal], rid); err != nil {
			return err
		}
	}

	t.indexes[name] = ix
	t.byOrd[ordinal] = ix
	return nil
}

// CreateIndex builds a new secondary index on column ordinal.
func (t *Table) CreateIndex(name string, ordinal int, unique bool) error {
	if err := t.engine.rejectIfDegraded(); err != nil {
		return err
	}
	return t.createIndex(name, ordinal, unique)
}

// insertIntoIndexes adds rid under every indexed column's value from r,
// rolling back any index already updated if a later one (or a unique
// collision) fails.
func (t *Table) insertIntoIndexes(r row.Row, rid heap.RowID) error {
	done := make([]*Index, 0, len(t.indexes))
	for _, ix := range t.byOrd {
		if ix == nil {
			continue
		}
		if err := ix.insertValue(r.Values[ix.ordinal], rid); err != nil {
			for _, d := range done {
				_ = d.removeValue(r.Values[d.ordinal])
			}
			return err
		}
		done = append(done, ix)
	}
	return nil
}

func (t *Table) removeFromIndexes(r row.Row) error {
	for _, ix := range t.byOrd {
		if ix == nil {
			continue
		}
		if err := ix.removeValue(r.Values[ix.ordinal]); err != nil {
			return err
		}
	}
	return nil
}

// Insert validates r against the schema, appends it to the heap, and
// maintains every index. A unique-index collision leaves the table
// unmodified.
func (t *Table) Insert(r row.Row) (heap.RowID, error) {
	if err := t.engine.rejectIfDegraded(); err != nil {
		return 0, err
	}
	if err := r.Validate(t.schema); err != nil {
		return 0, err
	}
	for _, ix := range t.byOrd {
		if ix == nil || !ix.unique {
			continue
		}
		if _, found, err := ix.lookupValue(r.Values[ix.ordinal]); err != nil {
			return 0, err
		} else if found {
			return 0, fmt.Errorf("%w: column %q", storageerr.ErrDuplicateKey, t.schema.Columns[ix.ordinal].Name)
		}
	}

	rid, err := t.heap.Insert(r)
	if err != nil {
		return 0, t.engine.noteIOError(err)
	}
	if err := t.insertIntoIndexes(r, rid); err != nil {
		_ = t.heap.Delete(rid)
		return 0, err
	}
	return rid, nil
}

// Get returns the row stored at rid.
func (t *Table) Get(rid heap.RowID) (row.Row, error) {
	r, err := t.heap.Get(rid)
	return r, t.engine.noteIOError(err)
}

// Delete removes the row at rid and every index entry pointing to it.
func (t *Table) Delete(rid heap.RowID) error {
	if err := t.engine.rejectIfDegraded(); err != nil {
		return err
	}
	r, err := t.heap.Get(rid)
	if err != nil {
		return t.engine.noteIOError(err)
	}
	if err := t.heap.Delete(rid); err != nil {
		return t.engine.noteIOError(err)
	}
	return t.removeFromIndexes(r)
}

// Update replaces the row at rid with r, maintaining every index
// (including the case where the heap reinserts under a new RowID).
func (t *Table) Update(rid heap.RowID, r row.Row) (heap.RowID, error) {
	if err := t.engine.rejectIfDegraded(); err != nil {
		return 0, err
	}
	if err := r.Validate(t.schema); err != nil {
		return 0, err
	}
	old, err := t.heap.Get(rid)
	if err != nil {
		return 0, t.engine.noteIOError(err)
	}
	if err := t.removeFromIndexes(old); err != nil {
		return 0, err
	}
	newRid, err := t.heap.Update(rid, r)
	if err != nil {
		return 0, t.engine.noteIOError(err)
	}
	if err := t.insertIntoIndexes(r, newRid); err != nil {
		return 0, err
	}
	return newRid, nil
}

// Scan returns a cursor over every live row in heap-chain order.
func (t *Table) Scan() *heap.Cursor { return t.heap.Scan() }
