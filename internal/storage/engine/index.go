package engine

import (
	"github.com/minisql-db/minisql/internal/storage/btree"
	"github.com/minisql-db/minisql/internal/storage/catalog"
	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
)

// Index is an open handle on one B+Tree maintained against a single
// column of its owning table (§3 "Index model": every primary-key or
// unique column gets one automatically; CreateIndex adds others).
type Index struct {
	name    string
	table   *Table
	ordinal int
	schema  *row.Schema // single-column key schema
	tree    *btree.BTree
	unique  bool
}

func keySchemaFor(t *Table, ordinal int) *row.Schema {
	return &row.Schema{Columns: []row.Column{t.schema.Columns[ordinal]}}
}

func createIndex(t *Table, ordinal int, unique bool) (*Index, error) {
	ks := keySchemaFor(t, ordinal)
	tree, err := btree.Create(t.engine.pool, ks, unique)
	if err != nil {
		return nil, t.engine.noteIOError(err)
	}
	return &Index{table: t, ordinal: ordinal, schema: ks, tree: tree, unique: unique}, nil
}

func openIndex(t *Table, def catalog.IndexDef) *Index {
	ks := keySchemaFor(t, def.ColumnOrdinal)
	return &Index{
		name:    def.Name,
		table:   t,
		ordinal: def.ColumnOrdinal,
		schema:  ks,
		tree:    btree.Open(t.engine.pool, ks, def.Unique, def.Root),
		unique:  def.Unique,
	}
}

// Name returns the index's catalog name.
func (ix *Index) Name() string { return ix.name }

// Unique reports whether the index rejects duplicate keys.
func (ix *Index) Unique() bool { return ix.unique }

// persistRootIfChanged rewrites the index's catalog entry when a split or
// root collapse moved its root page, so a later Open sees the right one.
func (ix *Index) persistRootIfChanged(before pager.PageID) error {
	after := ix.tree.RootPageID()
	if after == before || ix.name == "" {
		return nil
	}
	return ix.table.engine.cat.UpdateIndexRoot(ix.table.Name(), ix.name, after)
}

func (ix *Index) insertValue(v any, rid heap.RowID) error {
	before := ix.tree.RootPageID()
	e := ix.table.engine
	if err := ix.tree.Insert(btree.Key{Values: []any{v}}, rid); err != nil {
		return e.noteIOError(err)
	}
	return e.noteIOError(ix.persistRootIfChanged(before))
}

func (ix *Index) removeValue(v any) error {
	before := ix.tree.RootPageID()
	e := ix.table.engine
	if err := ix.tree.Remove(btree.Key{Values: []any{v}}); err != nil {
		return e.noteIOError(err)
	}
	return e.noteIOError(ix.persistRootIfChanged(before))
}

func (ix *Index) lookupValue(v any) (heap.RowID, bool, error) {
	rid, found, err := ix.tree.Lookup(btree.Key{Values: []any{v}})
	return rid, found, ix.table.engine.noteIOError(err)
}

// Lookup returns the RowID stored under the first entry equal to v.
func (ix *Index) Lookup(v any) (heap.RowID, bool, error) {
	return ix.lookupValue(v)
}

// Range returns a cursor over every entry with key between lo and hi;
// each bound is included only if its flag (incLo, incHi) is true.
func (ix *Index) Range(lo, hi any, incLo, incHi bool) (*btree.Cursor, error) {
	cur, err := ix.tree.Range(btree.Key{Values: []any{lo}}, btree.Key{Values: []any{hi}}, incLo, incHi)
	return cur, ix.table.engine.noteIOError(err)
}

// ScanAll returns a cursor over every entry in the index.
func (ix *Index) ScanAll() (*btree.Cursor, error) {
	cur, err := ix.tree.ScanAll()
	return cur, ix.table.engine.noteIOError(err)
}
