// Package catalog implements the on-disk catalog page format (§6): table
// and index metadata, persisted as raw tuples in their own record-heap
// chain (reusing the slotted heap.Page primitives directly — the
// catalog's binary layout is independent of the generic row codec, so it
// bypasses internal/storage/row entirely).
package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// TableMagic tags a serialized table entry, per §6.
const TableMagic uint32 = 0x02020202

const (
	flagNullable   = 1 << 0
	flagUnique     = 1 << 1
	flagPrimaryKey = 1 << 2
)

// ColumnDef is one column of a catalog table entry.
type ColumnDef struct {
	Name       string
	Type       row.Type
	Length     uint8
	Nullable   bool
	Unique     bool
	PrimaryKey bool
}

// IndexDef is one index of a catalog table entry.
type IndexDef struct {
	Name          string
	ColumnOrdinal int
	Root          pager.PageID
	Unique        bool
}

// TableDef is one table's full catalog entry.
type TableDef struct {
	ID       uint32
	Name     string
	Columns  []ColumnDef
	HeapHead pager.PageID
	Indexes  []IndexDef
}

// Schema builds the row.Schema this table's heap tuples are encoded with.
func (t *TableDef) Schema() *row.Schema {
	cols := make([]row.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = row.Column{
			Name: c.Name, Type: c.Type, Length: c.Length,
			Nullable: c.Nullable, Unique: c.Unique, PrimaryKey: c.PrimaryKey,
		}
	}
	return &row.Schema{Columns: cols}
}

func encodeString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)), byte(len(s)>>8))
	return append(buf, s...)
}

func decodeString(buf []byte, off int) (string, int) {
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	return string(buf[off : off+n]), off + n
}

// encodeTable serializes t per the §6 catalog table-entry format.
func encodeTable(t *TableDef) []byte {
	buf := make([]byte, 0, 128)
	head := make([]byte, 4)
	binary.LittleEndian.PutUint32(head, TableMagic)
	buf = append(buf, head...)

	idb := make([]byte, 4)
	binary.LittleEndian.PutUint32(idb, t.ID)
	buf = append(buf, idb...)

	buf = encodeString(buf, t.Name)
	buf = append(buf, byte(len(t.Columns)))
	for _, c := range t.Columns {
		buf = encodeString(buf, c.Name)
		buf = append(buf, byte(c.Type), c.Length)
		var flags byte
		if c.Nullable {
			flags |= flagNullable
		}
		if c.Unique {
			flags |= flagUnique
		}
		if c.PrimaryKey {
			flags |= flagPrimaryKey
		}
		buf = append(buf, flags)
	}

	hh := make([]byte, 4)
	binary.LittleEndian.PutUint32(hh, uint32(t.HeapHead))
	buf = append(buf, hh...)

	ic := make([]byte, 4)
	binary.LittleEndian.PutUint32(ic, uint32(len(t.Indexes)))
	buf = append(buf, ic...)
	for _, ix := range t.Indexes {
		buf = encodeString(buf, ix.Name)
		buf = append(buf, byte(ix.ColumnOrdinal))
		rb := make([]byte, 4)
		binary.LittleEndian.PutUint32(rb, uint32(ix.Root))
		buf = append(buf, rb...)
		u := byte(0)
		if ix.Unique {
			u = 1
		}
		buf = append(buf, u)
	}
	return buf
}

// decodeTable parses a table entry written by encodeTable.
func decodeTable(buf []byte) (*TableDef, error) {
	if len(buf) < 4 || binary.LittleEndian.Uint32(buf) != TableMagic {
		return nil, fmt.Errorf("%w: catalog entry: bad magic", storageerr.ErrCorruption)
	}
	off := 4
	t := &TableDef{}
	t.ID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	t.Name, off = decodeString(buf, off)
	colCount := int(buf[off])
	off++
	t.Columns = make([]ColumnDef, colCount)
	for i := 0; i < colCount; i++ {
		var c ColumnDef
		c.Name, off = decodeString(buf, off)
		c.Type = row.Type(buf[off])
		c.Length = buf[off+1]
		flags := buf[off+2]
		off += 3
		c.Nullable = flags&flagNullable != 0
		c.Unique = flags&flagUnique != 0
		c.PrimaryKey = flags&flagPrimaryKey != 0
		t.Columns[i] = c
	}
	t.HeapHead = pager.PageID(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	idxCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	t.Indexes = make([]IndexDef, idxCount)
	for i := 0; i < idxCount; i++ {
		var ix IndexDef
		ix.Name, off = decodeString(buf, off)
		ix.ColumnOrdinal = int(buf[off])
		ix.Root = pager.PageID(binary.LittleEndian.Uint32(buf[off+1:]))
		ix.Unique = buf[off+5] != 0
		off += 6
		t.Indexes[i] = ix
	}
	return t, nil
}

// Catalog is the engine's single table/index directory, persisted as a
// chain of catalog pages rooted at the page the meta page's CatalogRoot
// field points to.
type Catalog struct {
	pool      *pager.BufferPool
	head      pager.PageID
	byName    map[string]*TableDef
	rowIDs    map[string]heap.RowID
	nextID    uint32
}

// Create allocates a brand-new, empty catalog.
func Create(pool *pager.BufferPool) (*Catalog, error) {
	id, frame, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	heap.InitPage(frame.Data, id)
	if err := pool.Unpin(id, true); err != nil {
		return nil, err
	}
	return &Catalog{pool: pool, head: id, byName: map[string]*TableDef{}, rowIDs: map[string]heap.RowID{}, nextID: 1}, nil
}

// Open loads every table entry from the chain rooted at headPageID.
func Open(pool *pager.BufferPool, headPageID pager.PageID) (*Catalog, error) {
	c := &Catalog{pool: pool, head: headPageID, byName: map[string]*TableDef{}, rowIDs: map[string]heap.RowID{}, nextID: 1}

	cur := headPageID
	for cur != pager.InvalidPageID {
		frame, err := pool.Fetch(cur)
		if err != nil {
			return nil, err
		}
		hp := heap.WrapPage(frame.Data)
		for s := 0; s < hp.SlotCount(); s++ {
			if hp.IsTombstone(s) {
				continue
			}
			t, err := decodeTable(hp.GetTuple(s))
			if err != nil {
				_ = pool.Unpin(cur, false)
				return nil, err
			}
			c.byName[t.Name] = t
			c.rowIDs[t.Name] = heap.NewRowID(cur, s)
			if t.ID >= c.nextID {
				c.nextID = t.ID + 1
			}
		}
		next := hp.NextPage()
		if err := pool.Unpin(cur, false); err != nil {
			return nil, err
		}
		cur = next
	}
	return c, nil
}

// HeadPageID returns the catalog's root page, to persist as the disk
// manager's meta-page CatalogRoot field.
func (c *Catalog) HeadPageID() pager.PageID { return c.head }

func (c *Catalog) insertBlob(data []byte) (heap.RowID, error) {
	cur := c.head
	var lastID pager.PageID = pager.InvalidPageID
	for cur != pager.InvalidPageID {
		frame, err := c.pool.Fetch(cur)
		if err != nil {
			return 0, err
		}
		hp := heap.WrapPage(frame.Data)
		if hp.FreeSpace() >= len(data) {
			idx, err := hp.InsertTuple(data)
			if err != nil {
				_ = c.pool.Unpin(cur, false)
				return 0, err
			}
			_ = c.pool.Unpin(cur, true)
			return heap.NewRowID(cur, idx), nil
		}
		if hp.FragmentedFreeSpace() >= len(data) {
			hp.Compact()
			idx, err := hp.InsertTuple(data)
			if err != nil {
				_ = c.pool.Unpin(cur, false)
				return 0, err
			}
			_ = c.pool.Unpin(cur, true)
			return heap.NewRowID(cur, idx), nil
		}
		lastID = cur
		next := hp.NextPage()
		_ = c.pool.Unpin(cur, false)
		cur = next
	}

	newID, frame, err := c.pool.NewPage()
	if err != nil {
		return 0, err
	}
	hp := heap.InitPage(frame.Data, newID)
	hp.SetPrevPage(lastID)
	idx, err := hp.InsertTuple(data)
	if err != nil {
		_ = c.pool.Unpin(newID, false)
		return 0, err
	}
	_ = c.pool.Unpin(newID, true)

	tframe, err := c.pool.Fetch(lastID)
	if err != nil {
		return 0, err
	}
	heap.WrapPage(tframe.Data).SetNextPage(newID)
	_ = c.pool.Unpin(lastID, true)
	return heap.NewRowID(newID, idx), nil
}

func (c *Catalog) deleteBlob(id heap.RowID) error {
	frame, err := c.pool.Fetch(id.PageID())
	if err != nil {
		return err
	}
	hp := heap.WrapPage(frame.Data)
	if err := hp.DeleteTuple(id.Slot()); err != nil {
		_ = c.pool.Unpin(id.PageID(), false)
		return err
	}
	return c.pool.Unpin(id.PageID(), true)
}

// CreateTable registers a new table, assigning it a table ID.
func (c *Catalog) CreateTable(name string, columns []ColumnDef, heapHead pager.PageID) (*TableDef, error) {
	if _, ok := c.byName[name]; ok {
		return nil, fmt.Errorf("%w: table %q already exists", storageerr.ErrDuplicateKey, name)
	}
	t := &TableDef{ID: c.nextID, Name: name, Columns: columns, HeapHead: heapHead}
	c.nextID++
	rid, err := c.insertBlob(encodeTable(t))
	if err != nil {
		return nil, err
	}
	c.byName[name] = t
	c.rowIDs[name] = rid
	return t, nil
}

// DropTable removes name's catalog entry. It does not reclaim the
// table's heap or index pages, and neither does Engine.DropTable; those
// pages stay allocated.
func (c *Catalog) DropTable(name string) error {
	rid, ok := c.rowIDs[name]
	if !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, name)
	}
	if err := c.deleteBlob(rid); err != nil {
		return err
	}
	delete(c.byName, name)
	delete(c.rowIDs, name)
	return nil
}

// Table returns name's entry, or (nil, false) if no such table exists.
func (c *Catalog) Table(name string) (*TableDef, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Tables enumerates every registered table, in no particular order.
func (c *Catalog) Tables() []*TableDef {
	out := make([]*TableDef, 0, len(c.byName))
	for _, t := range c.byName {
		out = append(out, t)
	}
	return out
}

// persist rewrites name's catalog entry after an in-place mutation
// (index root-page change, heap-head change).
func (c *Catalog) persist(t *TableDef) error {
	old := c.rowIDs[t.Name]
	if err := c.deleteBlob(old); err != nil {
		return err
	}
	rid, err := c.insertBlob(encodeTable(t))
	if err != nil {
		return err
	}
	c.rowIDs[t.Name] = rid
	return nil
}

// AddIndex appends an index entry to name's table and persists it.
func (c *Catalog) AddIndex(name string, ix IndexDef) error {
	t, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, name)
	}
	t.Indexes = append(t.Indexes, ix)
	return c.persist(t)
}

// DropIndex removes an index entry by name from table and persists it.
func (c *Catalog) DropIndex(table, indexName string) error {
	t, ok := c.byName[table]
	if !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, table)
	}
	for i, ix := range t.Indexes {
		if ix.Name == indexName {
			t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
			return c.persist(t)
		}
	}
	return fmt.Errorf("%w: index %q on table %q", storageerr.ErrNotFound, indexName, table)
}

// UpdateIndexRoot rewrites the root page ID of one of table's indexes
// (called after a B+Tree root split or collapse) and persists it.
func (c *Catalog) UpdateIndexRoot(table, indexName string, root pager.PageID) error {
	t, ok := c.byName[table]
	if !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, table)
	}
	for i, ix := range t.Indexes {
		if ix.Name == indexName {
			t.Indexes[i].Root = root
			return c.persist(t)
		}
	}
	return fmt.Errorf("%w: index %q on table %q", storageerr.ErrNotFound, indexName, table)
}

// UpdateHeapHead rewrites table's heap-head page ID (called if the
// first heap page ever changes — not expected in normal operation, but
// kept symmetric with UpdateIndexRoot) and persists it.
func (c *Catalog) UpdateHeapHead(table string, head pager.PageID) error {
	t, ok := c.byName[table]
	if !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, table)
	}
	t.HeapHead = head
	return c.persist(t)
}
