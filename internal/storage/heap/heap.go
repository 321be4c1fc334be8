package heap

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// RowID addresses one tuple: the heap page holding it and its slot index.
// Packed as (page_id << 32 | slot) so callers can treat it as a single
// comparable 64-bit key (e.g. as a B+Tree leaf value).
type RowID uint64

func NewRowID(page pager.PageID, slot int) RowID {
	return RowID(uint64(page)<<32 | uint64(uint32(slot)))
}

func (r RowID) PageID() pager.PageID { return pager.PageID(r >> 32) }
func (r RowID) Slot() int            { return int(uint32(r)) }

func (r RowID) String() string { return fmt.Sprintf("(%d,%d)", r.PageID(), r.Slot()) }

// Heap is a table's record heap: a doubly linked chain of slotted pages
// rooted at head. Tuples are addressed by RowID and survive page-internal
// compaction without their slot index changing.
type Heap struct {
	pool    *pager.BufferPool
	schema  *row.Schema
	head    pager.PageID
	nextFit pager.PageID // next-fit cursor: where Insert starts its search
}

// Create allocates the heap's first page and returns a new empty Heap.
func Create(pool *pager.BufferPool, schema *row.Schema) (*Heap, error) {
	id, frame, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("heap: create: %w", err)
	}
	InitPage(frame.Data, id)
	if err := pool.Unpin(id, true); err != nil {
		return nil, err
	}
	return &Heap{pool: pool, schema: schema, head: id, nextFit: id}, nil
}

// Open wraps an existing heap chain rooted at headPageID.
func Open(pool *pager.BufferPool, schema *row.Schema, headPageID pager.PageID) *Heap {
	return &Heap{pool: pool, schema: schema, head: headPageID, nextFit: headPageID}
}

// HeadPageID returns the first page of the chain, to persist in the catalog.
func (h *Heap) HeadPageID() pager.PageID { return h.head }

// Insert encodes r and appends it to the heap, returning its RowID. The
// search starts at the cached next-fit page and walks forward; a page is
// used in place if it has enough contiguous space, or enough space once
// compacted. Failing that, a new page is appended to the tail.
func (h *Heap) Insert(r row.Row) (RowID, error) {
	data, err := row.Encode(h.schema, r)
	if err != nil {
		return 0, err
	}
	need := len(data)

	cur := h.nextFit
	if cur == pager.InvalidPageID {
		cur = h.head
	}
	var lastID pager.PageID = pager.InvalidPageID
	for cur != pager.InvalidPageID {
		frame, err := h.pool.Fetch(cur)
		if err != nil {
			return 0, err
		}
		hp := WrapPage(frame.Data)

		if hp.FreeSpace() >= need {
			idx, err := hp.InsertTuple(data)
			if err != nil {
				_ = h.pool.Unpin(cur, false)
				return 0, err
			}
			_ = h.pool.Unpin(cur, true)
			h.nextFit = cur
			return NewRowID(cur, idx), nil
		}
		if hp.FragmentedFreeSpace() >= need {
			hp.Compact()
			idx, err := hp.InsertTuple(data)
			if err != nil {
				_ = h.pool.Unpin(cur, false)
				return 0, err
			}
			_ = h.pool.Unpin(cur, true)
			h.nextFit = cur
			return NewRowID(cur, idx), nil
		}

		lastID = cur
		next := hp.NextPage()
		if err := h.pool.Unpin(cur, false); err != nil {
			return 0, err
		}
		cur = next
	}

	newID, frame, err := h.pool.NewPage()
	if err != nil {
		return 0, err
	}
	hp := InitPage(frame.Data, newID)
	hp.SetPrevPage(lastID)
	idx, err := hp.InsertTuple(data)
	if err != nil {
		_ = h.pool.Unpin(newID, false)
		return 0, err
	}
	if err := h.pool.Unpin(newID, true); err != nil {
		return 0, err
	}

	if lastID != pager.InvalidPageID {
		tailFrame, err := h.pool.Fetch(lastID)
		if err != nil {
			return 0, err
		}
		WrapPage(tailFrame.Data).SetNextPage(newID)
		if err := h.pool.Unpin(lastID, true); err != nil {
			return 0, err
		}
	} else {
		h.head = newID
	}
	h.nextFit = newID
	return NewRowID(newID, idx), nil
}

// Get returns the row at id, decoded per schema.
func (h *Heap) Get(id RowID) (row.Row, error) {
	frame, err := h.pool.Fetch(id.PageID())
	if err != nil {
		return row.Row{}, err
	}
	defer h.pool.Unpin(id.PageID(), false)

	hp := WrapPage(frame.Data)
	if id.Slot() >= hp.SlotCount() || hp.IsTombstone(id.Slot()) {
		return row.Row{}, fmt.Errorf("%w: row %s", storageerr.ErrNotFound, id)
	}
	return row.Decode(h.schema, hp.GetTuple(id.Slot()))
}

// Delete tombstones the tuple at id.
func (h *Heap) Delete(id RowID) error {
	frame, err := h.pool.Fetch(id.PageID())
	if err != nil {
		return err
	}
	hp := WrapPage(frame.Data)
	if id.Slot() >= hp.SlotCount() {
		_ = h.pool.Unpin(id.PageID(), false)
		return fmt.Errorf("%w: row %s", storageerr.ErrNotFound, id)
	}
	if err := hp.DeleteTuple(id.Slot()); err != nil {
		_ = h.pool.Unpin(id.PageID(), false)
		return err
	}
	return h.pool.Unpin(id.PageID(), true)
}

// Update replaces the tuple at id with r. If the new encoding fits in the
// slot's existing footprint it is rewritten in place and id is unchanged;
// otherwise the old slot is tombstoned and r is inserted fresh, returning
// its new RowID.
func (h *Heap) Update(id RowID, r row.Row) (RowID, error) {
	data, err := row.Encode(h.schema, r)
	if err != nil {
		return 0, err
	}
	frame, err := h.pool.Fetch(id.PageID())
	if err != nil {
		return 0, err
	}
	hp := WrapPage(frame.Data)
	if id.Slot() >= hp.SlotCount() || hp.IsTombstone(id.Slot()) {
		_ = h.pool.Unpin(id.PageID(), false)
		return 0, fmt.Errorf("%w: row %s", storageerr.ErrNotFound, id)
	}
	if hp.UpdateTupleInPlace(id.Slot(), data) {
		if err := h.pool.Unpin(id.PageID(), true); err != nil {
			return 0, err
		}
		return id, nil
	}
	if err := hp.DeleteTuple(id.Slot()); err != nil {
		_ = h.pool.Unpin(id.PageID(), false)
		return 0, err
	}
	if err := h.pool.Unpin(id.PageID(), true); err != nil {
		return 0, err
	}
	return h.Insert(r)
}

// Cursor iterates every live tuple of a heap in page-chain order.
type Cursor struct {
	h       *Heap
	pageID  pager.PageID
	slot    int
	started bool
}

// Scan returns a cursor positioned before the first tuple.
func (h *Heap) Scan() *Cursor {
	return &Cursor{h: h, pageID: h.head, slot: -1}
}

// Next advances the cursor to the next live tuple, returning false when the
// chain is exhausted.
func (c *Cursor) Next() (RowID, row.Row, bool, error) {
	for c.pageID != pager.InvalidPageID {
		frame, err := c.h.pool.Fetch(c.pageID)
		if err != nil {
			return 0, row.Row{}, false, err
		}
		hp := WrapPage(frame.Data)
		c.slot++
		for c.slot < hp.SlotCount() {
			if !hp.IsTombstone(c.slot) {
				data := append([]byte(nil), hp.GetTuple(c.slot)...)
				r, err := row.Decode(c.h.schema, data)
				if uerr := c.h.pool.Unpin(c.pageID, false); uerr != nil && err == nil {
					err = uerr
				}
				if err != nil {
					return 0, row.Row{}, false, err
				}
				return NewRowID(c.pageID, c.slot), r, true, nil
			}
			c.slot++
		}
		next := hp.NextPage()
		if err := c.h.pool.Unpin(c.pageID, false); err != nil {
			return 0, row.Row{}, false, err
		}
		c.pageID = next
		c.slot = -1
	}
	return 0, row.Row{}, false, nil
}
