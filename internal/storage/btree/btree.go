package btree

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
)

// BTree is a disk-resident B+Tree keyed by Key (a tuple of the index's
// key-column values) mapping to a heap.RowID. Unique trees reject a
// second entry under an equal key; non-unique trees keep every insert. A
// new entry goes before the entries with an equal key already in its
// leaf, so equal keys are not kept in arrival order.
//
// No parent pointers are stored on disk (§9 "Polymorphism over page
// types" favors a plain tagged-buffer view over richer in-page state);
// every operation threads its own root-to-leaf path and discards pins as
// soon as a page's contents are no longer needed for the current step.
// This is a deliberate simplification of §5's literal "pins pages along
// their path... unpins them in reverse order on exit": because the core
// is single-threaded cooperative, no other operation can invalidate a
// page between visits, so re-fetching an ancestor when a split or
// rebalance needs to revisit it is equivalent in outcome and far
// simpler to keep correct across every early-return path than holding a
// stack of live pins for the whole operation.
type BTree struct {
	pool   *pager.BufferPool
	schema *row.Schema // key schema: the indexed columns, in order
	lay    Layout
	root   pager.PageID
	unique bool
}

// pathEntry records one step of a root-to-leaf descent: the page visited
// and the index of the child pointer that was followed out of it.
type pathEntry struct {
	pageID   pager.PageID
	childIdx int
}

// Create allocates a brand-new, empty tree (a single empty leaf as root).
func Create(pool *pager.BufferPool, schema *row.Schema, unique bool) (*BTree, error) {
	lay := NewLayout(pool.PageSize(), KeyLen(schema))
	id, frame, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("btree: create: %w", err)
	}
	InitLeaf(frame.Data, id, lay)
	if err := pool.Unpin(id, true); err != nil {
		return nil, err
	}
	return &BTree{pool: pool, schema: schema, lay: lay, root: id, unique: unique}, nil
}

// Open wraps an existing tree rooted at rootPageID.
func Open(pool *pager.BufferPool, schema *row.Schema, unique bool, rootPageID pager.PageID) *BTree {
	lay := NewLayout(pool.PageSize(), KeyLen(schema))
	return &BTree{pool: pool, schema: schema, lay: lay, root: rootPageID, unique: unique}
}

// RootPageID returns the tree's current root page — callers persist this
// into the owning index's catalog entry after any mutation that may have
// changed it (root split, root collapse).
func (t *BTree) RootPageID() pager.PageID { return t.root }

// descend walks from the root to the leaf that would hold key, returning
// the leaf's page ID and the path of internal nodes visited (root first).
func (t *BTree) descend(key Key) (pager.PageID, []pathEntry, error) {
	var path []pathEntry
	cur := t.root
	for {
		frame, err := t.pool.Fetch(cur)
		if err != nil {
			return 0, nil, err
		}
		if pager.HeaderType(frame.Data) == pager.PageTypeBTreeLeaf {
			if err := t.pool.Unpin(cur, false); err != nil {
				return 0, nil, err
			}
			return cur, path, nil
		}
		node := WrapInternal(frame.Data, t.lay)
		idx := FindChild(t.schema, node, key)
		child := node.Child(idx)
		if err := t.pool.Unpin(cur, false); err != nil {
			return 0, nil, err
		}
		path = append(path, pathEntry{pageID: cur, childIdx: idx})
		cur = child
	}
}

// Lookup returns the RowID stored under the first entry equal to key.
func (t *BTree) Lookup(key Key) (heap.RowID, bool, error) {
	cur, err := t.Range(key, key, true, true)
	if err != nil {
		return 0, false, err
	}
	_, rid, ok, err := cur.Next()
	if err != nil {
		return 0, false, err
	}
	return rid, ok, nil
}

// Cursor iterates matching (key, RowID) pairs across leaf pages in
// ascending key order, following sibling links.
type Cursor struct {
	t        *BTree
	leafID   pager.PageID
	idx      int
	hasHi    bool
	hi       Key
	hiIncl   bool
	exhausted bool
}

// Range returns a cursor over every entry k with lo ≤ k ≤ hi, where each
// bound is included only if its flag (incLo, incHi) is true, descending
// to lo's leaf and walking next_leaf links until hi is passed. hi always
// bounds the scan: if it compares less than lo the cursor yields nothing.
// ScanAll covers the unbounded case.
func (t *BTree) Range(lo, hi Key, incLo, incHi bool) (*Cursor, error) {
	leafID, _, err := t.descend(lo)
	if err != nil {
		return nil, err
	}
	frame, err := t.pool.Fetch(leafID)
	if err != nil {
		return nil, err
	}
	leaf := WrapLeaf(frame.Data, t.lay)
	idx, found := FindInLeaf(t.schema, leaf, lo)
	if found && !incLo {
		idx++
	}
	if err := t.pool.Unpin(leafID, false); err != nil {
		return nil, err
	}
	return &Cursor{t: t, leafID: leafID, idx: idx, hasHi: true, hi: hi, hiIncl: incHi}, nil
}

// ScanAll returns a cursor over every entry in the tree.
func (t *BTree) ScanAll() (*Cursor, error) {
	leafID := t.root
	for {
		frame, err := t.pool.Fetch(leafID)
		if err != nil {
			return nil, err
		}
		isLeaf := pager.HeaderType(frame.Data) == pager.PageTypeBTreeLeaf
		var next pager.PageID
		if !isLeaf {
			next = WrapInternal(frame.Data, t.lay).Child(0)
		}
		if err := t.pool.Unpin(leafID, false); err != nil {
			return nil, err
		}
		if isLeaf {
			break
		}
		leafID = next
	}
	return &Cursor{t: t, leafID: leafID, idx: 0, hasHi: false}, nil
}

// Next advances the cursor, returning false once the range (or tree) is
// exhausted.
func (c *Cursor) Next() (Key, heap.RowID, bool, error) {
	if c.exhausted {
		return Key{}, 0, false, nil
	}
	for c.leafID != pager.InvalidPageID {
		frame, err := c.t.pool.Fetch(c.leafID)
		if err != nil {
			return Key{}, 0, false, err
		}
		leaf := WrapLeaf(frame.Data, c.t.lay)
		if c.idx >= leaf.KeyCount() {
			next := leaf.NextLeaf()
			if err := c.t.pool.Unpin(c.leafID, false); err != nil {
				return Key{}, 0, false, err
			}
			c.leafID = next
			c.idx = 0
			continue
		}
		key := DecodeKey(c.t.schema, leaf.KeyBytes(c.idx))
		if c.hasHi {
			cmp := Compare(c.t.schema, key, c.hi)
			if cmp > 0 || (cmp == 0 && !c.hiIncl) {
				if err := c.t.pool.Unpin(c.leafID, false); err != nil {
					return Key{}, 0, false, err
				}
				c.exhausted = true
				c.leafID = pager.InvalidPageID
				return Key{}, 0, false, nil
			}
		}
		rid := leaf.RowID(c.idx)
		c.idx++
		if err := c.t.pool.Unpin(c.leafID, false); err != nil {
			return Key{}, 0, false, err
		}
		return key, rid, true, nil
	}
	c.exhausted = true
	return Key{}, 0, false, nil
}
