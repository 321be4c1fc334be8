package btree

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// Insert descends to key's leaf and inserts (key, rid) in sorted order.
// A unique tree rejects an exact-match key with ErrDuplicateKey and
// leaves the tree unmodified. A full leaf splits (copy-up); a full
// internal node splits in turn (push-up), possibly all the way to a new
// root.
func (t *BTree) Insert(key Key, rid heap.RowID) error {
	leafID, path, err := t.descend(key)
	if err != nil {
		return err
	}
	frame, err := t.pool.Fetch(leafID)
	if err != nil {
		return err
	}
	leaf := WrapLeaf(frame.Data, t.lay)
	idx, found := FindInLeaf(t.schema, leaf, key)
	if found && t.unique {
		if err := t.pool.Unpin(leafID, false); err != nil {
			return err
		}
		return fmt.Errorf("%w: key already present in unique index", storageerr.ErrDuplicateKey)
	}

	keyBytes := EncodeKey(t.schema, key)
	if !leaf.Full() {
		leaf.InsertAt(idx, keyBytes, rid)
		return t.pool.Unpin(leafID, true)
	}

	newRightID, sepKey, err := t.splitLeaf(leaf, idx, keyBytes, rid)
	if err != nil {
		_ = t.pool.Unpin(leafID, false)
		return err
	}
	if err := t.pool.Unpin(leafID, true); err != nil {
		return err
	}
	return t.insertIntoParent(path, sepKey, newRightID)
}

// splitLeaf splits a full leaf (which keeps its original page ID and
// becomes the left half) after conceptually inserting (keyBytes, rid) at
// insertIdx, returning the new right sibling's page ID and the copy-up
// separator key (the right half's first key).
func (t *BTree) splitLeaf(leaf *Leaf, insertIdx int, keyBytes []byte, rid heap.RowID) (pager.PageID, []byte, error) {
	n := leaf.KeyCount()
	keys := make([][]byte, 0, n+1)
	rids := make([]heap.RowID, 0, n+1)
	for i := 0; i < n; i++ {
		if i == insertIdx {
			keys = append(keys, keyBytes)
			rids = append(rids, rid)
		}
		keys = append(keys, append([]byte(nil), leaf.KeyBytes(i)...))
		rids = append(rids, leaf.RowID(i))
	}
	if insertIdx == n {
		keys = append(keys, keyBytes)
		rids = append(rids, rid)
	}

	mid := (n + 1) / 2
	leftKeys, leftRids := keys[:mid], rids[:mid]
	rightKeys, rightRids := keys[mid:], rids[mid:]

	newRightID, frame, err := t.pool.NewPage()
	if err != nil {
		return 0, nil, err
	}
	rightLeaf := InitLeaf(frame.Data, newRightID, t.lay)
	rightLeaf.SetAll(rightKeys, rightRids)

	oldNext := leaf.NextLeaf()
	rightLeaf.SetPrevLeaf(leaf.PageID())
	rightLeaf.SetNextLeaf(oldNext)
	if oldNext != pager.InvalidPageID {
		nf, err := t.pool.Fetch(oldNext)
		if err != nil {
			_ = t.pool.Unpin(newRightID, true)
			return 0, nil, err
		}
		WrapLeaf(nf.Data, t.lay).SetPrevLeaf(newRightID)
		if err := t.pool.Unpin(oldNext, true); err != nil {
			return 0, nil, err
		}
	}

	leaf.SetAll(leftKeys, leftRids)
	leaf.SetNextLeaf(newRightID)

	if err := t.pool.Unpin(newRightID, true); err != nil {
		return 0, nil, err
	}
	return newRightID, rightKeys[0], nil
}

// insertIntoParent propagates a (sepKey, rightChild) split result into
// the parent recorded at the tail of path, recursing on a further
// internal split, and creating a new root if path is empty (the node
// that just split was the root).
func (t *BTree) insertIntoParent(path []pathEntry, sepKey []byte, rightChild pager.PageID) error {
	if len(path) == 0 {
		newRootID, frame, err := t.pool.NewPage()
		if err != nil {
			return err
		}
		root := InitInternal(frame.Data, newRootID, t.lay)
		root.SetSoleChild(t.root)
		root.InsertChildAt(0, sepKey, rightChild)
		if err := t.pool.Unpin(newRootID, true); err != nil {
			return err
		}
		t.root = newRootID
		return nil
	}

	entry := path[len(path)-1]
	frame, err := t.pool.Fetch(entry.pageID)
	if err != nil {
		return err
	}
	parent := WrapInternal(frame.Data, t.lay)

	if !parent.Full() {
		parent.InsertChildAt(entry.childIdx, sepKey, rightChild)
		return t.pool.Unpin(entry.pageID, true)
	}

	newRightID, upKey, err := t.splitInternal(parent, entry.childIdx, sepKey, rightChild)
	if err != nil {
		_ = t.pool.Unpin(entry.pageID, false)
		return err
	}
	if err := t.pool.Unpin(entry.pageID, true); err != nil {
		return err
	}
	return t.insertIntoParent(path[:len(path)-1], upKey, newRightID)
}

// splitInternal splits a full internal node (which keeps its original
// page ID and becomes the left half) after conceptually inserting sepKey
// at key-index insertIdx (with newChild as the child to its right),
// returning the new right sibling's page ID and the key pushed up into
// the grandparent (removed from both halves, per §4.4 "push-up").
func (t *BTree) splitInternal(node *Internal, insertIdx int, sepKey []byte, newChild pager.PageID) (pager.PageID, []byte, error) {
	nk := node.KeyCount()
	keys := make([][]byte, 0, nk+1)
	children := make([]pager.PageID, 0, nk+2)
	children = append(children, node.Child(0))
	for i := 0; i < nk; i++ {
		if i == insertIdx {
			keys = append(keys, sepKey)
			children = append(children, newChild)
		}
		keys = append(keys, append([]byte(nil), node.KeyBytes(i)...))
		children = append(children, node.Child(i+1))
	}
	if insertIdx == nk {
		keys = append(keys, sepKey)
		children = append(children, newChild)
	}

	mid := (nk + 1) / 2
	upKey := keys[mid]
	leftKeys, leftChildren := keys[:mid], children[:mid+1]
	rightKeys, rightChildren := keys[mid+1:], children[mid+1:]

	newRightID, frame, err := t.pool.NewPage()
	if err != nil {
		return 0, nil, err
	}
	rightNode := InitInternal(frame.Data, newRightID, t.lay)
	rightNode.SetAll(rightKeys, rightChildren)
	if err := t.pool.Unpin(newRightID, true); err != nil {
		return 0, nil, err
	}

	node.SetAll(leftKeys, leftChildren)
	return newRightID, upKey, nil
}
