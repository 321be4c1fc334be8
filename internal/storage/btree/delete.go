package btree

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// Remove deletes the entry for key. Redistribution/coalescing and parent
// fix-up follow §4.4 "Delete": redistribute from whichever sibling has
// more slack above minimum occupancy; else coalesce, preferring the left
// sibling; either may recurse into the parent, possibly collapsing the
// root.
func (t *BTree) Remove(key Key) error {
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
	if !found {
		_ = t.pool.Unpin(leafID, false)
		return fmt.Errorf("%w: key not present", storageerr.ErrNotFound)
	}
	leaf.RemoveAt(idx)

	if len(path) == 0 || leaf.KeyCount() >= t.lay.MinLeaf {
		return t.pool.Unpin(leafID, true)
	}
	if err := t.pool.Unpin(leafID, true); err != nil {
		return err
	}
	return t.rebalanceLeaf(leafID, path)
}

// rebalanceLeaf fixes an underflowed leaf (fewer than MinLeaf entries)
// by redistributing from a sibling or coalescing with one, then checks
// whether the parent itself now underflows.
func (t *BTree) rebalanceLeaf(leafID pager.PageID, path []pathEntry) error {
	entry := path[len(path)-1]
	pframe, err := t.pool.Fetch(entry.pageID)
	if err != nil {
		return err
	}
	parent := WrapInternal(pframe.Data, t.lay)
	idxInParent := entry.childIdx

	lframe, err := t.pool.Fetch(leafID)
	if err != nil {
		_ = t.pool.Unpin(entry.pageID, false)
		return err
	}
	leaf := WrapLeaf(lframe.Data, t.lay)

	var leftID, rightID pager.PageID = pager.InvalidPageID, pager.InvalidPageID
	if idxInParent > 0 {
		leftID = parent.Child(idxInParent - 1)
	}
	if idxInParent < parent.KeyCount() {
		rightID = parent.Child(idxInParent + 1)
	}

	leftSlack, rightSlack := -1, -1
	var leftLeaf, rightLeaf *Leaf
	var leftFrame, rightFrame *pager.Frame
	if leftID != pager.InvalidPageID {
		leftFrame, err = t.pool.Fetch(leftID)
		if err != nil {
			_ = t.pool.Unpin(leafID, false)
			_ = t.pool.Unpin(entry.pageID, false)
			return err
		}
		leftLeaf = WrapLeaf(leftFrame.Data, t.lay)
		leftSlack = leftLeaf.KeyCount() - t.lay.MinLeaf
	}
	if rightID != pager.InvalidPageID {
		rightFrame, err = t.pool.Fetch(rightID)
		if err != nil {
			if leftID != pager.InvalidPageID {
				_ = t.pool.Unpin(leftID, false)
			}
			_ = t.pool.Unpin(leafID, false)
			_ = t.pool.Unpin(entry.pageID, false)
			return err
		}
		rightLeaf = WrapLeaf(rightFrame.Data, t.lay)
		rightSlack = rightLeaf.KeyCount() - t.lay.MinLeaf
	}

	switch {
	case leftSlack > 0 && leftSlack >= rightSlack:
		// Borrow leftSib's last entry as leaf's new first entry; the
		// separator becomes leaf's new first key.
		last := leftLeaf.KeyCount() - 1
		key := append([]byte(nil), leftLeaf.KeyBytes(last)...)
		rid := leftLeaf.RowID(last)
		leftLeaf.RemoveAt(last)
		leaf.InsertAt(0, key, rid)
		parent.SetKey(idxInParent-1, leaf.KeyBytes(0))
		if rightID != pager.InvalidPageID {
			if err := t.pool.Unpin(rightID, false); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leftID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(leafID, true); err != nil {
			return err
		}
		return t.pool.Unpin(entry.pageID, true)

	case rightSlack > 0:
		key := append([]byte(nil), rightLeaf.KeyBytes(0)...)
		rid := rightLeaf.RowID(0)
		rightLeaf.RemoveAt(0)
		leaf.InsertAt(leaf.KeyCount(), key, rid)
		parent.SetKey(idxInParent, rightLeaf.KeyBytes(0))
		if err := t.pool.Unpin(rightID, true); err != nil {
			return err
		}
		if leftID != pager.InvalidPageID {
			if err := t.pool.Unpin(leftID, false); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leafID, true); err != nil {
			return err
		}
		return t.pool.Unpin(entry.pageID, true)

	case leftID != pager.InvalidPageID:
		// Coalesce into the left sibling; it survives, leaf is freed.
		n := leaf.KeyCount()
		for i := 0; i < n; i++ {
			leftLeaf.InsertAt(leftLeaf.KeyCount(), leaf.KeyBytes(i), leaf.RowID(i))
		}
		leftLeaf.SetNextLeaf(leaf.NextLeaf())
		if rightID != pager.InvalidPageID {
			if err := t.pool.Unpin(rightID, false); err != nil {
				return err
			}
		}
		if nn := leaf.NextLeaf(); nn != pager.InvalidPageID {
			nf, err := t.pool.Fetch(nn)
			if err != nil {
				_ = t.pool.Unpin(leftID, false)
				_ = t.pool.Unpin(leafID, false)
				_ = t.pool.Unpin(entry.pageID, false)
				return err
			}
			WrapLeaf(nf.Data, t.lay).SetPrevLeaf(leftID)
			if err := t.pool.Unpin(nn, true); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leftID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(leafID, false); err != nil {
			return err
		}
		if err := t.pool.DeletePage(leafID); err != nil {
			return err
		}
		parent.RemoveKeyAt(idxInParent - 1)
		if err := t.pool.Unpin(entry.pageID, true); err != nil {
			return err
		}
		return t.finishParentUnderflow(entry.pageID, path[:len(path)-1])

	default:
		// No left sibling: coalesce rightSib into leaf.
		n := rightLeaf.KeyCount()
		for i := 0; i < n; i++ {
			leaf.InsertAt(leaf.KeyCount(), rightLeaf.KeyBytes(i), rightLeaf.RowID(i))
		}
		leaf.SetNextLeaf(rightLeaf.NextLeaf())
		if nn := rightLeaf.NextLeaf(); nn != pager.InvalidPageID {
			nf, err := t.pool.Fetch(nn)
			if err != nil {
				_ = t.pool.Unpin(leafID, false)
				_ = t.pool.Unpin(rightID, false)
				_ = t.pool.Unpin(entry.pageID, false)
				return err
			}
			WrapLeaf(nf.Data, t.lay).SetPrevLeaf(leafID)
			if err := t.pool.Unpin(nn, true); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leafID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(rightID, false); err != nil {
			return err
		}
		if err := t.pool.DeletePage(rightID); err != nil {
			return err
		}
		parent.RemoveKeyAt(idxInParent)
		if err := t.pool.Unpin(entry.pageID, true); err != nil {
			return err
		}
		return t.finishParentUnderflow(entry.pageID, path[:len(path)-1])
	}
}

// finishParentUnderflow is called after a coalesce has removed one key
// from the page at parentID. If parentID is the root, an empty root
// collapses to its sole child. Otherwise, if it dropped below MinKeys,
// the underflow is fixed at the next level up.
func (t *BTree) finishParentUnderflow(parentID pager.PageID, path []pathEntry) error {
	frame, err := t.pool.Fetch(parentID)
	if err != nil {
		return err
	}
	node := WrapInternal(frame.Data, t.lay)

	if len(path) == 0 {
		if node.KeyCount() == 0 {
			sole := node.Child(0)
			if err := t.pool.Unpin(parentID, false); err != nil {
				return err
			}
			if err := t.pool.DeletePage(parentID); err != nil {
				return err
			}
			t.root = sole
			return nil
		}
		return t.pool.Unpin(parentID, true)
	}

	if node.KeyCount() >= t.lay.MinKeys {
		return t.pool.Unpin(parentID, true)
	}
	if err := t.pool.Unpin(parentID, true); err != nil {
		return err
	}
	return t.rebalanceInternal(parentID, path)
}

// rebalanceInternal fixes an underflowed internal node by rotating a
// child through the parent from whichever sibling has more slack, or by
// merging with a sibling (pulling the parent's separator down), then
// recurses on the parent's own occupancy.
func (t *BTree) rebalanceInternal(nodeID pager.PageID, path []pathEntry) error {
	entry := path[len(path)-1]
	pframe, err := t.pool.Fetch(entry.pageID)
	if err != nil {
		return err
	}
	parent := WrapInternal(pframe.Data, t.lay)
	idxInParent := entry.childIdx

	nframe, err := t.pool.Fetch(nodeID)
	if err != nil {
		_ = t.pool.Unpin(entry.pageID, false)
		return err
	}
	node := WrapInternal(nframe.Data, t.lay)

	var leftID, rightID pager.PageID = pager.InvalidPageID, pager.InvalidPageID
	if idxInParent > 0 {
		leftID = parent.Child(idxInParent - 1)
	}
	if idxInParent < parent.KeyCount() {
		rightID = parent.Child(idxInParent + 1)
	}

	leftSlack, rightSlack := -1, -1
	var leftNode, rightNode *Internal
	if leftID != pager.InvalidPageID {
		f, err := t.pool.Fetch(leftID)
		if err != nil {
			_ = t.pool.Unpin(nodeID, false)
			_ = t.pool.Unpin(entry.pageID, false)
			return err
		}
		leftNode = WrapInternal(f.Data, t.lay)
		leftSlack = leftNode.KeyCount() - t.lay.MinKeys
	}
	if rightID != pager.InvalidPageID {
		f, err := t.pool.Fetch(rightID)
		if err != nil {
			if leftID != pager.InvalidPageID {
				_ = t.pool.Unpin(leftID, false)
			}
			_ = t.pool.Unpin(nodeID, false)
			_ = t.pool.Unpin(entry.pageID, false)
			return err
		}
		rightNode = WrapInternal(f.Data, t.lay)
		rightSlack = rightNode.KeyCount() - t.lay.MinKeys
	}

	switch {
	case leftSlack > 0 && leftSlack >= rightSlack:
		parentSep := append([]byte(nil), parent.KeyBytes(idxInParent-1)...)
		lastChild := leftNode.Child(leftNode.KeyCount())
		newSep := append([]byte(nil), leftNode.KeyBytes(leftNode.KeyCount()-1)...)
		node.PrependChild(parentSep, lastChild)
		leftNode.RemoveLastChild()
		parent.SetKey(idxInParent-1, newSep)
		if rightID != pager.InvalidPageID {
			if err := t.pool.Unpin(rightID, false); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leftID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(nodeID, true); err != nil {
			return err
		}
		return t.pool.Unpin(entry.pageID, true)

	case rightSlack > 0:
		parentSep := append([]byte(nil), parent.KeyBytes(idxInParent)...)
		firstChild := rightNode.Child(0)
		newSep := append([]byte(nil), rightNode.KeyBytes(0)...)
		node.AppendChild(parentSep, firstChild)
		rightNode.RemoveFirstChild()
		parent.SetKey(idxInParent, newSep)
		if err := t.pool.Unpin(rightID, true); err != nil {
			return err
		}
		if leftID != pager.InvalidPageID {
			if err := t.pool.Unpin(leftID, false); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(nodeID, true); err != nil {
			return err
		}
		return t.pool.Unpin(entry.pageID, true)

	case leftID != pager.InvalidPageID:
		sep := append([]byte(nil), parent.KeyBytes(idxInParent-1)...)
		keys := make([][]byte, 0, leftNode.KeyCount()+1+node.KeyCount())
		children := make([]pager.PageID, 0, cap(keys)+1)
		for i := 0; i < leftNode.KeyCount(); i++ {
			keys = append(keys, append([]byte(nil), leftNode.KeyBytes(i)...))
		}
		for i := 0; i <= leftNode.KeyCount(); i++ {
			children = append(children, leftNode.Child(i))
		}
		keys = append(keys, sep)
		for i := 0; i < node.KeyCount(); i++ {
			keys = append(keys, append([]byte(nil), node.KeyBytes(i)...))
		}
		for i := 0; i <= node.KeyCount(); i++ {
			children = append(children, node.Child(i))
		}
		leftNode.SetAll(keys, children)
		if rightID != pager.InvalidPageID {
			if err := t.pool.Unpin(rightID, false); err != nil {
				return err
			}
		}
		if err := t.pool.Unpin(leftID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(nodeID, false); err != nil {
			return err
		}
		if err := t.pool.DeletePage(nodeID); err != nil {
			return err
		}
		parent.RemoveKeyAt(idxInParent - 1)
		if err := t.pool.Unpin(entry.pageID, true); err != nil {
			return err
		}
		return t.finishParentUnderflow(entry.pageID, path[:len(path)-1])

	default:
		sep := append([]byte(nil), parent.KeyBytes(idxInParent)...)
		keys := make([][]byte, 0, node.KeyCount()+1+rightNode.KeyCount())
		children := make([]pager.PageID, 0, cap(keys)+1)
		for i := 0; i < node.KeyCount(); i++ {
			keys = append(keys, append([]byte(nil), node.KeyBytes(i)...))
		}
		for i := 0; i <= node.KeyCount(); i++ {
			children = append(children, node.Child(i))
		}
		keys = append(keys, sep)
		for i := 0; i < rightNode.KeyCount(); i++ {
			keys = append(keys, append([]byte(nil), rightNode.KeyBytes(i)...))
		}
		for i := 0; i <= rightNode.KeyCount(); i++ {
			children = append(children, rightNode.Child(i))
		}
		node.SetAll(keys, children)
		if err := t.pool.Unpin(nodeID, true); err != nil {
			return err
		}
		if err := t.pool.Unpin(rightID, false); err != nil {
			return err
		}
		if err := t.pool.DeletePage(rightID); err != nil {
			return err
		}
		parent.RemoveKeyAt(idxInParent)
		if err := t.pool.Unpin(entry.pageID, true); err != nil {
			return err
		}
		return t.finishParentUnderflow(entry.pageID, path[:len(path)-1])
	}
}
