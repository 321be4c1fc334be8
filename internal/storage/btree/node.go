package btree

import (
	"encoding/binary"

	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
)

// ───────────────────────────────────────────────────────────────────────────
// Node page views — §9 "Polymorphism over page types": a page is a tagged
// byte buffer, dispatched on its header's PageType. No parent pointers are
// stored on disk; each operation threads its own root-to-leaf path.
// ───────────────────────────────────────────────────────────────────────────
//
// Leaf layout (fixed-width entries, no slot directory — a plain sorted
// array suffices because every key is KeyLen(schema) bytes):
//
//   [0:10]   common header (Type = BTreeLeaf)
//   [10:14]  PrevLeaf  PageID
//   [14:18]  NextLeaf  PageID
//   [18:20]  KeyCount  uint16
//   [20..]   entries: (key[KeyLen] ++ RowID uint64), KeyCount of them
//
// Internal layout (fixed child/key slots sized to the tree's capacity,
// only the first KeyCount+1/KeyCount of which are meaningful):
//
//   [0:10]   common header (Type = BTreeInternal)
//   [10:12]  KeyCount  uint16
//   [12..]   children: (maxKeys+1) x PageID, then
//            keys:     maxKeys x key[KeyLen]

const (
	leafPrevOff  = pager.PageHeaderSize // 10
	leafNextOff  = leafPrevOff + 4      // 14
	leafCountOff = leafNextOff + 4      // 18
	leafDataOff  = leafCountOff + 2     // 20

	internalCountOff    = pager.PageHeaderSize // 10
	internalChildrenOff = internalCountOff + 2 // 12
)

// Layout bundles the capacity numbers derived from a page size and key
// width, shared by every leaf/internal page of one tree.
type Layout struct {
	PageSize  int
	KeyLen    int
	EntryLen  int // leaf: KeyLen + 8 (RowID)
	MaxLeaf   int
	MinLeaf   int
	MaxKeys   int // internal: max keys (max children = MaxKeys+1)
	MinKeys   int
}

func usableEnd(pageSize int) int { return pageSize - pager.CRCSize }

// NewLayout computes node capacities for a given page size and key width.
func NewLayout(pageSize, keyLen int) Layout {
	entryLen := keyLen + 8
	maxLeaf := (usableEnd(pageSize) - leafDataOff) / entryLen
	minLeaf := (maxLeaf+1)/2 - 1
	if minLeaf < 1 {
		minLeaf = 1
	}

	// maxKeys*keyLen + (maxKeys+1)*4 <= usableEnd - internalChildrenOff
	avail := usableEnd(pageSize) - internalChildrenOff - 4
	maxKeys := avail / (keyLen + 4)
	minChildren := (maxKeys + 1 + 1) / 2
	minKeys := minChildren - 1
	if minKeys < 1 {
		minKeys = 1
	}

	return Layout{
		PageSize: pageSize, KeyLen: keyLen, EntryLen: entryLen,
		MaxLeaf: maxLeaf, MinLeaf: minLeaf,
		MaxKeys: maxKeys, MinKeys: minKeys,
	}
}

// ── Leaf ────────────────────────────────────────────────────────────────

// Leaf wraps a page buffer as a B+Tree leaf node.
type Leaf struct {
	buf []byte
	lay Layout
}

func WrapLeaf(buf []byte, lay Layout) *Leaf { return &Leaf{buf: buf, lay: lay} }

func InitLeaf(buf []byte, id pager.PageID, lay Layout) *Leaf {
	h := &pager.PageHeader{Type: pager.PageTypeBTreeLeaf, ID: id}
	pager.MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[leafPrevOff:], uint32(pager.InvalidPageID))
	binary.LittleEndian.PutUint32(buf[leafNextOff:], uint32(pager.InvalidPageID))
	binary.LittleEndian.PutUint16(buf[leafCountOff:], 0)
	return &Leaf{buf: buf, lay: lay}
}

func (l *Leaf) PageID() pager.PageID { return pager.HeaderPageID(l.buf) }

func (l *Leaf) PrevLeaf() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(l.buf[leafPrevOff:]))
}
func (l *Leaf) SetPrevLeaf(id pager.PageID) {
	binary.LittleEndian.PutUint32(l.buf[leafPrevOff:], uint32(id))
}
func (l *Leaf) NextLeaf() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(l.buf[leafNextOff:]))
}
func (l *Leaf) SetNextLeaf(id pager.PageID) {
	binary.LittleEndian.PutUint32(l.buf[leafNextOff:], uint32(id))
}

func (l *Leaf) KeyCount() int {
	return int(binary.LittleEndian.Uint16(l.buf[leafCountOff:]))
}
func (l *Leaf) setKeyCount(n int) {
	binary.LittleEndian.PutUint16(l.buf[leafCountOff:], uint16(n))
}

func (l *Leaf) entryOff(i int) int { return leafDataOff + i*l.lay.EntryLen }

func (l *Leaf) KeyBytes(i int) []byte {
	off := l.entryOff(i)
	return l.buf[off : off+l.lay.KeyLen]
}

func (l *Leaf) RowID(i int) heap.RowID {
	off := l.entryOff(i) + l.lay.KeyLen
	return heap.RowID(binary.LittleEndian.Uint64(l.buf[off:]))
}

func (l *Leaf) setEntry(i int, key []byte, rid heap.RowID) {
	off := l.entryOff(i)
	copy(l.buf[off:off+l.lay.KeyLen], key)
	binary.LittleEndian.PutUint64(l.buf[off+l.lay.KeyLen:], uint64(rid))
}

// InsertAt shifts entries [at..) right by one slot and writes (key, rid)
// at at. Caller guarantees KeyCount() < MaxLeaf.
func (l *Leaf) InsertAt(at int, key []byte, rid heap.RowID) {
	n := l.KeyCount()
	for i := n; i > at; i-- {
		l.setEntry(i, l.KeyBytes(i-1), l.RowID(i-1))
	}
	l.setEntry(at, key, rid)
	l.setKeyCount(n + 1)
}

// RemoveAt removes the entry at index at, shifting the remainder left.
func (l *Leaf) RemoveAt(at int) {
	n := l.KeyCount()
	for i := at; i < n-1; i++ {
		l.setEntry(i, l.KeyBytes(i+1), l.RowID(i+1))
	}
	l.setKeyCount(n - 1)
}

func (l *Leaf) Full() bool { return l.KeyCount() >= l.lay.MaxLeaf }

// SetAll overwrites the leaf's entire entry array with keys/rids (which
// must be the same length), replacing whatever was there before.
func (l *Leaf) SetAll(keys [][]byte, rids []heap.RowID) {
	for i := range keys {
		l.setEntry(i, keys[i], rids[i])
	}
	l.setKeyCount(len(keys))
}

// ── Internal ────────────────────────────────────────────────────────────

// Internal wraps a page buffer as a B+Tree internal node with n keys and
// n+1 children.
type Internal struct {
	buf []byte
	lay Layout
}

func WrapInternal(buf []byte, lay Layout) *Internal { return &Internal{buf: buf, lay: lay} }

func InitInternal(buf []byte, id pager.PageID, lay Layout) *Internal {
	h := &pager.PageHeader{Type: pager.PageTypeBTreeInternal, ID: id}
	pager.MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[internalCountOff:], 0)
	return &Internal{buf: buf, lay: lay}
}

func (n *Internal) PageID() pager.PageID { return pager.HeaderPageID(n.buf) }

func (n *Internal) KeyCount() int {
	return int(binary.LittleEndian.Uint16(n.buf[internalCountOff:]))
}
func (n *Internal) setKeyCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[internalCountOff:], uint16(c))
}

func (n *Internal) childOff(i int) int { return internalChildrenOff + i*4 }
func (n *Internal) keysOff() int       { return internalChildrenOff + (n.lay.MaxKeys+1)*4 }
func (n *Internal) keyOff(i int) int   { return n.keysOff() + i*n.lay.KeyLen }

func (n *Internal) Child(i int) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(n.buf[n.childOff(i):]))
}
func (n *Internal) setChild(i int, id pager.PageID) {
	binary.LittleEndian.PutUint32(n.buf[n.childOff(i):], uint32(id))
}

func (n *Internal) KeyBytes(i int) []byte {
	off := n.keyOff(i)
	return n.buf[off : off+n.lay.KeyLen]
}
func (n *Internal) setKey(i int, key []byte) {
	copy(n.buf[n.keyOff(i):n.keyOff(i)+n.lay.KeyLen], key)
}

// SetSoleChild initializes an internal node with a single child and no
// keys — used only when creating a brand-new root over one existing node.
func (n *Internal) SetSoleChild(id pager.PageID) {
	n.setChild(0, id)
	n.setKeyCount(0)
}

// InsertChildAt inserts key at key-index at and the new child immediately
// to its right (child index at+1), shifting later keys/children right.
func (n *Internal) InsertChildAt(at int, key []byte, child pager.PageID) {
	nk := n.KeyCount()
	for i := nk; i > at; i-- {
		n.setKey(i, n.KeyBytes(i-1))
	}
	n.setKey(at, key)
	for i := nk + 1; i > at+1; i-- {
		n.setChild(i, n.Child(i-1))
	}
	n.setChild(at+1, child)
	n.setKeyCount(nk + 1)
}

// RemoveKeyAt removes key index at and the child immediately to its right
// (child index at+1), shifting the remainder left.
func (n *Internal) RemoveKeyAt(at int) {
	nk := n.KeyCount()
	for i := at; i < nk-1; i++ {
		n.setKey(i, n.KeyBytes(i+1))
	}
	for i := at + 1; i < nk; i++ {
		n.setChild(i, n.Child(i+1))
	}
	n.setKeyCount(nk - 1)
}

func (n *Internal) Full() bool { return n.KeyCount() >= n.lay.MaxKeys }

// SetKey overwrites key index i in place, without touching children or
// key count — used by redistribution to rewrite a parent separator.
func (n *Internal) SetKey(i int, key []byte) { n.setKey(i, key) }

// SetAll overwrites the node's entire key/child arrays (len(children) must
// be len(keys)+1), replacing whatever was there before.
func (n *Internal) SetAll(keys [][]byte, children []pager.PageID) {
	for i, c := range children {
		n.setChild(i, c)
	}
	for i, k := range keys {
		n.setKey(i, k)
	}
	n.setKeyCount(len(keys))
}

// PrependChild inserts key as the new key 0 and child as the new child 0,
// shifting every existing key/child right by one. Used when a node
// borrows its leftmost entry from its left sibling during redistribution.
func (n *Internal) PrependChild(key []byte, child pager.PageID) {
	nk := n.KeyCount()
	for i := nk; i > 0; i-- {
		n.setKey(i, n.KeyBytes(i-1))
	}
	for i := nk + 1; i > 0; i-- {
		n.setChild(i, n.Child(i-1))
	}
	n.setKey(0, key)
	n.setChild(0, child)
	n.setKeyCount(nk + 1)
}

// AppendChild inserts key as the new last key and child as the new last
// child. Used when a node borrows its rightmost entry from its right
// sibling during redistribution.
func (n *Internal) AppendChild(key []byte, child pager.PageID) {
	nk := n.KeyCount()
	n.setKey(nk, key)
	n.setChild(nk+1, child)
	n.setKeyCount(nk + 1)
}

// RemoveFirstChild drops key 0 and child 0, shifting the remainder left.
func (n *Internal) RemoveFirstChild() {
	nk := n.KeyCount()
	for i := 0; i < nk-1; i++ {
		n.setKey(i, n.KeyBytes(i+1))
	}
	for i := 0; i < nk; i++ {
		n.setChild(i, n.Child(i+1))
	}
	n.setKeyCount(nk - 1)
}

// RemoveLastChild drops the last key and the last child.
func (n *Internal) RemoveLastChild() {
	n.setKeyCount(n.KeyCount() - 1)
}

// FindChild returns the index of the child to descend into for key,
// per §4.4 "Search": binary search for the first key > target, descend
// the child to its left; on an exact match, descend the right child
// (leaves hold the true data).
func FindChild(schema *row.Schema, n *Internal, key Key) int {
	lo, hi := 0, n.KeyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := Compare(schema, DecodeKey(schema, n.KeyBytes(mid)), key)
		if cmp <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// FindInLeaf binary-searches l for key, returning (index, true) on an
// exact match or (insertion index, false) otherwise.
func FindInLeaf(schema *row.Schema, l *Leaf, key Key) (int, bool) {
	lo, hi := 0, l.KeyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := Compare(schema, DecodeKey(schema, l.KeyBytes(mid)), key)
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < l.KeyCount() && Compare(schema, DecodeKey(schema, l.KeyBytes(lo)), key) == 0 {
		return lo, true
	}
	return lo, false
}
