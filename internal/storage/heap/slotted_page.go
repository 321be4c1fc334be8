// Package heap implements the Record Heap (§4.3): a doubly linked list of
// slotted table pages per table, with tuple insert/update/delete/get and a
// forward iterator. Tuples are referenced by RowID = (page_id, slot).
package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// ───────────────────────────────────────────────────────────────────────────
// Heap page layout (slotted)
// ───────────────────────────────────────────────────────────────────────────
//
//   [0:10]   common PageHeader (Type = TableHeap)
//   [10:14]  PrevPage         uint32 LE
//   [14:18]  NextPage         uint32 LE
//   [18:20]  FreeSpaceOffset  uint16 LE — next tuple is written just below this
//   [20:22]  SlotCount        uint16 LE — including tombstones
//   [22:24]  TupleCount       uint16 LE — live (non-tombstone) slots
//   [24..]   slot directory, growing forward: (offset uint16, length uint16)
//            per slot; length 0 is a tombstone.
//   ...      free space ...
//   tuples, growing backward from FreeSpaceOffset to the trailing CRC.

const (
	heapPrevOff      = pager.PageHeaderSize     // 10
	heapNextOff      = heapPrevOff + 4          // 14
	heapFreeOff      = heapNextOff + 4          // 18
	heapSlotCountOff = heapFreeOff + 2          // 20
	heapTupleCntOff  = heapSlotCountOff + 2     // 22
	heapSlotDirOff   = heapTupleCntOff + 2      // 24
	slotEntrySize    = 4
)

// Slot describes one entry in the slot directory.
type Slot struct {
	Offset uint16
	Length uint16 // 0 = tombstone
}

// Page wraps a page buffer as a table-heap slotted page.
type Page struct {
	buf []byte
}

// WrapPage wraps an existing buffer.
func WrapPage(buf []byte) *Page { return &Page{buf: buf} }

// InitPage initializes buf as an empty heap page.
func InitPage(buf []byte, id pager.PageID) *Page {
	h := &pager.PageHeader{Type: pager.PageTypeTableHeap, ID: id}
	pager.MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[heapPrevOff:], uint32(pager.InvalidPageID))
	binary.LittleEndian.PutUint32(buf[heapNextOff:], uint32(pager.InvalidPageID))
	binary.LittleEndian.PutUint16(buf[heapFreeOff:], uint16(usableEnd(len(buf))))
	binary.LittleEndian.PutUint16(buf[heapSlotCountOff:], 0)
	binary.LittleEndian.PutUint16(buf[heapTupleCntOff:], 0)
	return &Page{buf: buf}
}

func usableEnd(pageSize int) int { return pageSize - pager.CRCSize }

func (p *Page) PageID() pager.PageID { return pager.HeaderPageID(p.buf) }

func (p *Page) PrevPage() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(p.buf[heapPrevOff:]))
}
func (p *Page) SetPrevPage(id pager.PageID) {
	binary.LittleEndian.PutUint32(p.buf[heapPrevOff:], uint32(id))
}
func (p *Page) NextPage() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(p.buf[heapNextOff:]))
}
func (p *Page) SetNextPage(id pager.PageID) {
	binary.LittleEndian.PutUint32(p.buf[heapNextOff:], uint32(id))
}

func (p *Page) freeSpaceOffset() int {
	return int(binary.LittleEndian.Uint16(p.buf[heapFreeOff:]))
}
func (p *Page) setFreeSpaceOffset(v int) {
	binary.LittleEndian.PutUint16(p.buf[heapFreeOff:], uint16(v))
}

// SlotCount returns the number of slots, including tombstones.
func (p *Page) SlotCount() int {
	return int(binary.LittleEndian.Uint16(p.buf[heapSlotCountOff:]))
}
func (p *Page) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(p.buf[heapSlotCountOff:], uint16(n))
}

// TupleCount returns the number of live (non-tombstone) slots.
func (p *Page) TupleCount() int {
	return int(binary.LittleEndian.Uint16(p.buf[heapTupleCntOff:]))
}
func (p *Page) setTupleCount(n int) {
	binary.LittleEndian.PutUint16(p.buf[heapTupleCntOff:], uint16(n))
}

func (p *Page) slotDirEnd() int { return heapSlotDirOff + p.SlotCount()*slotEntrySize }

// FreeSpace is the number of bytes available for one more tuple plus its
// slot-directory entry.
func (p *Page) FreeSpace() int {
	return p.freeSpaceOffset() - p.slotDirEnd() - slotEntrySize
}

// FragmentedFreeSpace is what FreeSpace would be after Compact: it adds in
// the bytes tied up by tombstoned tuples, which compaction can reclaim,
// and like FreeSpace reserves room for one more slot-directory entry.
func (p *Page) FragmentedFreeSpace() int {
	live := 0
	for i := 0; i < p.SlotCount(); i++ {
		s := p.GetSlot(i)
		if s.Length > 0 {
			live += int(s.Length)
		}
	}
	return usableEnd(len(p.buf)) - p.slotDirEnd() - live - slotEntrySize
}

func (p *Page) GetSlot(i int) Slot {
	off := heapSlotDirOff + i*slotEntrySize
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.buf[off:]),
		Length: binary.LittleEndian.Uint16(p.buf[off+2:]),
	}
}

func (p *Page) setSlot(i int, s Slot) {
	off := heapSlotDirOff + i*slotEntrySize
	binary.LittleEndian.PutUint16(p.buf[off:], s.Offset)
	binary.LittleEndian.PutUint16(p.buf[off+2:], s.Length)
}

// IsTombstone reports whether slot i has been deleted.
func (p *Page) IsTombstone(i int) bool { return p.GetSlot(i).Length == 0 }

// GetTuple returns the raw bytes stored at slot i, or nil if it is a tombstone.
func (p *Page) GetTuple(i int) []byte {
	s := p.GetSlot(i)
	if s.Length == 0 {
		return nil
	}
	return p.buf[s.Offset : s.Offset+s.Length]
}

// InsertTuple appends data as a new slot (slot indices are never reused by
// insert — only deletion tombstones an existing one). Returns the new slot
// index, or an error if contiguous free space is insufficient.
func (p *Page) InsertTuple(data []byte) (int, error) {
	if p.FreeSpace() < len(data) {
		return -1, fmt.Errorf("%w: heap page full: need %d, have %d contiguous", storageerr.ErrInvariantViolation, len(data), p.FreeSpace())
	}
	newOff := p.freeSpaceOffset() - len(data)
	copy(p.buf[newOff:], data)
	p.setFreeSpaceOffset(newOff)

	idx := p.SlotCount()
	p.setSlot(idx, Slot{Offset: uint16(newOff), Length: uint16(len(data))})
	p.setSlotCount(idx + 1)
	p.setTupleCount(p.TupleCount() + 1)
	return idx, nil
}

// DeleteTuple tombstones slot i (length 0). The slot index is never vacated.
func (p *Page) DeleteTuple(i int) error {
	if i < 0 || i >= p.SlotCount() {
		return fmt.Errorf("%w: slot %d out of range [0,%d)", storageerr.ErrInvalidPage, i, p.SlotCount())
	}
	if p.IsTombstone(i) {
		return fmt.Errorf("%w: slot %d already deleted", storageerr.ErrNotFound, i)
	}
	p.setSlot(i, Slot{})
	p.setTupleCount(p.TupleCount() - 1)
	return nil
}

// UpdateTupleInPlace overwrites slot i if data fits in its existing
// footprint. Returns false if the new data does not fit — the caller
// should fall back to delete+reinsert.
func (p *Page) UpdateTupleInPlace(i int, data []byte) bool {
	s := p.GetSlot(i)
	if int(s.Length) < len(data) {
		return false
	}
	copy(p.buf[s.Offset:], data)
	p.setSlot(i, Slot{Offset: s.Offset, Length: uint16(len(data))})
	return true
}

// Compact rewrites the page's tuple area to eliminate fragmentation left
// by deletions, preserving each live slot's index — only offsets change.
// Tombstoned slots remain tombstoned at their index.
func (p *Page) Compact() {
	sc := p.SlotCount()
	type live struct {
		idx  int
		data []byte
	}
	entries := make([]live, 0, sc)
	for i := 0; i < sc; i++ {
		if !p.IsTombstone(i) {
			s := p.GetSlot(i)
			entries = append(entries, live{idx: i, data: append([]byte(nil), p.buf[s.Offset:s.Offset+s.Length]...)})
		}
	}
	end := usableEnd(len(p.buf))
	p.setFreeSpaceOffset(end)
	for _, e := range entries {
		newOff := p.freeSpaceOffset() - len(e.data)
		copy(p.buf[newOff:], e.data)
		p.setFreeSpaceOffset(newOff)
		p.setSlot(e.idx, Slot{Offset: uint16(newOff), Length: uint16(len(e.data))})
	}
}

func (p *Page) Bytes() []byte { return p.buf }
