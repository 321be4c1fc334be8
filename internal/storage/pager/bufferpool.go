package pager

import (
	"fmt"

	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool
// ───────────────────────────────────────────────────────────────────────────
//
// A fixed array of P frames (default 64) caching pages by logical ID. Pin
// counts, dirty bits and an LRU replacer enforce that a pinned frame is
// never evicted. This is the only cache in the system — the disk manager
// does no caching of its own (§5 "Shared resources").

// Frame is one slot in the pool, holding one page's bytes.
type Frame struct {
	PageID   PageID
	Data     []byte
	pinCount int
	dirty    bool
}

// Stats is a point-in-time snapshot of pool activity, surfaced to the
// engine for §6 "pool statistics".
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Pinned    int // frames with pin count > 0 right now
}

// BufferPool is the fixed-size page cache sitting above a DiskManager. Per
// §5 the core is single-threaded cooperative, so the pool itself holds no
// internal lock — callers do not invoke it concurrently. AllocatePage and
// DeallocatePage re-enter the pool (to fetch/unpin a bitmap page) from the
// very call that is itself inside NewPage/DeletePage; a lock here would
// self-deadlock rather than protect anything.
type BufferPool struct {
	disk     *DiskManager
	frames   []Frame
	pageTbl  map[PageID]int // page ID -> frame index
	freeList []int
	replacer *LRUReplacer

	hits, misses, evictions uint64
}

// NewBufferPool allocates numFrames frames over disk.
func NewBufferPool(disk *DiskManager, numFrames int) *BufferPool {
	if numFrames <= 0 {
		numFrames = 64
	}
	bp := &BufferPool{
		disk:     disk,
		frames:   make([]Frame, numFrames),
		pageTbl:  make(map[PageID]int, numFrames),
		freeList: make([]int, numFrames),
		replacer: NewLRUReplacer(),
	}
	for i := 0; i < numFrames; i++ {
		bp.freeList[i] = numFrames - 1 - i
	}
	return bp
}

// acquireFrame returns an index ready to hold a page: from the free list,
// or by evicting the LRU victim (flushing it first if dirty). Returns
// ErrOutOfFrames if every frame is pinned.
func (bp *BufferPool) acquireFrame() (int, error) {
	if n := len(bp.freeList); n > 0 {
		idx := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return idx, nil
	}
	victim, ok := bp.replacer.Victim()
	if !ok {
		return -1, storageerr.ErrOutOfFrames
	}
	f := &bp.frames[victim]
	if f.dirty {
		if err := bp.disk.WritePage(f.PageID, f.Data); err != nil {
			return -1, err
		}
	}
	delete(bp.pageTbl, f.PageID)
	bp.evictions++
	return victim, nil
}

// Fetch returns the frame holding id, pinning it. On a cache miss, a frame
// is acquired and the page is read from disk.
func (bp *BufferPool) Fetch(id PageID) (*Frame, error) {
	if idx, ok := bp.pageTbl[id]; ok {
		bp.hits++
		bp.replacer.Pin(idx)
		bp.frames[idx].pinCount++
		return &bp.frames[idx], nil
	}

	bp.misses++
	idx, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}
	f := &bp.frames[idx]
	if f.Data == nil {
		f.Data = make([]byte, bp.disk.PageSize())
	}
	if err := bp.disk.ReadPage(id, f.Data); err != nil {
		bp.freeList = append(bp.freeList, idx)
		return nil, err
	}
	f.PageID = id
	f.pinCount = 1
	f.dirty = false
	bp.pageTbl[id] = idx
	return f, nil
}

// Unpin decrements id's pin count and ORs in the dirty flag. When the pin
// count reaches zero the frame becomes eligible for eviction.
func (bp *BufferPool) Unpin(id PageID, dirty bool) error {
	idx, ok := bp.pageTbl[id]
	if !ok {
		return fmt.Errorf("%w: unpin: page %d not resident", storageerr.ErrInvariantViolation, id)
	}
	f := &bp.frames[idx]
	if f.pinCount <= 0 {
		return fmt.Errorf("%w: page %d", storageerr.ErrDoubleUnpin, id)
	}
	if dirty {
		f.dirty = true
	}
	f.pinCount--
	if f.pinCount == 0 {
		bp.replacer.Unpin(idx)
	}
	return nil
}

// NewPage allocates a fresh logical page via the disk manager, acquires a
// frame for it (same policy as Fetch), and returns it pinned and dirty.
func (bp *BufferPool) NewPage() (PageID, *Frame, error) {
	id, err := bp.disk.AllocatePage(bp)
	if err != nil {
		return InvalidPageID, nil, err
	}

	idx, err := bp.acquireFrame()
	if err != nil {
		_ = bp.disk.DeallocatePage(bp, id)
		return InvalidPageID, nil, err
	}
	f := &bp.frames[idx]
	if f.Data == nil {
		f.Data = make([]byte, bp.disk.PageSize())
	} else {
		for i := range f.Data {
			f.Data[i] = 0
		}
	}
	h := &PageHeader{ID: id}
	MarshalHeader(h, f.Data)
	f.PageID = id
	f.pinCount = 1
	f.dirty = true
	bp.pageTbl[id] = idx
	return id, f, nil
}

// DeletePage removes id from the pool and frees it on disk. Callable only
// when pin count is at most 1 (the caller's own pin); does not flush —
// flushing deleted bytes would write back data the disk manager is about
// to mark free.
func (bp *BufferPool) DeletePage(id PageID) error {
	idx, ok := bp.pageTbl[id]
	if ok {
		f := &bp.frames[idx]
		if f.pinCount > 1 {
			return fmt.Errorf("%w: delete_page: page %d pinned %d times", storageerr.ErrInvariantViolation, id, f.pinCount)
		}
		bp.replacer.Pin(idx) // ensure it is not sitting in the replacer
		delete(bp.pageTbl, id)
		f.dirty = false
		f.pinCount = 0
		bp.freeList = append(bp.freeList, idx)
	}
	return bp.disk.DeallocatePage(bp, id)
}

// Flush writes id back to disk if resident, clearing its dirty bit.
func (bp *BufferPool) Flush(id PageID) error {
	idx, ok := bp.pageTbl[id]
	if !ok {
		return nil
	}
	f := &bp.frames[idx]
	if err := bp.disk.WritePage(id, f.Data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAll writes every dirty resident page back to disk. Callers invoke
// this explicitly (DDL commit, engine shutdown); nothing flushes on a
// timer (§5 "Flush policy").
func (bp *BufferPool) FlushAll() error {
	for id, idx := range bp.pageTbl {
		f := &bp.frames[idx]
		if !f.dirty {
			continue
		}
		if err := bp.disk.WritePage(id, f.Data); err != nil {
			return err
		}
		f.dirty = false
	}
	return bp.disk.Sync()
}

// PageSize returns the page size of the underlying disk manager.
func (bp *BufferPool) PageSize() int { return bp.disk.PageSize() }

// Stats returns a snapshot of pool activity.
func (bp *BufferPool) Stats() Stats {
	pinned := 0
	for _, f := range bp.frames {
		if f.pinCount > 0 {
			pinned++
		}
	}
	return Stats{Hits: bp.hits, Misses: bp.misses, Evictions: bp.evictions, Pinned: pinned}
}
