package pager

import (
	"fmt"
	"os"

	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// ───────────────────────────────────────────────────────────────────────────
// Disk Manager
// ───────────────────────────────────────────────────────────────────────────
//
// Owns the single database file. A PageID is the page's physical slot
// number in the file (offset = id * pageSize) for every page kind — meta,
// bitmap, and data pages alike. What the disk manager "translates" is not
// read/write addressing (that is direct, per §4.1: "read_page/write_page
// are direct file I/O") but *allocation*: turning "give me a free page"
// into a concrete slot via the extent/bitmap math below.
//
// The file is a sequence of extents. Extent e occupies physical slots
// [1+e*(B+1) .. 1+e*(B+1)+B], where slot 1+e*(B+1) is the extent's bitmap
// page and the following B slots are its data pages; slot 0 is always the
// meta page. B = BitsPerBitmap(pageSize).

type DiskManager struct {
	file        *os.File
	pageSize    int
	b           int // bits per bitmap page (data pages per extent)
	meta        *MetaPage
	extentCount int
}

// OpenDiskManager opens an existing database file or creates a new one at
// path, with a single empty extent.
func OpenDiskManager(path string, pageSize int) (*DiskManager, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open database file: %v", storageerr.ErrIOError, err)
	}

	dm := &DiskManager{file: f, pageSize: pageSize}

	if isNew {
		dm.meta = NewMetaPage(pageSize)
		dm.b = BitsPerBitmap(pageSize)
		if err := dm.writeRaw(MetaPageID, MarshalMetaPage(dm.meta, pageSize)); err != nil {
			f.Close()
			return nil, err
		}
		// First extent, empty.
		bmBuf := make([]byte, pageSize)
		InitBitmapPage(bmBuf, FirstBitmapPageID, 0)
		SetPageCRC(bmBuf)
		if err := dm.writeRaw(FirstBitmapPageID, bmBuf); err != nil {
			f.Close()
			return nil, err
		}
		dm.extentCount = 1
		if err := dm.persistMeta(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, pageSize)
		if err := dm.readRawInto(MetaPageID, buf); err != nil {
			f.Close()
			return nil, err
		}
		m, err := UnmarshalMetaPage(buf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", storageerr.ErrCorruption, err)
		}
		dm.meta = m
		dm.pageSize = int(m.PageSize)
		dm.b = BitsPerBitmap(dm.pageSize)
		dm.extentCount = int(m.NextPageID) // repurposed: count of extents created
	}

	return dm, nil
}

// PageSize returns the configured page size for this file.
func (dm *DiskManager) PageSize() int { return dm.pageSize }

// CatalogRoot returns the persisted catalog root page ID (InvalidPageID if
// no catalog has been created yet).
func (dm *DiskManager) CatalogRoot() PageID { return dm.meta.CatalogRoot }

// SetCatalogRoot persists a new catalog root page ID into the meta page.
func (dm *DiskManager) SetCatalogRoot(id PageID) error {
	dm.meta.CatalogRoot = id
	return dm.persistMeta()
}

func (dm *DiskManager) persistMeta() error {
	dm.meta.NextPageID = PageID(dm.extentCount)
	return dm.writeRaw(MetaPageID, MarshalMetaPage(dm.meta, dm.pageSize))
}

// ── Direct file I/O ───────────────────────────────────────────────────────

func (dm *DiskManager) offset(id PageID) int64 {
	return int64(id) * int64(dm.pageSize)
}

func (dm *DiskManager) readRawInto(id PageID, buf []byte) error {
	if _, err := dm.file.ReadAt(buf, dm.offset(id)); err != nil {
		return fmt.Errorf("%w: read page %d: %v", storageerr.ErrIOError, id, err)
	}
	return nil
}

func (dm *DiskManager) writeRaw(id PageID, buf []byte) error {
	if _, err := dm.file.WriteAt(buf, dm.offset(id)); err != nil {
		return fmt.Errorf("%w: write page %d: %v", storageerr.ErrIOError, id, err)
	}
	return nil
}

// ReadPage reads page id directly from the file into buf, verifying its
// checksum. Called by the buffer pool only on a cache miss.
func (dm *DiskManager) ReadPage(id PageID, buf []byte) error {
	if err := dm.readRawInto(id, buf); err != nil {
		return err
	}
	if err := VerifyPageCRC(buf); err != nil {
		return fmt.Errorf("%w: %v", storageerr.ErrCorruption, err)
	}
	return nil
}

// WritePage writes page id directly to the file, recomputing its checksum.
// Called by the buffer pool only on eviction or explicit flush.
func (dm *DiskManager) WritePage(id PageID, buf []byte) error {
	SetPageCRC(buf)
	return dm.writeRaw(id, buf)
}

func (dm *DiskManager) Sync() error {
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", storageerr.ErrIOError, err)
	}
	return nil
}

func (dm *DiskManager) Close() error {
	return dm.file.Close()
}

// ── Extent addressing ─────────────────────────────────────────────────────

func (dm *DiskManager) bitmapSlot(e int) PageID {
	return PageID(1 + e*(dm.b+1))
}

func (dm *DiskManager) dataSlot(e, o int) PageID {
	return PageID(1 + e*(dm.b+1) + 1 + o)
}

// locate inverts dataSlot, returning the extent index and intra-extent
// offset for a data page's physical slot.
func (dm *DiskManager) locate(id PageID) (e, o int) {
	rel := int(id) - 2
	e = rel / (dm.b + 1)
	o = rel % (dm.b + 1)
	return e, o
}

// ── Allocation ─────────────────────────────────────────────────────────────
//
// AllocatePage and DeallocatePage mutate a bitmap page's bits, so they fetch
// and unpin it through the buffer pool rather than reading/writing the
// bitmap page directly — the pool, not the disk manager, owns that page's
// residency and dirty tracking (§4.1: "the disk manager itself does not
// bypass the pool for bitmap maintenance").

// AllocatePage finds the first free data-page slot across existing extents,
// marking it allocated, growing the file with a new extent if all existing
// ones are full.
func (dm *DiskManager) AllocatePage(pool *BufferPool) (PageID, error) {
	for e := 0; e < dm.extentCount; e++ {
		bitmapID := dm.bitmapSlot(e)
		fr, err := pool.Fetch(bitmapID)
		if err != nil {
			return InvalidPageID, err
		}
		bmp := WrapBitmapPage(fr.Data)
		if o, ok := bmp.FirstClear(dm.b); ok {
			bmp.Set(o)
			pool.Unpin(bitmapID, true)
			return dm.dataSlot(e, o), nil
		}
		pool.Unpin(bitmapID, false)
	}

	// Every extent is full — grow the file with a fresh one. The new
	// bitmap page is written directly (it does not exist on disk yet, so
	// the pool cannot fetch it); subsequent accesses go through the pool
	// like any other bitmap page.
	e := dm.extentCount
	bitmapID := dm.bitmapSlot(e)
	buf := make([]byte, dm.pageSize)
	bmp := InitBitmapPage(buf, bitmapID, uint32(e))
	bmp.Set(0)
	if err := dm.WritePage(bitmapID, buf); err != nil {
		return InvalidPageID, err
	}
	dm.extentCount++
	if err := dm.persistMeta(); err != nil {
		return InvalidPageID, err
	}
	return dm.dataSlot(e, 0), nil
}

// DeallocatePage clears the bit for id's slot in its extent's bitmap page.
func (dm *DiskManager) DeallocatePage(pool *BufferPool, id PageID) error {
	e, o := dm.locate(id)
	if e < 0 || e >= dm.extentCount || o < 0 || o >= dm.b {
		return fmt.Errorf("%w: deallocate: page %d is not a valid data page", storageerr.ErrInvalidPage, id)
	}
	bitmapID := dm.bitmapSlot(e)
	fr, err := pool.Fetch(bitmapID)
	if err != nil {
		return err
	}
	bmp := WrapBitmapPage(fr.Data)
	bmp.Clear(o)
	pool.Unpin(bitmapID, true)
	return nil
}

// IsPageFree reports whether id's bit is currently clear.
func (dm *DiskManager) IsPageFree(pool *BufferPool, id PageID) (bool, error) {
	e, o := dm.locate(id)
	if e < 0 || e >= dm.extentCount || o < 0 || o >= dm.b {
		return false, fmt.Errorf("%w: is_page_free: page %d is not a valid data page", storageerr.ErrInvalidPage, id)
	}
	bitmapID := dm.bitmapSlot(e)
	fr, err := pool.Fetch(bitmapID)
	if err != nil {
		return false, err
	}
	bmp := WrapBitmapPage(fr.Data)
	free := !bmp.IsSet(o)
	pool.Unpin(bitmapID, false)
	return free, nil
}
