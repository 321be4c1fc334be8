package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestPageHeader_MarshalRoundTrip(t *testing.T) {
	h := PageHeader{Type: PageTypeBTreeLeaf, Flags: 0x42, ID: PageID(99), LSN: 12345}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(&h, buf)
	h2 := UnmarshalHeader(buf)
	if h2.Type != h.Type || h2.Flags != h.Flags || h2.ID != h.ID || h2.LSN != h.LSN {
		t.Fatalf("header roundtrip mismatch: %+v vs %+v", h, h2)
	}
}

func TestCRC_DetectsCorruption(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeBTreeLeaf, 1)
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func newTestDiskManager(t *testing.T) *DiskManager {
	t.Helper()
	dir := t.TempDir()
	dm, err := OpenDiskManager(filepath.Join(dir, "test.db"), DefaultPageSize)
	if err != nil {
		t.Fatalf("open disk manager: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestDiskManager_AllocateWriteReadDeallocate(t *testing.T) {
	dm := newTestDiskManager(t)
	pool := NewBufferPool(dm, 8)

	id, frame, err := pool.NewPage()
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	copy(frame.Data[PageHeaderSize:], []byte("hello world"))
	if err := pool.Unpin(id, true); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if err := pool.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	frame2, err := pool.Fetch(id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(frame2.Data[PageHeaderSize:PageHeaderSize+11], []byte("hello world")) {
		t.Fatalf("round-tripped data mismatch")
	}
	pool.Unpin(id, false)

	free, err := dm.IsPageFree(pool, id)
	if err != nil {
		t.Fatalf("is_page_free: %v", err)
	}
	if free {
		t.Fatal("freshly allocated page should not be free")
	}

	if err := pool.DeletePage(id); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	free, err = dm.IsPageFree(pool, id)
	if err != nil {
		t.Fatalf("is_page_free after delete: %v", err)
	}
	if !free {
		t.Fatal("deleted page should be free")
	}
}

func TestDiskManager_AllocationsAreUnique(t *testing.T) {
	dm := newTestDiskManager(t)
	pool := NewBufferPool(dm, 16)

	seen := map[PageID]bool{}
	for i := 0; i < 64; i++ {
		id, _, err := pool.NewPage()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("page ID %d allocated twice", id)
		}
		seen[id] = true
		pool.Unpin(id, true)
	}
}

// TestBufferPool_OutOfFrames is spec §8 S4: sequentially fetching and
// unpinning never exhausts a 4-frame pool, but holding every pin does.
func TestBufferPool_OutOfFrames(t *testing.T) {
	dm := newTestDiskManager(t)
	pool := NewBufferPool(dm, 4)

	var ids []PageID
	for i := 0; i < 11; i++ {
		id, _, err := pool.NewPage()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		ids = append(ids, id)
		pool.Unpin(id, true)
	}

	for _, id := range ids {
		if _, err := pool.Fetch(id); err != nil {
			t.Fatalf("fetch-then-unpin should never exhaust the pool: %v", err)
		}
		if err := pool.Unpin(id, false); err != nil {
			t.Fatalf("unpin: %v", err)
		}
	}

	pinned := 0
	for _, id := range ids {
		if _, err := pool.Fetch(id); err != nil {
			if pinned < 4 {
				t.Fatalf("fetch %d (pinned=%d) unexpectedly failed: %v", id, pinned, err)
			}
			return
		}
		pinned++
	}
	t.Fatal("expected OutOfFrames once more than 4 pages were pinned simultaneously")
}

func TestDiskManager_ReopenPreservesCatalogRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	dm, err := OpenDiskManager(path, DefaultPageSize)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewBufferPool(dm, 8)
	id, _, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	pool.Unpin(id, true)
	if err := dm.SetCatalogRoot(id); err != nil {
		t.Fatal(err)
	}
	if err := pool.FlushAll(); err != nil {
		t.Fatal(err)
	}
	dm.Close()

	dm2, err := OpenDiskManager(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer dm2.Close()
	if dm2.CatalogRoot() != id {
		t.Fatalf("catalog root: got %d want %d", dm2.CatalogRoot(), id)
	}
}
