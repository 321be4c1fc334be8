package heap

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
)

func testSchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{
		{Name: "id", Type: row.INT, PrimaryKey: true},
		{Name: "v", Type: row.CHAR, Length: 32},
	}}
}

func newTestPool(t *testing.T, numFrames int) *pager.BufferPool {
	t.Helper()
	dir := t.TempDir()
	dm, err := pager.OpenDiskManager(filepath.Join(dir, "test.db"), pager.DefaultPageSize)
	if err != nil {
		t.Fatalf("open disk manager: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return pager.NewBufferPool(dm, numFrames)
}

func TestHeap_InsertGetDelete(t *testing.T) {
	pool := newTestPool(t, 8)
	s := testSchema()
	h, err := Create(pool, s)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rid, err := h.Insert(row.Row{Values: []any{int32(1), "hello"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Values[1].(string) != "hello" {
		t.Fatalf("got %+v", got)
	}

	if err := h.Delete(rid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.Get(rid); err == nil {
		t.Fatal("expected error reading a deleted row")
	}
}

func TestHeap_UpdateInPlaceAndRelocate(t *testing.T) {
	pool := newTestPool(t, 8)
	s := testSchema()
	h, _ := Create(pool, s)

	rid, _ := h.Insert(row.Row{Values: []any{int32(1), "short"}})
	rid2, err := h.Update(rid, row.Row{Values: []any{int32(1), "still short"}})
	if err != nil {
		t.Fatalf("in-place update: %v", err)
	}
	if rid2 != rid {
		t.Fatalf("in-place update changed RowID: %v -> %v", rid, rid2)
	}

	rid3, err := h.Update(rid, row.Row{Values: []any{int32(1), strings.Repeat("x", 32)}})
	if err != nil {
		t.Fatalf("grow update: %v", err)
	}
	got, err := h.Get(rid3)
	if err != nil {
		t.Fatalf("get after relocate: %v", err)
	}
	if got.Values[1].(string) != strings.Repeat("x", 32) {
		t.Fatalf("got %+v", got)
	}
}

func TestHeap_ScanYieldsAllLiveRows(t *testing.T) {
	pool := newTestPool(t, 8)
	s := testSchema()
	h, _ := Create(pool, s)

	const n = 50
	var rids []RowID
	for i := 0; i < n; i++ {
		rid, err := h.Insert(row.Row{Values: []any{int32(i), "v"}})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, rid)
	}
	for i := 0; i < n; i += 2 {
		if err := h.Delete(rids[i]); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	cur := h.Scan()
	count := 0
	for {
		_, r, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		if r.Values[0].(int32)%2 == 0 {
			t.Fatalf("tombstoned row surfaced by scan: %+v", r)
		}
		count++
	}
	if count != n/2 {
		t.Fatalf("scan count: got %d want %d", count, n/2)
	}
}

// TestSlottedPage_CompactionReclaimsFragmentedSpace is spec §8 S5: filling
// a page to one tuple short of capacity, deleting the first-inserted
// tuple (leaving a tombstone plus fragmented free space), then inserting
// a tuple that only fits after compaction must succeed, and every
// surviving slot index must still resolve to its original data.
func TestSlottedPage_CompactionReclaimsFragmentedSpace(t *testing.T) {
	buf := make([]byte, pager.DefaultPageSize)
	p := InitPage(buf, 1)

	tuple := []byte(strings.Repeat("a", 200))
	var slots []int
	for {
		idx, err := p.InsertTuple(tuple)
		if err != nil {
			break
		}
		slots = append(slots, idx)
	}
	if len(slots) < 2 {
		t.Fatalf("expected at least two tuples to fit one page, got %d", len(slots))
	}

	if err := p.DeleteTuple(slots[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if p.FreeSpace() >= len(tuple) {
		t.Fatal("test setup invalid: tuple should not fit without compaction")
	}
	if p.FragmentedFreeSpace() < len(tuple) {
		t.Fatal("test setup invalid: tuple should fit after compaction")
	}

	p.Compact()
	newIdx, err := p.InsertTuple([]byte(strings.Repeat("b", 200)))
	if err != nil {
		t.Fatalf("insert after compaction should succeed: %v", err)
	}

	for _, idx := range slots[1:] {
		if !bytes.Equal(p.GetTuple(idx), tuple) {
			t.Fatalf("surviving slot %d corrupted after compaction", idx)
		}
	}
	if !bytes.Equal(p.GetTuple(newIdx), []byte(strings.Repeat("b", 200))) {
		t.Fatalf("new tuple at slot %d unreadable or wrong", newIdx)
	}
	if !p.IsTombstone(slots[0]) {
		t.Fatal("slot 0 should remain tombstoned after compaction")
	}
}

func TestHeap_OpenWrapsExistingChain(t *testing.T) {
	pool := newTestPool(t, 8)
	s := testSchema()
	h, _ := Create(pool, s)
	rid, _ := h.Insert(row.Row{Values: []any{int32(7), "persisted"}})

	h2 := Open(pool, s, h.HeadPageID())
	got, err := h2.Get(rid)
	if err != nil {
		t.Fatalf("get via reopened handle: %v", err)
	}
	if got.Values[1].(string) != "persisted" {
		t.Fatalf("got %+v", got)
	}
}
