package btree

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

func intKeySchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{{Name: "id", Type: row.INT, PrimaryKey: true}}}
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

func intKey(i int) Key { return Key{Values: []any{int32(i)}} }

func TestBTree_InsertAndLookup(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, err := Create(pool, intKeySchema(), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 300; i++ {
		if err := bt.Insert(intKey(i), heap.NewRowID(pager.PageID(i+1), 0)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 300; i++ {
		rid, found, err := bt.Lookup(intKey(i))
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d not found", i)
		}
		if rid.PageID() != pager.PageID(i+1) {
			t.Fatalf("key %d: got rowid %v", i, rid)
		}
	}
	if _, found, err := bt.Lookup(intKey(99999)); err != nil || found {
		t.Fatalf("expected not found for absent key, found=%v err=%v", found, err)
	}
}

// TestBTree_UniqueRejectsDuplicate is spec §8 S2.
func TestBTree_UniqueRejectsDuplicate(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, _ := Create(pool, intKeySchema(), true)
	if err := bt.Insert(intKey(1), heap.NewRowID(1, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := bt.Insert(intKey(1), heap.NewRowID(2, 0))
	if !errors.Is(err, storageerr.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	rid, found, err := bt.Lookup(intKey(1))
	if err != nil || !found || rid.PageID() != 1 {
		t.Fatalf("tree must be unmodified after rejected duplicate: rid=%v found=%v err=%v", rid, found, err)
	}
}

func TestBTree_NonUniqueKeepsBothEntries(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, _ := Create(pool, intKeySchema(), false)
	if err := bt.Insert(intKey(1), heap.NewRowID(1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := bt.Insert(intKey(1), heap.NewRowID(2, 0)); err != nil {
		t.Fatalf("non-unique tree should accept a duplicate key: %v", err)
	}
	cur, err := bt.Range(intKey(1), intKey(1), true, true)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		_, _, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected both entries under key 1, got %d", count)
	}
}

// TestBTree_RangeScanOrderedAndBounded is spec §8 S1's range-scan half:
// range(id ∈ [100,200]) returns exactly 101 rows in increasing order.
func TestBTree_RangeScanOrderedAndBounded(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, _ := Create(pool, intKeySchema(), true)
	for i := 0; i < 1000; i++ {
		if err := bt.Insert(intKey(i), heap.NewRowID(pager.PageID(i+1), 0)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	cur, err := bt.Range(intKey(100), intKey(200), true, true)
	if err != nil {
		t.Fatal(err)
	}
	want := 100
	count := 0
	for {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if k.Values[0].(int32) != int32(want) {
			t.Fatalf("out of order: got %d want %d", k.Values[0], want)
		}
		want++
		count++
	}
	if count != 101 {
		t.Fatalf("range count: got %d want 101", count)
	}
}

// TestBTree_DeleteAndRebalance is spec §8 S3: deleting every odd key out
// of 1000 leaves exactly the 500 even keys reachable, and a key can be
// reinserted afterward.
func TestBTree_DeleteAndRebalance(t *testing.T) {
	pool := newTestPool(t, 64)
	bt, _ := Create(pool, intKeySchema(), true)
	for i := 1; i <= 1000; i++ {
		if err := bt.Insert(intKey(i), heap.NewRowID(pager.PageID(i), 0)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := 1; i <= 999; i += 2 {
		if err := bt.Remove(intKey(i)); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}

	cur, err := bt.Range(intKey(1), intKey(1000), true, true)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if k.Values[0].(int32)%2 != 0 {
			t.Fatalf("odd key %d survived deletion", k.Values[0])
		}
		count++
	}
	if count != 500 {
		t.Fatalf("remaining count: got %d want 500", count)
	}

	if err := bt.Insert(intKey(3), heap.NewRowID(pager.PageID(12345), 0)); err != nil {
		t.Fatalf("reinsert deleted key: %v", err)
	}
	rid, found, err := bt.Lookup(intKey(3))
	if err != nil || !found || rid.PageID() != 12345 {
		t.Fatalf("reinsert lookup: rid=%v found=%v err=%v", rid, found, err)
	}
}

func TestBTree_RemoveAbsentKeyFails(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, _ := Create(pool, intKeySchema(), true)
	bt.Insert(intKey(1), heap.NewRowID(1, 0))
	if err := bt.Remove(intKey(999)); err == nil {
		t.Fatal("expected error removing an absent key")
	}
}

func TestBTree_OpenReattachesToExistingRoot(t *testing.T) {
	pool := newTestPool(t, 32)
	bt, _ := Create(pool, intKeySchema(), true)
	for i := 0; i < 400; i++ {
		bt.Insert(intKey(i), heap.NewRowID(pager.PageID(i+1), 0))
	}
	root := bt.RootPageID()

	bt2 := Open(pool, intKeySchema(), true, root)
	rid, found, err := bt2.Lookup(intKey(250))
	if err != nil || !found || rid.PageID() != 251 {
		t.Fatalf("reattached tree lookup: rid=%v found=%v err=%v", rid, found, err)
	}
}

// TestBTree_DeleteSiblingFetchFailureUnpinsAcquiredFrames forces the
// sibling fetch inside rebalanceLeaf to run out of frames (parent, leaf
// and left sibling alone fill a 3-frame pool) and checks that the
// frames already pinned before the failing Fetch are released rather
// than leaked, per §4.4's pin discipline.
func TestBTree_DeleteSiblingFetchFailureUnpinsAcquiredFrames(t *testing.T) {
	pool := newTestPool(t, 3)
	bt, _ := Create(pool, intKeySchema(), true)
	for i := 1; i <= 1000; i++ {
		if err := bt.Insert(intKey(i), heap.NewRowID(pager.PageID(i), 0)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var rebalanceErr error
	for i := 200; i <= 900; i++ {
		if err := bt.Remove(intKey(i)); err != nil {
			rebalanceErr = err
			break
		}
	}
	if rebalanceErr == nil {
		t.Fatal("expected a sibling-fetch failure under a 3-frame pool during rebalance")
	}
	if !errors.Is(rebalanceErr, storageerr.ErrOutOfFrames) {
		t.Fatalf("expected ErrOutOfFrames, got %v", rebalanceErr)
	}
	if stats := pool.Stats(); stats.Pinned != 0 {
		t.Fatalf("pin leak after failed rebalance: %d frames still pinned", stats.Pinned)
	}
}

func TestBTree_CharKeyOrdering(t *testing.T) {
	pool := newTestPool(t, 32)
	schema := &row.Schema{Columns: []row.Column{{Name: "name", Type: row.CHAR, Length: 8}}}
	bt, _ := Create(pool, schema, true)

	names := []string{"delta", "alpha", "charlie", "bravo", "echo"}
	for i, n := range names {
		if err := bt.Insert(Key{Values: []any{n}}, heap.NewRowID(pager.PageID(i+1), 0)); err != nil {
			t.Fatalf("insert %q: %v", n, err)
		}
	}
	cur, err := bt.ScanAll()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i := 0; ; i++ {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			if i != len(want) {
				t.Fatalf("scan yielded %d entries, want %d", i, len(want))
			}
			break
		}
		if i >= len(want) || k.Values[0].(string) != want[i] {
			t.Fatalf("scan[%d]: got %q want %q", i, k.Values[0], fmt.Sprint(want))
		}
	}
}
