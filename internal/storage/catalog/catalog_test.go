package catalog

import (
	"path/filepath"
	"testing"

	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/row"
)

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

func testColumns() []ColumnDef {
	return []ColumnDef{
		{Name: "id", Type: row.INT, PrimaryKey: true},
		{Name: "email", Type: row.CHAR, Length: 64, Unique: true},
		{Name: "score", Type: row.FLOAT, Nullable: true},
	}
}

func TestCatalog_CreateAndLoadTable(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, err := Create(pool)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	def, err := cat.CreateTable("users", testColumns(), pager.PageID(7))
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if def.ID != 1 {
		t.Fatalf("expected first table ID to be 1, got %d", def.ID)
	}

	got, ok := cat.Table("users")
	if !ok {
		t.Fatal("table not found after creation")
	}
	if got.HeapHead != 7 || len(got.Columns) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.Schema().Columns[1].Name != "email" {
		t.Fatalf("schema mismatch: %+v", got.Schema())
	}
}

func TestCatalog_DuplicateTableRejected(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	if _, err := cat.CreateTable("users", testColumns(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.CreateTable("users", testColumns(), 2); err == nil {
		t.Fatal("expected error creating a duplicate table")
	}
}

func TestCatalog_ReopenPreservesTables(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	cat.CreateTable("users", testColumns(), pager.PageID(7))
	cat.CreateTable("orders", testColumns(), pager.PageID(9))
	head := cat.HeadPageID()

	cat2, err := Open(pool, head)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(cat2.Tables()) != 2 {
		t.Fatalf("expected 2 tables after reopen, got %d", len(cat2.Tables()))
	}
	got, ok := cat2.Table("orders")
	if !ok || got.HeapHead != 9 {
		t.Fatalf("orders entry wrong after reopen: %+v ok=%v", got, ok)
	}
}

func TestCatalog_DropTable(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	cat.CreateTable("users", testColumns(), 1)

	if err := cat.DropTable("users"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok := cat.Table("users"); ok {
		t.Fatal("table still visible after drop")
	}
	if err := cat.DropTable("users"); err == nil {
		t.Fatal("expected error dropping an already-dropped table")
	}
}

func TestCatalog_AddAndDropIndex(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	cat.CreateTable("users", testColumns(), 1)

	if err := cat.AddIndex("users", IndexDef{Name: "users_email_idx", ColumnOrdinal: 1, Root: 42, Unique: true}); err != nil {
		t.Fatalf("add index: %v", err)
	}
	got, _ := cat.Table("users")
	if len(got.Indexes) != 1 || got.Indexes[0].Root != 42 {
		t.Fatalf("index not persisted: %+v", got.Indexes)
	}

	if err := cat.DropIndex("users", "users_email_idx"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	got, _ = cat.Table("users")
	if len(got.Indexes) != 0 {
		t.Fatalf("index survived drop: %+v", got.Indexes)
	}
}

func TestCatalog_UpdateIndexRootPersistsAcrossReopen(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	cat.CreateTable("users", testColumns(), 1)
	cat.AddIndex("users", IndexDef{Name: "users_id_idx", ColumnOrdinal: 0, Root: 10, Unique: true})

	if err := cat.UpdateIndexRoot("users", "users_id_idx", 99); err != nil {
		t.Fatalf("update root: %v", err)
	}

	cat2, err := Open(pool, cat.HeadPageID())
	if err != nil {
		t.Fatal(err)
	}
	got, _ := cat2.Table("users")
	if got.Indexes[0].Root != 99 {
		t.Fatalf("root not persisted: got %d want 99", got.Indexes[0].Root)
	}
}

func TestCatalog_UpdateHeapHead(t *testing.T) {
	pool := newTestPool(t, 8)
	cat, _ := Create(pool)
	cat.CreateTable("users", testColumns(), 1)

	if err := cat.UpdateHeapHead("users", 55); err != nil {
		t.Fatalf("update heap head: %v", err)
	}
	got, _ := cat.Table("users")
	if got.HeapHead != 55 {
		t.Fatalf("heap head not updated: %+v", got)
	}
}
