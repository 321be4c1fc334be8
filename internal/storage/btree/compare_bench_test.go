package btree_test

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/minisql-db/minisql/internal/storage/catalog"
	"github.com/minisql-db/minisql/internal/storage/engine"
	"github.com/minisql-db/minisql/internal/storage/row"

	_ "modernc.org/sqlite"
)

// backendOps mirrors the save/load/close triplet the teacher's own
// benchmarks/storage_benchmark_test.go compares backends with; here it
// pits the engine's primary-key B+Tree index against modernc.org/sqlite
// as an external reference point for insert and point-query cost.
type backendOps struct {
	insertN  func(n int)
	pointGet func(id int) bool
	close    func()
}

func benchColumns() []catalog.ColumnDef {
	return []catalog.ColumnDef{
		{Name: "id", Type: row.INT, PrimaryKey: true},
		{Name: "name", Type: row.CHAR, Length: 32},
		{Name: "score", Type: row.FLOAT},
	}
}

func openMiniSQLBench(b *testing.B) backendOps {
	b.Helper()
	dir := b.TempDir()
	e, err := engine.Open(engine.EngineConfig{Path: filepath.Join(dir, "bench.db")})
	if err != nil {
		b.Fatal(err)
	}
	tbl, err := e.CreateTable("bench", benchColumns())
	if err != nil {
		b.Fatal(err)
	}
	pkIdx, _ := tbl.Index("bench_id_idx")

	return backendOps{
		insertN: func(n int) {
			for i := 0; i < n; i++ {
				tbl.Insert(row.Row{Values: []any{int32(i), fmt.Sprintf("user_%d", i), float32(i) * 1.1}})
			}
		},
		pointGet: func(id int) bool {
			rid, found, err := pkIdx.Lookup(int32(id))
			if err != nil || !found {
				return false
			}
			_, err = tbl.Get(rid)
			return err == nil
		},
		close: func() { e.Close() },
	}
}

func openSQLiteBench(b *testing.B) backendOps {
	b.Helper()
	dir := b.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "bench.sqlite3"))
	if err != nil {
		b.Fatal(err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("CREATE TABLE bench (id INTEGER PRIMARY KEY, name TEXT, score REAL)")

	return backendOps{
		insertN: func(n int) {
			tx, _ := db.Begin()
			stmt, _ := tx.Prepare("INSERT OR IGNORE INTO bench VALUES (?,?,?)")
			for i := 0; i < n; i++ {
				stmt.Exec(i, fmt.Sprintf("user_%d", i), float64(i)*1.1)
			}
			stmt.Close()
			tx.Commit()
		},
		pointGet: func(id int) bool {
			var name string
			err := db.QueryRow("SELECT name FROM bench WHERE id = ?", id).Scan(&name)
			return err == nil
		},
		close: func() { db.Close() },
	}
}

func benchBackends() []struct {
	name string
	open func(b *testing.B) backendOps
} {
	return []struct {
		name string
		open func(b *testing.B) backendOps
	}{
		{"minisql", openMiniSQLBench},
		{"sqlite-modernc", openSQLiteBench},
	}
}

// BenchmarkBulkInsert writes N rows through each backend's primary key
// path, mirroring the teacher's BenchmarkBulkInsert shape.
func BenchmarkBulkInsert(b *testing.B) {
	for _, rc := range []int{10, 100, 1000} {
		for _, be := range benchBackends() {
			b.Run(fmt.Sprintf("%s/rows=%d", be.name, rc), func(b *testing.B) {
				ops := be.open(b)
				defer ops.close()

				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					ops.insertN(rc)
				}
			})
		}
	}
}

// BenchmarkPointQuery looks up a single row by primary key after
// pre-loading 1000, mirroring the teacher's BenchmarkPointQuery.
func BenchmarkPointQuery(b *testing.B) {
	for _, be := range benchBackends() {
		b.Run(be.name, func(b *testing.B) {
			ops := be.open(b)
			defer ops.close()
			ops.insertN(1000)

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if !ops.pointGet(500) {
					b.Fatal("point query missed an existing row")
				}
			}
		})
	}
}
