// Package engine is the storage core's single entry point (§6): it owns
// one database file and exposes Table/Index handles built on top of the
// lower pager/heap/btree/catalog layers. Per §7 ("lower layers never
// log"), only this package writes to the standard log package, and only
// for the handful of operational events worth one line: open, close, and
// entry into the degraded read-only mode a disk I/O failure forces.
package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/minisql-db/minisql/internal/storage/catalog"
	"github.com/minisql-db/minisql/internal/storage/heap"
	"github.com/minisql-db/minisql/internal/storage/pager"
	"github.com/minisql-db/minisql/internal/storage/storageerr"
)

// EngineConfig configures a database file. Zero values fall back to the
// documented defaults.
type EngineConfig struct {
	Path      string
	PageSize  int // default pager.DefaultPageSize
	NumFrames int // default 64
}

// Engine is one open database file: its disk manager, buffer pool, and
// table catalog.
type Engine struct {
	cfg        EngineConfig
	disk       *pager.DiskManager
	pool       *pager.BufferPool
	cat        *catalog.Catalog
	tables     map[string]*Table
	instanceID uuid.UUID
	degraded   bool
}

// Open opens path (creating it if absent) and loads its catalog. Every
// existing table and index is wrapped in a handle ready for use.
func Open(cfg EngineConfig) (*Engine, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = pager.DefaultPageSize
	}
	if cfg.NumFrames == 0 {
		cfg.NumFrames = 64
	}

	disk, err := pager.OpenDiskManager(cfg.Path, cfg.PageSize)
	if err != nil {
		return nil, err
	}
	pool := pager.NewBufferPool(disk, cfg.NumFrames)

	var cat *catalog.Catalog
	root := disk.CatalogRoot()
	if root == pager.InvalidPageID {
		cat, err = catalog.Create(pool)
		if err != nil {
			disk.Close()
			return nil, err
		}
		if err := disk.SetCatalogRoot(cat.HeadPageID()); err != nil {
			disk.Close()
			return nil, err
		}
	} else {
		cat, err = catalog.Open(pool, root)
		if err != nil {
			disk.Close()
			return nil, err
		}
	}

	e := &Engine{
		cfg:        cfg,
		disk:       disk,
		pool:       pool,
		cat:        cat,
		tables:     map[string]*Table{},
		instanceID: uuid.New(),
	}

	for _, def := range cat.Tables() {
		t, err := newTableHandle(e, def)
		if err != nil {
			disk.Close()
			return nil, err
		}
		e.tables[def.Name] = t
	}

	log.Printf("minisql: engine %s opened %q (%d table(s))", e.instanceID, cfg.Path, len(e.tables))
	return e, nil
}

// InstanceID is a random, in-memory-only identifier stamped at Open,
// letting an operator tell apart two Engine handles on the same file
// across a close/reopen (§6 "pool statistics").
func (e *Engine) InstanceID() uuid.UUID { return e.instanceID }

// PoolStats reports the buffer pool's current activity counters.
func (e *Engine) PoolStats() pager.Stats { return e.pool.Stats() }

// Flush writes every dirty page to disk and fsyncs the file. Per §5
// "Flush policy" nothing calls this automatically — callers decide when.
func (e *Engine) Flush() error { return e.pool.FlushAll() }

// Close flushes and closes the underlying file. The Engine is unusable
// afterward.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		_ = e.noteIOError(err)
		return err
	}
	log.Printf("minisql: engine %s closed", e.instanceID)
	return e.disk.Close()
}

// Degraded reports whether a prior I/O failure forced the engine into a
// read-only state (§5 "degraded mode").
func (e *Engine) Degraded() bool { return e.degraded }

// noteIOError flips the engine into its degraded, read-only state the
// first time err is an I/O failure surfaced from a disk or pool call
// (§7). Once degraded, CreateTable, DropTable and every Table mutation
// are rejected until the file is reopened. Pass-through: always returns
// err unchanged so call sites can wrap in place.
func (e *Engine) noteIOError(err error) error {
	if err != nil && errors.Is(err, storageerr.ErrIOError) && !e.degraded {
		log.Printf("minisql: engine %s: io error, entering degraded state: %v", e.instanceID, err)
		e.degraded = true
	}
	return err
}

// rejectIfDegraded is the entry guard every mutating operation calls
// first.
func (e *Engine) rejectIfDegraded() error {
	if e.degraded {
		return fmt.Errorf("%w: engine is read-only until reopened", storageerr.ErrDegraded)
	}
	return nil
}

// CreateTable registers a new table with the given columns, creates its
// heap, and auto-creates one unique B+Tree index per primary-key or
// unique column (§3 "Index model").
func (e *Engine) CreateTable(name string, columns []catalog.ColumnDef) (*Table, error) {
	if err := e.rejectIfDegraded(); err != nil {
		return nil, err
	}
	if _, ok := e.tables[name]; ok {
		return nil, fmt.Errorf("%w: table %q already exists", storageerr.ErrDuplicateKey, name)
	}

	schema := (&catalog.TableDef{Columns: columns}).Schema()
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	h, err := heap.Create(e.pool, schema)
	if err != nil {
		return nil, e.noteIOError(err)
	}

	def, err := e.cat.CreateTable(name, columns, h.HeadPageID())
	if err != nil {
		return nil, e.noteIOError(err)
	}

	t, err := newTableHandle(e, def)
	if err != nil {
		return nil, e.noteIOError(err)
	}

	for ord, c := range columns {
		if !c.PrimaryKey && !c.Unique {
			continue
		}
		ixName := fmt.Sprintf("%s_%s_idx", name, c.Name)
		if err := t.createIndex(ixName, ord, true); err != nil {
			return nil, err
		}
	}

	e.tables[name] = t
	return t, nil
}

// Table returns name's handle, or (nil, false) if no such table exists.
func (e *Engine) Table(name string) (*Table, bool) {
	t, ok := e.tables[name]
	return t, ok
}

// DropTable removes a table and its indexes from the catalog. It does
// not reclaim the heap or index pages on disk.
func (e *Engine) DropTable(name string) error {
	if err := e.rejectIfDegraded(); err != nil {
		return err
	}
	if _, ok := e.tables[name]; !ok {
		return fmt.Errorf("%w: table %q", storageerr.ErrNotFound, name)
	}
	if err := e.cat.DropTable(name); err != nil {
		return e.noteIOError(err)
	}
	delete(e.tables, name)
	return nil
}
