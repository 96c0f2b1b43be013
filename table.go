package coltab

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const defaultLookupCacheSize = 1024

type Options struct {
	Logf      func(format string, args ...any)
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// CacheSize bounds each index's lookup cache in entries. Zero selects
	// the default; negative disables caching.
	CacheSize int
}

func (opt *Options) cacheSize() int {
	switch {
	case opt.CacheSize < 0:
		return 0
	case opt.CacheSize == 0:
		return defaultLookupCacheSize
	default:
		return opt.CacheSize
	}
}

// Table is an append-mostly store of typed rows addressed by a dense uint64
// row id, with any number of secondary indexes over column subsets.
//
// A single writer is enforced internally; reads run concurrently against
// storage snapshots. Every operation runs in its own transaction.
type Table struct {
	stg     storage
	name    string
	scm     *Schema
	rc      *rowCodec
	logger  *slog.Logger
	logf    func(format string, args ...any)
	verbose bool
	cacheSz int

	// writeLock serializes Append/BuildIndex/RebuildIndex/DropIndex.
	writeLock sync.Mutex

	mu        sync.RWMutex
	indexes   map[string]*Index
	indexSeq  []string // declaration order, for stable meta output
	nextRowID uint64
	closed    bool
}

// Create creates a new table file at path with the given schema. Fails if
// the file already holds a table.
func Create(path string, scm *Schema, opt Options) (*Table, error) {
	if err := nonNil(scm).validate(); err != nil {
		return nil, err
	}
	stg, err := openBoltFile(path, opt)
	if err != nil {
		return nil, err
	}
	tbl, err := createTable(stg, tableNameFromPath(path), scm, opt)
	if err != nil {
		stg.Close()
		return nil, err
	}
	return tbl, nil
}

// Open opens an existing table file, restoring the schema and indexes from
// its stored descriptor. If expect is non-nil, the stored schema must match
// it exactly or Open fails with ErrFormatMismatch.
func Open(path string, expect *Schema, opt Options) (*Table, error) {
	stg, err := openBoltFile(path, opt)
	if err != nil {
		return nil, err
	}
	tbl, err := openTable(stg, tableNameFromPath(path), expect, opt)
	if err != nil {
		stg.Close()
		return nil, err
	}
	return tbl, nil
}

func openBoltFile(path string, opt Options) (storage, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0o666, bopt)
	if err != nil {
		return nil, storageErr(err)
	}
	return newBoltStorage(bdb), nil
}

func tableNameFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func newTable(stg storage, name string, scm *Schema, opt Options) *Table {
	logf := opt.Logf
	if logf == nil {
		logf = func(format string, args ...any) {}
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		stg:     stg,
		name:    name,
		scm:     scm,
		rc:      newRowCodec(scm),
		logger:  logger,
		logf:    logf,
		verbose: opt.Verbose,
		cacheSz: opt.cacheSize(),
		indexes: make(map[string]*Index),
	}
}

func createTable(stg storage, name string, scm *Schema, opt Options) (*Table, error) {
	tbl := newTable(stg, name, scm, opt)

	tx, err := stg.BeginTx(true)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	if tx.Bucket(metaBucketName) != nil {
		return nil, tableErrf(name, "", nil, ErrFormatMismatch, "file already holds a table")
	}
	if _, err := tx.CreateBucket(rowsBucketName); err != nil {
		return nil, storageErr(err)
	}
	if err := saveMetaRecord(tx, makeMetaRecord(scm)); err != nil {
		return nil, tableErrf(name, "", nil, err, "")
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return tbl, nil
}

func openTable(stg storage, name string, expect *Schema, opt Options) (*Table, error) {
	tx, err := stg.BeginTx(false)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	rec, err := loadMetaRecord(tx)
	if err != nil {
		return nil, tableErrf(name, "", nil, err, "")
	}
	scm := rec.schema()
	if err := scm.validate(); err != nil {
		return nil, tableErrf(name, "", nil, ErrFormatMismatch, "stored schema invalid: %v", err)
	}
	if expect != nil && !scm.equal(expect) {
		return nil, tableErrf(name, "", nil, ErrFormatMismatch, "stored schema differs from expected")
	}

	tbl := newTable(stg, name, scm, opt)

	rows := tx.Bucket(rowsBucketName)
	if rows == nil {
		return nil, tableErrf(name, "", nil, ErrFormatMismatch, "rows bucket missing")
	}
	if k, _ := rows.Cursor().Last(); k != nil {
		if len(k) != rowIDKeyWidth {
			return nil, dataErrf(ErrCorruptRow, k, 0, "row key of %d bytes, want %d", len(k), rowIDKeyWidth)
		}
		tbl.nextRowID = uintN(k, rowIDKeyWidth) + 1
	}

	for _, mrec := range rec.Indexes {
		idx, err := tbl.makeIndex(mrec.Name, mrec.Columns, mrec.SlotElems)
		if err != nil {
			return nil, err
		}
		if mrec.Inconsistent {
			idx.state = indexInconsistent
		} else {
			idx.state = indexActive
			if err := idx.loadStateTx(tx, tbl.nextRowID); err != nil {
				return nil, err
			}
		}
		tbl.indexes[idx.name] = idx
		tbl.indexSeq = append(tbl.indexSeq, idx.name)
	}
	return tbl, nil
}

func (tbl *Table) Name() string    { return tbl.name }
func (tbl *Table) Schema() *Schema { return tbl.scm }

// Columns returns the resolved column definitions in schema order.
func (tbl *Table) Columns() []ColumnDef {
	return append([]ColumnDef(nil), tbl.scm.Columns...)
}

// NumRows returns the next row id to be assigned, which equals the row
// count while rows are only appended.
func (tbl *Table) NumRows() uint64 {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	return tbl.nextRowID
}

func (tbl *Table) Close() error {
	tbl.mu.Lock()
	if tbl.closed {
		tbl.mu.Unlock()
		return nil
	}
	tbl.closed = true
	tbl.mu.Unlock()
	return tbl.stg.Close()
}

func (tbl *Table) requireOpen() error {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	if tbl.closed {
		return tableErrf(tbl.name, "", nil, ErrStorageIO, "table is closed")
	}
	return nil
}

func (tbl *Table) indexNamed(name string) (*Index, error) {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	idx := tbl.indexes[name]
	if idx == nil {
		return nil, tableErrf(tbl.name, name, nil, ErrNotFound, "no such index")
	}
	return idx, nil
}

// IndexNamed returns the named index, or nil if it does not exist.
func (tbl *Table) IndexNamed(name string) *Index {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	return tbl.indexes[name]
}

// Indexes returns the names of all declared indexes in declaration order.
func (tbl *Table) Indexes() []string {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	return append([]string(nil), tbl.indexSeq...)
}

// Append validates and stores one row, assigns the next row id, and inserts
// an entry into every active index. Returns the assigned row id.
//
// Encoding failures (ErrSchemaMismatch) reject the row before anything is
// written. A logical index failure keeps the row and marks that index
// inconsistent; the error still reports it. Storage failures roll back the
// whole append.
func (tbl *Table) Append(row []Value) (uint64, error) {
	if err := tbl.requireOpen(); err != nil {
		return 0, err
	}
	if len(row) != len(tbl.scm.Columns) {
		return 0, tableErrf(tbl.name, "", nil, ErrSchemaMismatch, "got %d values for %d columns", len(row), len(tbl.scm.Columns))
	}

	rowBuf := rowBytesPool.Get().([]byte)
	defer releaseRowBytes(rowBuf)
	rowBuf, err := tbl.rc.encodeRow(rowBuf, row)
	if err != nil {
		return 0, tableErrf(tbl.name, "", nil, err, "")
	}

	tbl.writeLock.Lock()
	defer tbl.writeLock.Unlock()

	tbl.mu.RLock()
	rowID := tbl.nextRowID
	tbl.mu.RUnlock()

	tx, err := tbl.stg.BeginTx(true)
	if err != nil {
		return 0, storageErr(err)
	}
	defer tx.Rollback()

	rows := tx.Bucket(rowsBucketName)
	if rows == nil {
		return 0, tableErrf(tbl.name, "", nil, ErrStorageIO, "rows bucket missing")
	}
	var rowKey [rowIDKeyWidth]byte
	putUintN(rowKey[:], rowID, rowIDKeyWidth)
	if err := rows.Put(rowKey[:], rowBuf); err != nil {
		return 0, tableErrf(tbl.name, "", rowKey[:], storageErr(err), "")
	}

	// A failed index insert is not allowed to lose the row: the index is
	// marked inconsistent (persisted so reopen sees it) and the append
	// commits without it.
	var badIndexes []*Index
	var indexErr error
	for _, name := range tbl.indexSeq {
		idx := tbl.indexes[name]
		if idx.currentState() != indexActive {
			continue
		}
		if err := idx.insertTx(tx, row, rowID); err != nil {
			if isStorageErr(err) {
				return 0, err
			}
			badIndexes = append(badIndexes, idx)
			if indexErr == nil {
				indexErr = err
			}
		}
	}
	for _, idx := range badIndexes {
		idx.markInconsistent()
	}
	if len(badIndexes) > 0 {
		if err := tbl.saveMetaTx(tx); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr(err)
	}

	tbl.mu.Lock()
	tbl.nextRowID = rowID + 1
	tbl.mu.Unlock()

	if tbl.verbose {
		tbl.logf("coltab: %s: appended row %d at key %s (%d bytes)", tbl.name, rowID, hexBytes(rowKey[:]), len(rowBuf))
	}
	return rowID, indexErr
}

// Get fetches and decodes the row with the given id. Returns ErrNotFound
// for an unassigned id.
func (tbl *Table) Get(rowID uint64) ([]Value, error) {
	if err := tbl.requireOpen(); err != nil {
		return nil, err
	}
	tx, err := tbl.stg.BeginTx(false)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	rows := tx.Bucket(rowsBucketName)
	if rows == nil {
		return nil, tableErrf(tbl.name, "", nil, ErrStorageIO, "rows bucket missing")
	}
	var rowKey [rowIDKeyWidth]byte
	putUintN(rowKey[:], rowID, rowIDKeyWidth)
	raw := rows.Get(rowKey[:])
	if raw == nil {
		return nil, tableErrf(tbl.name, "", rowKey[:], ErrNotFound, "row %d", rowID)
	}
	row, err := tbl.rc.decodeRow(raw)
	if err != nil {
		return nil, tableErrf(tbl.name, "", rowKey[:], err, "row %d", rowID)
	}
	return row, nil
}

func (tbl *Table) makeIndex(name string, columns []string, slotElems []int) (*Index, error) {
	if name == "" {
		return nil, tableErrf(tbl.name, name, nil, ErrSchemaMismatch, "index has no name")
	}
	if len(columns) == 0 {
		return nil, tableErrf(tbl.name, name, nil, ErrSchemaMismatch, "index has no columns")
	}
	positions := make([]int, len(columns))
	for i, colName := range columns {
		pos, col := tbl.scm.ColumnNamed(colName)
		if col == nil {
			return nil, tableErrf(tbl.name, name, nil, ErrSchemaMismatch, "no column %q", colName)
		}
		positions[i] = pos
	}
	kc, err := newKeyCodec(tbl.scm, positions, slotElems)
	if err != nil {
		return nil, tableErrf(tbl.name, name, nil, err, "")
	}
	return &Index{
		tbl:       tbl,
		name:      name,
		buck:      indexBucketName(name),
		positions: positions,
		colNames:  append([]string(nil), columns...),
		slotElems: append([]int(nil), slotElems...),
		kc:        kc,
		cache:     newLookupCache(tbl.cacheSz),
		state:     indexBuilding,
	}, nil
}

// BuildIndex creates an index over the given columns and populates it from
// all existing rows. The index starts in a building state invisible to
// queries and becomes active when the bulk load commits.
func (tbl *Table) BuildIndex(name string, columns ...string) (*Index, error) {
	return tbl.BuildIndexSized(name, columns, nil)
}

// BuildIndexSized is BuildIndex with explicit per-column element capacities
// for variable-arity key slots (0 entries select the default).
func (tbl *Table) BuildIndexSized(name string, columns []string, slotElems []int) (*Index, error) {
	if err := tbl.requireOpen(); err != nil {
		return nil, err
	}
	if slotElems != nil && len(slotElems) != len(columns) {
		return nil, tableErrf(tbl.name, name, nil, ErrSchemaMismatch, "got %d slot capacities for %d columns", len(slotElems), len(columns))
	}

	tbl.writeLock.Lock()
	defer tbl.writeLock.Unlock()

	tbl.mu.RLock()
	_, exists := tbl.indexes[name]
	tbl.mu.RUnlock()
	if exists {
		return nil, tableErrf(tbl.name, name, nil, ErrSchemaMismatch, "index already exists")
	}

	idx, err := tbl.makeIndex(name, columns, slotElems)
	if err != nil {
		return nil, err
	}

	tx, err := tbl.stg.BeginTx(true)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	start := time.Now()
	if err := idx.bulkBuildTx(tx); err != nil {
		return nil, err
	}
	if err := tbl.saveMetaTx(tx, idx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	// Publish only after the bulk load is durable, so concurrent readers
	// never resolve an index whose bucket is not yet committed.
	idx.activate()
	tbl.mu.Lock()
	tbl.indexes[name] = idx
	tbl.indexSeq = append(tbl.indexSeq, name)
	tbl.mu.Unlock()

	if tbl.verbose {
		tbl.logf("coltab: %s: built index %s over %s in %v", tbl.name, name, strings.Join(columns, ","), time.Since(start))
	}
	return idx, nil
}

// RebuildIndex discards the index bucket and repopulates it from the row
// store. This is the recovery path for an inconsistent index.
func (tbl *Table) RebuildIndex(name string) error {
	if err := tbl.requireOpen(); err != nil {
		return err
	}
	idx, err := tbl.indexNamed(name)
	if err != nil {
		return err
	}

	tbl.writeLock.Lock()
	defer tbl.writeLock.Unlock()

	tx, err := tbl.stg.BeginTx(true)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	idx.mu.Lock()
	idx.state = indexBuilding
	idx.maxKey = nil
	idx.hasRows = false
	idx.mu.Unlock()
	idx.cache.clear()

	if err := tx.DeleteBucket(idx.buck); err != nil && err != ErrBucketNotFound {
		return storageErr(err)
	}
	if err := idx.bulkBuildTx(tx); err != nil {
		return err
	}
	idx.activate()
	if err := tbl.saveMetaTx(tx); err != nil {
		idx.markInconsistent()
		return err
	}
	if err := tx.Commit(); err != nil {
		idx.markInconsistent()
		return storageErr(err)
	}
	return nil
}

// DropIndex removes an index and its bucket.
func (tbl *Table) DropIndex(name string) error {
	if err := tbl.requireOpen(); err != nil {
		return err
	}
	idx, err := tbl.indexNamed(name)
	if err != nil {
		return err
	}

	tbl.writeLock.Lock()
	defer tbl.writeLock.Unlock()

	tx, err := tbl.stg.BeginTx(true)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	if err := tx.DeleteBucket(idx.buck); err != nil && err != ErrBucketNotFound {
		return storageErr(err)
	}
	tbl.dropIndexState(name)
	if err := tbl.saveMetaTx(tx); err != nil {
		return err
	}
	return storageErr(tx.Commit())
}

func (tbl *Table) dropIndexState(name string) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	delete(tbl.indexes, name)
	for i, n := range tbl.indexSeq {
		if n == name {
			tbl.indexSeq = append(tbl.indexSeq[:i], tbl.indexSeq[i+1:]...)
			break
		}
	}
}

// saveMetaTx persists the schema and index descriptors. extra lists indexes
// being built in this transaction that are not yet published on the table.
func (tbl *Table) saveMetaTx(tx storageTx, extra ...*Index) error {
	rec := makeMetaRecord(tbl.scm)
	tbl.mu.RLock()
	for _, name := range tbl.indexSeq {
		rec.Indexes = append(rec.Indexes, tbl.indexes[name].meta())
	}
	tbl.mu.RUnlock()
	for _, idx := range extra {
		rec.Indexes = append(rec.Indexes, idx.meta())
	}
	if err := saveMetaRecord(tx, rec); err != nil {
		return tableErrf(tbl.name, "", nil, err, "")
	}
	return nil
}

// Lookup resolves the row ids of all rows whose indexed columns equal vals,
// in insertion order. vals must cover every column of the index.
func (tbl *Table) Lookup(indexName string, vals ...Value) ([]uint64, error) {
	if err := tbl.requireOpen(); err != nil {
		return nil, err
	}
	idx, err := tbl.indexNamed(indexName)
	if err != nil {
		return nil, err
	}
	if err := idx.requireActive(); err != nil {
		return nil, err
	}

	tx, err := tbl.stg.BeginTx(false)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()
	return idx.lookupTx(tx, vals)
}

// Bounds restricts a Range scan. Lower and Upper are value tuples over the
// leading index columns; nil means unbounded on that side. Reverse iterates
// in descending key order.
type Bounds struct {
	Lower    []Value
	Upper    []Value
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

// Range scans an index in key order within the given bounds. The returned
// cursor holds a read transaction until Close.
func (tbl *Table) Range(indexName string, b Bounds) (*Cursor, error) {
	if err := tbl.requireOpen(); err != nil {
		return nil, err
	}
	idx, err := tbl.indexNamed(indexName)
	if err != nil {
		return nil, err
	}
	if err := idx.requireActive(); err != nil {
		return nil, err
	}

	rang := rawRange{Reverse: b.Reverse}
	// Bounds are padded to the fixed composite key width so byte-wise
	// comparison matches tuple-prefix semantics: zero padding sorts before
	// every key extending the prefix, 0xFF padding after.
	if b.Lower != nil {
		prefix, err := idx.kc.encodePrefix(nil, b.Lower)
		if err != nil {
			return nil, tableErrf(tbl.name, indexName, nil, err, "")
		}
		if b.LowerInc {
			rang.Lower = padKey(prefix, idx.kc.width, 0x00)
			rang.LowerInc = true
		} else {
			rang.Lower = padKey(prefix, idx.kc.width, 0xFF)
		}
	}
	if b.Upper != nil {
		prefix, err := idx.kc.encodePrefix(nil, b.Upper)
		if err != nil {
			return nil, tableErrf(tbl.name, indexName, nil, err, "")
		}
		if b.UpperInc {
			rang.Upper = padKey(prefix, idx.kc.width, 0xFF)
			rang.UpperInc = true
		} else {
			rang.Upper = padKey(prefix, idx.kc.width, 0x00)
		}
	}

	tx, err := tbl.stg.BeginTx(false)
	if err != nil {
		return nil, storageErr(err)
	}
	buck := tx.Bucket(idx.buck)
	if buck == nil {
		tx.Rollback()
		return nil, tableErrf(tbl.name, indexName, nil, ErrStorageIO, "index bucket missing")
	}
	return &Cursor{
		tbl: tbl,
		idx: idx,
		tx:  tx,
		rc:  rang.newCursor(buck.Cursor(), tbl.logger),
	}, nil
}

func padKey(prefix []byte, width int, fill byte) []byte {
	out := make([]byte, width)
	copy(out, prefix)
	for i := len(prefix); i < width; i++ {
		out[i] = fill
	}
	return out
}

// Cursor iterates over index entries produced by Range. Iteration suspends
// between Next calls; the underlying read transaction pins a storage
// snapshot until Close.
type Cursor struct {
	tbl *Table
	idx *Index
	tx  storageTx
	rc  *rawRangeCursor

	vals  []Value
	rowID uint64
	err   error
	done  bool
}

// Next advances to the next entry. Returns false at the end of the range or
// on error; check Err after the loop.
func (c *Cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	if !c.rc.Next() {
		c.done = true
		return false
	}
	vals, rowID, err := c.idx.kc.decodeKey(c.rc.Key())
	if err != nil {
		c.err = tableErrf(c.tbl.name, c.idx.name, c.rc.Key(), err, "")
		return false
	}
	c.vals, c.rowID = vals, rowID
	return true
}

// Values returns the indexed column values of the current entry, decoded
// from the key alone.
func (c *Cursor) Values() []Value { return c.vals }

// RowID returns the row id of the current entry.
func (c *Cursor) RowID() uint64 { return c.rowID }

// Row fetches and decodes the full row of the current entry from the same
// storage snapshot.
func (c *Cursor) Row() ([]Value, error) {
	rows := c.tx.Bucket(rowsBucketName)
	if rows == nil {
		return nil, tableErrf(c.tbl.name, "", nil, ErrStorageIO, "rows bucket missing")
	}
	var rowKey [rowIDKeyWidth]byte
	putUintN(rowKey[:], c.rowID, rowIDKeyWidth)
	raw := rows.Get(rowKey[:])
	if raw == nil {
		return nil, tableErrf(c.tbl.name, c.idx.name, rowKey[:], ErrIndexInconsistent, "index entry for absent row %d", c.rowID)
	}
	row, err := c.tbl.rc.decodeRow(raw)
	if err != nil {
		return nil, tableErrf(c.tbl.name, "", rowKey[:], err, "row %d", c.rowID)
	}
	return row, nil
}

func (c *Cursor) Err() error { return c.err }

// Close releases the read transaction. Safe to call multiple times.
func (c *Cursor) Close() error {
	c.done = true
	return c.tx.Rollback()
}

func (tbl *Table) String() string {
	return fmt.Sprintf("Table(%s, %d columns)", tbl.name, len(tbl.scm.Columns))
}

// MaxKey returns the maximum key of an index as decoded values plus the row
// id that produced it. ok is false for an empty index.
func (tbl *Table) MaxKey(indexName string) (vals []Value, rowID uint64, ok bool, err error) {
	idx, err := tbl.indexNamed(indexName)
	if err != nil {
		return nil, 0, false, err
	}
	return idx.MaxKey()
}
