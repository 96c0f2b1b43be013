package coltab

import (
	"bytes"
	"sort"
	"sync"
)

type indexState int

const (
	// indexBuilding: bulk construction in progress, no queries permitted.
	indexBuilding indexState = iota
	// indexActive: accepts incremental inserts and queries.
	indexActive
	// indexInconsistent: a failed insert left the index out of sync with the
	// row store; it must be rebuilt before further use.
	indexInconsistent
)

// Index maintains one sorted key → row id mapping over a subset of a
// table's columns. Keys are produced by the order-preserving key codec, so
// the underlying bucket iterates in natural value order with duplicates
// broken by insertion order.
type Index struct {
	tbl       *Table
	name      string
	buck      string
	positions []int
	colNames  []string
	slotElems []int
	kc        *keyCodec
	cache     *lookupCache

	mu        sync.RWMutex
	state     indexState
	maxKey    []byte // current maximum full key, nil if empty
	lastRowID uint64 // greatest row id inserted, valid if hasRows
	hasRows   bool
}

func (idx *Index) Name() string { return idx.name }

// ColumnNames returns the indexed columns in key order.
func (idx *Index) ColumnNames() []string {
	return append([]string(nil), idx.colNames...)
}

func (idx *Index) fullName() string {
	return idx.tbl.name + "." + idx.name
}

func (idx *Index) requireActive() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	switch idx.state {
	case indexActive:
		return nil
	case indexBuilding:
		return tableErrf(idx.tbl.name, idx.name, nil, nil, "index is building")
	default:
		return tableErrf(idx.tbl.name, idx.name, nil, ErrIndexInconsistent, "rebuild required")
	}
}

// keyValues extracts the indexed column subset from a full row.
func (idx *Index) keyValues(row []Value) []Value {
	vals := make([]Value, len(idx.positions))
	for i, pos := range idx.positions {
		vals[i] = row[pos]
	}
	return vals
}

// insertTx adds one (key, row id) entry within a writable transaction.
// Incremental inserts must follow append order: a row id at or below the
// greatest inserted one signals caller misuse via ErrOutOfOrderInsert.
func (idx *Index) insertTx(tx storageTx, row []Value, rowID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state != indexActive {
		return tableErrf(idx.tbl.name, idx.name, nil, ErrIndexInconsistent, "rebuild required")
	}
	if !tx.Writable() {
		return tableErrf(idx.tbl.name, idx.name, nil, ErrStorageIO, "insert in read-only transaction")
	}
	if idx.hasRows && rowID <= idx.lastRowID {
		return tableErrf(idx.tbl.name, idx.name, nil, ErrOutOfOrderInsert, "row id %d after %d", rowID, idx.lastRowID)
	}

	// The key is referenced by the transaction until commit, so it cannot
	// come from a pool.
	key, err := idx.kc.encodeKey(nil, idx.keyValues(row), rowID)
	if err != nil {
		return tableErrf(idx.tbl.name, idx.name, nil, err, "")
	}

	buck := tx.Bucket(idx.buck)
	if buck == nil {
		return tableErrf(idx.tbl.name, idx.name, key, ErrStorageIO, "index bucket missing")
	}
	if err := buck.Put(key, emptyIndexValue); err != nil {
		return tableErrf(idx.tbl.name, idx.name, key, storageErr(err), "")
	}
	idx.cache.invalidate(string(key[:len(key)-rowIDKeyWidth]))

	// Incremental max-key tracking: compare the full key, row id suffix
	// included, so ties on leading columns still resolve to the true
	// maximum.
	if idx.maxKey == nil || bytes.Compare(key, idx.maxKey) > 0 {
		idx.maxKey = append(idx.maxKey[:0], key...)
	}
	idx.lastRowID = rowID
	idx.hasRows = true
	return nil
}

// bulkBuildTx populates the index bucket from all existing rows within a
// writable transaction. The index is in the Building state; entries are
// sorted before insertion so the ordered map fills sequentially.
func (idx *Index) bulkBuildTx(tx storageTx) error {
	rows := tx.Bucket(rowsBucketName)
	if rows == nil {
		return tableErrf(idx.tbl.name, idx.name, nil, ErrStorageIO, "rows bucket missing")
	}
	buck, err := tx.CreateBucket(idx.buck)
	if err != nil {
		return tableErrf(idx.tbl.name, idx.name, nil, storageErr(err), "")
	}

	var keys [][]byte
	var lastRowID uint64
	var hasRows bool
	cur := rows.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		rowID := uintN(k, rowIDKeyWidth)
		row, err := idx.tbl.rc.decodeRow(v)
		if err != nil {
			return tableErrf(idx.tbl.name, idx.name, k, err, "row %d", rowID)
		}
		key, err := idx.kc.encodeKey(nil, idx.keyValues(row), rowID)
		if err != nil {
			return tableErrf(idx.tbl.name, idx.name, nil, err, "row %d", rowID)
		}
		keys = append(keys, key)
		lastRowID = rowID
		hasRows = true
	}

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	for _, key := range keys {
		if err := buck.Put(key, emptyIndexValue); err != nil {
			return tableErrf(idx.tbl.name, idx.name, key, storageErr(err), "")
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(keys) > 0 {
		idx.maxKey = append([]byte(nil), keys[len(keys)-1]...)
	} else {
		idx.maxKey = nil
	}
	idx.lastRowID = lastRowID
	idx.hasRows = hasRows
	return nil
}

func (idx *Index) currentState() indexState {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.state
}

func (idx *Index) activate() {
	idx.mu.Lock()
	idx.state = indexActive
	idx.mu.Unlock()
}

func (idx *Index) markInconsistent() {
	idx.mu.Lock()
	idx.state = indexInconsistent
	idx.mu.Unlock()
	idx.cache.clear()
}

// lookupTx resolves all row ids whose indexed values equal vals, in
// insertion order, within a read transaction.
func (idx *Index) lookupTx(tx storageTx, vals []Value) ([]uint64, error) {
	if len(vals) != len(idx.kc.slots) {
		return nil, tableErrf(idx.tbl.name, idx.name, nil, ErrSchemaMismatch, "got %d values for %d key columns", len(vals), len(idx.kc.slots))
	}
	keyBuf := keyBytesPool.Get().([]byte)
	defer releaseKeyBytes(keyBuf)
	prefix, err := idx.kc.encodePrefix(keyBuf, vals)
	if err != nil {
		return nil, tableErrf(idx.tbl.name, idx.name, nil, err, "")
	}

	if rowIDs, ok := idx.cache.get(string(prefix)); ok {
		return rowIDs, nil
	}

	buck := tx.Bucket(idx.buck)
	if buck == nil {
		return nil, tableErrf(idx.tbl.name, idx.name, nil, ErrStorageIO, "index bucket missing")
	}
	rang := rawRange{Prefix: prefix}
	rc := rang.newCursor(buck.Cursor(), idx.tbl.logger)
	var rowIDs []uint64
	for rc.Next() {
		key := rc.Key()
		if len(key) != idx.kc.width {
			return nil, dataErrf(ErrMalformedKey, key, len(key), "index %s: key of %d bytes, want %d", idx.fullName(), len(key), idx.kc.width)
		}
		rowIDs = append(rowIDs, uintN(key[idx.kc.width-rowIDKeyWidth:], rowIDKeyWidth))
	}

	idx.cache.put(string(prefix), rowIDs)
	return rowIDs, nil
}

// NumEntries reports the number of keys in the index bucket. Equals the
// table's row count while the index is consistent.
func (idx *Index) NumEntries() (int, error) {
	if err := idx.requireActive(); err != nil {
		return 0, err
	}
	tx, err := idx.tbl.stg.BeginTx(false)
	if err != nil {
		return 0, storageErr(err)
	}
	defer tx.Rollback()
	buck := tx.Bucket(idx.buck)
	if buck == nil {
		return 0, tableErrf(idx.tbl.name, idx.name, nil, ErrStorageIO, "index bucket missing")
	}
	return buck.KeyCount(), nil
}

// MaxKey returns the indexed values and row id of the maximum key, if any.
// Maintained incrementally on insert, not recomputed by scanning.
func (idx *Index) MaxKey() ([]Value, uint64, bool, error) {
	if err := idx.requireActive(); err != nil {
		return nil, 0, false, err
	}
	idx.mu.RLock()
	key := append([]byte(nil), idx.maxKey...)
	idx.mu.RUnlock()
	if key == nil {
		return nil, 0, false, nil
	}
	vals, rowID, err := idx.kc.decodeKey(key)
	if err != nil {
		return nil, 0, false, tableErrf(idx.tbl.name, idx.name, key, err, "")
	}
	return vals, rowID, true, nil
}

// loadStateTx restores the running max key after open by consulting the
// last entry of the index bucket.
func (idx *Index) loadStateTx(tx storageTx, nextRowID uint64) error {
	buck := tx.Bucket(idx.buck)
	if buck == nil {
		return tableErrf(idx.tbl.name, idx.name, nil, ErrFormatMismatch, "index bucket missing")
	}
	k, _ := buck.Cursor().Last()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if k != nil {
		idx.maxKey = append([]byte(nil), k...)
	} else {
		idx.maxKey = nil
	}
	// Every stored row is indexed while the index is consistent, so append
	// order resumes from the table's row count.
	if nextRowID > 0 {
		idx.lastRowID = nextRowID - 1
		idx.hasRows = true
	}
	return nil
}

func (idx *Index) meta() metaIndex {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return metaIndex{
		Name:         idx.name,
		Columns:      append([]string(nil), idx.colNames...),
		SlotElems:    append([]int(nil), idx.slotElems...),
		Inconsistent: idx.state == indexInconsistent,
	}
}
