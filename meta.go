package coltab

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	rowsBucketName = "rows"
	metaBucketName = "meta"

	metaRecordKey = "table"

	formatVer1      = 1
	formatVerLatest = formatVer1
)

func indexBucketName(name string) string {
	return "i_" + name
}

// metaRecord is the persisted table descriptor: format version, schema and
// declared indexes. Stored as msgpack under meta/table. Opening a table
// whose stored layout disagrees with expectations fails with
// ErrFormatMismatch, never silently reinterprets bytes.
type metaRecord struct {
	FormatVer   int          `msgpack:"ver"`
	AddressSize int          `msgpack:"addr"`
	Columns     []metaColumn `msgpack:"cols"`
	Indexes     []metaIndex  `msgpack:"idxs"`
}

type metaColumn struct {
	Name     string   `msgpack:"name"`
	Type     uint8    `msgpack:"type"`
	ElemSize int      `msgpack:"size"`
	NumElems int      `msgpack:"n"`
	Enum     []string `msgpack:"enum,omitempty"`
}

type metaIndex struct {
	Name         string   `msgpack:"name"`
	Columns      []string `msgpack:"cols"`
	SlotElems    []int    `msgpack:"slots,omitempty"`
	Inconsistent bool     `msgpack:"bad,omitempty"`
}

func makeMetaRecord(scm *Schema) *metaRecord {
	rec := &metaRecord{
		FormatVer:   formatVerLatest,
		AddressSize: scm.AddressSize,
		Columns:     make([]metaColumn, len(scm.Columns)),
	}
	for i, col := range scm.Columns {
		rec.Columns[i] = metaColumn{
			Name:     col.Name,
			Type:     uint8(col.Type),
			ElemSize: col.ElemSize,
			NumElems: col.NumElems,
			Enum:     col.Enum,
		}
	}
	return rec
}

func (rec *metaRecord) schema() *Schema {
	scm := &Schema{
		AddressSize: rec.AddressSize,
		Columns:     make([]ColumnDef, len(rec.Columns)),
	}
	for i, col := range rec.Columns {
		scm.Columns[i] = ColumnDef{
			Name:     col.Name,
			Type:     ColumnType(col.Type),
			ElemSize: col.ElemSize,
			NumElems: col.NumElems,
			Enum:     col.Enum,
		}
	}
	return scm
}

func saveMetaRecord(tx storageTx, rec *metaRecord) error {
	buck := tx.Bucket(metaBucketName)
	if buck == nil {
		var err error
		buck, err = tx.CreateBucket(metaBucketName)
		if err != nil {
			return storageErr(err)
		}
	}
	raw, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding table meta: %w", err)
	}
	return storageErr(buck.Put([]byte(metaRecordKey), raw))
}

func loadMetaRecord(tx storageTx) (*metaRecord, error) {
	buck := tx.Bucket(metaBucketName)
	if buck == nil {
		return nil, fmt.Errorf("%w: no meta bucket (not a table file?)", ErrFormatMismatch)
	}
	raw := buck.Get([]byte(metaRecordKey))
	if raw == nil {
		return nil, fmt.Errorf("%w: no table descriptor", ErrFormatMismatch)
	}
	var rec metaRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: undecodable table descriptor: %v", ErrFormatMismatch, err)
	}
	if rec.FormatVer != formatVerLatest {
		return nil, fmt.Errorf("%w: format version %d, this build supports %d", ErrFormatMismatch, rec.FormatVer, formatVerLatest)
	}
	return &rec, nil
}
