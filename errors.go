package coltab

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure surfaced by the engine wraps exactly one of
// these, so callers can distinguish rebuild-vs-abort via errors.Is.
var (
	// ErrSchemaMismatch means a value's shape or type disagrees with its
	// column definition. Caller bug, never recovered.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrCorruptRow means a stored row buffer failed structural validation.
	ErrCorruptRow = errors.New("corrupt row")

	// ErrMalformedKey means an index key has the wrong length for its codec.
	ErrMalformedKey = errors.New("malformed index key")

	// ErrOutOfOrderInsert means an incremental index insert violated the
	// append-only row id order. The index is marked inconsistent.
	ErrOutOfOrderInsert = errors.New("out-of-order index insert")

	// ErrFormatMismatch means the stored layout (address size, columns,
	// format version) disagrees with expectations at open time.
	ErrFormatMismatch = errors.New("table format mismatch")

	// ErrStorageIO means the underlying ordered-map primitive failed.
	// Fatal to the open handle; rebuild/recovery is the caller's concern.
	ErrStorageIO = errors.New("storage failure")

	// ErrIndexInconsistent means the index needs a rebuild before use.
	ErrIndexInconsistent = errors.New("index inconsistent")

	// ErrNotFound is returned when a row id or index entry does not exist.
	ErrNotFound = errors.New("not found")
)

// DataError reports a structural violation at a byte offset of a stored
// buffer or key. Unwraps to its kind (ErrCorruptRow or ErrMalformedKey).
type DataError struct {
	Kind error
	Data []byte
	Off  int
	Msg  string
}

func dataErrf(kind error, data []byte, off int, format string, args ...any) error {
	return &DataError{kind, data, off, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Kind
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		return fmt.Sprintf("%v: %s at %d: (%d) %x", e.Kind, e.Msg, e.Off, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	return fmt.Sprintf("%v: %s at %d: (%d) %x...%x", e.Kind, e.Msg, e.Off, n, p, s)
}

// TableError attaches table/index/key context to an underlying error.
type TableError struct {
	Table string
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func tableErrf(table, index string, key []byte, err error, format string, args ...any) error {
	return &TableError{table, index, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func isStorageErr(err error) bool {
	return errors.Is(err, ErrStorageIO)
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageIO, err)
}
