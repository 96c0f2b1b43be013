package coltab

import (
	"fmt"
	"math"
)

// Missing-value sentinels. Each type reserves one bit pattern that no legal
// present value may use: unsigned integers and enum codes reserve all-0xFF,
// signed integers reserve the minimum two's-complement value, floats reserve
// one quiet-NaN payload per width, char slots reserve the all-fill pattern,
// and variable columns reserve the all-0xFF offset+length pair.

const charFill = 0x00

const (
	f16MissingBits = uint64(0x7E01)
	f32MissingBits = uint64(0x7FC00001)
	f64MissingBits = uint64(0x7FF8000000000001)
)

// umaxVal returns the largest unsigned value of a w-byte integer.
func umaxVal(w int) uint64 {
	if w >= 8 {
		return math.MaxUint64
	}
	return (uint64(1) << (8 * w)) - 1
}

// iminVal returns the smallest signed value of a w-byte integer.
func iminVal(w int) int64 {
	return -(int64(1) << (8*w - 1))
}

// imaxVal returns the largest signed value of a w-byte integer.
func imaxVal(w int) int64 {
	return (int64(1) << (8*w - 1)) - 1
}

func floatMissingBits(w int) uint64 {
	switch w {
	case 2:
		return f16MissingBits
	case 4:
		return f32MissingBits
	default:
		return f64MissingBits
	}
}

func floatBits(v float64, w int) uint64 {
	switch w {
	case 2:
		return uint64(float16FromFloat64(v))
	case 4:
		return uint64(math.Float32bits(float32(v)))
	default:
		return math.Float64bits(v)
	}
}

func floatFromBits(bits uint64, w int) float64 {
	switch w {
	case 2:
		return float16ToFloat64(uint16(bits))
	case 4:
		return float64(math.Float32frombits(uint32(bits)))
	default:
		return math.Float64frombits(bits)
	}
}

// rowCodec packs a tuple of typed column values into a row buffer:
// a fixed-size header with one slot per column in schema order, followed by
// a variable region holding the packed elements of variable-arity columns.
type rowCodec struct {
	scm        *Schema
	addr       int
	headerSize int
	slotOffs   []int
	slotSizes  []int
	enumCodes  []map[string]uint64
}

func newRowCodec(scm *Schema) *rowCodec {
	rc := &rowCodec{
		scm:       scm,
		addr:      scm.AddressSize,
		slotOffs:  make([]int, len(scm.Columns)),
		slotSizes: make([]int, len(scm.Columns)),
		enumCodes: make([]map[string]uint64, len(scm.Columns)),
	}
	off := 0
	for i := range scm.Columns {
		col := &scm.Columns[i]
		var size int
		if col.isVariable() {
			size = 2 * rc.addr
		} else {
			size = col.NumElems * col.ElemSize
		}
		rc.slotOffs[i] = off
		rc.slotSizes[i] = size
		off += size
		if col.Type == TypeEnum {
			codes := make(map[string]uint64, len(col.Enum))
			for code, token := range col.Enum {
				codes[token] = uint64(code)
			}
			rc.enumCodes[i] = codes
		}
	}
	rc.headerSize = off
	return rc
}

// encodeRow appends the encoded row to buf. Fails with ErrSchemaMismatch if
// any value's shape, type or range disagrees with its column definition.
func (rc *rowCodec) encodeRow(buf []byte, row []Value) ([]byte, error) {
	cols := rc.scm.Columns
	if len(row) != len(cols) {
		return nil, fmt.Errorf("%w: got %d values for %d columns", ErrSchemaMismatch, len(row), len(cols))
	}
	base := len(buf)
	_, buf = grow(buf, rc.headerSize)

	for i := range cols {
		col := &cols[i]
		val := row[i]
		if !val.IsMissing() && val.kind != col.Type.valueKind() {
			return nil, fmt.Errorf("%w: column %q: %v value for %v column", ErrSchemaMismatch, col.Name, val.kind, col.Type)
		}
		slot := base + rc.slotOffs[i]
		if col.isVariable() {
			var err error
			buf, err = rc.encodeVarColumn(buf, base, slot, i, col, val)
			if err != nil {
				return nil, err
			}
		} else {
			if err := rc.encodeFixedColumn(buf[slot:slot+rc.slotSizes[i]], i, col, val); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

func (rc *rowCodec) encodeVarColumn(buf []byte, base, slot, pos int, col *ColumnDef, val Value) ([]byte, error) {
	addr := rc.addr
	if val.IsMissing() {
		putUintN(buf[slot:], umaxVal(addr), addr)
		putUintN(buf[slot+addr:], umaxVal(addr), addr)
		return buf, nil
	}
	start := len(buf) - base
	var err error
	buf, err = rc.appendElems(buf, pos, col, val)
	if err != nil {
		return nil, err
	}
	length := len(buf) - base - start
	// The all-0xFF pair is the missing sentinel, so offsets and lengths
	// max out one below the address range.
	if uint64(start) >= umaxVal(addr) || uint64(length) >= umaxVal(addr) {
		return nil, fmt.Errorf("%w: column %q: row data exceeds address size %d", ErrSchemaMismatch, col.Name, addr)
	}
	putUintN(buf[slot:], uint64(start), addr)
	putUintN(buf[slot+addr:], uint64(length), addr)
	return buf, nil
}

func (rc *rowCodec) encodeFixedColumn(slot []byte, pos int, col *ColumnDef, val Value) error {
	w := col.ElemSize
	if val.IsMissing() {
		if col.Type == TypeChar {
			for i := range slot {
				slot[i] = charFill
			}
			return nil
		}
		sentinel := rc.missingElemBits(col)
		for i := 0; i < col.NumElems; i++ {
			putUintN(slot[i*w:], sentinel, w)
		}
		return nil
	}
	if col.Type == TypeChar {
		n := len(val.chars)
		if n == 0 || n > col.NumElems {
			return fmt.Errorf("%w: column %q: char value of %d bytes does not fit %d-byte slot", ErrSchemaMismatch, col.Name, n, col.NumElems)
		}
		if err := checkCharData(col, val.chars); err != nil {
			return err
		}
		copy(slot, val.chars)
		for i := n; i < col.NumElems; i++ {
			slot[i] = charFill
		}
		return nil
	}
	if val.Len() != col.NumElems {
		return fmt.Errorf("%w: column %q: got %d elements, want %d", ErrSchemaMismatch, col.Name, val.Len(), col.NumElems)
	}
	for i := 0; i < col.NumElems; i++ {
		bits, err := rc.elemBits(pos, col, val, i)
		if err != nil {
			return err
		}
		putUintN(slot[i*w:], bits, w)
	}
	return nil
}

func (rc *rowCodec) appendElems(buf []byte, pos int, col *ColumnDef, val Value) ([]byte, error) {
	if col.Type == TypeChar {
		if err := checkCharData(col, val.chars); err != nil {
			return nil, err
		}
		return appendRaw(buf, val.chars), nil
	}
	n := val.Len()
	w := col.ElemSize
	for i := 0; i < n; i++ {
		bits, err := rc.elemBits(pos, col, val, i)
		if err != nil {
			return nil, err
		}
		buf = appendUintN(buf, bits, w)
	}
	return buf, nil
}

func (rc *rowCodec) missingElemBits(col *ColumnDef) uint64 {
	switch col.Type {
	case TypeInt:
		return uint64(iminVal(col.ElemSize)) & umaxVal(col.ElemSize)
	case TypeFloat:
		return floatMissingBits(col.ElemSize)
	default: // uint, enum
		return umaxVal(col.ElemSize)
	}
}

// elemBits converts element i of a present value into its stored w-byte
// pattern, rejecting values that collide with the missing sentinel.
func (rc *rowCodec) elemBits(pos int, col *ColumnDef, val Value, i int) (uint64, error) {
	w := col.ElemSize
	switch col.Type {
	case TypeUint:
		v := val.uints[i]
		if v >= umaxVal(w) {
			return 0, fmt.Errorf("%w: column %q: value %d out of range for %d-byte uint", ErrSchemaMismatch, col.Name, v, w)
		}
		return v, nil
	case TypeInt:
		v := val.ints[i]
		// The minimum value of the width is the missing sentinel.
		if v <= iminVal(w) || v > imaxVal(w) {
			return 0, fmt.Errorf("%w: column %q: value %d out of range for %d-byte int", ErrSchemaMismatch, col.Name, v, w)
		}
		return uint64(v) & umaxVal(w), nil
	case TypeFloat:
		v := val.floats[i]
		if math.IsNaN(v) {
			return 0, fmt.Errorf("%w: column %q: NaN is not a legal value (use Missing)", ErrSchemaMismatch, col.Name)
		}
		return floatBits(v, w), nil
	case TypeEnum:
		token := val.tokens[i]
		code, ok := rc.enumCodes[pos][token]
		if !ok {
			return 0, fmt.Errorf("%w: column %q: token %q not in vocabulary", ErrSchemaMismatch, col.Name, token)
		}
		return code, nil
	default:
		return 0, fmt.Errorf("%w: column %q: unsupported type %v", ErrSchemaMismatch, col.Name, col.Type)
	}
}

func checkCharData(col *ColumnDef, data []byte) error {
	for _, b := range data {
		if b == charFill {
			return fmt.Errorf("%w: column %q: char data contains reserved fill byte", ErrSchemaMismatch, col.Name)
		}
	}
	return nil
}

// decodeRow decodes a row buffer back into typed values. Fails with
// ErrCorruptRow if any offset or length falls outside the buffer or implies
// an invalid extent.
func (rc *rowCodec) decodeRow(buf []byte) ([]Value, error) {
	cols := rc.scm.Columns
	if len(buf) < rc.headerSize {
		return nil, dataErrf(ErrCorruptRow, buf, len(buf), "row of %d bytes shorter than %d-byte header", len(buf), rc.headerSize)
	}
	row := make([]Value, len(cols))
	for i := range cols {
		col := &cols[i]
		slot := buf[rc.slotOffs[i] : rc.slotOffs[i]+rc.slotSizes[i]]
		var err error
		if col.isVariable() {
			row[i], err = rc.decodeVarColumn(buf, slot, col)
		} else {
			row[i], err = rc.decodeFixedColumn(buf, slot, col)
		}
		if err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (rc *rowCodec) decodeVarColumn(buf, slot []byte, col *ColumnDef) (Value, error) {
	addr := rc.addr
	start := uintN(slot, addr)
	length := uintN(slot[addr:], addr)
	if start == umaxVal(addr) && length == umaxVal(addr) {
		return Missing(), nil
	}
	if start < uint64(rc.headerSize) || start > uint64(len(buf)) || length > uint64(len(buf))-start {
		return Value{}, dataErrf(ErrCorruptRow, buf, rc.slotOffs[0], "column %q: extent %d+%d outside %d-byte row", col.Name, start, length, len(buf))
	}
	data := buf[start : start+length]
	if col.Type == TypeChar {
		return CharBytes(data), nil
	}
	w := col.ElemSize
	if int(length)%w != 0 {
		return Value{}, dataErrf(ErrCorruptRow, buf, int(start), "column %q: %d-byte extent not divisible by %d-byte elements", col.Name, length, w)
	}
	return rc.decodeElems(buf, data, col, int(length)/w)
}

func (rc *rowCodec) decodeFixedColumn(buf, slot []byte, col *ColumnDef) (Value, error) {
	if col.Type == TypeChar {
		n := len(slot)
		for n > 0 && slot[n-1] == charFill {
			n--
		}
		if n == 0 {
			return Missing(), nil
		}
		data := slot[:n]
		if err := checkCharData(col, data); err != nil {
			return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: interior fill byte in char data", col.Name)
		}
		return CharBytes(data), nil
	}
	w := col.ElemSize
	sentinel := rc.missingElemBits(col)
	missing := true
	for i := 0; i < col.NumElems; i++ {
		if uintN(slot[i*w:], w) != sentinel {
			missing = false
			break
		}
	}
	if missing {
		return Missing(), nil
	}
	return rc.decodeElems(buf, slot, col, col.NumElems)
}

func (rc *rowCodec) decodeElems(buf, data []byte, col *ColumnDef, n int) (Value, error) {
	w := col.ElemSize
	sentinel := rc.missingElemBits(col)
	switch col.Type {
	case TypeUint:
		out := make([]uint64, n)
		for i := 0; i < n; i++ {
			v := uintN(data[i*w:], w)
			if v == sentinel {
				return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: stray sentinel element", col.Name)
			}
			out[i] = v
		}
		return Uint(out...), nil
	case TypeInt:
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			bits := uintN(data[i*w:], w)
			if bits == sentinel {
				return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: stray sentinel element", col.Name)
			}
			out[i] = signExtend(bits, w)
		}
		return Int(out...), nil
	case TypeFloat:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			bits := uintN(data[i*w:], w)
			if bits == sentinel {
				return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: stray sentinel element", col.Name)
			}
			out[i] = floatFromBits(bits, w)
		}
		return Float(out...), nil
	case TypeEnum:
		out := make([]string, n)
		for i := 0; i < n; i++ {
			code := uintN(data[i*w:], w)
			if code >= uint64(len(col.Enum)) {
				return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: enum code %d outside vocabulary of %d", col.Name, code, len(col.Enum))
			}
			out[i] = col.Enum[code]
		}
		return Enum(out...), nil
	default:
		return Value{}, dataErrf(ErrCorruptRow, buf, 0, "column %q: unsupported type %v", col.Name, col.Type)
	}
}

// signExtend interprets the low w bytes of bits as a w-byte two's-complement
// integer.
func signExtend(bits uint64, w int) int64 {
	if w == 8 {
		return int64(bits)
	}
	shift := 64 - 8*w
	return int64(bits<<shift) >> shift
}
