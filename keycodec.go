package coltab

import (
	"bytes"
	"fmt"
	"math"
)

// keyCodec encodes a tuple of typed column values into a binary key whose
// unsigned byte-wise ordering matches the natural ordering of the values,
// and decodes such a key back into the exact original values. Every
// per-type transform is a bijection; no auxiliary lookup is needed.
//
// Per-element transforms (element width w bytes):
//
//   - uint, enum code: big-endian of value+1. The all-0xFF value is the
//     missing sentinel and never present, so the shift cannot overflow.
//   - int: big-endian two's complement with the sign bit flipped. The
//     reserved minimum (missing sentinel) maps to zero.
//   - float: big-endian bits; sign bit flipped for non-negative values,
//     all bits inverted for negative ones. Non-sentinel NaNs are rejected
//     at row encode time, so no legal value maps to zero.
//   - char: raw bytes (lexicographic).
//
// A missing column value therefore encodes as the all-zero slot and sorts
// first; no present value produces an all-zero image. Variable-arity slots
// carry a leading presence byte (0 missing, 1 present) so that an empty
// vector stays distinguishable from missing, and pad short vectors with
// zero element images, which sort before every present element.
//
// An 8-byte big-endian row id suffix total-orders duplicate keys by
// insertion order.

const (
	rowIDKeyWidth = 8

	// defaultKeySlotElems bounds the elements of a variable-arity column
	// participating in a key; longer values cannot be indexed.
	defaultKeySlotElems = 16
)

type keySlot struct {
	col      *ColumnDef
	pos      int // column position in the schema
	elems    int // element capacity of the slot
	presence bool
	width    int // total slot width in bytes, presence byte included
	codes    map[string]uint64
}

type keyCodec struct {
	slots []keySlot
	width int // fixed composite width, row id suffix included
}

// newKeyCodec builds a codec over the given schema columns. slotElems gives
// the per-column element capacity for variable-arity columns (0 = default)
// and is ignored for fixed-arity ones.
func newKeyCodec(scm *Schema, positions []int, slotElems []int) (*keyCodec, error) {
	kc := &keyCodec{slots: make([]keySlot, len(positions))}
	total := 0
	for i, pos := range positions {
		col := &scm.Columns[pos]
		slot := keySlot{col: col, pos: pos}
		if col.isVariable() {
			slot.presence = true
			slot.elems = defaultKeySlotElems
			if slotElems != nil && slotElems[i] > 0 {
				slot.elems = slotElems[i]
			}
		} else {
			slot.elems = col.NumElems
		}
		slot.width = slot.elems * col.ElemSize
		if slot.presence {
			slot.width++
		}
		if col.Type == TypeEnum {
			codes := make(map[string]uint64, len(col.Enum))
			for code, token := range col.Enum {
				codes[token] = uint64(code)
			}
			slot.codes = codes
		}
		kc.slots[i] = slot
		total += slot.width
	}
	kc.width = total + rowIDKeyWidth
	if kc.width > maxKeySize {
		return nil, fmt.Errorf("%w: composite key of %d bytes exceeds %d-byte limit", ErrSchemaMismatch, kc.width, maxKeySize)
	}
	return kc, nil
}

const maxKeySize = 32768 // Bolt's key size limit

// encodeKey appends the full key for vals plus the row id suffix.
func (kc *keyCodec) encodeKey(buf []byte, vals []Value, rowID uint64) ([]byte, error) {
	buf, err := kc.encodePrefix(buf, vals)
	if err != nil {
		return nil, err
	}
	return appendUintN(buf, rowID, rowIDKeyWidth), nil
}

// encodePrefix appends the slots for the leading len(vals) columns without
// the row id suffix. A full-tuple prefix identifies all entries with the
// same values; a partial prefix bounds a range.
func (kc *keyCodec) encodePrefix(buf []byte, vals []Value) ([]byte, error) {
	if len(vals) > len(kc.slots) {
		return nil, fmt.Errorf("%w: got %d values for %d key columns", ErrSchemaMismatch, len(vals), len(kc.slots))
	}
	for i := range vals {
		var err error
		buf, err = kc.slots[i].encode(buf, vals[i])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (slot *keySlot) encode(buf []byte, val Value) ([]byte, error) {
	col := slot.col
	off, buf := grow(buf, slot.width)
	out := buf[off:]
	for i := range out {
		out[i] = 0
	}
	if val.IsMissing() {
		return buf, nil
	}
	if val.kind != col.Type.valueKind() {
		return nil, fmt.Errorf("%w: column %q: %v value for %v column", ErrSchemaMismatch, col.Name, val.kind, col.Type)
	}
	if slot.presence {
		out[0] = 1
		out = out[1:]
	}
	if col.Type == TypeChar {
		n := len(val.chars)
		if n > slot.elems || (!col.isVariable() && n == 0) {
			return nil, fmt.Errorf("%w: column %q: char value of %d bytes does not fit %d-byte key slot", ErrSchemaMismatch, col.Name, n, slot.elems)
		}
		if err := checkCharData(col, val.chars); err != nil {
			return nil, err
		}
		copy(out, val.chars)
		return buf, nil
	}
	n := val.Len()
	if col.isVariable() {
		if n > slot.elems {
			return nil, fmt.Errorf("%w: column %q: %d elements do not fit %d-element key slot", ErrSchemaMismatch, col.Name, n, slot.elems)
		}
	} else if n != col.NumElems {
		return nil, fmt.Errorf("%w: column %q: got %d elements, want %d", ErrSchemaMismatch, col.Name, n, col.NumElems)
	}
	w := col.ElemSize
	for i := 0; i < n; i++ {
		image, err := slot.elemImage(val, i)
		if err != nil {
			return nil, err
		}
		putUintN(out[i*w:], image, w)
	}
	return buf, nil
}

// elemImage computes the order-preserving w-byte image of element i.
// Present elements never map to zero.
func (slot *keySlot) elemImage(val Value, i int) (uint64, error) {
	col := slot.col
	w := col.ElemSize
	switch col.Type {
	case TypeUint:
		v := val.uints[i]
		if v >= umaxVal(w) {
			return 0, fmt.Errorf("%w: column %q: value %d out of range for %d-byte uint", ErrSchemaMismatch, col.Name, v, w)
		}
		return v + 1, nil
	case TypeEnum:
		code, ok := slot.codes[val.tokens[i]]
		if !ok {
			return 0, fmt.Errorf("%w: column %q: token %q not in vocabulary", ErrSchemaMismatch, col.Name, val.tokens[i])
		}
		return code + 1, nil
	case TypeInt:
		v := val.ints[i]
		if v <= iminVal(w) || v > imaxVal(w) {
			return 0, fmt.Errorf("%w: column %q: value %d out of range for %d-byte int", ErrSchemaMismatch, col.Name, v, w)
		}
		return (uint64(v) ^ signBit(w)) & umaxVal(w), nil
	case TypeFloat:
		v := val.floats[i]
		if math.IsNaN(v) {
			return 0, fmt.Errorf("%w: column %q: NaN is not a legal value (use Missing)", ErrSchemaMismatch, col.Name)
		}
		bits := floatBits(v, w)
		if bits&signBit(w) != 0 {
			return ^bits & umaxVal(w), nil
		}
		return bits | signBit(w), nil
	default:
		return 0, fmt.Errorf("%w: column %q: unsupported type %v", ErrSchemaMismatch, col.Name, col.Type)
	}
}

func signBit(w int) uint64 {
	return uint64(1) << (8*w - 1)
}

// decodeKey decodes a full key back into column values and the row id.
// Fails with ErrMalformedKey if the length differs from the fixed composite
// width. Pure: the original values are reconstructed from the key alone.
func (kc *keyCodec) decodeKey(key []byte) ([]Value, uint64, error) {
	if len(key) != kc.width {
		return nil, 0, dataErrf(ErrMalformedKey, key, len(key), "key of %d bytes, want %d", len(key), kc.width)
	}
	vals := make([]Value, len(kc.slots))
	off := 0
	for i := range kc.slots {
		slot := &kc.slots[i]
		v, err := slot.decode(key, key[off:off+slot.width])
		if err != nil {
			return nil, 0, err
		}
		vals[i] = v
		off += slot.width
	}
	rowID := uintN(key[off:], rowIDKeyWidth)
	return vals, rowID, nil
}

func (slot *keySlot) decode(key, data []byte) (Value, error) {
	col := slot.col
	if slot.presence {
		switch data[0] {
		case 0:
			if !allZero(data[1:]) {
				return Value{}, dataErrf(ErrMalformedKey, key, 0, "column %q: non-zero payload in missing slot", col.Name)
			}
			return Missing(), nil
		case 1:
			data = data[1:]
		default:
			return Value{}, dataErrf(ErrMalformedKey, key, 0, "column %q: invalid presence byte %d", col.Name, data[0])
		}
	} else if allZero(data) {
		return Missing(), nil
	}

	if col.Type == TypeChar {
		n := len(data)
		for n > 0 && data[n-1] == charFill {
			n--
		}
		// Present char values never contain the fill byte, so an interior
		// one cannot come from the encoder.
		if bytes.IndexByte(data[:n], charFill) >= 0 {
			return Value{}, dataErrf(ErrMalformedKey, key, 0, "column %q: fill byte inside char value", col.Name)
		}
		return CharBytes(append([]byte(nil), data[:n]...)), nil
	}

	w := col.ElemSize
	n := slot.elems
	if col.isVariable() {
		// Strip zero-image padding elements; present images are never zero.
		for n > 0 && allZero(data[(n-1)*w:n*w]) {
			n--
		}
	}
	switch col.Type {
	case TypeUint:
		out := make([]uint64, n)
		for i := 0; i < n; i++ {
			image := uintN(data[i*w:], w)
			if image == 0 {
				return Value{}, dataErrf(ErrMalformedKey, key, i*w, "column %q: zero element image in present value", col.Name)
			}
			out[i] = image - 1
		}
		return Uint(out...), nil
	case TypeEnum:
		out := make([]string, n)
		for i := 0; i < n; i++ {
			image := uintN(data[i*w:], w)
			if image == 0 || image > uint64(len(col.Enum)) {
				return Value{}, dataErrf(ErrMalformedKey, key, i*w, "column %q: enum image %d outside vocabulary of %d", col.Name, image, len(col.Enum))
			}
			out[i] = col.Enum[image-1]
		}
		return Enum(out...), nil
	case TypeInt:
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			image := uintN(data[i*w:], w)
			if image == 0 {
				return Value{}, dataErrf(ErrMalformedKey, key, i*w, "column %q: zero element image in present value", col.Name)
			}
			out[i] = signExtend(image^signBit(w), w)
		}
		return Int(out...), nil
	case TypeFloat:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			image := uintN(data[i*w:], w)
			if image == 0 {
				return Value{}, dataErrf(ErrMalformedKey, key, i*w, "column %q: zero element image in present value", col.Name)
			}
			var bits uint64
			if image&signBit(w) != 0 {
				bits = image ^ signBit(w)
			} else {
				bits = ^image & umaxVal(w)
			}
			out[i] = floatFromBits(bits, w)
		}
		return Float(out...), nil
	default:
		return Value{}, dataErrf(ErrMalformedKey, key, 0, "column %q: unsupported type %v", col.Name, col.Type)
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
