package coltab

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ValueKind identifies the payload carried by a Value.
type ValueKind uint8

const (
	KindMissing ValueKind = iota
	KindInt
	KindUint
	KindFloat
	KindChar
	KindEnum
)

func (k ValueKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is a single column value: a present vector of elements, or missing.
// A scalar is a vector of length 1. The zero Value is missing.
type Value struct {
	kind   ValueKind
	ints   []int64
	uints  []uint64
	floats []float64
	chars  []byte
	tokens []string
}

// Missing returns the universal missing value.
func Missing() Value {
	return Value{}
}

func Int(v ...int64) Value {
	return Value{kind: KindInt, ints: v}
}

func Uint(v ...uint64) Value {
	return Value{kind: KindUint, uints: v}
}

func Float(v ...float64) Value {
	return Value{kind: KindFloat, floats: v}
}

// Char returns a character value. Character data must not contain the
// reserved fill byte 0x00.
func Char(s string) Value {
	return Value{kind: KindChar, chars: []byte(s)}
}

func CharBytes(b []byte) Value {
	return Value{kind: KindChar, chars: b}
}

// Enum returns an enumeration value over the column's closed vocabulary.
func Enum(tokens ...string) Value {
	return Value{kind: KindEnum, tokens: tokens}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == KindMissing }

func (v Value) Ints() []int64     { return v.ints }
func (v Value) Uints() []uint64   { return v.uints }
func (v Value) Floats() []float64 { return v.floats }
func (v Value) Chars() []byte     { return v.chars }
func (v Value) Tokens() []string  { return v.tokens }

// CharString returns the character payload as a string.
func (v Value) CharString() string { return string(v.chars) }

// Len returns the element count of a present value, 0 for missing.
func (v Value) Len() int {
	switch v.kind {
	case KindInt:
		return len(v.ints)
	case KindUint:
		return len(v.uints)
	case KindFloat:
		return len(v.floats)
	case KindChar:
		return len(v.chars)
	case KindEnum:
		return len(v.tokens)
	default:
		return 0
	}
}

// Equal compares two values for exact equality. Float elements compare by
// bit pattern so that values survive a codec round trip verbatim.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindMissing:
		return true
	case KindInt:
		return slices.Equal(v.ints, other.ints)
	case KindUint:
		return slices.Equal(v.uints, other.uints)
	case KindFloat:
		if len(v.floats) != len(other.floats) {
			return false
		}
		for i, f := range v.floats {
			if math.Float64bits(f) != math.Float64bits(other.floats[i]) {
				return false
			}
		}
		return true
	case KindChar:
		return slices.Equal(v.chars, other.chars)
	case KindEnum:
		return slices.Equal(v.tokens, other.tokens)
	default:
		return false
	}
}

// String renders the value the way the source text formats do: "." for
// missing, comma-separated elements otherwise.
func (v Value) String() string {
	switch v.kind {
	case KindMissing:
		return "."
	case KindChar:
		return string(v.chars)
	case KindInt:
		return joinElems(len(v.ints), func(i int) string { return strconv.FormatInt(v.ints[i], 10) })
	case KindUint:
		return joinElems(len(v.uints), func(i int) string { return strconv.FormatUint(v.uints[i], 10) })
	case KindFloat:
		return joinElems(len(v.floats), func(i int) string { return strconv.FormatFloat(v.floats[i], 'g', -1, 64) })
	case KindEnum:
		return strings.Join(v.tokens, ",")
	default:
		return "?"
	}
}

func joinElems(n int, f func(i int) string) string {
	if n == 1 {
		return f(0)
	}
	var buf strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(f(i))
	}
	return buf.String()
}
