package coltab

import (
	"fmt"
)

// ColumnType is the element type of a column.
type ColumnType uint8

const (
	TypeUint ColumnType = iota + 1
	TypeInt
	TypeFloat
	TypeChar
	TypeEnum
)

func (t ColumnType) String() string {
	switch t {
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeChar:
		return "char"
	case TypeEnum:
		return "enum"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

func (t ColumnType) valueKind() ValueKind {
	switch t {
	case TypeUint:
		return KindUint
	case TypeInt:
		return KindInt
	case TypeFloat:
		return KindFloat
	case TypeChar:
		return KindChar
	case TypeEnum:
		return KindEnum
	default:
		return KindMissing
	}
}

// Variable marks a column as holding a variable number of elements.
const Variable = 0

// ColumnDef is a resolved, immutable column description.
type ColumnDef struct {
	Name     string
	Type     ColumnType
	ElemSize int // bytes per element: 1..8 for int/uint/enum, 2|4|8 for float, 1 for char
	NumElems int // fixed element count, or Variable
	Enum     []string // closed vocabulary, coded by position; TypeEnum only
}

func (col *ColumnDef) isVariable() bool {
	return col.NumElems == Variable
}

func UintColumn(name string, elemSize, numElems int) ColumnDef {
	return ColumnDef{Name: name, Type: TypeUint, ElemSize: elemSize, NumElems: numElems}
}

func IntColumn(name string, elemSize, numElems int) ColumnDef {
	return ColumnDef{Name: name, Type: TypeInt, ElemSize: elemSize, NumElems: numElems}
}

func FloatColumn(name string, elemSize, numElems int) ColumnDef {
	return ColumnDef{Name: name, Type: TypeFloat, ElemSize: elemSize, NumElems: numElems}
}

func CharColumn(name string, numElems int) ColumnDef {
	return ColumnDef{Name: name, Type: TypeChar, ElemSize: 1, NumElems: numElems}
}

func EnumColumn(name string, elemSize, numElems int, vocab ...string) ColumnDef {
	return ColumnDef{Name: name, Type: TypeEnum, ElemSize: elemSize, NumElems: numElems, Enum: vocab}
}

// Schema is the resolved, immutable description of a table's columns.
// AddressSize is the byte width of the offset/length slots used by
// variable-arity columns; it is fixed at table creation and bounds the
// largest representable row.
type Schema struct {
	Columns     []ColumnDef
	AddressSize int
}

func (scm *Schema) ColumnNamed(name string) (int, *ColumnDef) {
	for i := range scm.Columns {
		if scm.Columns[i].Name == name {
			return i, &scm.Columns[i]
		}
	}
	return -1, nil
}

func (scm *Schema) validate() error {
	if scm.AddressSize < 1 || scm.AddressSize > 8 {
		return fmt.Errorf("%w: address size must be 1..8, got %d", ErrSchemaMismatch, scm.AddressSize)
	}
	if len(scm.Columns) == 0 {
		return fmt.Errorf("%w: schema has no columns", ErrSchemaMismatch)
	}
	seen := make(map[string]bool, len(scm.Columns))
	for i := range scm.Columns {
		col := &scm.Columns[i]
		if col.Name == "" {
			return fmt.Errorf("%w: column %d has no name", ErrSchemaMismatch, i)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrSchemaMismatch, col.Name)
		}
		seen[col.Name] = true
		if err := col.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (col *ColumnDef) validate() error {
	if col.NumElems < 0 {
		return fmt.Errorf("%w: column %q: negative element count", ErrSchemaMismatch, col.Name)
	}
	switch col.Type {
	case TypeUint, TypeInt:
		if col.ElemSize < 1 || col.ElemSize > 8 {
			return fmt.Errorf("%w: column %q: element size must be 1..8, got %d", ErrSchemaMismatch, col.Name, col.ElemSize)
		}
	case TypeFloat:
		if col.ElemSize != 2 && col.ElemSize != 4 && col.ElemSize != 8 {
			return fmt.Errorf("%w: column %q: float element size must be 2, 4 or 8, got %d", ErrSchemaMismatch, col.Name, col.ElemSize)
		}
	case TypeChar:
		if col.ElemSize != 1 {
			return fmt.Errorf("%w: column %q: char element size must be 1, got %d", ErrSchemaMismatch, col.Name, col.ElemSize)
		}
	case TypeEnum:
		if col.ElemSize < 1 || col.ElemSize > 8 {
			return fmt.Errorf("%w: column %q: element size must be 1..8, got %d", ErrSchemaMismatch, col.Name, col.ElemSize)
		}
		if len(col.Enum) == 0 {
			return fmt.Errorf("%w: column %q: enum column has empty vocabulary", ErrSchemaMismatch, col.Name)
		}
		// The all-0xFF code is the missing sentinel and is not assignable.
		if uint64(len(col.Enum)) > umaxVal(col.ElemSize) {
			return fmt.Errorf("%w: column %q: vocabulary of %d entries does not fit %d-byte codes", ErrSchemaMismatch, col.Name, len(col.Enum), col.ElemSize)
		}
	default:
		return fmt.Errorf("%w: column %q: unknown type %v", ErrSchemaMismatch, col.Name, col.Type)
	}
	return nil
}

func (scm *Schema) equal(other *Schema) bool {
	if scm.AddressSize != other.AddressSize || len(scm.Columns) != len(other.Columns) {
		return false
	}
	for i := range scm.Columns {
		a, b := &scm.Columns[i], &other.Columns[i]
		if a.Name != b.Name || a.Type != b.Type || a.ElemSize != b.ElemSize || a.NumElems != b.NumElems {
			return false
		}
		if len(a.Enum) != len(b.Enum) {
			return false
		}
		for j := range a.Enum {
			if a.Enum[j] != b.Enum[j] {
				return false
			}
		}
	}
	return true
}
