package coltab

import (
	"fmt"
	"strconv"
	"strings"
)

const missingField = "."

// ParseValue converts the textual form of a column value into a typed
// Value. An empty string or "." denotes missing. Numeric and enum vectors
// are comma-separated; char values are taken verbatim.
func ParseValue(col *ColumnDef, s string) (Value, error) {
	if s == "" || s == missingField {
		return Missing(), nil
	}
	switch col.Type {
	case TypeChar:
		return CharBytes([]byte(s)), nil
	case TypeUint:
		fields := strings.Split(s, ",")
		out := make([]uint64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return Value{}, parseErr(col, f, err)
			}
			out[i] = v
		}
		return Uint(out...), nil
	case TypeInt:
		fields := strings.Split(s, ",")
		out := make([]int64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return Value{}, parseErr(col, f, err)
			}
			out[i] = v
		}
		return Int(out...), nil
	case TypeFloat:
		fields := strings.Split(s, ",")
		out := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Value{}, parseErr(col, f, err)
			}
			out[i] = v
		}
		return Float(out...), nil
	case TypeEnum:
		return Enum(strings.Split(s, ",")...), nil
	default:
		return Value{}, fmt.Errorf("%w: column %q: unknown type %v", ErrSchemaMismatch, col.Name, col.Type)
	}
}

func parseErr(col *ColumnDef, field string, err error) error {
	return fmt.Errorf("%w: column %q: cannot parse %q as %v: %v", ErrSchemaMismatch, col.Name, field, col.Type, err)
}

// AppendEncoded parses one textual field per column and appends the
// resulting row. This is the ingestion path for record-oriented text
// formats where every column arrives as a string.
func (tbl *Table) AppendEncoded(fields []string) (uint64, error) {
	cols := tbl.scm.Columns
	if len(fields) != len(cols) {
		return 0, tableErrf(tbl.name, "", nil, ErrSchemaMismatch, "got %d fields for %d columns", len(fields), len(cols))
	}
	row := make([]Value, len(cols))
	for i := range cols {
		v, err := ParseValue(&cols[i], fields[i])
		if err != nil {
			return 0, tableErrf(tbl.name, "", nil, err, "")
		}
		row[i] = v
	}
	return tbl.Append(row)
}
