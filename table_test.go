package coltab

import (
	"errors"
	"os"
	"testing"
)

func TestTableAppendGet(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())

	rows := [][]Value{
		{Uint(1), Float(2.5), Char("ab")},
		{Uint(2), Missing(), Char("xyz")},
		{Uint(3), Float(-1.5), Missing()},
	}
	ids := appendAll(t, tbl, rows...)
	for i, id := range ids {
		if id != uint64(i) {
			t.Errorf("** row %d assigned id %d", i, id)
		}
	}
	if n := tbl.NumRows(); n != 3 {
		t.Errorf("** NumRows = %d, wanted 3", n)
	}

	for i, row := range rows {
		got, err := tbl.Get(uint64(i))
		if err != nil {
			t.Fatalf("** Get(%d) failed: %v", i, err)
		}
		for j := range row {
			if !got[j].Equal(row[j]) {
				t.Errorf("** Get(%d)[%d] = %v, wanted %v", i, j, got[j], row[j])
			}
		}
	}

	if _, err := tbl.Get(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("** Get(99) err = %v, wanted ErrNotFound", err)
	}
}

func TestTableAppendRejectsBadRows(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())

	tests := [][]Value{
		{Uint(1), Float(1)},                      // wrong arity
		{Float(1), Float(1), Char("a")},          // wrong kind
		{Uint(4294967295), Float(1), Char("a")},  // sentinel collision
		{Uint(1), Float(1), CharBytes([]byte{0})}, // reserved fill byte
	}
	for _, row := range tests {
		if _, err := tbl.Append(row); !errors.Is(err, ErrSchemaMismatch) {
			t.Errorf("** Append(%v) err = %v, wanted ErrSchemaMismatch", row, err)
		}
	}
	if n := tbl.NumRows(); n != 0 {
		t.Errorf("** NumRows = %d after rejected appends, wanted 0", n)
	}
}

func TestTableLookup(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())
	appendAll(t, tbl,
		[]Value{Uint(1), Float(2.5), Char("ab")},
		[]Value{Uint(2), Missing(), Char("xyz")},
		[]Value{Uint(3), Float(2.5), Char("ab")},
	)
	if _, err := tbl.BuildIndex("by_name", "name"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}

	rowIDs, err := tbl.Lookup("by_name", Char("ab"))
	if err != nil {
		t.Fatalf("** Lookup failed: %v", err)
	}
	if len(rowIDs) != 2 || rowIDs[0] != 0 || rowIDs[1] != 2 {
		t.Errorf("** Lookup(ab) = %v, wanted [0 2] in insertion order", rowIDs)
	}

	rowIDs, err = tbl.Lookup("by_name", Char("nope"))
	if err != nil {
		t.Fatalf("** Lookup failed: %v", err)
	}
	if len(rowIDs) != 0 {
		t.Errorf("** Lookup(nope) = %v, wanted none", rowIDs)
	}

	if _, err := tbl.Lookup("no_such_index", Char("ab")); !errors.Is(err, ErrNotFound) {
		t.Errorf("** unknown index err = %v, wanted ErrNotFound", err)
	}
	if _, err := tbl.Lookup("by_name"); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("** partial tuple err = %v, wanted ErrSchemaMismatch", err)
	}
}

func TestTableLookupMissingValue(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())
	if _, err := tbl.BuildIndex("by_score", "score"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}
	appendAll(t, tbl,
		[]Value{Uint(1), Float(2.5), Char("a")},
		[]Value{Uint(2), Missing(), Char("b")},
		[]Value{Uint(3), Missing(), Char("c")},
	)

	rowIDs, err := tbl.Lookup("by_score", Missing())
	if err != nil {
		t.Fatalf("** Lookup(missing) failed: %v", err)
	}
	if len(rowIDs) != 2 || rowIDs[0] != 1 || rowIDs[1] != 2 {
		t.Errorf("** Lookup(missing) = %v, wanted [1 2]", rowIDs)
	}
}

func collectRange(t testing.TB, tbl *Table, index string, b Bounds) (ids []uint64, firsts []Value) {
	t.Helper()
	cur, err := tbl.Range(index, b)
	if err != nil {
		t.Fatalf("** Range failed: %v", err)
	}
	defer cur.Close()
	for cur.Next() {
		ids = append(ids, cur.RowID())
		firsts = append(firsts, cur.Values()[0])
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("** range scan failed: %v", err)
	}
	return ids, firsts
}

func TestTableRange(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())
	if _, err := tbl.BuildIndex("by_score", "score"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}
	appendAll(t, tbl,
		[]Value{Uint(1), Float(2.5), Char("a")}, // row 0
		[]Value{Uint(2), Missing(), Char("b")},  // row 1
		[]Value{Uint(3), Float(1.0), Char("c")}, // row 2
		[]Value{Uint(4), Float(7.0), Char("d")}, // row 3
	)

	tests := []struct {
		name   string
		bounds Bounds
		ids    []uint64
	}{
		{"full scan, missing first", Bounds{}, []uint64{1, 2, 0, 3}},
		{"reverse", Bounds{Reverse: true}, []uint64{3, 0, 2, 1}},
		{"lower inclusive", Bounds{Lower: []Value{Float(1.0)}, LowerInc: true}, []uint64{2, 0, 3}},
		{"lower exclusive", Bounds{Lower: []Value{Float(1.0)}}, []uint64{0, 3}},
		{"upper inclusive", Bounds{Upper: []Value{Float(2.5)}, UpperInc: true}, []uint64{1, 2, 0}},
		{"upper exclusive", Bounds{Upper: []Value{Float(2.5)}}, []uint64{1, 2}},
		{"closed interval", Bounds{Lower: []Value{Float(1.0)}, LowerInc: true, Upper: []Value{Float(2.5)}, UpperInc: true}, []uint64{2, 0}},
		{"open interval", Bounds{Lower: []Value{Float(1.0)}, Upper: []Value{Float(7.0)}}, []uint64{0}},
		{"reverse bounded", Bounds{Lower: []Value{Float(1.0)}, LowerInc: true, Upper: []Value{Float(2.5)}, UpperInc: true, Reverse: true}, []uint64{0, 2}},
		{"from missing", Bounds{Lower: []Value{Missing()}, LowerInc: true}, []uint64{1, 2, 0, 3}},
		{"above missing", Bounds{Lower: []Value{Missing()}}, []uint64{2, 0, 3}},
		{"empty interval", Bounds{Lower: []Value{Float(7.0)}, Upper: []Value{Float(1.0)}, UpperInc: true}, nil},
	}
	for _, test := range tests {
		ids, _ := collectRange(t, tbl, "by_score", test.bounds)
		if len(ids) != len(test.ids) {
			t.Errorf("** %s: got rows %v, wanted %v", test.name, ids, test.ids)
			continue
		}
		for i := range ids {
			if ids[i] != test.ids[i] {
				t.Errorf("** %s: got rows %v, wanted %v", test.name, ids, test.ids)
				break
			}
		}
	}
}

func TestCursorRow(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())
	if _, err := tbl.BuildIndex("by_score", "score"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}
	appendAll(t, tbl,
		[]Value{Uint(10), Float(2.5), Char("ab")},
		[]Value{Uint(20), Float(1.0), Char("cd")},
	)

	cur, err := tbl.Range("by_score", Bounds{})
	if err != nil {
		t.Fatalf("** Range failed: %v", err)
	}
	defer cur.Close()

	wantIDs := []uint64{20, 10}
	i := 0
	for cur.Next() {
		row, err := cur.Row()
		if err != nil {
			t.Fatalf("** Row failed: %v", err)
		}
		if !row[0].Equal(Uint(wantIDs[i])) {
			t.Errorf("** entry %d: id column = %v, wanted %d", i, row[0], wantIDs[i])
		}
		if !cur.Values()[0].Equal(row[1]) {
			t.Errorf("** entry %d: key value %v differs from row value %v", i, cur.Values()[0], row[1])
		}
		i++
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("** scan failed: %v", err)
	}
	if i != 2 {
		t.Errorf("** scanned %d entries, wanted 2", i)
	}
}

func TestCompositeIndexScan(t *testing.T) {
	scm := &Schema{
		AddressSize: 2,
		Columns: []ColumnDef{
			EnumColumn("chrom", 1, 1, "1", "2", "X"),
			UintColumn("pos", 4, 1),
			CharColumn("ref", 1),
			FloatColumn("qual", 4, 1),
		},
	}
	tbl := newTestTable(t, scm)
	if _, err := tbl.BuildIndex("by_locus", "chrom", "pos"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}
	appendAll(t, tbl,
		[]Value{Enum("2"), Uint(300), Char("A"), Float(60)},   // row 0
		[]Value{Enum("1"), Uint(500), Char("C"), Float(50)},   // row 1
		[]Value{Enum("1"), Uint(100), Char("G"), Missing()},   // row 2
		[]Value{Enum("X"), Uint(7), Char("T"), Float(10)},     // row 3
		[]Value{Enum("1"), Uint(500), Char("T"), Float(99.5)}, // row 4
	)

	ids, _ := collectRange(t, tbl, "by_locus", Bounds{})
	want := []uint64{2, 1, 4, 0, 3}
	for i := range want {
		if i >= len(ids) || ids[i] != want[i] {
			t.Fatalf("** full scan = %v, wanted %v", ids, want)
		}
	}

	// A partial tuple bounds the scan to one chromosome.
	ids, _ = collectRange(t, tbl, "by_locus", Bounds{
		Lower: []Value{Enum("1")}, LowerInc: true,
		Upper: []Value{Enum("1")}, UpperInc: true,
	})
	want = []uint64{2, 1, 4}
	if len(ids) != len(want) {
		t.Fatalf("** chrom 1 scan = %v, wanted %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("** chrom 1 scan = %v, wanted %v", ids, want)
		}
	}

	rowIDs, err := tbl.Lookup("by_locus", Enum("1"), Uint(500))
	if err != nil {
		t.Fatalf("** Lookup failed: %v", err)
	}
	if len(rowIDs) != 2 || rowIDs[0] != 1 || rowIDs[1] != 4 {
		t.Errorf("** Lookup(1, 500) = %v, wanted [1 4]", rowIDs)
	}

	vals, rowID, ok, err := tbl.MaxKey("by_locus")
	if err != nil || !ok {
		t.Fatalf("** MaxKey failed: ok %v, err %v", ok, err)
	}
	if !vals[0].Equal(Enum("X")) || !vals[1].Equal(Uint(7)) || rowID != 3 {
		t.Errorf("** MaxKey = %v row %d, wanted [X 7] row 3", vals, rowID)
	}
}

func TestTablePersistence(t *testing.T) {
	f, err := os.CreateTemp("", "coltab_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	scm := scoreSchema()
	tbl, err := Create(path, scm, Options{IsTesting: true})
	if err != nil {
		t.Fatalf("** Create failed: %v", err)
	}
	appendAll(t, tbl,
		[]Value{Uint(1), Float(2.5), Char("ab")},
		[]Value{Uint(2), Missing(), Char("xyz")},
	)
	if _, err := tbl.BuildIndex("by_score", "score"); err != nil {
		t.Fatalf("** BuildIndex failed: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("** Close failed: %v", err)
	}

	tbl, err = Open(path, scm, Options{IsTesting: true})
	if err != nil {
		t.Fatalf("** Open failed: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })

	if n := tbl.NumRows(); n != 2 {
		t.Errorf("** NumRows after reopen = %d, wanted 2", n)
	}
	row, err := tbl.Get(1)
	if err != nil {
		t.Fatalf("** Get failed: %v", err)
	}
	if !row[2].Equal(Char("xyz")) {
		t.Errorf("** Get(1)[2] = %v, wanted xyz", row[2])
	}
	rowIDs, err := tbl.Lookup("by_score", Float(2.5))
	if err != nil {
		t.Fatalf("** Lookup after reopen failed: %v", err)
	}
	if len(rowIDs) != 1 || rowIDs[0] != 0 {
		t.Errorf("** Lookup(2.5) = %v, wanted [0]", rowIDs)
	}

	// Max key survives reopen and keeps advancing.
	vals, rowID, ok, err := tbl.MaxKey("by_score")
	if err != nil || !ok {
		t.Fatalf("** MaxKey failed: ok %v, err %v", ok, err)
	}
	if !vals[0].Equal(Float(2.5)) || rowID != 0 {
		t.Errorf("** MaxKey = %v row %d, wanted 2.5 row 0", vals[0], rowID)
	}
	appendAll(t, tbl, []Value{Uint(3), Float(9), Char("q")})
	vals, rowID, _, err = tbl.MaxKey("by_score")
	if err != nil {
		t.Fatalf("** MaxKey failed: %v", err)
	}
	if !vals[0].Equal(Float(9)) || rowID != 2 {
		t.Errorf("** MaxKey = %v row %d, wanted 9 row 2", vals[0], rowID)
	}
}

func TestOpenFormatMismatch(t *testing.T) {
	f, err := os.CreateTemp("", "coltab_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	tbl, err := Create(path, scoreSchema(), Options{IsTesting: true})
	if err != nil {
		t.Fatalf("** Create failed: %v", err)
	}
	tbl.Close()

	other := &Schema{
		AddressSize: 4,
		Columns:     []ColumnDef{UintColumn("id", 4, 1)},
	}
	if _, err := Open(path, other, Options{IsTesting: true}); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("** Open with different schema err = %v, wanted ErrFormatMismatch", err)
	}

	// Opening with no expectation adopts the stored schema.
	tbl, err = Open(path, nil, Options{IsTesting: true})
	if err != nil {
		t.Fatalf("** Open(nil schema) failed: %v", err)
	}
	if len(tbl.Columns()) != 3 {
		t.Errorf("** Columns() = %d, wanted 3", len(tbl.Columns()))
	}
	tbl.Close()

	// Creating over an existing table fails rather than clobbering it.
	if _, err := Create(path, scoreSchema(), Options{IsTesting: true}); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("** Create over existing table err = %v, wanted ErrFormatMismatch", err)
	}
}

func TestOpenNotATable(t *testing.T) {
	f, err := os.CreateTemp("", "coltab_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	if _, err := Open(path, nil, Options{IsTesting: true}); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("** Open on empty file err = %v, wanted ErrFormatMismatch", err)
	}
}

func TestTableClosed(t *testing.T) {
	tbl := newTestTable(t, scoreSchema())
	if err := tbl.Close(); err != nil {
		t.Fatalf("** Close failed: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("** double Close failed: %v", err)
	}
	if _, err := tbl.Append([]Value{Uint(1), Float(1), Char("a")}); !errors.Is(err, ErrStorageIO) {
		t.Errorf("** Append on closed table err = %v, wanted ErrStorageIO", err)
	}
	if _, err := tbl.Get(0); !errors.Is(err, ErrStorageIO) {
		t.Errorf("** Get on closed table err = %v, wanted ErrStorageIO", err)
	}
}
