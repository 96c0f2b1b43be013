package coltab

import (
	"log/slog"
	"testing"
)

func fillBucket(t testing.TB, keys ...string) storageBucket {
	t.Helper()
	stg := newMemStorage()
	t.Cleanup(func() { stg.Close() })
	tx, err := stg.BeginTx(true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tx.Rollback() })
	buck, err := tx.CreateBucket("b")
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if err := buck.Put([]byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	return buck
}

func collectRaw(t testing.TB, buck storageBucket, rang rawRange) []string {
	t.Helper()
	rc := rang.newCursor(buck.Cursor(), slog.Default())
	var out []string
	for rc.Next() {
		out = append(out, string(rc.Key()))
	}
	return out
}

func TestRawRangeScans(t *testing.T) {
	buck := fillBucket(t, "aa", "ab", "ba", "bb", "ca")

	tests := []struct {
		name     string
		rang     rawRange
		expected []string
	}{
		{"all", rawRange{}, []string{"aa", "ab", "ba", "bb", "ca"}},
		{"all reverse", rawRange{Reverse: true}, []string{"ca", "bb", "ba", "ab", "aa"}},
		{"prefix", rawRange{Prefix: []byte("b")}, []string{"ba", "bb"}},
		{"prefix reverse", rawRange{Prefix: []byte("b"), Reverse: true}, []string{"bb", "ba"}},
		{"lower inclusive", rawRange{Lower: []byte("ba"), LowerInc: true}, []string{"ba", "bb", "ca"}},
		{"lower exclusive", rawRange{Lower: []byte("ba")}, []string{"bb", "ca"}},
		{"upper inclusive", rawRange{Upper: []byte("bb"), UpperInc: true}, []string{"aa", "ab", "ba", "bb"}},
		{"upper exclusive", rawRange{Upper: []byte("bb")}, []string{"aa", "ab", "ba"}},
		{"bounded reverse", rawRange{Lower: []byte("ab"), LowerInc: true, Upper: []byte("bb"), UpperInc: true, Reverse: true}, []string{"bb", "ba", "ab"}},
		{"reverse upper exclusive", rawRange{Upper: []byte("bb"), Reverse: true}, []string{"ba", "ab", "aa"}},
		{"no matches", rawRange{Prefix: []byte("zz")}, nil},
	}
	for _, test := range tests {
		got := collectRaw(t, buck, test.rang)
		if len(got) != len(test.expected) {
			t.Errorf("** %s: got %v, wanted %v", test.name, got, test.expected)
			continue
		}
		for i := range got {
			if got[i] != test.expected[i] {
				t.Errorf("** %s: got %v, wanted %v", test.name, got, test.expected)
				break
			}
		}
	}
}

func TestMemCursorSeekLast(t *testing.T) {
	buck := fillBucket(t, "aa", "ab", "ba", "bb", "ca")
	cur := buck.Cursor()

	tests := []struct {
		prefix   string
		expected string
	}{
		{"a", "ab"},
		{"b", "bb"},
		{"c", "ca"},
		{"", "ca"},
		{"ab", "ab"},
	}
	for _, test := range tests {
		k, _ := cur.SeekLast([]byte(test.prefix))
		if string(k) != test.expected {
			t.Errorf("** SeekLast(%q) = %q, wanted %q", test.prefix, k, test.expected)
		}
	}
}

func TestMemCursorSeekLastAllFF(t *testing.T) {
	stg := newMemStorage()
	t.Cleanup(func() { stg.Close() })
	tx := must(stg.BeginTx(true))
	t.Cleanup(func() { tx.Rollback() })
	buck := must(tx.CreateBucket("b"))
	ensure(buck.Put([]byte{0x01}, []byte("v")))
	ensure(buck.Put([]byte{0xFF, 0x01}, []byte("v")))

	k, _ := buck.Cursor().SeekLast([]byte{0xFF})
	if string(k) != string([]byte{0xFF, 0x01}) {
		t.Errorf("** SeekLast(ff) = %x, wanted ff01", k)
	}
}
