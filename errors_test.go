package coltab

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDataErrorFormatting(t *testing.T) {
	err := dataErrf(ErrCorruptRow, []byte{0xDE, 0xAD}, 1, "bad slot %d", 3)
	if !errors.Is(err, ErrCorruptRow) {
		t.Errorf("** err does not unwrap to ErrCorruptRow: %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"corrupt row", "bad slot 3", "dead", "at 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("** error %q does not mention %q", msg, want)
		}
	}

	// Long buffers are hexdumped as prefix...suffix.
	long := bytes.Repeat([]byte{0xAB}, 200)
	msg = dataErrf(ErrMalformedKey, long, 0, "x").Error()
	if !strings.Contains(msg, "...") || !strings.Contains(msg, "(200)") {
		t.Errorf("** long-buffer error not truncated: %q", msg)
	}
}

func TestTableErrorFormatting(t *testing.T) {
	err := tableErrf("calls", "by_score", []byte{0x01}, ErrNotFound, "row %d", 7)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("** err does not unwrap to ErrNotFound: %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"calls.by_score", "01", "row 7", "not found"} {
		if !strings.Contains(msg, want) {
			t.Errorf("** error %q does not mention %q", msg, want)
		}
	}

	var terr *TableError
	if !errors.As(err, &terr) || terr.Table != "calls" || terr.Index != "by_score" {
		t.Errorf("** errors.As(TableError) = %v", terr)
	}
}

func TestStorageErr(t *testing.T) {
	if storageErr(nil) != nil {
		t.Errorf("** storageErr(nil) != nil")
	}
	inner := errors.New("disk on fire")
	err := storageErr(inner)
	if !errors.Is(err, ErrStorageIO) || !errors.Is(err, inner) {
		t.Errorf("** storageErr wrapping broken: %v", err)
	}
	if again := storageErr(err); again != err {
		t.Errorf("** storageErr double-wrapped: %v", again)
	}
	if !isStorageErr(err) || isStorageErr(ErrNotFound) {
		t.Errorf("** isStorageErr misclassified")
	}
}
