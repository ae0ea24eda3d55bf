package jsonblite

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestFreshWriteReadKeys(t *testing.T) {
	db, path := openTestDB(t)

	if err := db.Write("k", "hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got string
	if err := db.Read("k", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	keys, err := db.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("got %v, want [k]", keys)
	}

	fi, err := db.file.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	wantSize := int64(headerSize) + int64(db.header.DataSize) + int64(db.header.IndexSize)
	if fi.Size() != wantSize {
		t.Errorf("file size = %d, want %d (header+data+index)", fi.Size(), wantSize)
	}
	_ = path
}

func TestWriteDeleteVacuum(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Write("a", 1); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := db.Write("b", 2); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := db.Write("c", 3); err != nil {
		t.Fatalf("Write c: %v", err)
	}
	if err := db.Delete("b"); err != nil {
		t.Fatalf("Delete b: %v", err)
	}

	keys, err := db.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("got %v, want [a c]", keys)
	}

	sizeBefore := db.header.DataSize
	if err := db.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if db.header.DataSize >= sizeBefore {
		t.Errorf("data_size after vacuum = %d, want < %d", db.header.DataSize, sizeBefore)
	}

	var a, c int
	if err := db.Read("a", &a); err != nil {
		t.Fatalf("Read a after vacuum: %v", err)
	}
	if err := db.Read("c", &c); err != nil {
		t.Fatalf("Read c after vacuum: %v", err)
	}
	if a != 1 || c != 3 {
		t.Errorf("got a=%d c=%d, want a=1 c=3", a, c)
	}
	if err := db.Read("b", nil); err == nil {
		t.Error("expected ErrNotFound for deleted key after vacuum")
	}
}

// TestCrossHandleCoherence checks that two handles onto the same path
// observe each other's writes via the last_modified coherence check.
func TestCrossHandleCoherence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.jsonblite")

	h1, err := Open(path)
	if err != nil {
		t.Fatalf("Open h1: %v", err)
	}
	defer h1.Close()

	if err := h1.Write("x", "one"); err != nil {
		t.Fatalf("h1.Write: %v", err)
	}

	h2, err := Open(path)
	if err != nil {
		t.Fatalf("Open h2: %v", err)
	}
	defer h2.Close()

	var got string
	if err := h2.Read("x", &got); err != nil {
		t.Fatalf("h2.Read: %v", err)
	}
	if got != "one" {
		t.Fatalf("got %q, want %q", got, "one")
	}

	if err := h2.Write("y", "two"); err != nil {
		t.Fatalf("h2.Write: %v", err)
	}

	// h1 has stayed open throughout, so it must pick up h2's write through
	// the last_modified check. A freshly opened handle must see it too.
	var fromH1 string
	if err := h1.Read("y", &fromH1); err != nil {
		t.Fatalf("h1.Read: %v", err)
	}
	if fromH1 != "two" {
		t.Fatalf("h1 got %q, want %q", fromH1, "two")
	}

	h3, err := Open(path)
	if err != nil {
		t.Fatalf("Open h3: %v", err)
	}
	defer h3.Close()

	var y string
	if err := h3.Read("y", &y); err != nil {
		t.Fatalf("h3.Read: %v", err)
	}
	if y != "two" {
		t.Fatalf("got %q, want %q", y, "two")
	}
}

// TestMonotonicTimestampsUnderFrozenClock checks that a tight write loop
// under a clock that never advances still produces a strictly increasing
// last_modified via the cached+1 fallback.
func TestMonotonicTimestampsUnderFrozenClock(t *testing.T) {
	frozen := int64(1000)
	db, _ := openTestDB(t, withClock(func() int64 { return frozen }))

	prev := db.lastModified
	for i := 0; i < 100; i++ {
		if err := db.Write("k", i); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		if db.lastModified <= prev {
			t.Fatalf("iteration %d: last_modified did not advance (%d <= %d)", i, db.lastModified, prev)
		}
		prev = db.lastModified
	}
	if prev < int64(100) {
		t.Errorf("last_modified only reached %d after 100 writes", prev)
	}
}

// TestDumpOrderAndMeta checks that Dump produces JSON with meta.version == 1
// and keys in insertion order, reflecting a delete.
func TestDumpOrderAndMeta(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Write("a", 1); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := db.Write("b", 2); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := db.Write("c", 3); err != nil {
		t.Fatalf("Write c: %v", err)
	}
	if err := db.Delete("a"); err != nil {
		t.Fatalf("Delete a: %v", err)
	}

	var buf bytes.Buffer
	if err := db.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	var generic struct {
		Meta struct {
			Version uint8 `json:"version"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &generic); err != nil {
		t.Fatalf("unmarshal dump: %v", err)
	}
	if generic.Meta.Version != 1 {
		t.Errorf("meta.version = %d, want 1", generic.Meta.Version)
	}

	out := buf.String()
	posB := strings.Index(out, `"b"`)
	posC := strings.Index(out, `"c"`)
	if posB == -1 || posC == -1 || posB > posC {
		t.Errorf("expected key b before c in dump output: %s", out)
	}
	if strings.Contains(out, `"a":`) {
		t.Errorf("deleted key a should not appear in dump: %s", out)
	}
}

func TestReadEmptyKeyRejected(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.Read("", nil); err != ErrInvalidKey {
		t.Errorf("got %v, want ErrInvalidKey", err)
	}
	if err := db.Write("", 1); err != ErrInvalidKey {
		t.Errorf("got %v, want ErrInvalidKey", err)
	}
}

func TestReadMissingKey(t *testing.T) {
	db, _ := openTestDB(t)
	var v string
	if err := db.Read("nope", &v); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestDeleteAbsentKeyStillAdvancesLastModified(t *testing.T) {
	db, _ := openTestDB(t)
	before := db.lastModified
	if err := db.Delete("nope"); err != nil {
		t.Fatalf("Delete on absent key: %v", err)
	}
	if db.lastModified <= before {
		t.Errorf("last_modified did not advance on delete of absent key: %d <= %d", db.lastModified, before)
	}
}
