package jsonblite

import "testing"

func TestIndexRoundtripPreservesOrder(t *testing.T) {
	idx := newIndex()
	idx.Set("c", indexEntry{Offset: 36, Size: 3})
	idx.Set("a", indexEntry{Offset: 39, Size: 1})
	idx.Set("b", indexEntry{Offset: 40, Size: 2})

	enc, err := encodeIndex(idx)
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}

	got, err := decodeIndex(enc)
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}

	wantOrder := []string{"c", "a", "b"}
	i := 0
	for pair := got.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key != wantOrder[i] {
			t.Fatalf("key %d: got %q, want %q", i, pair.Key, wantOrder[i])
		}
		orig, _ := idx.Get(pair.Key)
		if pair.Value != orig {
			t.Errorf("value for %q: got %+v, want %+v", pair.Key, pair.Value, orig)
		}
		i++
	}
	if i != 3 {
		t.Fatalf("got %d entries, want 3", i)
	}
}

func TestEmptyIndexRoundtrip(t *testing.T) {
	idx := newIndex()
	enc, err := encodeIndex(idx)
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}
	got, err := decodeIndex(enc)
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}
	if got.Len() != 0 {
		t.Fatalf("got %d entries, want 0", got.Len())
	}
}

func TestDecodeIndexRejectsNonMap(t *testing.T) {
	// A CBOR array header (major type 4), not a map.
	if _, err := decodeIndex([]byte{0x80}); err == nil {
		t.Fatal("expected error decoding a non-map, got nil")
	}
}

func TestDecodeIndexRejectsTrailingGarbage(t *testing.T) {
	idx := newIndex()
	idx.Set("k", indexEntry{Offset: 36, Size: 1})
	enc, err := encodeIndex(idx)
	if err != nil {
		t.Fatalf("encodeIndex: %v", err)
	}
	enc = append(enc, 0xff)
	if _, err := decodeIndex(enc); err == nil {
		t.Fatal("expected error for trailing garbage, got nil")
	}
}

func TestValidateIndexRejectsOutOfRange(t *testing.T) {
	idx := newIndex()
	idx.Set("k", indexEntry{Offset: 10, Size: 5}) // before header end
	if err := validateIndex(idx, 100); err == nil {
		t.Fatal("expected error for offset before header, got nil")
	}

	idx2 := newIndex()
	idx2.Set("k", indexEntry{Offset: headerSize, Size: 1000})
	if err := validateIndex(idx2, 10); err == nil {
		t.Fatal("expected error for entry extending past data region, got nil")
	}
}
