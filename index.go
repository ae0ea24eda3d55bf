package jsonblite

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// indexEntry is the (offset, size) pair the on-disk index maps each key to.
type indexEntry struct {
	Offset uint64
	Size   uint64
}

type orderedIndex = orderedmap.OrderedMap[string, indexEntry]

func newIndex() *orderedIndex {
	return orderedmap.New[string, indexEntry]()
}

// CBOR major types relevant to the index wire format (RFC 8949 §3).
const (
	cborMajorMap = 5
)

// encodeIndex serializes idx as a CBOR map of string -> [offset, size],
// emitting entries in insertion order. The map header is built by hand
// because no ordered-map-aware CBOR map encoder exists in the ecosystem;
// individual keys and values are still encoded through the external cbor
// codec.
func encodeIndex(idx *orderedIndex) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(cborMapHeader(uint64(idx.Len())))
	for pair := idx.Oldest(); pair != nil; pair = pair.Next() {
		keyBytes, err := cbor.Marshal(pair.Key)
		if err != nil {
			return nil, fmt.Errorf("index: encode key %q: %w", pair.Key, err)
		}
		buf.Write(keyBytes)
		valBytes, err := cbor.Marshal([2]uint64{pair.Value.Offset, pair.Value.Size})
		if err != nil {
			return nil, fmt.Errorf("index: encode value for %q: %w", pair.Key, err)
		}
		buf.Write(valBytes)
	}
	return buf.Bytes(), nil
}

// decodeIndex parses a CBOR map of string -> [offset, size] and returns an
// order-preserving index. Insertion order comes for free: entries are read
// off the wire in the order they were written, and the encoder above always
// writes them in the original insertion order.
func decodeIndex(data []byte) (*orderedIndex, error) {
	major, n, hdrLen, err := parseCBORHeader(data)
	if err != nil {
		return nil, fmt.Errorf("index: %w: %v", ErrCorruptFile, err)
	}
	if major != cborMajorMap {
		return nil, fmt.Errorf("index: %w: not a map (major type %d)", ErrCorruptFile, major)
	}

	r := bytes.NewReader(data[hdrLen:])
	dec := cbor.NewDecoder(r)
	idx := newIndex()
	for i := uint64(0); i < n; i++ {
		var key string
		if err := dec.Decode(&key); err != nil {
			return nil, fmt.Errorf("index: %w: decode key %d: %v", ErrCorruptFile, i, err)
		}
		var pair [2]uint64
		if err := dec.Decode(&pair); err != nil {
			return nil, fmt.Errorf("index: %w: decode value %d: %v", ErrCorruptFile, i, err)
		}
		idx.Set(key, indexEntry{Offset: pair[0], Size: pair[1]})
	}
	// The decoder reads ahead into its own buffer, so r.Len() is no measure
	// of what the entries consumed; compare the decoder's own count instead.
	if dec.NumBytesRead() != int(r.Size()) {
		return nil, fmt.Errorf("index: %w: trailing bytes after map", ErrCorruptFile)
	}
	return idx, nil
}

// validateIndex checks that every entry's byte range falls within the
// declared data region.
func validateIndex(idx *orderedIndex, dataSize uint64) error {
	limit := headerSize + dataSize
	for pair := idx.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Offset < headerSize || pair.Value.Offset+pair.Value.Size > limit {
			return fmt.Errorf("index: %w: entry %q out of range [%d,%d)", ErrCorruptFile, pair.Key, pair.Value.Offset, pair.Value.Offset+pair.Value.Size)
		}
	}
	return nil
}

// cborMapHeader builds the initial bytes of a definite-length CBOR map
// with n entries (RFC 8949 §3.1).
func cborMapHeader(n uint64) []byte {
	return cborHeader(cborMajorMap, n)
}

func cborHeader(major byte, n uint64) []byte {
	switch {
	case n < 24:
		return []byte{major<<5 | byte(n)}
	case n <= 0xff:
		return []byte{major<<5 | 24, byte(n)}
	case n <= 0xffff:
		return []byte{major<<5 | 25, byte(n >> 8), byte(n)}
	case n <= 0xffffffff:
		return []byte{major<<5 | 26, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{
			major<<5 | 27,
			byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
		}
	}
}

// parseCBORHeader reads the initial bytes of a well-formed, definite-length
// CBOR data item and returns its major type, argument (item count for
// maps/arrays, length for strings), and header length in bytes.
func parseCBORHeader(data []byte) (major byte, arg uint64, headerLen int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("empty input")
	}
	b := data[0]
	major = b >> 5
	ai := b & 0x1f
	switch {
	case ai < 24:
		return major, uint64(ai), 1, nil
	case ai == 24:
		if len(data) < 2 {
			return 0, 0, 0, fmt.Errorf("truncated 1-byte length")
		}
		return major, uint64(data[1]), 2, nil
	case ai == 25:
		if len(data) < 3 {
			return 0, 0, 0, fmt.Errorf("truncated 2-byte length")
		}
		return major, uint64(data[1])<<8 | uint64(data[2]), 3, nil
	case ai == 26:
		if len(data) < 5 {
			return 0, 0, 0, fmt.Errorf("truncated 4-byte length")
		}
		v := uint64(0)
		for i := 1; i <= 4; i++ {
			v = v<<8 | uint64(data[i])
		}
		return major, v, 5, nil
	case ai == 27:
		if len(data) < 9 {
			return 0, 0, 0, fmt.Errorf("truncated 8-byte length")
		}
		v := uint64(0)
		for i := 1; i <= 8; i++ {
			v = v<<8 | uint64(data[i])
		}
		return major, v, 9, nil
	default:
		return 0, 0, 0, fmt.Errorf("unsupported additional info %d (indefinite length)", ai)
	}
}
