// Package jsonblite implements an embeddable, single-file key-value store
// for CBOR-encoded structured values. This file is the public operation
// surface plus the DB type's lifecycle (Open and Close).
package jsonblite

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DB is a handle onto a single JSONBLite file. A handle is not safe for
// concurrent use by multiple goroutines; callers needing concurrent access
// should open separate handles onto the same path and rely on the file
// lock and last_modified coherence check instead of an in-process mutex.
type DB struct {
	path        string
	journalPath string
	tempPath    string

	file *os.File

	header       fileHeader
	index        *orderedIndex
	dataTail     uint64
	lastModified int64

	codec   Codec
	logger  *slog.Logger
	verbose bool
	clock   func() int64
}

// Open opens the JSONBLite file at path, creating it with a fresh empty
// image if it does not exist.
func Open(path string, opts ...Option) (db *DB, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, oerr := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if oerr != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, oerr)
	}
	closeOnReturn := true
	defer func() {
		if closeOnReturn {
			f.Close()
		}
	}()

	fi, serr := f.Stat()
	if serr != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, serr)
	}
	fresh := fi.Size() == 0

	d := &DB{
		path:        path,
		journalPath: path + journalSuffix,
		tempPath:    path + tempSuffix,
		file:        f,
		codec:       o.codec,
		logger:      o.logger,
		verbose:     o.verbose,
		clock:       o.clock,
	}

	if err = lockExclusive(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockFailure, err)
	}
	defer func() {
		if uerr := unlock(f); uerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrLockFailure, uerr)
		}
	}()

	if fresh {
		if err = d.initFresh(); err != nil {
			return nil, err
		}
	} else {
		if err = d.recoverIfPending(); err != nil {
			return nil, err
		}
		if err = d.loadFromDisk(); err != nil {
			return nil, err
		}
	}

	d.logf("opened %s (fresh=%v)", path, fresh)
	closeOnReturn = false
	return d, nil
}

// nextTimestamp returns the current wall-clock time in milliseconds, or
// one past the cached last_modified if the clock has not advanced.
func (d *DB) nextTimestamp() int64 {
	now := d.clock()
	if now <= d.lastModified {
		return d.lastModified + 1
	}
	return now
}

// Read decodes the value stored under key into out. It returns ErrNotFound
// if the key is absent.
func (d *DB) Read(key string, out any) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := d.beginRead(); err != nil {
		return err
	}
	defer d.endRead()

	entry, ok := d.index.Get(key)
	if !ok {
		return ErrNotFound
	}
	buf := make([]byte, entry.Size)
	if _, err := d.file.ReadAt(buf, int64(entry.Offset)); err != nil {
		return fmt.Errorf("%w: read value for %q: %v", ErrIO, key, err)
	}
	if out != nil {
		if err := d.codec.Unmarshal(buf, out); err != nil {
			return fmt.Errorf("%w: decode value for %q: %v", ErrCorruptFile, key, err)
		}
	}
	return nil
}

// Write encodes value and stores it under key, appending to the data
// region and committing the change through the journal.
func (d *DB) Write(key string, value any) error {
	if key == "" {
		return ErrInvalidKey
	}
	return d.withExclusiveLock(func() error {
		if err := d.syncFromDisk(true); err != nil {
			return err
		}

		vBytes, err := d.codec.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: encode value for %q: %v", ErrIO, key, err)
		}

		newOffset := d.dataTail
		newTail := newOffset + uint64(len(vBytes))
		d.index.Set(key, indexEntry{Offset: newOffset, Size: uint64(len(vBytes))})

		encIdx, err := encodeIndex(d.index)
		if err != nil {
			return fmt.Errorf("%w: encode index: %v", ErrIO, err)
		}

		newHeader := fileHeader{
			Magic:        magicBytes,
			Version:      currentVersion,
			IndexSize:    uint32(len(encIdx)),
			DataSize:     newTail - headerSize,
			LastModified: d.nextTimestamp(),
			LastVacuum:   d.header.LastVacuum,
		}
		hb := newHeader.encode()

		rec := journalRecord{
			Key:        key,
			Operation:  opWrite,
			Data:       vBytes,
			Index:      encIdx,
			Header:     hb[:],
			DataOffset: newTail,
		}
		if err := d.commitTransaction(rec); err != nil {
			return err
		}

		d.header = newHeader
		d.dataTail = newTail
		d.lastModified = newHeader.LastModified
		return nil
	})
}

// Delete removes key from the index. Deleting an absent key still advances
// last_modified and commits a journal entry; the underlying data bytes are
// never rewritten in place, only reclaimed by Vacuum.
func (d *DB) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return d.withExclusiveLock(func() error {
		if err := d.syncFromDisk(true); err != nil {
			return err
		}

		d.index.Delete(key)

		encIdx, err := encodeIndex(d.index)
		if err != nil {
			return fmt.Errorf("%w: encode index: %v", ErrIO, err)
		}

		newHeader := fileHeader{
			Magic:        magicBytes,
			Version:      currentVersion,
			IndexSize:    uint32(len(encIdx)),
			DataSize:     d.dataTail - headerSize,
			LastModified: d.nextTimestamp(),
			LastVacuum:   d.header.LastVacuum,
		}
		hb := newHeader.encode()

		rec := journalRecord{
			Key:        key,
			Operation:  opDelete,
			Data:       nil,
			Index:      encIdx,
			Header:     hb[:],
			DataOffset: d.dataTail,
		}
		if err := d.commitTransaction(rec); err != nil {
			return err
		}

		d.header = newHeader
		d.lastModified = newHeader.LastModified
		return nil
	})
}

// Keys returns a snapshot of the index's keys in insertion order.
func (d *DB) Keys() ([]string, error) {
	if err := d.beginRead(); err != nil {
		return nil, err
	}
	defer d.endRead()

	keys := make([]string, 0, d.index.Len())
	for pair := d.index.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys, nil
}

type dumpMeta struct {
	Version    uint8  `json:"version"`
	DataSize   uint64 `json:"data_size"`
	IndexSize  uint32 `json:"index_size"`
	LastVacuum string `json:"last_vacuum"`
}

type dumpDocument struct {
	Meta dumpMeta                                     `json:"meta"`
	Data *orderedmap.OrderedMap[string, json.RawMessage] `json:"data"`
}

// dumpTo builds the JSON document for the current db image and writes it to
// w. Values that fail to decode from CBOR, or that decode to something JSON
// cannot represent (NaN, Infinity, non-string map keys), are omitted rather
// than aborting the whole dump.
func (d *DB) dumpTo(w io.Writer) error {
	if err := d.beginRead(); err != nil {
		return err
	}
	defer d.endRead()

	dm, err := jsonDecMode()
	if err != nil {
		return fmt.Errorf("%w: build decode mode: %v", ErrIO, err)
	}

	data := orderedmap.New[string, json.RawMessage]()
	for pair := d.index.Oldest(); pair != nil; pair = pair.Next() {
		buf := make([]byte, pair.Value.Size)
		if _, err := d.file.ReadAt(buf, int64(pair.Value.Offset)); err != nil {
			return fmt.Errorf("%w: read value for %q: %v", ErrIO, pair.Key, err)
		}
		var v any
		if err := dm.Unmarshal(buf, &v); err != nil {
			d.logf("dump: omitting %q: cbor decode failed: %v", pair.Key, err)
			continue
		}
		jb, err := json.Marshal(v)
		if err != nil {
			d.logf("dump: omitting %q: not json-representable: %v", pair.Key, err)
			continue
		}
		data.Set(pair.Key, json.RawMessage(jb))
	}

	doc := dumpDocument{
		Meta: dumpMeta{
			Version:    d.header.Version,
			DataSize:   d.header.DataSize,
			IndexSize:  d.header.IndexSize,
			LastVacuum: strconv.FormatInt(d.header.LastVacuum, 10),
		},
		Data: data,
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("%w: encode dump: %v", ErrIO, err)
	}
	return nil
}

// Dump writes the current db image as a JSON document to w.
func (d *DB) Dump(w io.Writer) error {
	return d.dumpTo(w)
}

// DumpFile writes the JSON document to a new UTF-8 file at path.
func (d *DB) DumpFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create dump file %s: %v", ErrIO, path, err)
	}
	defer f.Close()
	return d.dumpTo(f)
}

// Vacuum rewrites the live values densely into a temp file and atomically
// replaces the live file. It runs only when called; there is no background
// compaction.
func (d *DB) Vacuum() error {
	var old *os.File
	err := d.withExclusiveLock(func() error {
		if err := d.syncFromDisk(true); err != nil {
			return err
		}

		oldTotalSize := int64(headerSize) + int64(d.header.DataSize) + int64(d.header.IndexSize)

		tmp, err := os.OpenFile(d.tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("%w: create temp file: %v", ErrIO, err)
		}
		succeeded := false
		defer func() {
			if !succeeded {
				tmp.Close()
				os.Remove(d.tempPath)
			}
		}()

		compactedIndex := newIndex()
		offset := uint64(headerSize)
		for pair := d.index.Oldest(); pair != nil; pair = pair.Next() {
			buf := make([]byte, pair.Value.Size)
			if _, err := d.file.ReadAt(buf, int64(pair.Value.Offset)); err != nil {
				return fmt.Errorf("%w: read live value for %q: %v", ErrIO, pair.Key, err)
			}
			if _, err := tmp.WriteAt(buf, int64(offset)); err != nil {
				return fmt.Errorf("%w: write compacted value for %q: %v", ErrIO, pair.Key, err)
			}
			compactedIndex.Set(pair.Key, indexEntry{Offset: offset, Size: pair.Value.Size})
			offset += pair.Value.Size
		}

		encIdx, err := encodeIndex(compactedIndex)
		if err != nil {
			return fmt.Errorf("%w: encode compacted index: %v", ErrIO, err)
		}

		ts := d.nextTimestamp()
		finalHeader := fileHeader{
			Magic:        magicBytes,
			Version:      currentVersion,
			IndexSize:    uint32(len(encIdx)),
			DataSize:     offset - headerSize,
			LastModified: ts,
			LastVacuum:   ts,
		}
		hb := finalHeader.encode()
		if _, err := tmp.WriteAt(hb[:], 0); err != nil {
			return fmt.Errorf("%w: write compacted header: %v", ErrIO, err)
		}
		if _, err := tmp.WriteAt(encIdx, int64(offset)); err != nil {
			return fmt.Errorf("%w: write compacted index: %v", ErrIO, err)
		}
		if err := tmp.Truncate(int64(offset) + int64(len(encIdx))); err != nil {
			return fmt.Errorf("%w: truncate compacted file: %v", ErrIO, err)
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("%w: sync compacted file: %v", ErrIO, err)
		}

		if err := os.Rename(d.tempPath, d.path); err != nil {
			return fmt.Errorf("%w: rename temp file: %v", ErrIO, err)
		}
		succeeded = true

		old = d.file
		d.file = tmp

		d.header = finalHeader
		d.index = compactedIndex
		d.dataTail = offset
		d.lastModified = ts

		newTotalSize := int64(offset) + int64(len(encIdx))
		d.logf("vacuum: %d bytes reclaimed (%d -> %d)", oldTotalSize-newTotalSize, oldTotalSize, newTotalSize)
		return nil
	})

	// The old handle is the one withExclusiveLock just released the lock
	// on; close it only now, so unlock always runs against a live fd.
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			d.logf("vacuum: closing previous file handle: %v", cerr)
		}
	}
	return err
}

// Close releases the underlying file descriptor. It does not remove any
// pending journal or temp file; those are recovered or ignored on the next
// Open.
func (d *DB) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}
