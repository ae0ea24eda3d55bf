package jsonblite

import (
	"errors"
	"fmt"
	"io"
)

// initFresh implements the "file does not exist" branch of C7: write the
// default empty image and build in-memory state from it. Must be called
// with the exclusive lock already held and the file truncated to zero
// length (a just-created file).
func (d *DB) initFresh() error {
	idx := newIndex()
	encIdx, err := encodeIndex(idx)
	if err != nil {
		return fmt.Errorf("%w: encode empty index: %v", ErrIO, err)
	}
	h := fileHeader{
		Magic:        magicBytes,
		Version:      currentVersion,
		IndexSize:    uint32(len(encIdx)),
		DataSize:     0,
		LastModified: 0,
		LastVacuum:   0,
	}
	hb := h.encode()
	if _, err := d.file.WriteAt(hb[:], 0); err != nil {
		return fmt.Errorf("%w: write header: %v", ErrIO, err)
	}
	if _, err := d.file.WriteAt(encIdx, headerSize); err != nil {
		return fmt.Errorf("%w: write index: %v", ErrIO, err)
	}
	if err := d.file.Truncate(int64(headerSize + len(encIdx))); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrIO, err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	d.header = h
	d.index = idx
	d.dataTail = headerSize
	d.lastModified = h.LastModified
	return nil
}

// loadFromDisk builds in-memory header/index state from the file, for both
// opening an existing file and reloading after detecting an external
// change. It rejects a magic/version mismatch, a file truncated below its
// declared regions, and an index that doesn't decode as a map or whose
// entries fall outside the data region.
func (d *DB) loadFromDisk() error {
	var hbuf [headerSize]byte
	if _, err := d.file.ReadAt(hbuf[:], 0); err != nil {
		if isShortRead(err) {
			return fmt.Errorf("%w: file shorter than header: %v", ErrCorruptFile, err)
		}
		return fmt.Errorf("%w: read header: %v", ErrIO, err)
	}
	h, err := decodeHeader(hbuf[:])
	if err != nil {
		return err
	}

	idxBuf := make([]byte, h.IndexSize)
	idxOffset := int64(headerSize + h.DataSize)
	if _, err := d.file.ReadAt(idxBuf, idxOffset); err != nil {
		if isShortRead(err) {
			return fmt.Errorf("%w: file truncated below declared index region: %v", ErrCorruptFile, err)
		}
		return fmt.Errorf("%w: read index: %v", ErrIO, err)
	}
	idx, err := decodeIndex(idxBuf)
	if err != nil {
		return err
	}
	if err := validateIndex(idx, h.DataSize); err != nil {
		return err
	}

	d.header = h
	d.index = idx
	d.dataTail = headerSize + h.DataSize
	d.lastModified = h.LastModified
	return nil
}

// isShortRead reports whether err indicates the file ended before a
// declared region was fully read, the ReadAt idiom for "file truncated".
func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
