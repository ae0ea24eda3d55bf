package jsonblite

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

const (
	journalSuffix = ".journal"
	tempSuffix    = ".temp"

	opWrite  = "write"
	opDelete = "delete"
)

// journalRecord is the single pending transaction written to <db>.journal.
type journalRecord struct {
	Key        string `cbor:"key"`
	Operation  string `cbor:"operation"`
	Data       []byte `cbor:"data"`
	Index      []byte `cbor:"index"`
	Header     []byte `cbor:"header"`
	DataOffset uint64 `cbor:"data_offset"`
}

// writeJournal is the commit point of the write protocol: the encoded
// journal is written with create-or-truncate semantics and flushed before
// returning, since an interrupt after this call must leave a durable,
// replayable record.
func (d *DB) writeJournal(rec journalRecord) error {
	enc, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode journal: %v", ErrIO, err)
	}
	f, err := os.OpenFile(d.journalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: create journal: %v", ErrIO, err)
	}
	defer f.Close()
	if _, err := f.Write(enc); err != nil {
		return fmt.Errorf("%w: write journal: %v", ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync journal: %v", ErrIO, err)
	}
	return nil
}

// readJournal reads and decodes the pending journal, if any. A missing
// journal is not an error. A journal that exists but fails to decode is
// treated as absent: the caller must not touch the db image in that case.
func (d *DB) readJournal() (journalRecord, bool, error) {
	raw, err := os.ReadFile(d.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return journalRecord{}, false, nil
		}
		return journalRecord{}, false, fmt.Errorf("%w: read journal: %v", ErrIO, err)
	}
	var rec journalRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		d.logf("journal at %s is corrupt, treating as absent: %v", d.journalPath, err)
		return journalRecord{}, false, nil
	}
	return rec, true, nil
}

// applyJournal rewrites the exact bytes the journal describes. Every write
// is a positional overwrite determined entirely by the journal's own
// fields, which is what makes replay idempotent.
func (d *DB) applyJournal(rec journalRecord) error {
	if rec.Operation == opWrite {
		offset := int64(rec.DataOffset) - int64(len(rec.Data))
		if _, err := d.file.WriteAt(rec.Data, offset); err != nil {
			return fmt.Errorf("%w: apply journal data: %v", ErrIO, err)
		}
	}
	if _, err := d.file.WriteAt(rec.Header, 0); err != nil {
		return fmt.Errorf("%w: apply journal header: %v", ErrIO, err)
	}
	if _, err := d.file.WriteAt(rec.Index, int64(rec.DataOffset)); err != nil {
		return fmt.Errorf("%w: apply journal index: %v", ErrIO, err)
	}
	if err := d.file.Truncate(int64(rec.DataOffset) + int64(len(rec.Index))); err != nil {
		return fmt.Errorf("%w: truncate after journal apply: %v", ErrIO, err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync after journal apply: %v", ErrIO, err)
	}
	return nil
}

// removeJournal is the commit: it unlinks the journal. A journal already
// absent is not an error, since recovery may be retried after an
// interrupted unlink.
func (d *DB) removeJournal() error {
	if err := os.Remove(d.journalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove journal: %v", ErrIO, err)
	}
	return nil
}

// commitTransaction runs the full begin/apply/commit protocol for a
// transaction built by a mutating operation.
func (d *DB) commitTransaction(rec journalRecord) error {
	if err := d.writeJournal(rec); err != nil {
		return err
	}
	if err := d.applyJournal(rec); err != nil {
		return err
	}
	return d.removeJournal()
}

// recoverIfPending replays a pending journal, if one exists, and rebuilds
// in-memory state. Must be called with the exclusive lock already held.
func (d *DB) recoverIfPending() error {
	rec, present, err := d.readJournal()
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	d.logf("recovering pending journal for key %q", rec.Key)
	if err := d.applyJournal(rec); err != nil {
		return err
	}
	if err := d.removeJournal(); err != nil {
		return err
	}
	return d.loadFromDisk()
}
