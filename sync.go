package jsonblite

import (
	"encoding/binary"
	"fmt"
)

// syncFromDisk detects that another handle mutated the file since our last
// read, via the last_modified stamp, and reloads header and index from disk
// if so. When recoverIfJournal is set, a pending journal is replayed first
// (mutating operations always pass true; the shared-lock read path runs
// recovery earlier instead, under an exclusive lock, and passes false here).
func (d *DB) syncFromDisk(recoverIfJournal bool) error {
	if recoverIfJournal {
		if err := d.recoverIfPending(); err != nil {
			return err
		}
	}
	var buf [8]byte
	if _, err := d.file.ReadAt(buf[:], offLastModified); err != nil {
		return fmt.Errorf("%w: read last_modified: %v", ErrIO, err)
	}
	lm := int64(binary.LittleEndian.Uint64(buf[:]))
	if lm != d.lastModified {
		d.logf("detected external change (last_modified %d -> %d), reloading", d.lastModified, lm)
		if err := d.loadFromDisk(); err != nil {
			return err
		}
	}
	return nil
}

// withExclusiveLock runs fn with the db file exclusively locked for its
// entire duration, releasing the lock on every exit path including an error
// return. The locked handle is captured up front and unlocked at the end,
// so a swap of d.file inside fn (Vacuum swaps in its compacted file) never
// leaves the lock released on the wrong descriptor.
func (d *DB) withExclusiveLock(fn func() error) error {
	f := d.file
	if err := lockExclusive(f); err != nil {
		return fmt.Errorf("%w: %v", ErrLockFailure, err)
	}
	defer func() {
		if err := unlock(f); err != nil {
			d.logf("unlock failed: %v", err)
		}
	}()
	return fn()
}

// beginRead acquires a shared lock for a read-only operation, first running
// recovery (if a journal is pending) under a briefly-held exclusive lock:
// recovery writes, so it cannot run while only a shared lock is held.
func (d *DB) beginRead() error {
	if err := d.withExclusiveLock(d.recoverIfPending); err != nil {
		return err
	}
	if err := lockShared(d.file); err != nil {
		return fmt.Errorf("%w: %v", ErrLockFailure, err)
	}
	if err := d.syncFromDisk(false); err != nil {
		if uerr := unlock(d.file); uerr != nil {
			d.logf("unlock failed: %v", uerr)
		}
		return err
	}
	return nil
}

// endRead releases the shared lock acquired by beginRead.
func (d *DB) endRead() error {
	if err := unlock(d.file); err != nil {
		return fmt.Errorf("%w: %v", ErrLockFailure, err)
	}
	return nil
}
