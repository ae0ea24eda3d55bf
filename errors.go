package jsonblite

import "errors"

// Error kinds surfaced to callers. Underlying causes are wrapped onto these
// sentinels with fmt.Errorf's %w so errors.Is still matches through the
// wrap chain.
var (
	// ErrInvalidKey is returned when a key is empty.
	ErrInvalidKey = errors.New("jsonblite: invalid key")

	// ErrNotFound is returned by Read when the key is absent from the index.
	ErrNotFound = errors.New("jsonblite: key not found")

	// ErrCorruptFile is returned when the header, index, or file length
	// fail validation.
	ErrCorruptFile = errors.New("jsonblite: corrupt file")

	// ErrLockFailure is returned when an advisory lock acquire or release
	// syscall fails.
	ErrLockFailure = errors.New("jsonblite: lock failure")

	// ErrJournalCorrupt names the case of a journal file that exists but
	// fails to decode. No operation returns it: such a journal is treated as
	// "no journal", and the decode failure is only logged when verbose
	// logging is on.
	ErrJournalCorrupt = errors.New("jsonblite: journal corrupt")

	// ErrIO wraps any other read/write/open/rename failure.
	ErrIO = errors.New("jsonblite: i/o failure")
)
