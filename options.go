package jsonblite

import (
	"fmt"
	"log/slog"
	"time"
)

// Option configures a DB at Open time. JSONBLite has no configuration file,
// only programmatic options.
type Option func(*options)

// Codec encodes and decodes values stored under a key. The default is the
// external CBOR codec (github.com/fxamacker/cbor/v2); it is an interface
// so that WithCodec can substitute another encoding.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type options struct {
	verbose bool
	logger  *slog.Logger
	codec   Codec
	clock   func() int64
}

func defaultOptions() options {
	return options{
		verbose: false,
		logger:  slog.Default(),
		codec:   cborCodec{},
		clock:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Verbose enables informational logging of recovery, sync, and vacuum
// events.
func Verbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithLogger injects a structured logger rather than hardwiring one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec overrides the value codec. Exposed for callers who need a
// non-CBOR encoding at the value boundary; the index and journal always use
// CBOR regardless, and Dump always decodes stored values as CBOR rather
// than through this codec.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// withClock overrides the wall-clock source used by nextTimestamp. It is
// unexported: production callers have no reason to fake time, but the
// package's own tests need deterministic timestamps to exercise the
// cached+1 fallback without a real clock race.
func withClock(fn func() int64) Option {
	return func(o *options) { o.clock = fn }
}

func (d *DB) logf(format string, args ...any) {
	if d.verbose {
		d.logger.Info(fmt.Sprintf(format, args...))
	}
}
