// Package stream provides composable byte-stream decorators used to build a
// transmission pipeline: abort, pause, bandwidth limiting, throughput
// measurement and progress tracking. Each decorator owns the stream it wraps
// and closes it when closed itself.
package stream

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
)

var (
	// ErrAborted is returned by every Read or Write on an aborted stream.
	ErrAborted = errors.New("stream aborted")
	// ErrClosed is returned by any operation on a closed stream.
	ErrClosed = errors.New("stream closed")
	// ErrInvalidArgument reports a bad constructor argument or setter value.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Stream is a readable, writable, seekable byte stream with a length.
// Implementations that cannot seek or report a length return an error
// wrapping errors.ErrUnsupported from those methods.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Length() (int64, error)
	SetLength(n int64) error
}

// Position returns the current offset of s.
func Position(s Stream) (int64, error) {
	return s.Seek(0, io.SeekCurrent)
}

// Percent derives a completion percentage. A zero length is always 100;
// otherwise the result is position*100/length rounded half away from zero.
func Percent(position, length int64) int64 {
	if length == 0 {
		return 100
	}
	return int64(math.Round(float64(position) * 100 / float64(length)))
}

// Wrapper forwards every operation to an inner stream. It is the base that
// all other decorators embed.
type Wrapper struct {
	inner  Stream
	closed atomic.Bool
}

func newWrapper(inner Stream) (Wrapper, error) {
	if inner == nil {
		return Wrapper{}, fmt.Errorf("%w: nil stream", ErrInvalidArgument)
	}
	return Wrapper{inner: inner}, nil
}

// NewWrapper returns a pass-through decorator around inner.
func NewWrapper(inner Stream) (*Wrapper, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Inner returns the wrapped stream.
func (w *Wrapper) Inner() Stream { return w.inner }

// IsClosed reports whether Close has been called.
func (w *Wrapper) IsClosed() bool { return w.closed.Load() }

func (w *Wrapper) Read(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.inner.Read(p)
}

func (w *Wrapper) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.inner.Write(p)
}

func (w *Wrapper) Seek(offset int64, whence int) (int64, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.inner.Seek(offset, whence)
}

func (w *Wrapper) Length() (int64, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.inner.Length()
}

func (w *Wrapper) SetLength(n int64) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, n)
	}
	return w.inner.SetLength(n)
}

// Close closes the inner stream. Only the first call has any effect.
func (w *Wrapper) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.inner.Close()
}

var (
	_ Stream = (*Wrapper)(nil)
	_ Stream = (*Abortable)(nil)
	_ Stream = (*Pausable)(nil)
	_ Stream = (*BandwidthLimited)(nil)
	_ Stream = (*BandwidthNotifying)(nil)
	_ Stream = (*Progress)(nil)
	_ Stream = (*File)(nil)
	_ Stream = (*Buffer)(nil)
)
