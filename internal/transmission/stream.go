package transmission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendataspace/commons/internal/event"
	"github.com/opendataspace/commons/internal/stream"
)

// StreamOpts tunes a pipeline. The zero value uses package defaults.
type StreamOpts struct {
	// StallInterval is the throughput timer period. Zero selects
	// stream.DefaultStallInterval.
	StallInterval time.Duration
}

// Stream is the composed pipeline
//
//	raw -> Abortable -> Pausable -> BandwidthLimited -> BandwidthNotifying -> Progress
//
// bound to a Transmission in both directions. All I/O goes through the
// Progress layer. The Transmission is referenced, not owned: closing the
// Stream leaves it intact.
type Stream struct {
	tr *Transmission

	abortable *stream.Abortable
	pausable  *stream.Pausable
	limited   *stream.BandwidthLimited
	notifying *stream.BandwidthNotifying
	progress  *stream.Progress

	mu          sync.Mutex
	layerUnsubs []func()
	trUnsub     func()
	closed      atomic.Bool
}

// NewStream builds a pipeline around inner and binds it to tr. The pipeline
// immediately reflects tr's current status and bandwidth cap.
func NewStream(ctx context.Context, tr *Transmission, inner stream.Stream, opts StreamOpts) (*Stream, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transmission", stream.ErrInvalidArgument)
	}
	if inner == nil {
		return nil, fmt.Errorf("%w: nil stream", stream.ErrInvalidArgument)
	}

	abortable, err := stream.NewAbortable(inner)
	if err != nil {
		return nil, err
	}
	pausable, err := stream.NewPausable(ctx, abortable)
	if err != nil {
		return nil, err
	}
	limited, err := stream.NewBandwidthLimited(pausable)
	if err != nil {
		return nil, err
	}
	notifying, err := stream.NewBandwidthNotifying(limited, opts.StallInterval)
	if err != nil {
		return nil, err
	}
	progress, err := stream.NewProgress(notifying)
	if err != nil {
		_ = notifying.Close()
		return nil, err
	}

	s := &Stream{
		tr:        tr,
		abortable: abortable,
		pausable:  pausable,
		limited:   limited,
		notifying: notifying,
		progress:  progress,
	}

	s.layerUnsubs = []func(){
		abortable.Subscribe(s.onAbortFault),
		notifying.Subscribe(s.onThroughput),
		progress.Subscribe(s.onProgress),
	}
	s.trUnsub = tr.Subscribe(s.onTransmissionChange)

	if n, ok := progress.ObservedLength(); ok {
		tr.SetLength(n)
	}
	if n, ok := progress.ObservedPosition(); ok {
		tr.SetPosition(n)
	}
	s.applyStatus(tr.Status())
	s.applyBandwidth(tr.MaxBandwidth())

	slog.Debug("transmission stream opened",
		"id", tr.ID().String(), "path", tr.Path(), "type", tr.Type().String())
	return s, nil
}

// Transmission returns the bound transmission.
func (s *Stream) Transmission() *Transmission { return s.tr }

func (s *Stream) Read(p []byte) (int, error)  { return s.progress.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.progress.Write(p) }

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.progress.Seek(offset, whence)
}

func (s *Stream) Length() (int64, error) { return s.progress.Length() }
func (s *Stream) SetLength(n int64) error { return s.progress.SetLength(n) }

// Close detaches from the transmission, releases any goroutine blocked on a
// pause and closes every layer down to the raw stream. Repeat calls are
// no-ops.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	trUnsub := s.trUnsub
	layerUnsubs := s.layerUnsubs
	s.trUnsub, s.layerUnsubs = nil, nil
	s.mu.Unlock()

	trUnsub()

	// Progress closes its inner layers in turn; the final throughput
	// measurement still reaches the transmission. Pausable opens its gate
	// only after it is closed, so a paused reader wakes to ErrClosed.
	err := s.progress.Close()
	for _, unsub := range layerUnsubs {
		unsub()
	}

	slog.Debug("transmission stream closed", "id", s.tr.ID().String(), "path", s.tr.Path())
	return err
}

func (s *Stream) onAbortFault(c event.Change) {
	if c.Property != event.Exception {
		return
	}
	err, _ := c.Value.(error)
	if err == nil {
		err = stream.ErrAborted
	}
	s.tr.SetFailedException(err)
}

func (s *Stream) onThroughput(c event.Change) {
	if bits, ok := c.Value.(int64); ok && c.Property == event.BitsPerSecond {
		s.tr.SetBitsPerSecond(bits)
	}
}

func (s *Stream) onProgress(c event.Change) {
	n, ok := c.Value.(int64)
	if !ok {
		return
	}
	switch c.Property {
	case event.Position:
		s.tr.SetPosition(n)
	case event.Length:
		s.tr.SetLength(n)
	}
}

func (s *Stream) onTransmissionChange(c event.Change) {
	switch c.Property {
	case event.Status:
		if st, ok := c.Value.(Status); ok {
			s.applyStatus(st)
		}
	case event.MaxBandwidth:
		if n, ok := c.Value.(int64); ok {
			s.applyBandwidth(n)
		}
	}
}

func (s *Stream) applyStatus(st Status) {
	switch st {
	case Aborting, Aborted:
		s.abortable.Abort()
		s.pausable.Resume()
	case Paused:
		s.pausable.Pause()
	case Transmitting, Finished:
		s.pausable.Resume()
	}
}

func (s *Stream) applyBandwidth(n int64) {
	if n <= 0 {
		s.limited.DisableLimits()
		return
	}
	err := errors.Join(s.limited.SetReadLimit(n), s.limited.SetWriteLimit(n))
	if err != nil {
		slog.Warn("apply bandwidth limit", "id", s.tr.ID().String(), "error", err)
	}
}

var _ stream.Stream = (*Stream)(nil)
