package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opendataspace/commons/internal/event"
)

// Abortable fails every Read and Write with ErrAborted once Abort has been
// called. The inner stream is never touched after that point.
type Abortable struct {
	Wrapper

	aborted atomic.Bool

	mu  sync.Mutex
	err error

	notifier event.Notifier
}

// NewAbortable wraps inner.
func NewAbortable(inner Stream) (*Abortable, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	return &Abortable{Wrapper: w}, nil
}

// Abort marks the stream aborted. Safe from any goroutine; repeat calls are
// no-ops.
func (a *Abortable) Abort() {
	if a.aborted.CompareAndSwap(false, true) {
		slog.Debug("stream abort requested")
	}
}

// Aborted reports whether Abort has been called.
func (a *Abortable) Aborted() bool { return a.aborted.Load() }

// Err returns the abort fault raised by I/O so far, or nil.
func (a *Abortable) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Subscribe registers h for event.Exception, fired once when the abort fault
// is first raised.
func (a *Abortable) Subscribe(h event.Handler) func() {
	return a.notifier.Subscribe(h)
}

func (a *Abortable) Read(p []byte) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	return a.Wrapper.Read(p)
}

func (a *Abortable) Write(p []byte) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	return a.Wrapper.Write(p)
}

func (a *Abortable) check() error {
	if a.IsClosed() {
		return ErrClosed
	}
	if !a.aborted.Load() {
		return nil
	}

	a.mu.Lock()
	first := a.err == nil
	if first {
		a.err = ErrAborted
	}
	err := a.err
	a.mu.Unlock()

	if first {
		a.notifier.Notify(event.Change{Property: event.Exception, Value: err})
	}
	return err
}
