package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pausable blocks the I/O goroutine while paused. Read waits before touching
// the inner stream, Write waits after it. The gate is binary: any number of
// Pause calls are released by a single Resume.
type Pausable struct {
	Wrapper

	ctx context.Context

	mu   sync.Mutex
	gate chan struct{} // non-nil while paused, closed on resume
}

// NewPausable wraps inner. Cancelling ctx releases a blocked wait with an
// error wrapping the context's cause.
func NewPausable(ctx context.Context, inner Stream) (*Pausable, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pausable{Wrapper: w, ctx: ctx}, nil
}

// Pause closes the gate. Safe from any goroutine.
func (p *Pausable) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		p.gate = make(chan struct{})
		slog.Debug("stream paused")
	}
}

// Resume opens the gate, releasing any blocked I/O. Safe from any goroutine.
func (p *Pausable) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
		slog.Debug("stream resumed")
	}
}

// Paused reports whether the gate is currently closed.
func (p *Pausable) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate != nil
}

func (p *Pausable) Read(b []byte) (int, error) {
	if err := p.wait(); err != nil {
		return 0, err
	}
	return p.Wrapper.Read(b)
}

func (p *Pausable) Write(b []byte) (int, error) {
	n, err := p.Wrapper.Write(b)
	if err != nil {
		return n, err
	}
	if err := p.wait(); err != nil {
		return n, err
	}
	return n, nil
}

// Close closes the inner stream and opens the gate, so a goroutine blocked
// in a wait wakes up to ErrClosed.
func (p *Pausable) Close() error {
	err := p.Wrapper.Close()
	p.Resume()
	return err
}

func (p *Pausable) wait() error {
	for {
		p.mu.Lock()
		gate := p.gate
		p.mu.Unlock()
		if gate == nil || p.IsClosed() {
			return nil
		}

		select {
		case <-gate:
			// Re-check: a Pause may have landed right after the Resume.
		case <-p.ctx.Done():
			return fmt.Errorf("paused stream: %w", context.Cause(p.ctx))
		}
	}
}
