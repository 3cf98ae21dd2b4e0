package stream

import (
	"sync"

	"github.com/opendataspace/commons/internal/event"
)

// Progress mirrors the length and position of the inner stream and publishes
// event.Length, event.Position and event.Percent whenever one of them moves.
// Unchanged values are not republished.
type Progress struct {
	Wrapper

	mu          sync.Mutex
	length      int64
	lengthKnown bool
	position    int64
	posKnown    bool

	notifier event.Notifier
}

// NewProgress wraps inner, taking the initial length and position from it
// where it can report them. A stream that cannot seek starts at position 0.
func NewProgress(inner Stream) (*Progress, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	p := &Progress{Wrapper: w, posKnown: true}
	if n, err := inner.Length(); err == nil {
		p.length, p.lengthKnown = n, true
	}
	if pos, err := Position(inner); err == nil {
		p.position = pos
	}
	return p, nil
}

// Subscribe registers h for event.Length, event.Position and event.Percent.
func (p *Progress) Subscribe(h event.Handler) func() {
	return p.notifier.Subscribe(h)
}

// ObservedLength returns the last mirrored length, if known.
func (p *Progress) ObservedLength() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length, p.lengthKnown
}

// ObservedPosition returns the last mirrored position, if known.
func (p *Progress) ObservedPosition() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, p.posKnown
}

// Percent returns the completion derived from the mirrored state.
func (p *Progress) Percent() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentLocked()
}

func (p *Progress) percentLocked() (int64, bool) {
	if !p.lengthKnown || !p.posKnown {
		return 0, false
	}
	return Percent(p.position, p.length), true
}

func (p *Progress) Read(b []byte) (int, error) {
	n, err := p.Wrapper.Read(b)
	if n > 0 {
		p.advance(int64(n), false)
	}
	return n, err
}

func (p *Progress) Write(b []byte) (int, error) {
	n, err := p.Wrapper.Write(b)
	if n > 0 {
		p.advance(int64(n), true)
	}
	return n, err
}

func (p *Progress) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.Wrapper.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.update(func() {
		p.position, p.posKnown = pos, true
		p.refreshLengthLocked()
	})
	return pos, nil
}

func (p *Progress) SetLength(n int64) error {
	if err := p.Wrapper.SetLength(n); err != nil {
		return err
	}
	p.update(func() {
		p.length, p.lengthKnown = n, true
	})
	return nil
}

// advance moves the mirrored position by n. Writes past the known end grow
// the length; the inner stream is also re-queried in case it grew under us.
func (p *Progress) advance(n int64, wrote bool) {
	p.update(func() {
		p.position += n
		if !p.refreshLengthLocked() && wrote && p.lengthKnown && p.position > p.length {
			p.length = p.position
		}
	})
}

// refreshLengthLocked re-reads the inner length. It reports false when the
// inner stream cannot tell.
func (p *Progress) refreshLengthLocked() bool {
	n, err := p.Inner().Length()
	if err != nil {
		return false
	}
	p.length, p.lengthKnown = n, true
	return true
}

// update applies mutate under the lock and publishes every field that
// changed as a result, after the lock is released.
func (p *Progress) update(mutate func()) {
	p.mu.Lock()
	oldLen, oldLenKnown := p.length, p.lengthKnown
	oldPos, oldPosKnown := p.position, p.posKnown
	oldPct, oldPctKnown := p.percentLocked()

	mutate()

	var changes []event.Change
	if p.lengthKnown != oldLenKnown || p.length != oldLen {
		changes = append(changes, event.Change{Property: event.Length, Value: p.length})
	}
	if p.posKnown != oldPosKnown || p.position != oldPos {
		changes = append(changes, event.Change{Property: event.Position, Value: p.position})
	}
	if pct, ok := p.percentLocked(); ok && (!oldPctKnown || pct != oldPct) {
		changes = append(changes, event.Change{Property: event.Percent, Value: pct})
	}
	p.mu.Unlock()

	for _, c := range changes {
		p.notifier.Notify(c)
	}
}
