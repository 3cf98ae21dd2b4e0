package stream

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opendataspace/commons/internal/event"
)

// limitWindow is the accounting interval for bandwidth limits.
const limitWindow = time.Second

// quota is the per-direction accounting state.
type quota struct {
	limit    int64 // bytes per window, 0 when unlimited
	start    time.Time
	consumed int64
}

// BandwidthLimited caps bytes read and bytes written per one-second window,
// each direction independently. A window is only refreshed once its quota is
// exhausted; an idle period does not reset consumption on its own.
type BandwidthLimited struct {
	Wrapper

	mu    sync.Mutex
	read  quota
	write quota

	now   func() time.Time
	sleep func(time.Duration)

	notifier event.Notifier
}

// NewBandwidthLimited wraps inner with no limits set.
func NewBandwidthLimited(inner Stream) (*BandwidthLimited, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	return &BandwidthLimited{
		Wrapper: w,
		now:     time.Now,
		sleep:   time.Sleep,
	}, nil
}

// Subscribe registers h for event.ReadLimit and event.WriteLimit changes.
// A nil Value means the limit was disabled.
func (b *BandwidthLimited) Subscribe(h event.Handler) func() {
	return b.notifier.Subscribe(h)
}

// ReadLimit returns the read ceiling in bytes per second, if any.
func (b *BandwidthLimited) ReadLimit() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read.limit, b.read.limit > 0
}

// WriteLimit returns the write ceiling in bytes per second, if any.
func (b *BandwidthLimited) WriteLimit() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write.limit, b.write.limit > 0
}

// SetReadLimit sets the read ceiling. n must be positive.
func (b *BandwidthLimited) SetReadLimit(n int64) error {
	return b.setLimit(&b.read, event.ReadLimit, n)
}

// SetWriteLimit sets the write ceiling. n must be positive.
func (b *BandwidthLimited) SetWriteLimit(n int64) error {
	return b.setLimit(&b.write, event.WriteLimit, n)
}

// DisableReadLimit removes the read ceiling.
func (b *BandwidthLimited) DisableReadLimit() { b.clearLimit(&b.read, event.ReadLimit) }

// DisableWriteLimit removes the write ceiling.
func (b *BandwidthLimited) DisableWriteLimit() { b.clearLimit(&b.write, event.WriteLimit) }

// DisableLimits removes both ceilings.
func (b *BandwidthLimited) DisableLimits() {
	b.DisableReadLimit()
	b.DisableWriteLimit()
}

func (b *BandwidthLimited) setLimit(q *quota, prop event.Property, n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: bandwidth limit must be positive, got %d", ErrInvalidArgument, n)
	}
	b.mu.Lock()
	if q.limit <= 0 {
		q.start = b.now()
		q.consumed = 0
	}
	q.limit = n
	b.mu.Unlock()

	slog.Debug("bandwidth limit set", "property", prop.String(), "bytes_per_sec", n)
	b.notifier.Notify(event.Change{Property: prop, Value: n})
	return nil
}

func (b *BandwidthLimited) clearLimit(q *quota, prop event.Property) {
	b.mu.Lock()
	q.limit = 0
	q.consumed = 0
	b.mu.Unlock()

	b.notifier.Notify(event.Change{Property: prop, Value: nil})
}

// allowance returns how many bytes the next call in direction q may move,
// sleeping out the window first if its quota is spent. limited is false when
// no ceiling applies.
func (b *BandwidthLimited) allowance(q *quota) (allowed int64, limited bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if q.limit <= 0 {
			return 0, false
		}
		if q.consumed < q.limit {
			return q.limit - q.consumed, true
		}

		remaining := limitWindow - b.now().Sub(q.start)
		if remaining > 0 {
			b.mu.Unlock()
			b.sleep(remaining)
			b.mu.Lock()
		}
		q.start = b.now()
		q.consumed = 0
	}
}

func (b *BandwidthLimited) consume(q *quota, n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	if q.limit > 0 {
		q.consumed += int64(n)
	}
	b.mu.Unlock()
}

// Read clamps len(p) to the current allowance; callers loop for the rest.
func (b *BandwidthLimited) Read(p []byte) (int, error) {
	if b.IsClosed() {
		return 0, ErrClosed
	}
	allowed, limited := b.allowance(&b.read)
	if limited && int64(len(p)) > allowed {
		p = p[:allowed]
	}
	n, err := b.Wrapper.Read(p)
	b.consume(&b.read, n)
	return n, err
}

// Write splits p into slices no larger than the current allowance and writes
// them in turn until p is fully written or the inner stream fails.
func (b *BandwidthLimited) Write(p []byte) (int, error) {
	if b.IsClosed() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return b.Wrapper.Write(p)
	}

	written := 0
	for written < len(p) {
		chunk := p[written:]
		allowed, limited := b.allowance(&b.write)
		if limited && int64(len(chunk)) > allowed {
			chunk = chunk[:allowed]
		}
		n, err := b.Wrapper.Write(chunk)
		b.consume(&b.write, n)
		written += n
		if err != nil {
			return written, err
		}
		if n < len(chunk) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
