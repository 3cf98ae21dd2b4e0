package stream

import (
	"sync"
	"time"

	"github.com/opendataspace/commons/internal/event"
)

// DefaultStallInterval is how often BandwidthNotifying reports throughput
// when I/O is not driving measurements itself.
const DefaultStallInterval = 2 * time.Second

// measureEvery is the minimum wall-clock span between I/O-driven
// measurements.
const measureEvery = time.Second

// BandwidthNotifying measures throughput in bits per second and publishes it
// as event.BitsPerSecond. I/O publishes a measurement once at least a second
// has elapsed since the previous one; a stall timer publishes on its own
// goroutine when no I/O-driven measurement happened for a full interval,
// reporting 0 once the transfer stops moving.
type BandwidthNotifying struct {
	Wrapper

	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	bytes   int64
	since   time.Time
	timer   *time.Timer
	gen     uint64
	stopped bool
	bits    int64
	known   bool

	notifier event.Notifier
}

// NewBandwidthNotifying wraps inner and starts the stall timer. A
// non-positive interval selects DefaultStallInterval.
func NewBandwidthNotifying(inner Stream, interval time.Duration) (*BandwidthNotifying, error) {
	w, err := newWrapper(inner)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultStallInterval
	}
	b := &BandwidthNotifying{
		Wrapper:  w,
		interval: interval,
		now:      time.Now,
	}
	b.mu.Lock()
	b.since = b.now()
	b.armLocked()
	b.mu.Unlock()
	return b, nil
}

// Subscribe registers h for event.BitsPerSecond.
func (b *BandwidthNotifying) Subscribe(h event.Handler) func() {
	return b.notifier.Subscribe(h)
}

// BitsPerSecond returns the last published measurement, if any.
func (b *BandwidthNotifying) BitsPerSecond() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bits, b.known
}

func (b *BandwidthNotifying) Read(p []byte) (int, error) {
	n, err := b.Wrapper.Read(p)
	b.account(n)
	return n, err
}

func (b *BandwidthNotifying) Write(p []byte) (int, error) {
	n, err := b.Wrapper.Write(p)
	b.account(n)
	return n, err
}

// Close publishes a final measurement over the partial interval, stops the
// timer and closes the inner stream.
func (b *BandwidthNotifying) Close() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return b.Wrapper.Close()
	}
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	bits, publish := b.measureLocked(b.now())
	b.mu.Unlock()

	if publish {
		b.publish(bits)
	}
	return b.Wrapper.Close()
}

func (b *BandwidthNotifying) account(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.bytes += int64(n)
	now := b.now()
	if now.Sub(b.since) < measureEvery {
		b.mu.Unlock()
		return
	}
	bits, _ := b.measureLocked(now)
	b.armLocked()
	b.mu.Unlock()

	b.publish(bits)
}

// measureLocked converts the bytes counted since the last measurement into
// bits per second and resets the counters.
func (b *BandwidthNotifying) measureLocked(now time.Time) (int64, bool) {
	elapsed := now.Sub(b.since)
	if elapsed <= 0 {
		return 0, false
	}
	bits := int64(float64(b.bytes*8) / elapsed.Seconds())
	b.bytes = 0
	b.since = now
	b.bits = bits
	b.known = true
	return bits, true
}

// armLocked (re)starts the stall timer. Any earlier timer is invalidated by
// bumping gen, so a tick racing with an I/O measurement is dropped.
func (b *BandwidthNotifying) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.interval, func() { b.tick(gen) })
}

func (b *BandwidthNotifying) tick(gen uint64) {
	b.mu.Lock()
	if b.stopped || gen != b.gen {
		b.mu.Unlock()
		return
	}
	ms := b.interval.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	bits := b.bytes * 8 * 1000 / ms
	b.bytes = 0
	b.since = b.now()
	b.bits = bits
	b.known = true
	b.armLocked()
	b.mu.Unlock()

	b.publish(bits)
}

func (b *BandwidthNotifying) publish(bits int64) {
	b.notifier.Notify(event.Change{Property: event.BitsPerSecond, Value: bits})
}
