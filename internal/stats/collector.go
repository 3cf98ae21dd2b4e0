package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector aggregates counters across all transmissions of a run. Counters
// are lock-free; the throughput ring is only advanced by Tick.
type Collector struct {
	started          atomic.Int64
	finished         atomic.Int64
	aborted          atomic.Int64
	bytesTransferred atomic.Int64
	bytesTotal       atomic.Int64
	startTime        time.Time

	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per tick
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddStarted(n int64)          { c.started.Add(n) }
func (c *Collector) AddFinished(n int64)         { c.finished.Add(n) }
func (c *Collector) AddAborted(n int64)          { c.aborted.Add(n) }
func (c *Collector) AddBytesTransferred(n int64) { c.bytesTransferred.Add(n) }

// AddBytesTotal grows the expected byte count, once per transmission whose
// length is known up front.
func (c *Collector) AddBytesTotal(n int64) { c.bytesTotal.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Started          int64
	Finished         int64
	Aborted          int64
	BytesTransferred int64
	BytesTotal       int64
	Elapsed          time.Duration
}

// Active returns how many transmissions have started but not ended.
func (s Snapshot) Active() int64 { return s.Started - s.Finished - s.Aborted }

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Started:          c.started.Load(),
		Finished:         c.finished.Load(),
		Aborted:          c.aborted.Load(),
		BytesTransferred: c.bytesTransferred.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Tick records the bytes moved since the previous tick. Call it once per
// second.
func (c *Collector) Tick() {
	current := c.bytesTransferred.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n ticks.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		sum += c.throughput[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(count)
}

// ETA estimates the remaining time from the 10-second rolling speed.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesTransferred.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"started=%d finished=%d aborted=%d bytes=%d/%d",
		s.Started, s.Finished, s.Aborted, s.BytesTransferred, s.BytesTotal,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
