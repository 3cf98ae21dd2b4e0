package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 50
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddStarted(1)
				c.AddFinished(1)
				c.AddBytesTransferred(128)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.Started)
	assert.Equal(t, expected, s.Finished)
	assert.Equal(t, expected*128, s.BytesTransferred)
	assert.Zero(t, s.Active())
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{Started: 3, Finished: 1, Aborted: 1, BytesTransferred: 512, BytesTotal: 2048}
	assert.Equal(t, "started=3 finished=1 aborted=1 bytes=512/2048", s.String())
	assert.Equal(t, int64(1), s.Active())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestTickAndRollingSpeed(t *testing.T) {
	c := NewCollector()
	for range 5 {
		c.AddBytesTransferred(1000)
		c.Tick()
	}
	assert.InDelta(t, 1000.0, c.RollingSpeed(5), 0.01)
	assert.InDelta(t, 1000.0, c.RollingSpeed(30), 0.01, "window larger than samples")
}

func TestRollingSpeedEmpty(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.RollingSpeed(10))
	assert.Zero(t, c.ETA())
}

func TestRingWraps(t *testing.T) {
	c := NewCollector()
	for range ringSize {
		c.AddBytesTransferred(10)
		c.Tick()
	}
	for range 5 {
		c.AddBytesTransferred(1000)
		c.Tick()
	}
	assert.InDelta(t, 1000.0, c.RollingSpeed(5), 0.01)
}

func TestETA(t *testing.T) {
	c := NewCollector()
	c.AddBytesTotal(10000)
	for range 10 {
		c.AddBytesTransferred(500)
		c.Tick()
	}
	// 5000 bytes left at 500 B/s.
	assert.Equal(t, 10*time.Second, c.ETA())

	c.AddBytesTransferred(5000)
	assert.Zero(t, c.ETA())
}
