package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataspace/commons/internal/event"
)

func TestBandwidthNotifyingDefaultInterval(t *testing.T) {
	b, err := NewBandwidthNotifying(NewBuffer(nil), 0)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, DefaultStallInterval, b.interval)

	_, ok := b.BitsPerSecond()
	assert.False(t, ok)
}

func TestBandwidthNotifyingReportsStall(t *testing.T) {
	t.Parallel()
	b, err := NewBandwidthNotifying(NewBuffer(nil), 30*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var rec recorder
	b.Subscribe(rec.handle)

	require.Eventually(t, func() bool {
		return len(rec.values(event.BitsPerSecond)) >= 2
	}, time.Second, 5*time.Millisecond)

	for _, v := range rec.values(event.BitsPerSecond) {
		assert.Equal(t, int64(0), v)
	}
}

func TestBandwidthNotifyingTimerMeasuresBytes(t *testing.T) {
	t.Parallel()
	b, err := NewBandwidthNotifying(NewBuffer(nil), 50*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var rec recorder
	b.Subscribe(rec.handle)

	_, err = b.Write(make([]byte, 1000))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.values(event.BitsPerSecond)) >= 1
	}, time.Second, 5*time.Millisecond)

	// 1000 bytes in a 50ms tick.
	assert.Equal(t, int64(1000*8*1000/50), rec.values(event.BitsPerSecond)[0])
}

func TestBandwidthNotifyingMeasuresOnIO(t *testing.T) {
	b, err := NewBandwidthNotifying(NewBuffer(nil), time.Hour)
	require.NoError(t, err)
	defer b.Close()

	clock := newFakeClock()
	b.mu.Lock()
	b.now = clock.Now
	b.since = clock.Now()
	b.mu.Unlock()

	var rec recorder
	b.Subscribe(rec.handle)

	_, err = b.Write(make([]byte, 500))
	require.NoError(t, err)
	assert.Empty(t, rec.all(), "no measurement within the first second")

	clock.Advance(2 * time.Second)
	_, err = b.Write(make([]byte, 500))
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1000 * 8 / 2)}, rec.values(event.BitsPerSecond))
	bits, ok := b.BitsPerSecond()
	require.True(t, ok)
	assert.Equal(t, int64(4000), bits)
}

func TestBandwidthNotifyingFinalMeasurementOnClose(t *testing.T) {
	b, err := NewBandwidthNotifying(NewBuffer(nil), time.Hour)
	require.NoError(t, err)

	clock := newFakeClock()
	b.mu.Lock()
	b.now = clock.Now
	b.since = clock.Now()
	b.mu.Unlock()

	var rec recorder
	b.Subscribe(rec.handle)

	_, err = b.Write(make([]byte, 250))
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, []any{int64(250 * 8 * 2)}, rec.values(event.BitsPerSecond))

	_, err = b.Write([]byte{1})
	require.ErrorIs(t, err, ErrClosed)
}

func TestBandwidthNotifyingNoTicksAfterClose(t *testing.T) {
	t.Parallel()
	b, err := NewBandwidthNotifying(NewBuffer(nil), 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	var rec recorder
	b.Subscribe(rec.handle)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.all())
}
