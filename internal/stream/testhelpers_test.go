package stream

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opendataspace/commons/internal/event"
)

// mockStream records calls so tests can assert the inner stream was or was
// not touched.
type mockStream struct {
	mock.Mock
}

func (m *mockStream) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockStream) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockStream) Seek(offset int64, whence int) (int64, error) {
	args := m.Called(offset, whence)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStream) Length() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStream) SetLength(n int64) error {
	return m.Called(n).Error(0)
}

func (m *mockStream) Close() error {
	return m.Called().Error(0)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// readAllThrough drains s and returns what it produced.
func readAllThrough(t *testing.T, s Stream) []byte {
	t.Helper()
	var out bytes.Buffer
	_, err := io.CopyBuffer(&out, s, make([]byte, 32*1024))
	require.NoError(t, err)
	return out.Bytes()
}

// recorder collects notifications from any publisher.
type recorder struct {
	mu      sync.Mutex
	changes []event.Change
}

func (r *recorder) handle(c event.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) all() []event.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Change(nil), r.changes...)
}

func (r *recorder) values(p event.Property) []any {
	var out []any
	for _, c := range r.all() {
		if c.Property == p {
			out = append(out, c.Value)
		}
	}
	return out
}

// fakeClock is a manually advanced clock whose sleep advances time.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}
