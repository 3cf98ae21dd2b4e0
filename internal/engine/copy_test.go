package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataspace/commons/internal/stats"
	"github.com/opendataspace/commons/internal/stream"
	"github.com/opendataspace/commons/internal/transmission"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func openFile(t *testing.T, path string) *stream.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	return stream.NewFile(f)
}

func createFile(t *testing.T, path string) *stream.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	return stream.NewFile(f)
}

func TestCopyRequiresArguments(t *testing.T) {
	_, err := Copy(t.Context(), Params{})
	require.ErrorIs(t, err, stream.ErrInvalidArgument)
}

func TestCopyDownloadFile(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 2<<20)
	srcPath := writeFile(t, dir, "remote.bin", data)
	dstPath := filepath.Join(dir, "local.bin")

	tr := transmission.New(transmission.DownloadNewFile, dstPath, "")
	collector := stats.NewCollector()

	res, err := Copy(t.Context(), Params{
		Transmission: tr,
		Src:          openFile(t, srcPath),
		Dst:          createFile(t, dstPath),
		Verify:       true,
		Stats:        collector,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	assert.Equal(t, int64(len(data)), res.BytesCopied)
	assert.True(t, res.Verified)
	assert.Len(t, res.Checksum, 64)

	assert.Equal(t, transmission.Finished, tr.Status())
	length, _ := tr.Length()
	pos, _ := tr.Position()
	pct, _ := tr.Percent()
	assert.Equal(t, int64(len(data)), length)
	assert.Equal(t, int64(len(data)), pos)
	assert.Equal(t, int64(100), pct)
	_, ok := tr.BitsPerSecond()
	assert.False(t, ok)

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.Started)
	assert.Equal(t, int64(1), snap.Finished)
	assert.Equal(t, int64(len(data)), snap.BytesTransferred)
	assert.Equal(t, int64(len(data)), snap.BytesTotal)
}

func TestCopyUploadToWriter(t *testing.T) {
	data := randomBytes(t, 512*1024)
	tr := transmission.New(transmission.UploadNewFile, "doc.txt", "")
	var sink bytes.Buffer

	res, err := Copy(t.Context(), Params{
		Transmission: tr,
		Src:          stream.NewBuffer(data),
		Dst:          stream.NewWriter(&sink),
		BufferSize:   4096,
	})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, sink.Bytes()))
	assert.Equal(t, int64(len(data)), res.BytesCopied)
	assert.False(t, res.Verified)

	pct, ok := tr.Percent()
	require.True(t, ok)
	assert.Equal(t, int64(100), pct)
	assert.Equal(t, transmission.Finished, tr.Status())
}

func TestCopyChecksumMatchesHashStream(t *testing.T) {
	data := randomBytes(t, 100*1024)
	src := stream.NewBuffer(data)
	want, err := HashStream(stream.NewBuffer(data))
	require.NoError(t, err)

	res, err := Copy(t.Context(), Params{
		Transmission: transmission.New(transmission.UploadModifiedFile, "f", ""),
		Src:          src,
		Dst:          stream.NewBuffer(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, want, res.Checksum)
}

func TestCopyAbortedTransmission(t *testing.T) {
	tr := transmission.New(transmission.UploadNewFile, "f", "")
	tr.Abort()
	collector := stats.NewCollector()

	_, err := Copy(t.Context(), Params{
		Transmission: tr,
		Src:          stream.NewBuffer(randomBytes(t, 1024)),
		Dst:          stream.NewBuffer(nil),
		Stats:        collector,
	})
	require.ErrorIs(t, err, stream.ErrAborted)
	assert.Equal(t, transmission.Aborted, tr.Status())
	require.ErrorIs(t, tr.FailedException(), stream.ErrAborted)
	assert.Equal(t, int64(1), collector.Snapshot().Aborted)
}

func TestCopyContextCancelAbortsPausedTransfer(t *testing.T) {
	t.Parallel()
	tr := transmission.New(transmission.DownloadNewFile, "f", "")
	tr.Pause()

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := Copy(ctx, Params{
			Transmission: tr,
			Src:          stream.NewBuffer(randomBytes(t, 1024)),
			Dst:          stream.NewBuffer(nil),
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not stop after cancel")
	}
	assert.Equal(t, transmission.Aborted, tr.Status())
	require.Error(t, tr.FailedException())
}

func TestCopyRawFaultAttributed(t *testing.T) {
	boom := errors.New("network unreachable")
	tr := transmission.New(transmission.UploadNewFile, "f", "")

	_, err := Copy(t.Context(), Params{
		Transmission: tr,
		Src:          stream.NewBuffer(randomBytes(t, 1024)),
		Dst:          stream.NewWriter(errWriter{err: boom}),
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, transmission.Aborted, tr.Status())
	require.ErrorIs(t, tr.FailedException(), boom)
}

func TestCopyWithSharedLimiter(t *testing.T) {
	t.Parallel()
	const limit = 256 * 1024
	data := randomBytes(t, 2*limit)

	start := time.Now()
	_, err := Copy(t.Context(), Params{
		Transmission: transmission.New(transmission.UploadNewFile, "f", ""),
		Src:          stream.NewBuffer(data),
		Dst:          stream.NewBuffer(nil),
		Limiter:      NewBWLimiter(limit),
	})
	require.NoError(t, err)
	// Burst absorbs the first quarter MB; the rest runs at the limit.
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestCopyWithMaxBandwidth(t *testing.T) {
	t.Parallel()
	const limit = 64 * 1024
	tr := transmission.New(transmission.UploadNewFile, "f", "")
	tr.SetMaxBandwidth(limit)

	start := time.Now()
	_, err := Copy(t.Context(), Params{
		Transmission: tr,
		Src:          stream.NewBuffer(randomBytes(t, 2*limit)),
		Dst:          stream.NewBuffer(nil),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

type errWriter struct{ err error }

func (e errWriter) Write([]byte) (int, error) { return 0, e.err }
