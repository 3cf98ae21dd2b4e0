// Package engine drives a transmission end to end: it wires the source and
// destination through a transmission pipeline, copies, verifies and records
// the outcome on the Transmission.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/opendataspace/commons/internal/stats"
	"github.com/opendataspace/commons/internal/stream"
	"github.com/opendataspace/commons/internal/transmission"
)

// DefaultBufferSize is the copy buffer used when Params.BufferSize is unset.
const DefaultBufferSize = 256 * 1024

// ErrVerifyMismatch reports that the destination does not hash to the bytes
// that were transferred.
var ErrVerifyMismatch = errors.New("checksum mismatch")

// Params controls a single Copy. Copy takes ownership of Src and Dst and
// closes both.
type Params struct {
	Transmission *transmission.Transmission
	Src          stream.Stream
	Dst          stream.Stream

	BufferSize    int
	StallInterval time.Duration
	// Limiter caps throughput shared by every Copy using it. Optional.
	Limiter *rate.Limiter
	// Verify re-reads the destination after the copy and compares digests.
	Verify bool
	Stats  *stats.Collector
}

// Result describes a completed or failed Copy.
type Result struct {
	BytesCopied int64
	Checksum    string // hex BLAKE3 of the transferred bytes
	Verified    bool
}

// Copy transfers Src to Dst. Upload transmissions wrap the source in the
// pipeline, downloads wrap the destination, so progress and bandwidth
// control always sit on the local side. On success the transmission is
// Finished; on any failure it is Aborted with the fault recorded. Cancelling
// ctx aborts the transmission.
func Copy(ctx context.Context, p Params) (Result, error) {
	if p.Transmission == nil || p.Src == nil || p.Dst == nil {
		return Result{}, fmt.Errorf("%w: transmission, source and destination are required",
			stream.ErrInvalidArgument)
	}
	tr := p.Transmission
	if p.BufferSize <= 0 {
		p.BufferSize = DefaultBufferSize
	}
	if p.Stats == nil {
		p.Stats = stats.NewCollector()
	}
	p.Stats.AddStarted(1)

	srcLen, srcLenErr := p.Src.Length()
	if srcLenErr == nil {
		p.Stats.AddBytesTotal(srcLen)
		if f, ok := p.Dst.(*stream.File); ok && srcLen > 0 {
			if err := preallocate(f.File, srcLen); err != nil {
				slog.Debug("preallocate destination", "path", tr.Path(), "error", err)
			}
		}
	}

	src, dst := p.Src, p.Dst
	pipe, err := tr.CreateStreamWith(ctx, pipelineSide(tr, p.Src, p.Dst), transmission.StreamOpts{
		StallInterval: p.StallInterval,
	})
	if err != nil {
		closeAll(p.Src, p.Dst)
		return Result{}, fail(tr, p.Stats, err)
	}
	if tr.Type().IsUpload() {
		src = pipe
	} else {
		dst = pipe
		if srcLenErr == nil {
			if err := pipe.SetLength(srcLen); err != nil {
				slog.Debug("presize destination", "path", tr.Path(), "error", err)
			}
		}
	}

	stopAbort := context.AfterFunc(ctx, tr.Abort)
	defer stopAbort()

	slog.Debug("transfer started",
		"id", tr.ID().String(), "path", tr.Path(), "type", tr.Type().String())

	var reader io.Reader = src
	if p.Limiter != nil {
		reader = newRateLimitedReader(ctx, src, p.Limiter)
	}

	hasher := blake3.New()
	n, copyErr := copyBuffer(dst, reader, hasher, make([]byte, p.BufferSize), p.Stats)
	res := Result{BytesCopied: n, Checksum: hex.EncodeToString(hasher.Sum(nil))}

	// An abort that lands after the last byte still wins over Finished.
	if copyErr == nil && tr.Status() == transmission.Aborting {
		copyErr = stream.ErrAborted
	}
	if copyErr == nil && ctx.Err() != nil {
		copyErr = context.Cause(ctx)
	}
	if copyErr == nil && !tr.Type().IsUpload() && srcLenErr == nil && n < srcLen {
		// The source shrank under us; do not leave a presized tail behind.
		copyErr = p.Dst.SetLength(n)
	}
	if copyErr == nil && p.Verify {
		copyErr = verify(p.Dst, res.Checksum)
		res.Verified = copyErr == nil
	}

	closeErr := errors.Join(pipe.Close(), closeOther(tr, p.Src, p.Dst))
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return res, fail(tr, p.Stats, copyErr)
	}

	if !tr.Done() {
		tr.SetStatus(transmission.Finished)
	}
	p.Stats.AddFinished(1)
	slog.Info("transfer finished",
		"path", tr.Path(), "bytes", n, "checksum", res.Checksum, "verified", res.Verified)
	return res, nil
}

// pipelineSide picks the stream the pipeline wraps.
//
//nolint:ireturn // returns whichever side is local
func pipelineSide(tr *transmission.Transmission, src, dst stream.Stream) stream.Stream {
	if tr.Type().IsUpload() {
		return src
	}
	return dst
}

// closeOther closes the side that the pipeline does not own.
func closeOther(tr *transmission.Transmission, src, dst stream.Stream) error {
	if tr.Type().IsUpload() {
		return dst.Close()
	}
	return src.Close()
}

func closeAll(ss ...stream.Stream) {
	for _, s := range ss {
		_ = s.Close()
	}
}

func copyBuffer(dst io.Writer, src io.Reader, hasher io.Writer, buf []byte, c *stats.Collector) (int64, error) {
	var total int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			_, _ = hasher.Write(buf[:nr])
			nw, werr := dst.Write(buf[:nr])
			total += int64(nw)
			c.AddBytesTransferred(int64(nw))
			if werr != nil {
				return total, werr
			}
			if nw < nr {
				return total, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

func verify(dst stream.Stream, want string) error {
	got, err := HashStream(dst)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrVerifyMismatch, want, got)
	}
	return nil
}

// fail records err on the transmission unless the pipeline already did.
func fail(tr *transmission.Transmission, c *stats.Collector, err error) error {
	if tr.FailedException() == nil {
		tr.SetFailedException(err)
	}
	c.AddAborted(1)
	slog.Warn("transfer failed", "path", tr.Path(), "error", err)
	return fmt.Errorf("transfer %s: %w", tr.Path(), err)
}
