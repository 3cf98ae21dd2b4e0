// Package transmission holds the observable state of a single file transfer
// and the stream pipeline that keeps that state in sync with actual I/O.
//
// A controller mutates Status and MaxBandwidth from its own goroutine; the
// pipeline created by CreateStream picks those changes up for the I/O
// goroutine, and feeds Length, Position and BitsPerSecond back.
package transmission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opendataspace/commons/internal/event"
	"github.com/opendataspace/commons/internal/stream"
)

// Type identifies the direction and kind of a transfer.
type Type int

const (
	UploadNewFile Type = iota + 1
	UploadModifiedFile
	DownloadNewFile
	DownloadModifiedFile
)

var typeNames = [...]string{
	UploadNewFile:        "UploadNewFile",
	UploadModifiedFile:   "UploadModifiedFile",
	DownloadNewFile:      "DownloadNewFile",
	DownloadModifiedFile: "DownloadModifiedFile",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// IsUpload reports whether data flows from the local side to the remote.
func (t Type) IsUpload() bool { return t == UploadNewFile || t == UploadModifiedFile }

// IsDownload reports whether data flows from the remote side to the local.
func (t Type) IsDownload() bool { return t == DownloadNewFile || t == DownloadModifiedFile }

// Status is the lifecycle state of a transmission.
type Status int

const (
	Transmitting Status = iota + 1
	Paused
	Aborting
	Aborted
	Finished
)

var statusNames = [...]string{
	Transmitting: "Transmitting",
	Paused:       "Paused",
	Aborting:     "Aborting",
	Aborted:      "Aborted",
	Finished:     "Finished",
}

func (s Status) String() string {
	if s > 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// Terminal reports whether s is Aborted or Finished.
func (s Status) Terminal() bool { return s == Aborted || s == Finished }

// modificationGranularity is the minimum step between published
// LastModification values.
const modificationGranularity = time.Second

// Transmission is the shared, observable state of one file transfer. All
// methods are safe for concurrent use. Change notifications are delivered
// synchronously on the goroutine that made the change, after the internal
// lock has been released.
type Transmission struct {
	id        uuid.UUID
	typ       Type
	path      string
	cachePath string
	startedAt time.Time
	now       func() time.Time

	mu           sync.Mutex
	status       Status
	length       int64
	lengthKnown  bool
	position     int64
	posKnown     bool
	bits         int64
	bitsKnown    bool
	maxBandwidth int64
	failed       error
	lastModified time.Time

	notifier event.Notifier
}

// New creates a Transmitting transmission. cachePath may be empty.
func New(typ Type, path, cachePath string) *Transmission {
	now := time.Now()
	return &Transmission{
		id:           uuid.New(),
		typ:          typ,
		path:         path,
		cachePath:    cachePath,
		startedAt:    now,
		now:          time.Now,
		status:       Transmitting,
		lastModified: now,
	}
}

func (t *Transmission) ID() uuid.UUID        { return t.id }
func (t *Transmission) Type() Type           { return t.typ }
func (t *Transmission) Path() string         { return t.path }
func (t *Transmission) CachePath() string    { return t.cachePath }
func (t *Transmission) StartedAt() time.Time { return t.startedAt }

// Subscribe registers h for every property change of t.
func (t *Transmission) Subscribe(h event.Handler) func() {
	return t.notifier.Subscribe(h)
}

// Status returns the current status.
func (t *Transmission) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done reports whether the transmission reached a terminal status.
func (t *Transmission) Done() bool { return t.Status().Terminal() }

// SetStatus assigns s directly, bypassing the Pause/Resume/Abort rules.
func (t *Transmission) SetStatus(s Status) {
	t.apply(func() []event.Change { return t.setStatusLocked(s) })
}

// Pause moves Transmitting to Paused. Any other status is left alone.
func (t *Transmission) Pause() {
	t.transition(Paused, Transmitting)
}

// Resume moves Paused to Transmitting. Aborting and terminal states are left
// alone: an abort always wins over a resume.
func (t *Transmission) Resume() {
	t.transition(Transmitting, Paused)
}

// Abort moves Transmitting or Paused to Aborting.
func (t *Transmission) Abort() {
	t.transition(Aborting, Transmitting, Paused)
}

func (t *Transmission) transition(to Status, from ...Status) {
	t.apply(func() []event.Change {
		for _, f := range from {
			if t.status == f {
				return t.setStatusLocked(to)
			}
		}
		return nil
	})
}

// Length returns the total transfer size, if known.
func (t *Transmission) Length() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.length, t.lengthKnown
}

// SetLength records the total transfer size.
func (t *Transmission) SetLength(n int64) {
	t.apply(func() []event.Change {
		if t.lengthKnown && t.length == n {
			return nil
		}
		return t.progressLocked(func() { t.length, t.lengthKnown = n, true },
			event.Change{Property: event.Length, Value: n})
	})
}

// Position returns the number of bytes transferred so far, if known.
func (t *Transmission) Position() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position, t.posKnown
}

// SetPosition records the transfer offset.
func (t *Transmission) SetPosition(n int64) {
	t.apply(func() []event.Change {
		if t.posKnown && t.position == n {
			return nil
		}
		return t.progressLocked(func() { t.position, t.posKnown = n, true },
			event.Change{Property: event.Position, Value: n})
	})
}

// Percent derives completion from Length and Position: unknown if either is
// unknown, 100 for a zero length.
func (t *Transmission) Percent() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentLocked()
}

func (t *Transmission) percentLocked() (int64, bool) {
	if !t.lengthKnown || !t.posKnown {
		return 0, false
	}
	return stream.Percent(t.position, t.length), true
}

// BitsPerSecond returns the current throughput, if known. It is always
// unknown once the transmission is done.
func (t *Transmission) BitsPerSecond() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bits, t.bitsKnown
}

// SetBitsPerSecond records a throughput measurement. Ignored once done.
func (t *Transmission) SetBitsPerSecond(bits int64) {
	t.apply(func() []event.Change {
		if t.status.Terminal() || (t.bitsKnown && t.bits == bits) {
			return nil
		}
		t.bits, t.bitsKnown = bits, true
		changes := []event.Change{{Property: event.BitsPerSecond, Value: bits}}
		return append(changes, t.touchLocked()...)
	})
}

// MaxBandwidth returns the bandwidth cap in bytes per second; 0 or less
// means unlimited.
func (t *Transmission) MaxBandwidth() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxBandwidth
}

// SetMaxBandwidth sets the bandwidth cap. Pipelines created from t apply it
// to both directions.
func (t *Transmission) SetMaxBandwidth(n int64) {
	t.apply(func() []event.Change {
		if t.maxBandwidth == n {
			return nil
		}
		t.maxBandwidth = n
		return []event.Change{{Property: event.MaxBandwidth, Value: n}}
	})
}

// FailedException returns the fault that ended the transmission, if any.
func (t *Transmission) FailedException() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// SetFailedException records err and forces Status to Aborted regardless
// of the current status.
func (t *Transmission) SetFailedException(err error) {
	t.apply(func() []event.Change {
		t.failed = err
		changes := []event.Change{{Property: event.FailedException, Value: err}}
		return append(changes, t.setStatusLocked(Aborted)...)
	})
}

// LastModification returns the time of the last published progress
// mutation.
func (t *Transmission) LastModification() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastModified
}

// CreateStream wraps inner in a new pipeline bound to t. It may be called
// any number of times, for example once per retry.
func (t *Transmission) CreateStream(ctx context.Context, inner stream.Stream) (*Stream, error) {
	return NewStream(ctx, t, inner, StreamOpts{})
}

// CreateStreamWith is CreateStream with explicit pipeline options.
func (t *Transmission) CreateStreamWith(ctx context.Context, inner stream.Stream, opts StreamOpts) (*Stream, error) {
	return NewStream(ctx, t, inner, opts)
}

func (t *Transmission) String() string {
	return fmt.Sprintf("%s %s [%s]", t.typ, t.path, t.Status())
}

func (t *Transmission) setStatusLocked(s Status) []event.Change {
	if t.status == s {
		return nil
	}
	prev := t.status
	t.status = s
	changes := []event.Change{{Property: event.Status, Value: s}}
	if s.Terminal() && t.bitsKnown {
		t.bits, t.bitsKnown = 0, false
		changes = append(changes, event.Change{Property: event.BitsPerSecond, Value: nil})
	}
	slog.Debug("transmission status changed",
		"id", t.id.String(), "path", t.path, "from", prev.String(), "to", s.String())
	return append(changes, t.touchLocked()...)
}

// progressLocked applies a length or position mutation and appends a
// Percent change when the derived value moved.
func (t *Transmission) progressLocked(mutate func(), change event.Change) []event.Change {
	oldPct, oldKnown := t.percentLocked()
	mutate()
	changes := []event.Change{change}
	if pct, ok := t.percentLocked(); ok && (!oldKnown || pct != oldPct) {
		changes = append(changes, event.Change{Property: event.Percent, Value: pct})
	}
	return append(changes, t.touchLocked()...)
}

// touchLocked advances LastModification only when at least a full
// granularity step has passed.
func (t *Transmission) touchLocked() []event.Change {
	now := t.now()
	if now.Sub(t.lastModified) <= modificationGranularity {
		return nil
	}
	t.lastModified = now
	return []event.Change{{Property: event.LastModification, Value: now}}
}

func (t *Transmission) apply(fn func() []event.Change) {
	t.mu.Lock()
	changes := fn()
	t.mu.Unlock()

	for _, c := range changes {
		t.notifier.Notify(c)
	}
}
