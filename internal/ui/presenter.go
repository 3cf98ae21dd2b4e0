package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/opendataspace/commons/internal/event"
	"github.com/opendataspace/commons/internal/stats"
	"github.com/opendataspace/commons/internal/transmission"
)

const (
	defaultPercentStep = 10
	barWidth           = 20
	rollingWindow      = 5
)

// Config configures a Presenter.
type Config struct {
	Writer io.Writer
	Quiet  bool
	// PercentStep is the progress granularity in percent. Defaults to 10.
	PercentStep int64
	// Stats, when set, appends the run-wide rolling speed and ETA to
	// progress lines. The caller advances it with Tick.
	Stats *stats.Collector
}

// Presenter prints one line per progress step and per status change of
// each watched transmission. Lines from concurrent transmissions never
// interleave.
type Presenter struct {
	w     io.Writer
	quiet bool
	step  int64
	stats *stats.Collector
	mu    sync.Mutex
}

func NewPresenter(cfg Config) *Presenter {
	step := cfg.PercentStep
	if step <= 0 || step > 100 {
		step = defaultPercentStep
	}
	return &Presenter{w: cfg.Writer, quiet: cfg.Quiet, step: step, stats: cfg.Stats}
}

// Watch subscribes to tr and returns the unsubscribe function.
func (p *Presenter) Watch(tr *transmission.Transmission) func() {
	if p.quiet || p.w == nil {
		return func() {}
	}
	w := &watched{p: p, tr: tr, bucket: -1}
	return tr.Subscribe(w.handle)
}

// Summary renders the final line for snap. Empty when quiet.
func (p *Presenter) Summary(snap stats.Snapshot) string {
	if p.quiet {
		return ""
	}
	return CompletionSummary(snap)
}

// totals renders the aggregate speed over the last rollingWindow ticks and
// the ETA for every byte still outstanding.
func (p *Presenter) totals() string {
	if p.stats == nil {
		return ""
	}
	return fmt.Sprintf("  total %s  eta %s",
		FormatRate(p.stats.RollingSpeed(rollingWindow)), FormatETA(p.stats.ETA()))
}

func (p *Presenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// watched is the per-transmission display state. Handlers for one
// transmission run on whichever goroutine mutated it, so fields are
// guarded by mu.
type watched struct {
	p  *Presenter
	tr *transmission.Transmission

	mu     sync.Mutex
	bucket int64
	bits   int64
	paused bool
}

func (w *watched) handle(c event.Change) {
	switch c.Property {
	case event.BitsPerSecond:
		w.mu.Lock()
		w.bits, _ = c.Value.(int64)
		w.mu.Unlock()
	case event.Percent:
		pct, ok := c.Value.(int64)
		if !ok {
			return
		}
		w.mu.Lock()
		bucket := pct / w.p.step
		if pct == 100 {
			bucket = 100
		}
		if bucket <= w.bucket {
			w.mu.Unlock()
			return
		}
		w.bucket = bucket
		bits := w.bits
		w.mu.Unlock()
		w.p.printf("%s  %3d%%  %s  %s%s\n", w.tr.Path(), pct,
			ProgressBar(float64(pct)/100, barWidth), FormatBits(bits), w.p.totals())
	case event.Status:
		if s, ok := c.Value.(transmission.Status); ok {
			w.status(s)
		}
	}
}

func (w *watched) status(s transmission.Status) {
	w.mu.Lock()
	wasPaused := w.paused
	w.paused = s == transmission.Paused
	w.mu.Unlock()

	path := w.tr.Path()
	switch s {
	case transmission.Paused:
		w.p.printf("%s  paused\n", path)
	case transmission.Transmitting:
		if wasPaused {
			w.p.printf("%s  resumed\n", path)
		}
	case transmission.Aborting:
		w.p.printf("%s  aborting\n", path)
	case transmission.Aborted:
		if err := w.tr.FailedException(); err != nil {
			w.p.printf("%s  aborted: %v\n", path, err)
			return
		}
		w.p.printf("%s  aborted\n", path)
	case transmission.Finished:
		length, _ := w.tr.Length()
		w.p.printf("%s  done  %s\n", path, stats.FormatBytes(length))
	}
}
