package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/opendataspace/commons/internal/config"
	"github.com/opendataspace/commons/internal/engine"
	"github.com/opendataspace/commons/internal/stats"
	"github.com/opendataspace/commons/internal/stream"
	"github.com/opendataspace/commons/internal/transmission"
	"github.com/opendataspace/commons/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// directionFlag is a pflag.Value restricted to "upload" and "download".
type directionFlag struct {
	upload bool
}

func (d *directionFlag) String() string {
	if d.upload {
		return "upload"
	}
	return "download"
}

func (*directionFlag) Type() string { return "direction" }

func (d *directionFlag) Set(val string) error {
	switch val {
	case "upload":
		d.upload = true
	case "download":
		d.upload = false
	default:
		return fmt.Errorf("must be upload or download, got %q", val)
	}
	return nil
}

// options holds the resolved settings for one invocation after config
// defaults have been merged under the CLI flags.
type options struct {
	direction     directionFlag
	bwLimitStr    string
	totalLimitStr string
	bufferSizeStr string
	verify        bool
	interval      time.Duration
	verbose       bool
	quiet         bool
	logFile       string
	showVersion   bool
}

//nolint:gocyclo,revive // main CLI entry point orchestrates flag parsing and transfer setup
func run() int {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "transmit [flags] <source>... <destination>",
		Short: "Transfer files with pause, abort and bandwidth control",
		Long: `Transfer files with pause, abort and bandwidth control.

Use "-" as the only source to read stdin, or as the destination to write stdout.
While running, SIGUSR1 toggles pause/resume and SIGUSR2 lifts the bandwidth cap.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(os.Stdout, "transmit %s\n", version)
				return nil
			}

			cfg, cfgErr := config.Load()
			applyConfigDefaults(cmd.Flags(), cfg.Transfer, &opts)

			closeLog, err := setupLogging(opts)
			if err != nil {
				return err
			}
			defer closeLog()
			if cfgErr != nil {
				slog.Warn("failed to load config", "error", cfgErr)
			}

			bwLimit, err := parseOptionalSize("--bwlimit", opts.bwLimitStr)
			if err != nil {
				return err
			}
			totalLimit, err := parseOptionalSize("--total-bwlimit", opts.totalLimitStr)
			if err != nil {
				return err
			}
			bufferSize, err := parseOptionalSize("--buffer-size", opts.bufferSizeStr)
			if err != nil {
				return err
			}

			jobs, err := planJobs(args[:len(args)-1], args[len(args)-1], opts.direction.upload)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector := stats.NewCollector()
			presenter := ui.NewPresenter(ui.Config{Writer: os.Stderr, Quiet: opts.quiet, Stats: collector})
			mgr := transmission.NewManager()
			mgr.OnDone(func(tr *transmission.Transmission) {
				slog.Debug("transmission done", "id", tr.ID().String(), "status", tr.Status().String())
			})
			if bwLimit > 0 {
				mgr.SetMaxBandwidth(bwLimit)
			}
			stopSignals := watchControlSignals(ctx, mgr)
			defer stopSignals()

			var limiter *rate.Limiter
			if totalLimit > 0 {
				limiter = engine.NewBWLimiter(totalLimit)
			}

			tickDone := make(chan struct{})
			defer close(tickDone)
			go tick(collector, tickDone)

			failed := runJobs(ctx, jobs, mgr, presenter, engine.Params{
				BufferSize:    int(bufferSize),
				StallInterval: opts.interval,
				Limiter:       limiter,
				Verify:        opts.verify,
				Stats:         collector,
			})

			if summary := presenter.Summary(collector.Snapshot()); summary != "" {
				fmt.Fprintln(os.Stderr, summary)
			}
			slog.Debug("transfer totals", "stats", collector.Snapshot().String())

			switch {
			case failed == 0:
				return nil
			case failed < len(jobs):
				return &exitError{code: 1} // partial failure
			default:
				return &exitError{code: 2} // total failure
			}
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flags.Var(&opts.direction, "type", "transfer direction: upload or download")
	flags.StringVar(&opts.bwLimitStr, "bwlimit", "", "per-transfer bandwidth cap (e.g. 512K, 10M)")
	flags.StringVar(&opts.totalLimitStr, "total-bwlimit", "", "aggregate bandwidth cap across all transfers")
	flags.StringVar(&opts.bufferSizeStr, "buffer-size", "", "copy buffer size (default 256K)")
	flags.BoolVar(&opts.verify, "verify", false, "verify checksums after copy (BLAKE3)")
	flags.DurationVar(&opts.interval, "interval", stream.DefaultStallInterval,
		"report zero throughput after this long without I/O")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	flags.StringVar(&opts.logFile, "log-file", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(docsCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(flags *pflag.FlagSet, defaults config.TransferConfig, opts *options) {
	if !flags.Changed("bwlimit") && defaults.BWLimit != nil {
		opts.bwLimitStr = *defaults.BWLimit
	}
	if !flags.Changed("total-bwlimit") && defaults.TotalBWLimit != nil {
		opts.totalLimitStr = *defaults.TotalBWLimit
	}
	if !flags.Changed("buffer-size") && defaults.BufferSize != nil {
		opts.bufferSizeStr = *defaults.BufferSize
	}
	if !flags.Changed("verify") && defaults.Verify != nil {
		opts.verify = *defaults.Verify
	}
	if !flags.Changed("interval") && defaults.StallInterval != nil {
		opts.interval = defaults.StallInterval.Duration
	}
}

func setupLogging(opts options) (func(), error) {
	logLevel := slog.LevelWarn
	if opts.verbose {
		logLevel = slog.LevelDebug
	} else if opts.quiet {
		logLevel = slog.LevelError
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	var handler slog.Handler = textHandler
	closeFn := func() {}
	if opts.logFile != "" {
		lf, err := os.Create(opts.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closeFn = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn, nil
}

func parseOptionalSize(flag, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := config.ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return n, nil
}

func tick(c *stats.Collector, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// runJobs runs every job concurrently and returns how many failed.
func runJobs(
	ctx context.Context,
	jobs []job,
	mgr *transmission.Manager,
	presenter *ui.Presenter,
	base engine.Params,
) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, j := range jobs {
		tr := transmission.New(j.typ, j.path, "")
		if err := mgr.Add(tr); err != nil {
			slog.Error("register transfer", "path", j.path, "error", err)
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		unwatch := presenter.Watch(tr)

		wg.Go(func() {
			defer unwatch()
			if err := runJob(ctx, j, tr, base); err != nil {
				slog.Error("transfer failed", "path", j.path, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return failed
}

func runJob(ctx context.Context, j job, tr *transmission.Transmission, base engine.Params) error {
	src, err := j.openSrc()
	if err != nil {
		tr.SetFailedException(err)
		return err
	}
	dst, err := j.openDst()
	if err != nil {
		_ = src.Close()
		tr.SetFailedException(err)
		return err
	}

	p := base
	p.Transmission = tr
	p.Src = src
	p.Dst = dst
	// Verification re-reads the destination, which stdout cannot do.
	p.Verify = p.Verify && j.dst != "-"

	res, err := engine.Copy(ctx, p)
	if err != nil {
		return err
	}
	slog.Info("transferred", "path", j.path, "bytes", res.BytesCopied, "blake3", res.Checksum)
	return nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// job is one source/destination pair.
type job struct {
	src, dst string
	path     string // local path recorded on the transmission
	typ      transmission.Type
}

// planJobs resolves sources against the destination. With several
// sources the destination must be an existing directory.
func planJobs(sources []string, dst string, upload bool) ([]job, error) {
	dstInfo, dstErr := os.Stat(dst)
	dstIsDir := dstErr == nil && dstInfo.IsDir()
	if len(sources) > 1 && !dstIsDir {
		return nil, fmt.Errorf("destination %s: must be a directory for multiple sources", dst)
	}

	jobs := make([]job, 0, len(sources))
	for _, src := range sources {
		if src == "-" && len(sources) > 1 {
			return nil, errors.New("stdin can only be used as the only source")
		}
		target := dst
		if dstIsDir {
			if src == "-" {
				return nil, errors.New("stdin needs a file destination, not a directory")
			}
			target = filepath.Join(dst, filepath.Base(src))
		}

		existed := false
		if target != "-" {
			_, err := os.Stat(target)
			existed = err == nil
		}

		j := job{src: src, dst: target}
		switch {
		case upload && existed:
			j.typ, j.path = transmission.UploadModifiedFile, src
		case upload:
			j.typ, j.path = transmission.UploadNewFile, src
		case existed:
			j.typ, j.path = transmission.DownloadModifiedFile, target
		default:
			j.typ, j.path = transmission.DownloadNewFile, target
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

//nolint:ireturn // stdin and regular files share the stream contract
func (j job) openSrc() (stream.Stream, error) {
	if j.src == "-" {
		return stream.NewReader(os.Stdin), nil
	}
	f, err := os.Open(j.src)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return stream.NewFile(f), nil
}

//nolint:ireturn // stdout and regular files share the stream contract
func (j job) openDst() (stream.Stream, error) {
	if j.dst == "-" {
		return stream.NewWriter(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(j.dst), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}
	f, err := os.OpenFile(j.dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	return stream.NewFile(f), nil
}
