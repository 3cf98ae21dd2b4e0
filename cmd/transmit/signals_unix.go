//go:build unix

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opendataspace/commons/internal/transmission"
)

// watchControlSignals maps SIGUSR1 to pause/resume of every active
// transmission and SIGUSR2 to lifting the bandwidth cap. The returned
// function stops watching.
func watchControlSignals(ctx context.Context, mgr *transmission.Manager) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})

	go func() {
		paused := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-sigs:
				switch sig {
				case syscall.SIGUSR1:
					paused = !paused
					if paused {
						slog.Info("pausing transfers", "active", mgr.Len())
						mgr.PauseAll()
					} else {
						slog.Info("resuming transfers", "active", mgr.Len())
						mgr.ResumeAll()
					}
				case syscall.SIGUSR2:
					slog.Info("bandwidth cap lifted")
					mgr.SetMaxBandwidth(0)
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
