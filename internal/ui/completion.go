package ui

import (
	"fmt"

	"github.com/opendataspace/commons/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  transfers 3  size 2.1 GiB  avg 641 MB/s  time 3m 17s  aborted 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesTransferred) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.Aborted > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  transfers %s  size %s  avg %s  time %s  aborted %d",
		icon,
		FormatCount(snap.Finished),
		stats.FormatBytes(snap.BytesTransferred),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		snap.Aborted,
	)
}
