// Package ui renders copy progress and the final summary line.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/blit/internal/stats"
)

// spinPeriod throttles the rotating indicator to at most four updates per
// second.
const spinPeriod = 250 * time.Millisecond

var wheel = [...]string{"-", "\\", "|", "/"}

// Reporter prints copy progress: a percentage line when the mapped block
// count is known, otherwise a rotating indicator. The engine calls Update
// from the writer task only, so no locking is needed.
type Reporter struct {
	w         io.Writer
	mappedCnt uint64

	started  bool
	lastPct  int
	wheelIdx int
	lastSpin time.Time
}

// NewReporter creates a Reporter writing to w. mappedCnt of zero selects
// the rotating indicator.
func NewReporter(w io.Writer, mappedCnt uint64) *Reporter {
	return &Reporter{w: w, mappedCnt: mappedCnt, lastPct: -1}
}

// Update renders progress for the given written block count.
func (r *Reporter) Update(blocksWritten uint64) {
	var line string

	if r.mappedCnt > 0 {
		pct := int(blocksWritten * 100 / r.mappedCnt)
		if pct == r.lastPct {
			return
		}
		r.lastPct = pct
		line = fmt.Sprintf("Copied %d%%", pct)
	} else {
		now := time.Now()
		if now.Sub(r.lastSpin) < spinPeriod {
			return
		}
		r.lastSpin = now
		line = wheel[r.wheelIdx%len(wheel)]
		r.wheelIdx++
	}

	// Rewrite the same line, then move the cursor up so that a message
	// interrupting the copy starts on a fresh line.
	if r.started {
		fmt.Fprint(r.w, "\033[1A")
	} else {
		r.started = true
	}
	fmt.Fprintf(r.w, "\r%s\n", line)
}

// FormatRate formats a bytes-per-second rate as a human-readable string.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	val := bytesPerSec
	for _, u := range units {
		if val < 1024 {
			if val < 10 {
				return fmt.Sprintf("%.2f %s", val, u)
			}
			if val < 100 {
				return fmt.Sprintf("%.1f %s", val, u)
			}
			return fmt.Sprintf("%.0f %s", val, u)
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f PB/s", val)
}

// Summary returns the final one-line copy summary.
func Summary(snap stats.Snapshot, avgSpeed float64) string {
	return fmt.Sprintf("copied %s (%d blocks) in %s (%s)",
		stats.FormatBytes(snap.BytesWritten),
		snap.BlocksWritten,
		snap.Elapsed.Round(time.Millisecond),
		FormatRate(avgSpeed),
	)
}
