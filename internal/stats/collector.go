// Package stats tracks copy accounting.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks copy counters using lock-free atomics. The writer task
// is the only incrementer, but the CLI reads concurrently for summaries.
type Collector struct {
	blocksWritten  atomic.Int64
	bytesWritten   atomic.Int64
	rangesVerified atomic.Int64
	syncs          atomic.Int64
	startTime      time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddBlocksWritten(n int64)  { c.blocksWritten.Add(n) }
func (c *Collector) AddBytesWritten(n int64)   { c.bytesWritten.Add(n) }
func (c *Collector) AddRangesVerified(n int64) { c.rangesVerified.Add(n) }
func (c *Collector) AddSyncs(n int64)          { c.syncs.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	BlocksWritten  int64
	BytesWritten   int64
	RangesVerified int64
	Syncs          int64
	Elapsed        time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		BlocksWritten:  c.blocksWritten.Load(),
		BytesWritten:   c.bytesWritten.Load(),
		RangesVerified: c.rangesVerified.Load(),
		Syncs:          c.syncs.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// AvgSpeed returns average bytes/sec over the collector's lifetime.
func (c *Collector) AvgSpeed() float64 {
	secs := c.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(c.bytesWritten.Load()) / secs
}

func (s Snapshot) String() string {
	return fmt.Sprintf("blocks=%d bytes=%d ranges_verified=%d syncs=%d",
		s.BlocksWritten, s.BytesWritten, s.RangesVerified, s.Syncs)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
