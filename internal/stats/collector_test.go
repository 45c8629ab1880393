package stats_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bamsammich/blit/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := stats.NewCollector()

	c.AddBlocksWritten(4)
	c.AddBytesWritten(16384)
	c.AddRangesVerified(2)
	c.AddSyncs(1)

	snap := c.Snapshot()
	assert.Equal(t, int64(4), snap.BlocksWritten)
	assert.Equal(t, int64(16384), snap.BytesWritten)
	assert.Equal(t, int64(2), snap.RangesVerified)
	assert.Equal(t, int64(1), snap.Syncs)
	assert.Positive(t, snap.Elapsed)
}

func TestCollector_ConcurrentReads(t *testing.T) {
	c := stats.NewCollector()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.AddBlocksWritten(1)
			c.AddBytesWritten(4096)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = c.Snapshot()
		}
	}()
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(1000), snap.BlocksWritten)
	assert.Equal(t, int64(4096000), snap.BytesWritten)
}

func TestCollector_AvgSpeed(t *testing.T) {
	c := stats.NewCollector()
	c.AddBytesWritten(1 << 20)
	time.Sleep(10 * time.Millisecond)

	speed := c.AvgSpeed()
	require.Positive(t, speed)
	assert.Less(t, speed, float64(1<<20)/0.01+1)
}

func TestSnapshot_String(t *testing.T) {
	s := stats.Snapshot{BlocksWritten: 3, BytesWritten: 12288, RangesVerified: 1, Syncs: 2}
	assert.Equal(t, "blocks=3 bytes=12288 ranges_verified=1 syncs=2", s.String())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stats.FormatBytes(tt.in))
	}
}
