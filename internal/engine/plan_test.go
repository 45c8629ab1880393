package engine

import (
	"testing"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_BmapOrderIsVerbatim(t *testing.T) {
	// Document order is authoritative, even when it looks wrong: the
	// planner never sorts or merges.
	ranges := []bmap.Range{
		{First: 10, Last: 11, Checksum: "aa"},
		{First: 0, Last: 1},
		{First: 0, Last: 0},
	}

	p := newBmapPlanner(ranges)
	for i := range ranges {
		r, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, ranges[i], r)
	}

	_, ok := p.Next()
	assert.False(t, ok)
}

func TestPlanner_WholeImage(t *testing.T) {
	p := newWholeImagePlanner(16)

	r, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, bmap.Range{First: 0, Last: 15}, r)

	_, ok = p.Next()
	assert.False(t, ok)
}

func TestPlanner_WholeImageEmpty(t *testing.T) {
	p := newWholeImagePlanner(0)
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestPlanner_OpenEndedNeverStops(t *testing.T) {
	p := newOpenEndedPlanner(256)

	for i := uint64(0); i < 5; i++ {
		r, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, bmap.Range{First: i * 256, Last: (i+1)*256 - 1}, r)
		assert.Empty(t, r.Checksum)
	}
}
