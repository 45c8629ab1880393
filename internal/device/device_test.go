package device

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStat_RegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "dest.img"))
	require.NoError(t, err)
	defer f.Close()

	info, err := Stat(f)
	require.NoError(t, err)

	assert.True(t, info.Regular)
	assert.False(t, info.Block)
	assert.False(t, info.NoFsync)
	assert.Equal(t, f.Name(), info.Path)
}

func TestStat_DevNull(t *testing.T) {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Skipf("cannot open %s: %v", os.DevNull, err)
	}
	defer f.Close()

	info, err := Stat(f)
	require.NoError(t, err)

	assert.True(t, info.NoFsync)
	assert.False(t, info.Regular)
}

func TestCheckCapacity(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "small.img"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(100))

	require.NoError(t, CheckCapacity(f, 50))
	require.NoError(t, CheckCapacity(f, 100))

	err = CheckCapacity(f, 200)
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint64(100), cerr.Capacity)
	assert.Equal(t, uint64(200), cerr.Needed)

	// The check must leave the write position at the start.
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}
