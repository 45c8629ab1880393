package device

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSysfs builds a fake sysfs block-device entry with the scheduler and
// buffering pseudo-files a real whole-disk entry has.
func writeSysfs(t *testing.T) string {
	t.Helper()

	base := filepath.Join(t.TempDir(), "8:0")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "queue"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "bdi"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "queue", "scheduler"),
		[]byte("noop deadline [cfq]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "bdi", "max_ratio"),
		[]byte("100\n"), 0o644))
	return base
}

func readSysfs(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSysfsTuner_ApplyAndRestore(t *testing.T) {
	base := writeSysfs(t)
	tuner := newSysfsTuner(base, quietLogger())

	tuner.Apply()
	assert.Equal(t, "noop", readSysfs(t, filepath.Join(base, "queue", "scheduler")))
	assert.Equal(t, "1", readSysfs(t, filepath.Join(base, "bdi", "max_ratio")))

	require.NoError(t, tuner.Restore())
	assert.Equal(t, "cfq", readSysfs(t, filepath.Join(base, "queue", "scheduler")))
	assert.Equal(t, "100", readSysfs(t, filepath.Join(base, "bdi", "max_ratio")))
}

func TestSysfsTuner_PartitionResolvesToParent(t *testing.T) {
	// A partition entry has no queue directory. The tunables live one
	// level up in the whole-disk entry.
	disk := writeSysfs(t)
	part := filepath.Join(disk, "8:1")
	require.NoError(t, os.MkdirAll(part, 0o755))

	tuner := newSysfsTuner(part, quietLogger())
	tuner.Apply()

	assert.Equal(t, "noop", readSysfs(t, filepath.Join(disk, "queue", "scheduler")))
	require.NoError(t, tuner.Restore())
	assert.Equal(t, "cfq", readSysfs(t, filepath.Join(disk, "queue", "scheduler")))
}

func TestSysfsTuner_MissingFilesAreNotFatal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "empty", "8:0")
	require.NoError(t, os.MkdirAll(base, 0o755))

	tuner := newSysfsTuner(base, quietLogger())
	tuner.Apply()

	// Nothing was recorded, so there is nothing to restore.
	assert.NoError(t, tuner.Restore())
}

func TestSysfsTuner_RestoreIsIdempotent(t *testing.T) {
	base := writeSysfs(t)
	tuner := newSysfsTuner(base, quietLogger())
	tuner.Apply()

	require.NoError(t, tuner.Restore())

	// Mutate the files after the first restore: a second call must not
	// touch them again.
	schedPath := filepath.Join(base, "queue", "scheduler")
	require.NoError(t, os.WriteFile(schedPath, []byte("deadline"), 0o644))

	require.NoError(t, tuner.Restore())
	assert.Equal(t, "deadline", readSysfs(t, schedPath))
}

func TestSysfsTuner_RestoreFailure(t *testing.T) {
	base := writeSysfs(t)
	tuner := newSysfsTuner(base, quietLogger())
	tuner.Apply()

	// Remove the scheduler's directory so the write-back fails.
	require.NoError(t, os.RemoveAll(filepath.Join(base, "queue")))

	err := tuner.Restore()
	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "cfq", rerr.Value)
}

func TestNopTuner(t *testing.T) {
	var tuner NopTuner
	tuner.Apply()
	assert.NoError(t, tuner.Restore())
}
