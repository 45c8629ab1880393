package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// Tuner adjusts destination I/O parameters around a copy. Apply is
// best-effort: a tuner that cannot apply a setting logs a warning and
// records nothing for it. Restore puts back exactly the recorded prior
// values; its failures are fatal to the caller because they leave the
// system visibly misconfigured.
type Tuner interface {
	Apply()
	Restore() error
}

// NopTuner serves destinations that need no tuning, such as regular files.
type NopTuner struct{}

func (NopTuner) Apply()         {}
func (NopTuner) Restore() error { return nil }

// RestoreError reports a failure to put back a tuned device setting.
type RestoreError struct {
	Path  string
	Value string
	Err   error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("cannot restore %q to %q: %v", e.Path, e.Value, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// SysfsTuner tunes a block device through its sysfs pseudo-files: it
// switches the I/O scheduler to noop (sequential writes get much faster
// than under CFQ) and caps the write-buffering ratio (excessive buffering
// of a sequential stream makes the whole system sluggish).
type SysfsTuner struct {
	schedulerPath string
	ratioPath     string

	// Recorded prior values. Nil means the setting was never applied and
	// must not be restored.
	prevScheduler *string
	prevRatio     *string

	log *slog.Logger
}

// NewSysfsTuner resolves the tuning pseudo-files of the open block device
// from its device number.
func NewSysfsTuner(f *os.File, logger *slog.Logger) (*SysfsTuner, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}

	rdev := uint64(st.Rdev)
	base := fmt.Sprintf("/sys/dev/block/%d:%d", unix.Major(rdev), unix.Minor(rdev))
	return newSysfsTuner(base, logger), nil
}

func newSysfsTuner(base string, logger *slog.Logger) *SysfsTuner {
	if logger == nil {
		logger = slog.Default()
	}

	// A partition's sysfs entry has no queue directory; the tunables live
	// in the parent whole-disk entry one level up.
	if _, err := os.Stat(filepath.Join(base, "queue")); err != nil {
		base = filepath.Join(base, "..")
	}

	return &SysfsTuner{
		schedulerPath: filepath.Join(base, "queue", "scheduler"),
		ratioPath:     filepath.Join(base, "bdi", "max_ratio"),
		log:           logger,
	}
}

// The scheduler file lists every available scheduler with the active one
// in square brackets, e.g. "noop deadline [cfq]".
var activeScheduler = regexp.MustCompile(`\[(.+)\]`)

// Apply switches the scheduler and caps the buffering ratio, recording the
// prior values for Restore. Failures are warnings: a missing optimization
// never blocks a correct copy.
func (t *SysfsTuner) Apply() {
	contents, err := os.ReadFile(t.schedulerPath)
	if err == nil {
		err = os.WriteFile(t.schedulerPath, []byte("noop"), 0o644)
	}
	if err != nil {
		t.log.Warn("cannot switch to the noop I/O scheduler, expect suboptimal write speed",
			"path", t.schedulerPath, "error", err)
	} else if m := activeScheduler.FindStringSubmatch(string(contents)); m != nil {
		prev := m[1]
		t.prevScheduler = &prev
	}

	ratio, err := os.ReadFile(t.ratioPath)
	if err == nil {
		err = os.WriteFile(t.ratioPath, []byte("1"), 0o644)
	}
	if err != nil {
		t.log.Warn("cannot limit write buffering, expect worse system responsiveness",
			"path", t.ratioPath, "error", err)
	} else {
		prev := strings.TrimSpace(string(ratio))
		t.prevRatio = &prev
	}
}

// Restore writes back the recorded prior values. Idempotent: a second call
// is a no-op.
func (t *SysfsTuner) Restore() error {
	if t.prevScheduler != nil {
		if err := os.WriteFile(t.schedulerPath, []byte(*t.prevScheduler), 0o644); err != nil {
			return &RestoreError{Path: t.schedulerPath, Value: *t.prevScheduler, Err: err}
		}
		t.prevScheduler = nil
	}

	if t.prevRatio != nil {
		if err := os.WriteFile(t.ratioPath, []byte(*t.prevRatio), 0o644); err != nil {
			return &RestoreError{Path: t.ratioPath, Value: *t.prevRatio, Err: err}
		}
		t.prevRatio = nil
	}
	return nil
}
