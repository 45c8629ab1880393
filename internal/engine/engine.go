// Package engine implements bmap-driven image copying: a reader task that
// walks the planned block ranges and a writer task that lays the data down
// at the right offsets, joined by one bounded channel.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/bamsammich/blit/internal/device"
	"github.com/bamsammich/blit/internal/stats"
)

// DefaultBlockSize is assumed when no block map supplies one.
const DefaultBlockSize = 4096

// DefaultBatchBytes caps the size of a single read or write call.
const DefaultBatchBytes = 1024 * 1024

// Destination is where the image is written. *os.File satisfies it; Sync
// and Truncate support are discovered through optional interfaces.
type Destination interface {
	io.Writer
	io.Seeker
}

// Config describes a copy operation.
type Config struct {
	Image     io.ReadSeeker
	ImagePath string

	Dest     Destination
	DestPath string

	// DestRegular marks a regular-file destination, which is truncated to
	// the image size after the copy (shrinking past trailing holes or
	// padding a short sparse copy, whichever applies).
	DestRegular bool

	// DestNoFsync disables synchronization for destinations that reject
	// fsync, such as /dev/null.
	DestNoFsync bool

	// Bmap is the parsed block map. Nil means no block map: the whole
	// image is treated as mapped.
	Bmap     *bmap.Bmap
	BmapPath string

	// ImageSize in bytes, when the caller knows it. Zero means unknown
	// (compressed source); the size is then learned when the first full
	// read pass completes.
	ImageSize uint64

	// BatchBytes bounds a single I/O call. Defaults to DefaultBatchBytes.
	BatchBytes int64

	// QueueDepth is the batch channel capacity. It bounds peak memory to
	// QueueDepth * BatchBytes regardless of image size. Defaults to 2.
	QueueDepth int

	// FsyncWatermark is the number of written blocks between forced
	// destination syncs. Zero disables periodic sync.
	FsyncWatermark uint64

	// Verify enables per-range checksum verification while copying.
	Verify bool

	// SyncOnDone synchronizes the destination after a successful copy.
	SyncOnDone bool

	// Tuner adjusts destination I/O parameters around the copy. Nil gets
	// a no-op tuner.
	Tuner device.Tuner

	// Progress, when set, is called from the writer task after every
	// written batch with the total block count written so far.
	Progress func(blocksWritten uint64)

	Stats  *stats.Collector
	Logger *slog.Logger
}

// Engine copies one image to one destination, once. Create a fresh engine
// to copy again.
type Engine struct {
	image     io.ReadSeeker
	imagePath string
	dest      Destination
	destPath  string

	destRegular bool
	destNoSync  bool

	meta     bmap.Metadata
	ranges   []bmap.Range
	haveBmap bool
	bmapPath string

	batchBlocks    uint64
	queueDepth     int
	fsyncWatermark uint64
	verify         bool
	syncOnDone     bool

	tuner    device.Tuner
	progress func(uint64)
	stats    *stats.Collector
	log      *slog.Logger

	blocksWritten uint64
	bytesWritten  uint64
	started       bool
}

// New builds an engine. The image geometry comes from the block map when
// one is supplied, otherwise from cfg.ImageSize; with neither, the
// geometry stays unknown until the copy completes.
func New(cfg Config) (*Engine, error) {
	if cfg.Image == nil || cfg.Dest == nil {
		return nil, errors.New("engine: image and destination are required")
	}

	e := &Engine{
		image:          cfg.Image,
		imagePath:      cfg.ImagePath,
		dest:           cfg.Dest,
		destPath:       cfg.DestPath,
		destRegular:    cfg.DestRegular,
		destNoSync:     cfg.DestNoFsync,
		bmapPath:       cfg.BmapPath,
		fsyncWatermark: cfg.FsyncWatermark,
		verify:         cfg.Verify,
		syncOnDone:     cfg.SyncOnDone,
		tuner:          cfg.Tuner,
		progress:       cfg.Progress,
		stats:          cfg.Stats,
		log:            cfg.Logger,
	}
	if e.tuner == nil {
		e.tuner = device.NopTuner{}
	}
	if e.stats == nil {
		e.stats = stats.NewCollector()
	}
	if e.log == nil {
		e.log = slog.Default()
	}

	if cfg.Bmap != nil {
		e.meta = cfg.Bmap.Metadata
		e.ranges = cfg.Bmap.Ranges
		e.haveBmap = true
	} else {
		// No block map: assume every block is mapped.
		e.meta = bmap.Metadata{BlockSize: DefaultBlockSize}
	}

	if cfg.ImageSize > 0 {
		if err := e.setImageSize(cfg.ImageSize); err != nil {
			return nil, err
		}
	}

	batchBytes := cfg.BatchBytes
	if batchBytes <= 0 {
		batchBytes = DefaultBatchBytes
	}
	e.batchBlocks = max(uint64(batchBytes)/e.meta.BlockSize, 1)

	e.queueDepth = cfg.QueueDepth
	if e.queueDepth <= 0 {
		e.queueDepth = 2
	}

	return e, nil
}

// Metadata returns the image geometry as currently known.
func (e *Engine) Metadata() bmap.Metadata { return e.meta }

// BlocksWritten returns the number of blocks written so far.
func (e *Engine) BlocksWritten() uint64 { return e.blocksWritten }

// setImageSize fills in the size-derived geometry. The image size is
// set-once: filling it late is fine, changing it is not.
func (e *Engine) setImageSize(size uint64) error {
	if e.meta.ImageSize != 0 && e.meta.ImageSize != size {
		return &ImageSizeConflictError{Known: e.meta.ImageSize, New: size}
	}
	e.meta.ImageSize = size
	e.meta.BlocksCnt = (size + e.meta.BlockSize - 1) / e.meta.BlockSize
	if !e.haveBmap {
		e.meta.MappedCnt = e.meta.BlocksCnt
	}
	return nil
}

func (e *Engine) newPlanner() *planner {
	if e.haveBmap {
		return newBmapPlanner(e.ranges)
	}
	if e.meta.BlocksCnt > 0 {
		return newWholeImagePlanner(e.meta.BlocksCnt)
	}
	return newOpenEndedPlanner(e.batchBlocks)
}

// Copy runs the copy to completion or first error. The device tuner is
// applied before any write and restored no matter how the copy ends; a
// restore failure is reported even when the copy itself succeeded.
func (e *Engine) Copy() error {
	if e.started {
		return errors.New("engine: already ran; create a new engine to copy again")
	}
	e.started = true

	e.tuner.Apply()
	err := e.run()

	if rerr := e.tuner.Restore(); rerr != nil {
		if err == nil {
			err = rerr
		} else {
			e.log.Error("failed to restore device settings", "error", rerr)
		}
	}
	return err
}

func (e *Engine) run() error {
	ch := make(chan message, e.queueDepth)
	quit := make(chan struct{})
	defer close(quit)

	go e.produce(e.newPlanner(), ch, quit)

	if err := e.consume(ch); err != nil {
		return err
	}

	// The image size may have been unknown until now.
	if e.meta.ImageSize == 0 {
		if err := e.setImageSize(e.bytesWritten); err != nil {
			return err
		}
	}

	// Sanity check: exactly mapped_cnt blocks must have been written.
	if e.blocksWritten != e.meta.MappedCnt {
		return &InconsistentBmapError{
			ImagePath: e.imagePath,
			DestPath:  e.destPath,
			Written:   e.blocksWritten,
			Mapped:    e.meta.MappedCnt,
		}
	}

	if e.destRegular {
		if t, ok := e.dest.(interface{ Truncate(int64) error }); ok {
			if err := t.Truncate(int64(e.meta.ImageSize)); err != nil {
				return fmt.Errorf("cannot truncate %q to %d bytes: %w", e.destPath, e.meta.ImageSize, err)
			}
		}
	}

	if e.syncOnDone {
		return e.Sync()
	}
	return nil
}

// Sync forces destination data to stable storage. It is idempotent and
// safe to call at any time, including repeatedly after a completed copy.
func (e *Engine) Sync() error {
	if e.destNoSync {
		return nil
	}
	if s, ok := e.dest.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("cannot synchronize %q: %w", e.destPath, err)
		}
		e.stats.AddSyncs(1)
	}
	return nil
}
