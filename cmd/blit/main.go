package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/bamsammich/blit/internal/config"
	"github.com/bamsammich/blit/internal/device"
	"github.com/bamsammich/blit/internal/engine"
	"github.com/bamsammich/blit/internal/image"
	"github.com/bamsammich/blit/internal/stats"
	"github.com/bamsammich/blit/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		bmapPath    string
		noVerify    bool
		noSync      bool
		quiet       bool
		verbose     bool
		batchSize   string
		queueDepth  int
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "blit IMAGE DEST",
		Short: "Copy a sparse disk image using its block map",
		Long: `blit copies a disk image to a file or block device. With a block map
(--bmap) only the mapped blocks are transferred, which turns flashing a
mostly-empty multi-gigabyte image into a transfer proportional to its real
content. Range checksums from the block map are verified while copying.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "blit %s\n", version)
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("expected IMAGE and DEST arguments")
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			if quiet {
				level = slog.LevelWarn
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			fileCfg, err := config.Load()
			if err != nil {
				logger.Warn("ignoring unreadable config file", "path", config.Path(), "error", err)
			}
			d := fileCfg.Defaults
			if !cmd.Flags().Changed("no-verify") && d.Verify != nil {
				noVerify = !*d.Verify
			}
			if !cmd.Flags().Changed("no-sync") && d.Sync != nil {
				noSync = !*d.Sync
			}
			if !cmd.Flags().Changed("batch-size") && d.BatchSize != nil {
				batchSize = *d.BatchSize
			}
			if !cmd.Flags().Changed("queue-depth") && d.QueueDepth != nil {
				queueDepth = *d.QueueDepth
			}

			batchBytes, err := config.ParseSize(batchSize)
			if err != nil {
				return fmt.Errorf("bad --batch-size: %w", err)
			}

			return doCopy(copyOpts{
				imagePath:  args[0],
				destPath:   args[1],
				bmapPath:   bmapPath,
				verify:     !noVerify,
				sync:       !noSync,
				quiet:      quiet,
				batchBytes: batchBytes,
				queueDepth: queueDepth,
				logger:     logger,
			})
		},
	}

	flags := root.Flags()
	flags.StringVar(&bmapPath, "bmap", "", "block map file to drive the copy")
	flags.BoolVar(&noVerify, "no-verify", false, "skip checksum verification while copying")
	flags.BoolVar(&noSync, "no-sync", false, "do not synchronize the destination on completion")
	flags.StringVar(&batchSize, "batch-size", "1M", "I/O batch size")
	flags.IntVar(&queueDepth, "queue-depth", 0, "in-flight batch count (default 2, 6 for block devices)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress progress and informational output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		return 1
	}
	return 0
}

type copyOpts struct {
	imagePath  string
	destPath   string
	bmapPath   string
	verify     bool
	sync       bool
	quiet      bool
	batchBytes int64
	queueDepth int
	logger     *slog.Logger
}

func doCopy(o copyOpts) error {
	var bm *bmap.Bmap
	if o.bmapPath != "" {
		var err error
		bm, err = bmap.ParseFile(o.bmapPath)
		if err != nil {
			return err
		}
		o.logger.Debug("parsed block map",
			"version", bm.Version(),
			"block_size", bm.BlockSize,
			"mapped_blocks", bm.MappedCnt,
			"mapped_percent", fmt.Sprintf("%.1f%%", bm.MappedPercent()),
		)
	}

	src, err := image.Open(o.imagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, info, err := openDest(o.destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	// Geometry for tuning and progress decisions. All of it may be
	// unknown at this point (compressed image, no block map).
	blockSize := uint64(engine.DefaultBlockSize)
	imageSize := src.Size()
	mappedCnt := uint64(0)
	if bm != nil {
		blockSize = bm.BlockSize
		imageSize = bm.ImageSize
		mappedCnt = bm.MappedCnt
	} else if imageSize > 0 {
		mappedCnt = (imageSize + blockSize - 1) / blockSize
	}

	var tuner device.Tuner = device.NopTuner{}
	var fsyncWatermark uint64
	queueDepth := o.queueDepth
	if info.Block {
		if imageSize > 0 {
			if err := device.CheckCapacity(dest, imageSize); err != nil {
				return err
			}
		}
		if st, err := device.NewSysfsTuner(dest, o.logger); err != nil {
			o.logger.Warn("cannot resolve device tuning entries", "error", err)
		} else {
			tuner = st
		}
		fsyncWatermark = 6 * 1024 * 1024 / blockSize
		if queueDepth == 0 {
			queueDepth = 6
		}
	}

	collector := stats.NewCollector()
	var progress func(uint64)
	if !o.quiet {
		progress = ui.NewReporter(os.Stderr, mappedCnt).Update
	}

	eng, err := engine.New(engine.Config{
		Image:          src,
		ImagePath:      o.imagePath,
		Dest:           dest,
		DestPath:       o.destPath,
		DestRegular:    info.Regular,
		DestNoFsync:    info.NoFsync,
		Bmap:           bm,
		BmapPath:       o.bmapPath,
		ImageSize:      src.Size(),
		BatchBytes:     o.batchBytes,
		QueueDepth:     queueDepth,
		FsyncWatermark: fsyncWatermark,
		Verify:         o.verify,
		SyncOnDone:     o.sync,
		Tuner:          tuner,
		Progress:       progress,
		Stats:          collector,
		Logger:         o.logger,
	})
	if err != nil {
		return err
	}

	if err := eng.Copy(); err != nil {
		return err
	}

	o.logger.Info(ui.Summary(collector.Snapshot(), collector.AvgSpeed()))
	return nil
}

// openDest opens the destination. Block devices are opened write-only and
// exclusively, so a mounted or otherwise busy device is refused; anything
// else is created or opened read-write in place.
func openDest(path string) (*os.File, device.Info, error) {
	fi, err := os.Stat(path)
	isBlock := err == nil && fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0

	var f *os.File
	if isBlock {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_EXCL, 0)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, device.Info{}, err
	}

	info, err := device.Stat(f)
	if err != nil {
		f.Close()
		return nil, device.Info{}, err
	}
	return f, info, nil
}
