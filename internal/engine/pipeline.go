package engine

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/bamsammich/blit/internal/bmap"
)

type msgKind int

const (
	msgData msgKind = iota + 1
	msgEndOfStream
	msgError
)

// message is what the reader sends the writer over the batch channel.
// Exactly one msgEndOfStream terminates a run; at most one msgError is
// ever sent, and it supersedes normal termination.
type message struct {
	kind  msgKind
	start uint64 // first block of the payload
	end   uint64 // last block of the payload
	buf   []byte
	err   error
}

// produce walks the planned ranges, reads the image in batches and feeds
// the batch channel. It runs in its own goroutine; failures are never
// raised here but converted into a msgError message for the writer. quit
// is closed by the writer on early exit so a blocked send cannot leak the
// goroutine.
func (e *Engine) produce(plan *planner, ch chan<- message, quit <-chan struct{}) {
	send := func(m message) bool {
		select {
		case ch <- m:
			return true
		case <-quit:
			return false
		}
	}

	for {
		r, ok := plan.Next()
		if !ok {
			break
		}

		// Accumulate a running digest over the raw bytes of a
		// checksummed range as its batches stream through.
		var sum hash.Hash
		if e.verify && r.Checksum != "" && e.meta.Checksum != "" {
			sum = e.meta.Checksum.New()
		}

		if _, err := e.image.Seek(int64(r.First*e.meta.BlockSize), io.SeekStart); err != nil {
			send(message{kind: msgError, err: &IOError{
				Op: "seek", Path: e.imagePath, Start: r.First, End: r.Last, Err: err,
			}})
			return
		}

		split := newBatchSplitter(r.First, r.Last, e.batchBlocks)
		for {
			b, ok := split.Next()
			if !ok {
				break
			}

			buf := make([]byte, b.length*e.meta.BlockSize)
			n, err := io.ReadFull(e.image, buf)
			switch {
			case err == io.EOF:
				// No data left at all: the previous batch was the
				// last one.
				send(message{kind: msgEndOfStream})
				return
			case err == io.ErrUnexpectedEOF:
				// Short read: the image ends inside this batch. Emit
				// what we got and finish.
				buf = buf[:n]
				if sum != nil {
					sum.Write(buf)
				}
				blocks := (uint64(n) + e.meta.BlockSize - 1) / e.meta.BlockSize
				send(message{kind: msgData, start: b.start, end: b.start + blocks - 1, buf: buf})
				send(message{kind: msgEndOfStream})
				return
			case err != nil:
				send(message{kind: msgError, err: &IOError{
					Op: "read", Path: e.imagePath, Start: b.start, End: b.end, Err: err,
				}})
				return
			}

			if sum != nil {
				sum.Write(buf)
			}

			if !send(message{kind: msgData, start: b.start, end: b.end, buf: buf}) {
				return
			}
		}

		if sum != nil {
			got := hex.EncodeToString(sum.Sum(nil))
			if got != r.Checksum {
				send(message{kind: msgError, err: &bmap.ChecksumMismatchError{
					Subject:   fmt.Sprintf("blocks %d-%d of %q", r.First, r.Last, e.imagePath),
					Algorithm: e.meta.Checksum,
					Got:       got,
					Want:      r.Checksum,
				}})
				return
			}
			e.stats.AddRangesVerified(1)
		}
	}

	send(message{kind: msgEndOfStream})
}

// consume drains the batch channel, writing each payload at its block
// offset. It runs on the caller's goroutine and is the only code that
// touches the destination during a copy.
func (e *Engine) consume(ch <-chan message) error {
	var fsyncLast uint64

	for {
		msg := <-ch
		switch msg.kind {
		case msgError:
			return msg.err
		case msgEndOfStream:
			return nil
		case msgData:
			if _, err := e.dest.Seek(int64(msg.start*e.meta.BlockSize), io.SeekStart); err != nil {
				return &IOError{Op: "seek", Path: e.destPath, Start: msg.start, End: msg.end, Err: err}
			}

			// Sync the destination once we are a full watermark past the
			// last sync point, so slow devices do not pile up gigabytes
			// of dirty pages that a final fsync would stall on.
			if e.fsyncWatermark > 0 && e.blocksWritten >= fsyncLast+e.fsyncWatermark {
				fsyncLast = e.blocksWritten
				if err := e.Sync(); err != nil {
					return err
				}
			}

			if _, err := e.dest.Write(msg.buf); err != nil {
				return &IOError{Op: "write", Path: e.destPath, Start: msg.start, End: msg.end, Err: err}
			}

			blocks := msg.end - msg.start + 1
			e.blocksWritten += blocks
			e.bytesWritten += uint64(len(msg.buf))
			e.stats.AddBlocksWritten(int64(blocks))
			e.stats.AddBytesWritten(int64(len(msg.buf)))

			if e.progress != nil {
				e.progress(e.blocksWritten)
			}
		}
	}
}
