// Package image opens disk images for copying, transparently decompressing
// known container formats by file extension. The copy engine only needs
// seek+read semantics from its source; decompression happens here,
// upstream of it.
package image

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Source is an open image. A compressed image reads as its decompressed
// content, supports forward seeks only, and reports an unknown size until
// it has been read through.
type Source struct {
	r        io.ReadSeeker
	file     *os.File
	closeDec func() error
	size     uint64 // 0 when unknown
}

func (s *Source) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *Source) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

// Size returns the image size in bytes, or 0 when it cannot be known
// before reading (compressed source).
func (s *Source) Size() uint64 { return s.size }

func (s *Source) Close() error {
	var err error
	if s.closeDec != nil {
		err = s.closeDec()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open opens the image at path. The compression format, if any, is
// recognized by the file extension.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	src := &Source{file: f}
	var r io.Reader

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("cannot open %q as gzip: %w", path, err)
		}
		r = zr
		src.closeDec = zr.Close
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("cannot open %q as zstd: %w", path, err)
		}
		r = zr
		src.closeDec = func() error { zr.Close(); return nil }
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("cannot open %q as xz: %w", path, err)
		}
		r = xr
	case strings.HasSuffix(path, ".lz4"):
		r = lz4.NewReader(f)
	case strings.HasSuffix(path, ".bz2"):
		r = bzip2.NewReader(f)
	default:
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		src.r = f
		src.size = uint64(fi.Size())
		return src, nil
	}

	src.r = newForwardSeeker(r)
	return src, nil
}

// forwardSeeker adapts a sequential reader to the seek+read contract of
// the copy engine. Only forward seeks are possible: skipped bytes are read
// and discarded.
type forwardSeeker struct {
	r   io.Reader
	pos int64
}

func newForwardSeeker(r io.Reader) *forwardSeeker {
	return &forwardSeeker{r: r}
}

func (s *forwardSeeker) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *forwardSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.pos
	default:
		return 0, fmt.Errorf("seek whence %d is not supported on a compressed image", whence)
	}

	if offset < s.pos {
		return 0, fmt.Errorf("cannot seek backwards in a compressed image (at %d, asked for %d)", s.pos, offset)
	}

	n, err := io.CopyN(io.Discard, s.r, offset-s.pos)
	s.pos += n
	if err != nil {
		return s.pos, err
	}
	return s.pos, nil
}
