// Package device probes destination files and tunes block-device I/O
// parameters around a copy.
package device

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Info describes an open destination file.
type Info struct {
	Path    string
	Block   bool
	Regular bool

	// NoFsync marks destinations that reject fsync. The only one in
	// practice is /dev/null (char device 1:3).
	NoFsync bool
}

// Stat classifies an open destination.
func Stat(f *os.File) (Info, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return Info{}, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}

	info := Info{Path: f.Name()}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		info.Block = true
	case unix.S_IFREG:
		info.Regular = true
	case unix.S_IFCHR:
		rdev := uint64(st.Rdev)
		if unix.Major(rdev) == 1 && unix.Minor(rdev) == 3 {
			info.NoFsync = true
		}
	}
	return info, nil
}

// CapacityError reports a destination device too small for the image.
type CapacityError struct {
	Path     string
	Capacity uint64
	Needed   uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("the image needs %d bytes but %q has only %d bytes capacity",
		e.Needed, e.Path, e.Capacity)
}

// CheckCapacity verifies that the destination can hold imageSize bytes.
// Called before any write when the image size is known up front.
func CheckCapacity(f *os.File, imageSize uint64) error {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return &os.PathError{Op: "seek", Path: f.Name(), Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return &os.PathError{Op: "seek", Path: f.Name(), Err: err}
	}

	if uint64(size) < imageSize {
		return &CapacityError{Path: f.Name(), Capacity: uint64(size), Needed: imageSize}
	}
	return nil
}
