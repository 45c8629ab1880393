package engine

import "fmt"

// IOError reports a failed operation on the image or the destination,
// tagged with the file and the affected block range.
type IOError struct {
	Op    string // "read", "write", "seek", "truncate"
	Path  string
	Start uint64
	End   uint64
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cannot %s blocks %d-%d of %q: %v", e.Op, e.Start, e.End, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// InconsistentBmapError reports a completed copy whose written block count
// does not match the mapped block count the block map declared. It means
// the block map does not describe this image.
type InconsistentBmapError struct {
	ImagePath string
	DestPath  string
	Written   uint64
	Mapped    uint64
}

func (e *InconsistentBmapError) Error() string {
	return fmt.Sprintf("wrote %d blocks from image %q to %q, but should have written %d - the block map does not belong to this image",
		e.Written, e.ImagePath, e.DestPath, e.Mapped)
}

// ImageSizeConflictError reports an attempt to set the image size to a
// value that conflicts with the size already known. The image size is a
// set-once field: it may be filled in late (compressed source), but never
// changed.
type ImageSizeConflictError struct {
	Known uint64
	New   uint64
}

func (e *ImageSizeConflictError) Error() string {
	return fmt.Sprintf("cannot set image size to %d bytes, it is known to be %d bytes", e.New, e.Known)
}
