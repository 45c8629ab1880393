package bmap

import "fmt"

// FormatError reports a malformed or internally inconsistent block map
// document.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad block map: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bad block map: %s", e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedVersionError reports a block map whose major format version is
// newer than this implementation understands.
type UnsupportedVersionError struct {
	Version string
	Major   int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("block map format version %s is not supported (highest supported major version is %d)",
		e.Version, SupportedVersion)
}

// ChecksumMismatchError reports a failed digest comparison, either for the
// block map document itself or for the data of a checksummed block range.
type ChecksumMismatchError struct {
	Subject   string
	Algorithm ChecksumType
	Got       string
	Want      string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: calculated %s, should be %s",
		string(e.Algorithm), e.Subject, e.Got, e.Want)
}

// InvalidRangeError reports a Range element whose text cannot describe a
// valid block run.
type InvalidRangeError struct {
	Text string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("bad block range %q", e.Text)
}
