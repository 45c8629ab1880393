// Package bmap parses and validates block map documents.
//
// A block map is an XML file describing which blocks of a sparse disk image
// carry data. It records the image geometry (block size, block count, image
// size), the count of mapped blocks, and a list of mapped block ranges, each
// optionally carrying a checksum of its raw bytes. From format 1.3 the
// document also checksums itself.
package bmap

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SupportedVersion is the highest block map major format version this
// package understands.
const SupportedVersion = 2

// Metadata describes the image geometry recorded in a block map.
type Metadata struct {
	VersionMajor int
	VersionMinor int
	BlockSize    uint64
	BlocksCnt    uint64
	MappedCnt    uint64
	ImageSize    uint64

	// Checksum is the digest algorithm used by the document. Empty for
	// formats older than 1.3, which carried no checksums at all.
	Checksum ChecksumType
}

// Version returns the format version as "MAJOR.MINOR".
func (m Metadata) Version() string {
	return fmt.Sprintf("%d.%d", m.VersionMajor, m.VersionMinor)
}

// MappedSize returns the total size of the mapped area in bytes.
func (m Metadata) MappedSize() uint64 { return m.MappedCnt * m.BlockSize }

// MappedPercent returns the share of the image that is mapped.
func (m Metadata) MappedPercent() float64 {
	if m.BlocksCnt == 0 {
		return 0
	}
	return float64(m.MappedCnt) * 100 / float64(m.BlocksCnt)
}

// Range is a run of mapped blocks, inclusive on both ends.
type Range struct {
	First uint64
	Last  uint64

	// Checksum is the hex digest of the raw bytes of blocks First..Last,
	// or empty when the document does not checksum this range.
	Checksum string
}

// Blocks returns the number of blocks in the range.
func (r Range) Blocks() uint64 { return r.Last - r.First + 1 }

// Bmap holds the parsed contents of a block map document. Ranges are kept
// in document order, which is also the required copy order.
type Bmap struct {
	Metadata
	Ranges []Range
}

type xmlRange struct {
	Chksum string `xml:"chksum,attr"`
	SHA1   string `xml:"sha1,attr"`
	Text   string `xml:",chardata"`
}

type xmlDoc struct {
	XMLName           xml.Name `xml:"bmap"`
	Version           string   `xml:"version,attr"`
	ImageSize         string   `xml:"ImageSize"`
	BlockSize         string   `xml:"BlockSize"`
	BlocksCount       string   `xml:"BlocksCount"`
	MappedBlocksCount string   `xml:"MappedBlocksCount"`
	ChecksumType      string   `xml:"ChecksumType"`
	BmapFileChecksum  string   `xml:"BmapFileChecksum"`
	BmapFileSHA1      string   `xml:"BmapFileSHA1"`
	BlockMap          struct {
		Ranges []xmlRange `xml:"Range"`
	} `xml:"BlockMap"`
}

// ParseFile reads and parses the block map document at path.
func ParseFile(path string) (*Bmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse parses a block map document. The document self-checksum, when the
// format version declares one, is verified before any other field is
// trusted.
func Parse(data []byte) (*Bmap, error) {
	var doc xmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Reason: "not a well-formed XML document", Err: err}
	}

	b := &Bmap{}
	if err := parseVersion(doc.Version, &b.Metadata); err != nil {
		return nil, err
	}

	// Formats from 1.3 checksum their own file content. Verify it first:
	// none of the other fields can be trusted until the document itself
	// checks out.
	if selfChecksummed(b.Metadata) {
		if err := verifySelfChecksum(data, &doc, &b.Metadata); err != nil {
			return nil, err
		}
	}

	var err error
	if b.BlockSize, err = uintField("BlockSize", doc.BlockSize); err != nil {
		return nil, err
	}
	if b.BlocksCnt, err = uintField("BlocksCount", doc.BlocksCount); err != nil {
		return nil, err
	}
	if b.MappedCnt, err = uintField("MappedBlocksCount", doc.MappedBlocksCount); err != nil {
		return nil, err
	}
	if b.BlockSize == 0 {
		return nil, &FormatError{Reason: "BlockSize is zero"}
	}
	if b.MappedCnt > b.BlocksCnt {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"mapped blocks count %d exceeds blocks count %d", b.MappedCnt, b.BlocksCnt)}
	}

	// ImageSize appeared in format 1.2; derive it for older documents.
	if strings.TrimSpace(doc.ImageSize) == "" {
		b.ImageSize = b.BlocksCnt * b.BlockSize
	} else {
		if b.ImageSize, err = uintField("ImageSize", doc.ImageSize); err != nil {
			return nil, err
		}
	}

	if cnt := (b.ImageSize + b.BlockSize - 1) / b.BlockSize; cnt != b.BlocksCnt {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"image size does not match blocks count (%d bytes != %d blocks * %d bytes)",
			b.ImageSize, b.BlocksCnt, b.BlockSize)}
	}

	for _, xr := range doc.BlockMap.Ranges {
		r, err := parseRange(xr)
		if err != nil {
			return nil, err
		}
		b.Ranges = append(b.Ranges, r)
	}

	return b, nil
}

func parseVersion(version string, m *Metadata) error {
	major, minor, ok := strings.Cut(strings.TrimSpace(version), ".")
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("bad version attribute %q", version)}
	}

	var err error
	if m.VersionMajor, err = strconv.Atoi(major); err != nil {
		return &FormatError{Reason: fmt.Sprintf("bad version attribute %q", version), Err: err}
	}
	if m.VersionMinor, err = strconv.Atoi(minor); err != nil {
		return &FormatError{Reason: fmt.Sprintf("bad version attribute %q", version), Err: err}
	}

	if m.VersionMajor > SupportedVersion {
		return &UnsupportedVersionError{Version: m.Version(), Major: m.VersionMajor}
	}
	return nil
}

// selfChecksummed reports whether the format version declares a checksum of
// the document itself. The checksum appeared in format 1.3.
func selfChecksummed(m Metadata) bool {
	if m.VersionMajor >= 2 {
		return true
	}
	return m.VersionMajor == 1 && m.VersionMinor >= 3
}

// verifySelfChecksum recomputes the document digest with the stored digest
// text replaced by an equal-length all-'0' placeholder, the way the
// document was originally checksummed, and compares it against the stored
// value. It also records the document's checksum algorithm in m.
func verifySelfChecksum(data []byte, doc *xmlDoc, m *Metadata) error {
	var want string
	if m.VersionMajor >= 2 {
		ctype, err := ParseChecksumType(strings.TrimSpace(doc.ChecksumType))
		if err != nil {
			return &FormatError{Reason: "bad ChecksumType element", Err: err}
		}
		m.Checksum = ctype
		want = strings.TrimSpace(doc.BmapFileChecksum)
	} else {
		m.Checksum = SHA1
		want = strings.TrimSpace(doc.BmapFileSHA1)
	}

	if want == "" {
		return &FormatError{Reason: "missing document checksum element"}
	}
	if len(want) != hex.EncodedLen(m.Checksum.Size()) {
		return &FormatError{Reason: fmt.Sprintf("stored document checksum %q has wrong length", want)}
	}

	// The stored digest is located as raw text and zeroed in place. A hex
	// digest is extremely unlikely to recur elsewhere in the document.
	pos := bytes.Index(data, []byte(want))
	if pos < 0 {
		return &FormatError{Reason: "stored document checksum not found in document body"}
	}

	scratch := bytes.Clone(data)
	for i := range want {
		scratch[pos+i] = '0'
	}

	h := m.Checksum.New()
	h.Write(scratch)
	got := hex.EncodeToString(h.Sum(nil))

	if got != want {
		return &ChecksumMismatchError{
			Subject:   "block map file",
			Algorithm: m.Checksum,
			Got:       got,
			Want:      want,
		}
	}
	return nil
}

// parseRange parses a Range element. The text is either "N" or "N-M".
func parseRange(xr xmlRange) (Range, error) {
	text := strings.TrimSpace(xr.Text)

	firstStr, lastStr, isPair := strings.Cut(text, "-")
	first, err := strconv.ParseUint(strings.TrimSpace(firstStr), 10, 64)
	if err != nil {
		return Range{}, &InvalidRangeError{Text: text}
	}

	last := first
	if isPair {
		last, err = strconv.ParseUint(strings.TrimSpace(lastStr), 10, 64)
		if err != nil {
			return Range{}, &InvalidRangeError{Text: text}
		}
		if first > last {
			return Range{}, &InvalidRangeError{Text: text}
		}
	}

	// Format 2.0 uses a chksum attribute, 1.3 and 1.4 used sha1.
	checksum := xr.Chksum
	if checksum == "" {
		checksum = xr.SHA1
	}

	return Range{First: first, Last: last, Checksum: checksum}, nil
}

func uintField(name, text string) (uint64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, &FormatError{Reason: fmt.Sprintf("missing %s element", name)}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &FormatError{Reason: fmt.Sprintf("bad %s value %q", name, s), Err: err}
	}
	return n, nil
}
