// Package classify implements the Magic Classifier: it inspects a chunk of
// bytes taken from the head or tail of a file and returns the highest
// weighted format tag whose magic pattern matches.
package classify

import (
	"bytes"

	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	// ErrBadChunk is returned when Classify is handed an empty chunk.
	ErrBadChunk liberr.CodeError = liberr.MinPkgClassify + iota
)

func init() {
	liberr.RegisterIdFctMessage(ErrBadChunk, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrBadChunk:
		return "empty chunk handed to classifier"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// ArchiveSeparator joins the real path of a top-level file with the
// internal member path of each nested archive it was extracted from,
// per spec.md §6's ARCHIVE_FILE_SEPARATOR constant.
const ArchiveSeparator = "!"

// Tag identifies a detected container format. The zero value means
// "unclassified" - the Rule Engine Driver treats such artifacts as
// scannable, non-container files.
type Tag string

const (
	TagTar     Tag = "application/x-tar"
	TagGzip    Tag = "application/gzip"
	TagBzip2   Tag = "application/x-bzip2"
	TagZip     Tag = "application/zip"
	TagZlib    Tag = "application/zlib"
	TagXZ      Tag = "application/x-xz"
	TagZstd    Tag = "application/zstd"
	TagRPM     Tag = "application/x-rpm"
	TagISO9660 Tag = "application/x-iso9660-image"
	Tag7z      Tag = "application/x-7z-compressed"
	TagCPIO    Tag = "application/x-cpio"
	TagXAR     Tag = "application/x-xar"
	TagCab     Tag = "application/vnd.ms-cab-compressed"
	TagAr      Tag = "application/x-archive"
	TagRar     Tag = "application/x-rar-compressed"
	TagDMG     Tag = "application/x-apple-diskimage"
)

// descriptor is one entry of the process-wide MimeDescriptor table.
// A negative offset means "relative to the end of a tail chunk" and is
// only ever evaluated against a chunk read from the end of a file; a
// non-negative offset is only ever evaluated against a head chunk.
type descriptor struct {
	tag    Tag
	offset int
	magics [][]byte
	weight int
}

// table is declaration-ordered: ties in weight are broken by first
// declaration, per spec.md §4.1.
var table = []descriptor{
	{tag: TagGzip, offset: 0, magics: [][]byte{{0x1F, 0x8B}}, weight: 1},
	{tag: TagBzip2, offset: 0, magics: [][]byte{[]byte("BZh")}, weight: 1},
	{tag: TagZip, offset: 0, magics: [][]byte{
		[]byte("PK\x03\x04"), []byte("PK\x05\x06"), []byte("PK\x07\x08"),
	}, weight: 1},
	{tag: TagZlib, offset: 0, magics: [][]byte{
		{0x78, 0x01}, {0x78, 0x5E}, {0x78, 0x9C}, {0x78, 0xDA},
	}, weight: 1},
	{tag: TagXZ, offset: 0, magics: [][]byte{{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}}, weight: 1},
	{tag: TagZstd, offset: 0, magics: [][]byte{{0x28, 0xB5, 0x2F, 0xFD}}, weight: 1},
	{tag: TagRPM, offset: 0, magics: [][]byte{{0xED, 0xAB, 0xEE, 0xDB}}, weight: 1},
	{tag: Tag7z, offset: 0, magics: [][]byte{{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}}, weight: 1},
	{tag: TagCPIO, offset: 0, magics: [][]byte{
		[]byte("070701"), []byte("070702"), []byte("070707"), {0xC7, 0x71},
	}, weight: 1},
	{tag: TagXAR, offset: 0, magics: [][]byte{[]byte("xar!")}, weight: 1},
	{tag: TagCab, offset: 0, magics: [][]byte{[]byte("MSCF")}, weight: 1},
	{tag: TagAr, offset: 0, magics: [][]byte{[]byte("!<arch>\n")}, weight: 1},
	{tag: TagRar, offset: 0, magics: [][]byte{
		{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00},
		{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00},
	}, weight: 1},
	{tag: TagTar, offset: 257, magics: [][]byte{[]byte("ustar")}, weight: 1},
	{tag: TagISO9660, offset: 0x8001, magics: [][]byte{[]byte("CD001")}, weight: 1},
	// DMG's magic lives in the trailer, not the head; weight 2 lets a
	// tail-discovered DMG override any head-matched inner-looking format.
	{tag: TagDMG, offset: -512, magics: [][]byte{[]byte("koly")}, weight: 2},
}

// Classify returns the highest-weight descriptor whose magic matches the
// given chunk, gated by fromStart: descriptors with a negative offset are
// only considered when fromStart is false (chunk is a tail read).
func Classify(chunk []byte, fromStart bool) (weight int, tag Tag, ok bool) {
	weight = -1

	for _, d := range table {
		if fromStart && d.offset < 0 {
			continue
		}
		if !fromStart && d.offset >= 0 {
			continue
		}

		off := d.offset
		if off < 0 {
			off = len(chunk) + off
		}
		if off < 0 || off >= len(chunk) {
			continue
		}

		for _, m := range d.magics {
			if off+len(m) > len(chunk) {
				continue
			}
			if bytes.Equal(chunk[off:off+len(m)], m) {
				if d.weight > weight {
					weight, tag, ok = d.weight, d.tag, true
				}
				break
			}
		}
	}

	if !ok {
		weight = 0
	}
	return weight, tag, ok
}

// IsContainer reports whether tag has a registered extractor. Every tag
// this classifier can produce is a container format per spec.md §4.2;
// an empty tag (unclassified) is never a container.
func IsContainer(tag Tag) bool {
	return tag != ""
}
