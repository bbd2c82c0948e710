// Package dmg extracts Apple Disk Image (DMG) containers by parsing the
// "koly" trailer and "mish" block tables per spec.md §4.2/§6.
package dmg

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ulikunitz/xz/lzma"

	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	ErrInvalidFile liberr.CodeError = liberr.MinPkgExtract + 30 + iota
	ErrFileAccess
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFile, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFile:
		return "dmg trailer or block table is malformed"
	case ErrFileAccess:
		return "dmg extractor could not access source or destination"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

const trailerSize = 512

// trailer mirrors the fixed big-endian "koly" layout of spec.md §6.
type trailer struct {
	Signature           [4]byte
	Version             uint32
	HeaderSize          uint32
	Flags               uint32
	RunningDataForkOff  uint64
	DataForkOffset      uint64
	DataForkLength      uint64
	RsrcForkOffset      uint64
	RsrcForkLength      uint64
	SegmentNumber       uint32
	SegmentCount        uint32
	SegmentID           [16]byte
	DataChecksumType    uint32
	DataChecksumSize    uint32
	DataChecksum        [128]byte
	XMLOffset           uint64
	XMLLength           uint64
	Reserved1           [120]byte
	ChecksumType        uint32
	ChecksumSize        uint32
	Checksum            [128]byte
	ImageVariant        uint32
	SectorCount         uint64
	Reserved2           uint32
	Reserved3           uint32
	Reserved4           uint32
}

type plist struct {
	Dict dict `xml:"dict"`
}

// dict is a minimal, best-effort plist <dict> walker: it only cares
// about the resource-fork/blkx array of per-block base64 <data> blobs.
type dict struct {
	Keys   []string `xml:"key"`
	Dicts  []dict   `xml:"dict"`
	Arrays []arr    `xml:"array"`
}

type arr struct {
	Dicts []blkxDict `xml:"dict"`
}

type blkxDict struct {
	Keys   []string `xml:"key"`
	Data   []string `xml:"data"`
	String []string `xml:"string"`
}

const (
	chunkIgnore       = 0x00000002
	chunkComment      = 0x7FFFFFFE
	chunkLast         = 0xFFFFFFFF
	chunkZeroFill     = 0x00000000
	chunkZlib         = 0x80000005
	chunkBzip2        = 0x80000006
	chunkLZMA         = 0x80000008
)

type chunkRecord struct {
	Type             uint32
	Comment          [4]byte
	SectorNumber     uint64
	SectorCount      uint64
	CompressedOffset uint64
	CompressedLength uint64
}

// Extract reads the koly trailer of source, walks every resource-fork
// blkx block table, and writes one <basename>.<block_index>.blob file
// per block into destination.
func Extract(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	if stat.Size() < trailerSize {
		return ErrInvalidFile.Error(nil)
	}

	if _, err = f.Seek(stat.Size()-trailerSize, io.SeekStart); err != nil {
		return ErrInvalidFile.Error(err)
	}

	var t trailer
	if err = binary.Read(f, binary.BigEndian, &t); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if string(t.Signature[:]) != "koly" {
		return ErrInvalidFile.Error(nil)
	}

	xmlBuf := make([]byte, t.XMLLength)
	if _, err = f.ReadAt(xmlBuf, int64(t.XMLOffset)); err != nil {
		return ErrInvalidFile.Error(err)
	}

	var pl plist
	if err = xml.Unmarshal(xmlBuf, &pl); err != nil {
		return ErrInvalidFile.Error(err)
	}

	base := stripArchiveExt(filepath.Base(source))
	blockIndex := 0

	for _, blkxData := range collectBlkxData(pl.Dict) {
		raw, err := base64.StdEncoding.DecodeString(stripWhitespace(blkxData))
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		if err = extractBlock(f, raw, destination, base, &blockIndex); err != nil {
			return err
		}
	}

	return nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func stripArchiveExt(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return name[:len(name)-len(ext)]
	}
	return name
}

// collectBlkxData walks the plist dict tree looking for arrays whose
// entries carry a "Data" key — the resource-fork/blkx shape.
func collectBlkxData(d dict) []string {
	var out []string
	for _, a := range d.Arrays {
		for _, bd := range a.Dicts {
			out = append(out, bd.Data...)
		}
	}
	for _, child := range d.Dicts {
		out = append(out, collectBlkxData(child)...)
	}
	return out
}

// mish block table: magic "mish" + header fields + chunk_count + chunk records.
func extractBlock(src *os.File, raw []byte, destination, base string, blockIndex *int) error {
	r := bytes.NewReader(raw)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if string(magic[:]) != "mish" {
		return ErrInvalidFile.Error(nil)
	}

	// Skip the rest of the mish header up to the chunk_count field:
	// version(u32), sector_number(u64), sector_count(u64), data_offset(u64),
	// buffers_needed(u32), block_descriptors(u32), reserved[6](u32 each).
	if _, err := r.Seek(4+8+8+8+4+4+6*4, io.SeekCurrent); err != nil {
		return ErrInvalidFile.Error(err)
	}

	var checksumType, checksumSize uint32
	if err := binary.Read(r, binary.BigEndian, &checksumType); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if err := binary.Read(r, binary.BigEndian, &checksumSize); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if _, err := r.Seek(128, io.SeekCurrent); err != nil {
		return ErrInvalidFile.Error(err)
	}

	var chunkCount uint32
	if err := binary.Read(r, binary.BigEndian, &chunkCount); err != nil {
		return ErrInvalidFile.Error(err)
	}

	dst, err := os.OpenFile(
		filepath.Join(destination, fmt.Sprintf("%s.%d.blob", base, *blockIndex)),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = dst.Close() }()
	*blockIndex++

	for i := uint32(0); i < chunkCount; i++ {
		var c chunkRecord
		if err = binary.Read(r, binary.BigEndian, &c); err != nil {
			return ErrInvalidFile.Error(err)
		}

		switch c.Type {
		case chunkIgnore, chunkComment, chunkLast:
			continue
		case chunkZeroFill:
			if _, err = dst.Write(make([]byte, c.CompressedLength)); err != nil {
				return ErrFileAccess.Error(err)
			}
		case chunkZlib, chunkBzip2, chunkLZMA:
			section := io.NewSectionReader(src, int64(c.CompressedOffset), int64(c.CompressedLength))
			var cr io.Reader
			switch c.Type {
			case chunkZlib:
				zr, zerr := zlib.NewReader(section)
				if zerr != nil {
					return ErrInvalidFile.Error(zerr)
				}
				defer func() { _ = zr.Close() }()
				cr = zr
			case chunkBzip2:
				cr = bzip2.NewReader(section)
			case chunkLZMA:
				lr, lerr := lzma.NewReader(section)
				if lerr != nil {
					return ErrInvalidFile.Error(lerr)
				}
				cr = lr
			}
			if _, err = io.Copy(dst, cr); err != nil {
				return ErrInvalidFile.Error(err)
			}
		default:
			// unknown chunk type: ignored per spec.md §4.2.
		}
	}

	return nil
}
