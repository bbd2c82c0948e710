// Package xar extracts eXtensible ARchive (XAR) containers per the
// fixed binary layout described in spec.md §4.2/§6.
package xar

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"encoding/xml"
	"io"
	"os"

	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/extract/fsx"
)

const (
	ErrInvalidFile liberr.CodeError = liberr.MinPkgExtract + 20 + iota
	ErrFileAccess
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFile, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFile:
		return "xar header or table of contents is malformed"
	case ErrFileAccess:
		return "xar extractor could not access source or destination"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// header is the fixed big-endian XAR header.
type header struct {
	Magic         [4]byte
	Size          uint16
	Version       uint16
	TocCompLen    uint64
	TocUncompLen  uint64
	ChecksumAlgID uint32
}

type toc struct {
	TOC tocBody `xml:"toc"`
}

type tocBody struct {
	Files []file `xml:"file"`
}

type file struct {
	Type     string  `xml:"type,attr"`
	Name     string  `xml:"name"`
	Data     *data   `xml:"data"`
	Children []file  `xml:"file"`
}

type data struct {
	Length   int64  `xml:"length"`
	Offset   int64  `xml:"offset"`
	Size     int64  `xml:"size"`
	Encoding encode `xml:"encoding"`
}

type encode struct {
	Style string `xml:"style,attr"`
}

// Extract parses the XAR header and table of contents of source and
// writes every file-type entry into destination.
func Extract(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	var h header
	if err = binary.Read(f, binary.BigEndian, &h); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if string(h.Magic[:]) != "xar!" {
		return ErrInvalidFile.Error(nil)
	}

	// Header.Size may exceed the fixed struct if future fields were
	// added; seek to its declared end rather than assume sizeof(header).
	if _, err = f.Seek(int64(h.Size), io.SeekStart); err != nil {
		return ErrInvalidFile.Error(err)
	}

	compToc := make([]byte, h.TocCompLen)
	if _, err = io.ReadFull(f, compToc); err != nil {
		return ErrInvalidFile.Error(err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compToc))
	if err != nil {
		return ErrInvalidFile.Error(err)
	}
	defer func() { _ = zr.Close() }()

	var t toc
	if err = xml.NewDecoder(zr).Decode(&t); err != nil {
		return ErrInvalidFile.Error(err)
	}

	base := int64(h.Size) + int64(h.TocCompLen)

	for _, entry := range t.TOC.Files {
		if err = extractEntry(f, base, destination, "", entry); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *os.File, base int64, destination, prefix string, e file) error {
	name := e.Name
	if prefix != "" {
		name = prefix + "/" + name
	}

	if e.Type == "directory" {
		if err := fsx.EnsureDir(destination+string(os.PathSeparator)+fsx.Sanitize(name), 0750); err != nil {
			return ErrFileAccess.Error(err)
		}
		for _, child := range e.Children {
			if err := extractEntry(f, base, destination, name, child); err != nil {
				return err
			}
		}
		return nil
	}

	if e.Data == nil {
		return nil
	}

	if _, err := f.Seek(base+e.Data.Offset, io.SeekStart); err != nil {
		return ErrInvalidFile.Error(err)
	}

	var r io.Reader = io.LimitReader(f, e.Data.Length)

	if e.Data.Encoding.Style == "application/x-gzip" {
		// the source's original MAX_WBITS|32 zlib setting auto-detects
		// either a gzip or a raw zlib header; XAR payloads are gzip.
		zr, err := gzip.NewReader(r)
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	return fsx.WriteMember(destination, name, 0640, r)
}
