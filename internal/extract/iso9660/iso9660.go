// Package iso9660 is a minimal hand-rolled ISO 9660 image reader. No
// iso9660 library exists anywhere in the retrieval pack (see DESIGN.md),
// so this walks the Primary Volume Descriptor and directory records
// directly. Rock Ridge / Joliet extensions are not interpreted; names
// are read as plain ISO 9660 Level 1/2 identifiers.
package iso9660

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/extract/fsx"
)

const (
	ErrInvalidFile liberr.CodeError = liberr.MinPkgExtract + 50 + iota
	ErrFileAccess
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFile, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFile:
		return "iso9660 volume descriptor or directory record is malformed"
	case ErrFileAccess:
		return "iso9660 extractor could not access source or destination"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

const sectorSize = 2048

const (
	flagDirectory = 1 << 1
)

// Extract reads the Primary Volume Descriptor at sector 16 of source
// and recursively writes every file directory-record into destination.
func Extract(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	pvd := make([]byte, sectorSize)
	if _, err = f.ReadAt(pvd, 16*sectorSize); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if pvd[0] != 1 || string(pvd[1:6]) != "CD001" {
		return ErrInvalidFile.Error(nil)
	}

	rootRecord := pvd[156:190]
	extent, length, _, err := parseDirRecord(rootRecord)
	if err != nil {
		return err
	}

	return walkDir(f, destination, "", extent, length)
}

// parseDirRecord decodes one ISO 9660 directory record, returning its
// extent LBA, data length, identifier, and the record's own byte length.
func parseDirRecord(b []byte) (extent, length uint32, name string, err error) {
	if len(b) < 33 {
		return 0, 0, "", ErrInvalidFile.Error(nil)
	}
	extent = binary.LittleEndian.Uint32(b[2:6])
	length = binary.LittleEndian.Uint32(b[10:14])
	nameLen := int(b[32])
	if 33+nameLen > len(b) {
		return 0, 0, "", ErrInvalidFile.Error(nil)
	}
	name = string(b[33 : 33+nameLen])
	return extent, length, name, nil
}

func walkDir(f *os.File, destination, prefix string, extent, length uint32) error {
	data := make([]byte, length)
	if _, err := f.ReadAt(data, int64(extent)*sectorSize); err != nil {
		return ErrInvalidFile.Error(err)
	}

	pos := 0
	for pos < len(data) {
		recLen := int(data[pos])
		if recLen == 0 {
			// records never straddle a sector boundary; a zero length
			// byte means "skip to the next sector".
			pos += sectorSize - (pos % sectorSize)
			continue
		}
		if pos+recLen > len(data) {
			break
		}

		rec := data[pos : pos+recLen]
		childExtent, childLength, rawName, err := parseDirRecord(rec)
		if err != nil {
			return err
		}
		flags := rec[25]

		if len(rawName) == 1 && (rawName[0] == 0x00 || rawName[0] == 0x01) {
			pos += recLen
			continue
		}

		name := cleanName(rawName)
		if name != "" {
			full := prefix + name
			if flags&flagDirectory != 0 {
				if err = fsx.EnsureDir(filepath.Join(destination, fsx.Sanitize(full)), 0750); err != nil {
					return ErrFileAccess.Error(err)
				}
				if err = walkDir(f, destination, full+"/", childExtent, childLength); err != nil {
					return err
				}
			} else {
				section := io.NewSectionReader(f, int64(childExtent)*sectorSize, int64(childLength))
				if err = fsx.WriteMember(destination, full, 0640, section); err != nil {
					return ErrFileAccess.Error(err)
				}
			}
		}

		pos += recLen
	}

	return nil
}

// cleanName strips the ";version" suffix ISO 9660 Level 1/2 names carry.
func cleanName(name string) string {
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	return name
}
