// Package cab is a minimal hand-rolled Microsoft Cabinet (CAB) reader.
// No cab-reading library exists anywhere in the retrieval pack (see
// DESIGN.md), so this walks the CFHEADER/CFFOLDER/CFFILE/CFDATA layout
// directly. Only the "stored" and MSZIP data-block compression types are
// decoded; Quantum and LZX folders are reported as an invalid-file error
// rather than silently producing empty output.
package cab

import (
	"bufio"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"os"

	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/extract/fsx"
)

const (
	ErrInvalidFile liberr.CodeError = liberr.MinPkgExtract + 40 + iota
	ErrFileAccess
	ErrUnsupportedCompression
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFile, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFile:
		return "cabinet header or directory is malformed"
	case ErrFileAccess:
		return "cab extractor could not access source or destination"
	case ErrUnsupportedCompression:
		return "cabinet folder uses an unsupported compression type"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

const (
	compressNone  = 0
	compressMSZIP = 1
)

type header struct {
	Signature  [4]byte
	Reserved1  uint32
	CbCabinet  uint32
	Reserved2  uint32
	CoffFiles  uint32
	Reserved3  uint32
	VerMinor   uint8
	VerMajor   uint8
	CFolders   uint16
	CFiles     uint16
	Flags      uint16
	SetID      uint16
	ICabinet   uint16
}

type folder struct {
	coffCabStart uint32
	cCFData      uint16
	typeCompress uint16
}

type file struct {
	cbFile          uint32
	uoffFolderStart uint32
	iFolder         uint16
	name            string
}

// Extract walks source's CFHEADER/CFFOLDER/CFFILE/CFDATA structures and
// writes every file entry into destination.
func Extract(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	var h header
	if err = binary.Read(f, binary.LittleEndian, &h); err != nil {
		return ErrInvalidFile.Error(err)
	}
	if string(h.Signature[:]) != "MSCF" {
		return ErrInvalidFile.Error(nil)
	}
	// Optional per-cabinet/folder/data header extensions (reserve/prev/next
	// cabinet fields) are not supported; cabinets that set those flag bits
	// are rejected rather than mis-parsed.
	if h.Flags&0x0007 != 0 {
		return ErrUnsupportedCompression.Error(nil)
	}

	folders := make([]folder, 0, h.CFolders)
	for i := uint16(0); i < h.CFolders; i++ {
		var raw struct {
			CoffCabStart uint32
			CCFData      uint16
			TypeCompress uint16
		}
		if err = binary.Read(f, binary.LittleEndian, &raw); err != nil {
			return ErrInvalidFile.Error(err)
		}
		folders = append(folders, folder{
			coffCabStart: raw.CoffCabStart,
			cCFData:      raw.CCFData,
			typeCompress: raw.TypeCompress,
		})
	}

	if _, err = f.Seek(int64(h.CoffFiles), io.SeekStart); err != nil {
		return ErrInvalidFile.Error(err)
	}

	files := make([]file, 0, h.CFiles)
	for i := uint16(0); i < h.CFiles; i++ {
		var raw struct {
			CbFile          uint32
			UoffFolderStart uint32
			IFolder         uint16
			Date            uint16
			Time            uint16
			Attribs         uint16
		}
		if err = binary.Read(f, binary.LittleEndian, &raw); err != nil {
			return ErrInvalidFile.Error(err)
		}
		name, err := readCString(f)
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		files = append(files, file{
			cbFile:          raw.CbFile,
			uoffFolderStart: raw.UoffFolderStart,
			iFolder:         raw.IFolder,
			name:            name,
		})
	}

	folderData := make(map[uint16][]byte)
	for idx, fd := range folders {
		data, err := readFolder(f, fd)
		if err != nil {
			return err
		}
		folderData[uint16(idx)] = data
	}

	for _, fl := range files {
		data := folderData[fl.iFolder]
		start, end := int(fl.uoffFolderStart), int(fl.uoffFolderStart)+int(fl.cbFile)
		if start < 0 || end > len(data) || start > end {
			return ErrInvalidFile.Error(nil)
		}
		if err = fsx.WriteMember(destination, fl.name, 0640, bytes.NewReader(data[start:end])); err != nil {
			return ErrFileAccess.Error(err)
		}
	}

	return nil
}

func readCString(r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	s, err := br.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

func readFolder(f *os.File, fd folder) ([]byte, error) {
	if _, err := f.Seek(int64(fd.coffCabStart), io.SeekStart); err != nil {
		return nil, ErrInvalidFile.Error(err)
	}

	var out []byte
	for i := uint16(0); i < fd.cCFData; i++ {
		var block struct {
			Csum     uint32
			CbData   uint16
			CbUncomp uint16
		}
		if err := binary.Read(f, binary.LittleEndian, &block); err != nil {
			return nil, ErrInvalidFile.Error(err)
		}
		raw := make([]byte, block.CbData)
		if _, err := io.ReadFull(f, raw); err != nil {
			return nil, ErrInvalidFile.Error(err)
		}

		switch fd.typeCompress & 0x000F {
		case compressNone:
			out = append(out, raw...)
		case compressMSZIP:
			if len(raw) < 2 || raw[0] != 'C' || raw[1] != 'K' {
				return nil, ErrInvalidFile.Error(nil)
			}
			zr := flate.NewReader(bytes.NewReader(raw[2:]))
			dec, err := io.ReadAll(zr)
			_ = zr.Close()
			if err != nil {
				return nil, ErrInvalidFile.Error(err)
			}
			out = append(out, dec...)
		default:
			return nil, ErrUnsupportedCompression.Error(nil)
		}
	}
	return out, nil
}
