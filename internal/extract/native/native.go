// Package native implements the generic native-archive extraction path
// spec.md §4.2 describes for rpm, 7z, cpio, unix-ar and rar: each format
// is drained through a uniform entry iterator and written out with the
// same sanitising writer.
package native

import (
	"io"
	"io/fs"
	"os"

	"github.com/blakesmith/ar"
	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	cpio "github.com/surma/gocpio"
	"github.com/sassoftware/go-rpmutils"

	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/extract/fsx"
)

const (
	ErrFileAccess liberr.CodeError = liberr.MinPkgExtract + 10 + iota
	ErrInvalidFile
)

func init() {
	liberr.RegisterIdFctMessage(ErrFileAccess, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFileAccess:
		return "native archive extractor could not access source or destination"
	case ErrInvalidFile:
		return "native archive extractor matched format but content is malformed"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// entry is one member surfaced by an archive-family iterator.
type entry struct {
	name string
	mode fs.FileMode
	r    io.Reader
}

// drain writes every entry yielded by next (until io.EOF) under
// destination, sanitising each member name.
func drain(destination string, next func() (*entry, error)) error {
	for {
		e, err := next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		if e == nil {
			continue
		}
		if e.mode.IsDir() {
			if err = fsx.EnsureDir(destination+string(os.PathSeparator)+fsx.Sanitize(e.name), e.mode); err != nil {
				return ErrFileAccess.Error(err)
			}
			continue
		}
		if err = fsx.WriteMember(destination, e.name, e.mode, e.r); err != nil {
			return ErrFileAccess.Error(err)
		}
	}
}

// ExtractAr extracts a Unix ar (".a", ".deb"-style) archive.
func ExtractAr(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	r := ar.NewReader(f)
	return drain(destination, func() (*entry, error) {
		hdr, err := r.Next()
		if err != nil {
			return nil, err
		}
		return &entry{name: hdr.Name, mode: fs.FileMode(hdr.Mode).Perm(), r: r}, nil
	})
}

// ExtractCpio extracts a cpio archive (binary or "newc" ASCII header).
func ExtractCpio(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	r := cpio.NewReader(f)
	return drain(destination, func() (*entry, error) {
		hdr, err := r.Next()
		if err != nil {
			return nil, err
		}
		return &entry{name: hdr.Name, mode: hdr.Mode.Perm(), r: r}, nil
	})
}

// ExtractRar extracts a rar archive.
func ExtractRar(source, destination string) error {
	r, err := rardecode.OpenReader(source)
	if err != nil {
		return ErrInvalidFile.Error(err)
	}
	defer func() { _ = r.Close() }()

	return drain(destination, func() (*entry, error) {
		hdr, err := r.Next()
		if err != nil {
			return nil, err
		}
		var mode fs.FileMode
		if hdr.IsDir {
			mode |= fs.ModeDir
		}
		return &entry{name: hdr.Name, mode: mode | 0640, r: r}, nil
	})
}

// Extract7z extracts a 7z archive.
func Extract7z(source, destination string) error {
	r, err := sevenzip.OpenReader(source)
	if err != nil {
		return ErrInvalidFile.Error(err)
	}
	defer func() { _ = r.Close() }()

	idx := 0
	return drain(destination, func() (*entry, error) {
		if idx >= len(r.File) {
			return nil, io.EOF
		}
		zf := r.File[idx]
		idx++

		if zf.FileInfo().IsDir() {
			return &entry{name: zf.Name, mode: fs.ModeDir | 0750}, nil
		}

		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		return &entry{name: zf.Name, mode: zf.Mode().Perm(), r: rc}, nil
	})
}

// ExtractRPM drains an RPM's cpio payload.
func ExtractRPM(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return ErrInvalidFile.Error(err)
	}

	pr, err := rpm.PayloadReaderExtended()
	if err != nil {
		return ErrInvalidFile.Error(err)
	}

	return drain(destination, func() (*entry, error) {
		fi, err := pr.Next()
		if err != nil {
			return nil, err
		}
		return &entry{name: fi.Name(), mode: fi.Mode().Perm(), r: pr}, nil
	})
}
