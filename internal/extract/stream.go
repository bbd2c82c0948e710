package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github/sabouaram/stacs/internal/classify"
	"github/sabouaram/stacs/internal/extract/fsx"
)

func init() {
	Register(classify.TagGzip, singleStream(func(r io.Reader) (io.Reader, io.Closer, error) {
		z, err := gzip.NewReader(r)
		return z, z, err
	}))
	Register(classify.TagBzip2, singleStream(func(r io.Reader) (io.Reader, io.Closer, error) {
		return bzip2.NewReader(r), nil, nil
	}))
	Register(classify.TagXZ, singleStream(func(r io.Reader) (io.Reader, io.Closer, error) {
		z, err := xz.NewReader(r)
		return z, nil, err
	}))
	Register(classify.TagZlib, singleStream(func(r io.Reader) (io.Reader, io.Closer, error) {
		z, err := zlib.NewReader(r)
		return z, z, err
	}))
	Register(classify.TagZstd, singleStream(func(r io.Reader) (io.Reader, io.Closer, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return d.IOReadCloser(), d.IOReadCloser(), nil
	}))
	Register(classify.TagTar, extractTar)
	Register(classify.TagZip, extractZip)
}

// singleStream adapts a decompressor constructor into a Func that writes
// exactly one output file, named by stripping the source's last
// dot-suffix (or keeping the name as-is if it has none).
func singleStream(open func(r io.Reader) (io.Reader, io.Closer, error)) Func {
	return func(source, destination string) error {
		f, err := os.Open(source)
		if err != nil {
			return ErrFileAccess.Error(err)
		}
		defer func() { _ = f.Close() }()

		dr, closer, err := open(f)
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		if closer != nil {
			defer func() { _ = closer.Close() }()
		}

		name := strippedName(source)
		out, err := os.OpenFile(filepath.Join(destination, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
		if err != nil {
			return ErrFileAccess.Error(err)
		}
		defer func() { _ = out.Close() }()

		if _, err = io.Copy(out, dr); err != nil {
			return ErrInvalidFile.Error(err)
		}
		return nil
	}
}

func strippedName(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

func extractTar(source, destination string) error {
	f, err := os.Open(source)
	if err != nil {
		return ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ErrInvalidFile.Error(err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = fsx.EnsureDir(filepath.Join(destination, fsx.Sanitize(hdr.Name)), os.FileMode(hdr.Mode)); err != nil {
				return ErrFileAccess.Error(err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err = fsx.WriteMember(destination, hdr.Name, os.FileMode(hdr.Mode), tr); err != nil {
				return ErrFileAccess.Error(err)
			}
		default:
			// symlinks, devices, fifos: spec.md §1 excludes mode/ownership
			// preservation and link materialisation is not part of the
			// core's contract; skip silently.
		}
	}
}

func extractZip(source, destination string) error {
	zr, err := zip.OpenReader(source)
	if err != nil {
		return ErrInvalidFile.Error(err)
	}
	defer func() { _ = zr.Close() }()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			if err = fsx.EnsureDir(filepath.Join(destination, fsx.Sanitize(zf.Name)), zf.Mode()); err != nil {
				return ErrFileAccess.Error(err)
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return ErrInvalidFile.Error(err)
		}
		err = fsx.WriteMember(destination, zf.Name, zf.Mode(), rc)
		_ = rc.Close()
		if err != nil {
			return ErrFileAccess.Error(err)
		}
	}
	return nil
}
