// Package fsx holds the filesystem helpers shared by every archive
// extractor: member-path sanitisation and directory/file materialisation
// under a destination root.
package fsx

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Sanitize strips leading "../" and "./" segments from an archive member
// name and returns a path guaranteed to be relative. This is the
// sanitisation spec.md §4.2 calls for on the generic native-archive path;
// it is a best-effort hygiene pass, not a traversal-proof join (spec.md
// §9 flags lstrip-style sanitisation as a hardening point, not a fix -
// callers still join the result under a destination root with
// filepath.Join, which is the traversal-proof step).
func Sanitize(name string) string {
	name = filepath.ToSlash(name)
	for {
		trimmed := strings.TrimPrefix(name, "../")
		trimmed = strings.TrimPrefix(trimmed, "./")
		trimmed = strings.TrimPrefix(trimmed, "/")
		if trimmed == name {
			break
		}
		name = trimmed
	}
	return filepath.FromSlash(name)
}

// EnsureDir creates dest (and parents) with mode, replacing a
// pre-existing regular file at dest with a directory if one is found
// where a directory is about to appear.
func EnsureDir(dest string, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0750
	}
	if i, err := os.Stat(dest); err == nil {
		if i.IsDir() {
			return nil
		}
		if err = os.Remove(dest); err != nil {
			return err
		}
	}
	return os.MkdirAll(dest, mode)
}

// WriteMember writes one archive member's content to destRoot/name,
// sanitising name, creating parent directories on demand, and skipping
// "." entries (returns nil without writing anything).
func WriteMember(destRoot, name string, mode fs.FileMode, r io.Reader) error {
	clean := Sanitize(name)
	if clean == "" || clean == "." {
		return nil
	}

	dst := filepath.Join(destRoot, clean)

	if err := EnsureDir(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	if mode == 0 {
		mode = 0640
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(f, r)
	return err
}
