// Package store implements the Artifact Store: the on-disk extraction
// cache plus the in-memory Artifact genealogy (spec.md §4.3).
package store

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github/sabouaram/stacs/internal/classify"
	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	ErrFileAccess liberr.CodeError = liberr.MinPkgStore + iota
)

func init() {
	liberr.RegisterIdFctMessage(ErrFileAccess, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFileAccess:
		return "artifact store could not access the cache directory"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

const noParent = -1

// Artifact is one discovered file. Immutable once recorded.
type Artifact struct {
	Path    string       // absolute on-disk path
	MD5     string       // hex digest of the byte stream
	Tag     classify.Tag // detected format, empty if unclassified
	Overlay string       // "!"-separated virtual path, empty if top-level
	Parent  int          // index into the owning ArtifactTable, -1 if none
}

// HasParent reports whether the Artifact has a parent in its table.
func (a Artifact) HasParent() bool { return a.Parent != noParent }

// Table is an insertion-ordered collection of Artifacts, protected by a
// single writer lock per spec.md §5 (writes are infrequent, O(files)).
type Table struct {
	mu   sync.Mutex
	list []Artifact
}

// NewTable returns an empty ArtifactTable.
func NewTable() *Table {
	return &Table{}
}

// Add appends an Artifact and returns its index. parent must be -1 or an
// index already present in the table (parents are always created before
// their children, per spec.md §3's invariant).
func (t *Table) Add(a Artifact) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append(t.list, a)
	return len(t.list) - 1
}

// Get returns the Artifact at idx.
func (t *Table) Get(idx int) Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list[idx]
}

// Len returns the number of recorded Artifacts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list)
}

// Snapshot returns a copy of the table's current contents, safe to range
// over without holding the writer lock.
func (t *Table) Snapshot() []Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Artifact, len(t.list))
	copy(out, t.list)
	return out
}

// VirtualPath reconstructs the "!"-joined overlay path for idx by
// walking parent indices to the root (spec.md §4.8). This is computable
// from the table alone and should match the Overlay field the Discovery
// Engine set, when one was set.
func (t *Table) VirtualPath(idx int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	for i := idx; i != noParent; {
		a := t.list[i]
		parts = append([]string{filepath.Base(a.Path)}, parts...)
		i = a.Parent
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += classify.ArchiveSeparator + p
	}
	return out
}

// NoParent is the sentinel Parent value for a root Artifact.
const NoParent = noParent

// Store owns the per-run cache directory and the ArtifactTable.
type Store struct {
	Root  string
	RunID string
	Table *Table
}

// New creates the per-run cache directory under cacheRoot, named by the
// current microsecond-resolution timestamp, and returns a ready Store.
// RunID is a fresh UUIDv4 (github.com/google/uuid), independent of the
// directory name, that identifies this run in logs and reports — two
// runs started in the same microsecond (parallel CI shards against a
// shared cache root) must not be confused with each other downstream.
func New(cacheRoot string) (*Store, error) {
	run := filepath.Join(cacheRoot, fmt.Sprintf("%d", time.Now().UnixMicro()))
	if err := os.MkdirAll(run, 0750); err != nil {
		return nil, ErrFileAccess.Error(err)
	}
	return &Store{Root: run, RunID: uuid.NewString(), Table: NewTable()}, nil
}

// AllocateSubdir returns the cache subdirectory for path, named by the
// hex MD5 of path so it is stable and collision-resistant within a run.
// A pre-existing subdirectory (e.g. from a rerun against the same cache
// root) is removed first.
func (s *Store) AllocateSubdir(path string) (string, error) {
	sum := md5.Sum([]byte(path))
	dir := filepath.Join(s.Root, hex.EncodeToString(sum[:]))

	if _, err := os.Stat(dir); err == nil {
		if err = os.RemoveAll(dir); err != nil {
			return "", ErrFileAccess.Error(err)
		}
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", ErrFileAccess.Error(err)
	}
	return dir, nil
}

// Record appends an Artifact to the table and returns its index.
func (s *Store) Record(path, md5sum string, tag classify.Tag, overlay string, parent int) int {
	return s.Table.Add(Artifact{Path: path, MD5: md5sum, Tag: tag, Overlay: overlay, Parent: parent})
}

// Close removes the run's cache directory. Failures are returned so the
// caller can log-and-continue rather than fail the run on stubborn
// files, per spec.md §4.3.
func (s *Store) Close() error {
	if err := os.RemoveAll(s.Root); err != nil {
		return ErrFileAccess.Error(err)
	}
	return nil
}
