// Package discovery implements the Discovery Engine: the dynamic
// work-stealing pipeline that walks a root path, classifies and hashes
// every file, dispatches archive extraction, and re-enqueues extracted
// members, per spec.md §4.4.
package discovery

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github/sabouaram/stacs/internal/classify"
	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/extract"
	"github/sabouaram/stacs/internal/obslog"
	"github/sabouaram/stacs/internal/store"
)

const (
	ErrFileAccess liberr.CodeError = liberr.MinPkgDiscovery + iota
	ErrInvalidFile
)

func init() {
	liberr.RegisterIdFctMessage(ErrFileAccess, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFileAccess:
		return "discovery engine could not access a file"
	case ErrInvalidFile:
		return "discovery engine could not classify or expand a file"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// ChunkSize is the streaming read size used for hashing and for the
// head/tail classification chunks, per spec.md §6.
const ChunkSize = 65536

// DefaultWorkers is the worker-pool size used when Options.Workers is 0.
const DefaultWorkers = 10

// Options configures one Discovery Engine run.
type Options struct {
	Workers       int
	SkipOnCorrupt bool
	Log           *obslog.Logger
}

// job is one pending metadata task: hash+classify path, optionally
// expand it, and enqueue its members.
type job struct {
	path    string
	overlay string
	parent  int
}

// outcome is what a worker reports back to the driver loop for one job.
type outcome struct {
	fatal   error
	newJobs []job
}

// Engine drives one Discovery Engine run against a Store.
type Engine struct {
	opts  Options
	store *store.Store
	log   *obslog.Logger
	roots []string
}

// New returns an Engine bound to st, applying default Options where unset.
func New(st *store.Store, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Log == nil {
		opts.Log = obslog.New(false)
	}
	return &Engine{opts: opts, store: st, log: opts.Log}
}

// Run walks every root, recursively expanding containers, until the
// completion channel drains with zero outstanding jobs. Returns the
// first fatal error encountered, if any; invalid-file and (when
// SkipOnCorrupt is set) file-access errors are logged as warnings and
// do not abort the run.
func (e *Engine) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(e.opts.Workers))
	completion := make(chan outcome)

	var outstanding int64
	var fatalOnce sync.Once
	var fatalErr error

	submit := func(j job) {
		atomic.AddInt64(&outstanding, 1)
		go func() {
			_ = sem.Acquire(ctx, 1)
			defer sem.Release(1)
			completion <- e.runJob(j)
		}()
	}

	for _, j := range e.seedRoots(ctx) {
		submit(j)
	}

	for atomic.LoadInt64(&outstanding) > 0 {
		out := <-completion
		atomic.AddInt64(&outstanding, -1)

		if out.fatal != nil {
			fatalOnce.Do(func() { fatalErr = out.fatal })
			continue
		}
		for _, nj := range out.newJobs {
			submit(nj)
		}
	}

	return fatalErr
}

// seedRoots stats the configured root paths and produces one job per
// regular file and one recursive walk per directory. Roots that don't
// exist are reported as a warning, never fatal - spec.md §4.4 scopes
// fatality to per-job work, not to initial root resolution.
func (e *Engine) seedRoots(ctx context.Context) []job {
	var jobs []job
	for _, root := range e.rootPaths(ctx) {
		info, err := os.Lstat(root)
		if err != nil {
			e.log.Warn("root path inaccessible", obslog.Fields{"path": root, "error": err.Error()})
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			e.log.Warn("root path is a symlink, skipped", obslog.Fields{"path": root})
			continue
		}
		if info.IsDir() {
			jobs = append(jobs, e.walkDir(root, "", store.NoParent)...)
		} else {
			jobs = append(jobs, job{path: root, parent: store.NoParent})
		}
	}
	return jobs
}

// rootPaths returns the paths configured via SetRoots.
func (e *Engine) rootPaths(_ context.Context) []string {
	return e.roots
}

// walkDir recursively lists a directory's regular files. Symlinked
// entries (files or directories) are skipped entirely, per spec.md §4.4.
func (e *Engine) walkDir(dir, overlayPrefix string, parent int) []job {
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Warn("directory unreadable", obslog.Fields{"path": dir, "error": err.Error()})
		return nil
	}

	var jobs []job
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			e.log.Warn("entry stat failed", obslog.Fields{"path": full, "error": err.Error()})
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if info.IsDir() {
			jobs = append(jobs, e.walkDir(full, "", parent)...)
			continue
		}
		jobs = append(jobs, job{path: full, parent: parent})
	}
	return jobs
}

// runJob executes one metadata job: hash, classify, record, and, if the
// file is a container, extract and enqueue its members.
func (e *Engine) runJob(j job) outcome {
	sum, head, tail, size, err := hashAndSample(j.path)
	if err != nil {
		if e.opts.SkipOnCorrupt {
			e.log.Warn("file access failed, skipping", obslog.Fields{"path": j.path, "error": err.Error()})
			return outcome{}
		}
		return outcome{fatal: ErrFileAccess.Error(err)}
	}

	tag := classifyFile(head, tail, size)

	overlay := j.overlay
	idx := e.store.Record(j.path, sum, tag, overlay, j.parent)

	if !classify.IsContainer(tag) {
		return outcome{}
	}

	subdir, err := e.store.AllocateSubdir(j.path)
	if err != nil {
		if e.opts.SkipOnCorrupt {
			e.log.Warn("cache allocation failed, skipping expansion", obslog.Fields{"path": j.path, "error": err.Error()})
			return outcome{}
		}
		return outcome{fatal: ErrFileAccess.Error(err)}
	}

	if err = extract.Extract(tag, j.path, subdir); err != nil {
		// per spec.md §4.4/§7, an invalid-file error from an extractor is
		// always demoted to a warning: a corrupt inner archive must not
		// fail the whole run.
		e.log.Warn("extraction failed, artifact recorded but not expanded",
			obslog.Fields{"path": j.path, "error": err.Error()})
		return outcome{}
	}

	parentOverlay := overlay
	if parentOverlay == "" {
		parentOverlay = j.path
	}

	var newJobs []job
	_ = filepath.Walk(subdir, func(p string, info os.FileInfo, err error) error {
		if err != nil || p == subdir {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(subdir, p)
		if relErr != nil {
			rel = filepath.Base(p)
		}
		newJobs = append(newJobs, job{
			path:    p,
			overlay: parentOverlay + classify.ArchiveSeparator + filepath.ToSlash(rel),
			parent:  idx,
		})
		return nil
	})

	return outcome{newJobs: newJobs}
}

// hashAndSample streams path in ChunkSize chunks, accumulating an MD5
// digest while retaining the first and last chunk for classification.
func hashAndSample(path string) (sum string, head, tail []byte, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, nil, 0, err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	buf := make([]byte, ChunkSize)
	var first []byte
	var last []byte

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.Write(chunk)
			size += int64(n)
			if first == nil {
				first = chunk
			}
			last = chunk
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", nil, nil, 0, rerr
		}
	}

	return hex.EncodeToString(h.Sum(nil)), first, last, size, nil
}

// classifyFile runs the Magic Classifier against the head chunk and,
// only if the head was inconclusive, the tail chunk - giving tail-only
// magics (DMG's "koly") a chance without letting them override a
// confident head match of equal or lower weight (handled by Classify's
// own weight comparison, since both calls share format tags only
// through their declaration order within the shared table).
func classifyFile(head, tail []byte, size int64) classify.Tag {
	headWeight, headTag, headOK := classify.Classify(head, true)
	tailWeight, tailTag, tailOK := classify.Classify(tail, false)

	switch {
	case headOK && tailOK:
		if tailWeight > headWeight {
			return tailTag
		}
		return headTag
	case headOK:
		return headTag
	case tailOK:
		return tailTag
	default:
		return ""
	}
}

// SetRoots configures the paths a subsequent Run will walk.
func (e *Engine) SetRoots(paths ...string) {
	e.roots = paths
}
