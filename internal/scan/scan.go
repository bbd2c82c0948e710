// Package scan wires the Discovery Engine, Rule Engine Driver, Sampler,
// Suppressor and Reporter into the single pipeline spec.md §2 describes:
// root path -> Discovery -> (Artifact Store, file list) -> Rule Engine
// Driver (uses Sampler) -> Findings -> Suppressor -> Reporter.
package scan

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github/sabouaram/stacs/internal/classify"
	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/discovery"
	"github/sabouaram/stacs/internal/obslog"
	"github/sabouaram/stacs/internal/report"
	"github/sabouaram/stacs/internal/rules"
	"github/sabouaram/stacs/internal/sampler"
	"github/sabouaram/stacs/internal/store"
	"github/sabouaram/stacs/internal/suppress"
)

const (
	ErrFatal liberr.CodeError = liberr.MinPkgScan + iota
)

func init() {
	liberr.RegisterIdFctMessage(ErrFatal, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFatal:
		return "scan aborted"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// Options configures one end-to-end Run.
type Options struct {
	Roots          []string
	CacheDirectory string
	Workers        int
	SkipOnCorrupt  bool
	RulePackPath   string
	IgnoreListPath string
	Log            *obslog.Logger
}

// Result is the outcome of one Run: every Finding, post-suppression,
// the ArtifactTable that produced them, and the run's identifier.
type Result struct {
	Findings []report.Finding
	Table    *store.Table
	RunID    string
}

// Run executes the full pipeline and returns once every Artifact has
// been discovered, every non-container Artifact has been scanned, and
// every Finding has been folded over the ignore list (if any).
func Run(ctx context.Context, opts Options) (Result, error) {
	log := opts.Log
	if log == nil {
		log = obslog.New(false)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = discovery.DefaultWorkers
	}

	pack, err := rules.Load(opts.RulePackPath)
	if err != nil {
		return Result{}, err
	}

	var list *suppress.List
	if opts.IgnoreListPath != "" {
		list, err = suppress.Load(opts.IgnoreListPath)
		if err != nil {
			return Result{}, err
		}
	}

	if err = os.MkdirAll(opts.CacheDirectory, 0750); err != nil {
		return Result{}, ErrFatal.Error(err)
	}

	st, err := store.New(opts.CacheDirectory)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("cache cleanup failed", obslog.Fields{"error": cerr.Error()})
		}
	}()

	eng := discovery.New(st, discovery.Options{Workers: workers, SkipOnCorrupt: opts.SkipOnCorrupt, Log: log})
	eng.SetRoots(opts.Roots...)
	if err = eng.Run(ctx); err != nil {
		return Result{}, err
	}

	findings := scanArtifacts(st.Table, pack, workers, opts.SkipOnCorrupt, log)

	if list != nil {
		findings = list.Apply(findings)
	}

	return Result{Findings: findings, Table: st.Table, RunID: st.RunID}, nil
}

// scanArtifacts applies pack to every non-container Artifact in table,
// using the same static-work-list thread-pool shape as the Discovery
// Engine (spec.md §4.6), and collects Findings via a channel.
func scanArtifacts(table *store.Table, pack *rules.Pack, workers int, skipOnCorrupt bool, log *obslog.Logger) []report.Finding {
	snapshot := table.Snapshot()

	sem := semaphore.NewWeighted(int64(workers))
	results := make(chan []report.Finding, len(snapshot))

	var wg sync.WaitGroup
	for _, artifact := range snapshot {
		if classify.IsContainer(artifact.Tag) {
			continue
		}

		a := artifact
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sem.Acquire(context.Background(), 1)
			defer sem.Release(1)
			results <- scanOne(a, pack, skipOnCorrupt, log)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var findings []report.Finding
	for fs := range results {
		findings = append(findings, fs...)
	}
	return findings
}

func scanOne(a store.Artifact, pack *rules.Pack, skipOnCorrupt bool, log *obslog.Logger) []report.Finding {
	content, err := os.ReadFile(a.Path)
	if err != nil {
		if skipOnCorrupt {
			log.Warn("artifact unreadable, skipping", obslog.Fields{"path": a.Path, "error": err.Error()})
			return nil
		}
		log.Error("artifact unreadable", obslog.Fields{"path": a.Path, "error": err.Error()})
		return nil
	}

	matches := pack.Apply(content)
	if len(matches) == 0 {
		return nil
	}

	reportPath := a.Overlay
	if reportPath == "" {
		reportPath = a.Path
	}

	findings := make([]report.Finding, 0, len(matches))
	for _, m := range matches {
		confidence := m.Meta.Accuracy
		if confidence == 0 {
			confidence = report.DefaultConfidence
		}

		sample, loc, serr := sampler.Sample(a.Path, a.Tag, m.Offset, m.Length)
		if serr != nil {
			log.Warn("sample extraction failed", obslog.Fields{"path": a.Path, "error": serr.Error()})
			continue
		}

		findings = append(findings, report.Finding{
			Path:       reportPath,
			MD5:        a.MD5,
			Confidence: confidence,
			Location:   report.Location{Offset: loc.Offset, Line: loc.Line},
			Sample: report.Sample{
				Window: sample.Window,
				Before: sample.Before,
				Match:  sample.Match,
				After:  sample.After,
				Binary: sample.Binary,
			},
			Source: report.Source{
				Module:      m.Module,
				RuleID:      m.RuleID,
				RuleVersion: m.Meta.Version,
				Description: m.Meta.Description,
			},
		})
	}
	return findings
}
