// Package suppress implements the Suppressor: it loads an ignore list
// from its resolved JSON form and folds it over a Finding slice,
// annotating first-match suppressions, per spec.md §4.7.
package suppress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	liberr "github/sabouaram/stacs/internal/ers"
	"github/sabouaram/stacs/internal/report"
)

const (
	ErrInvalidFormat liberr.CodeError = liberr.MinPkgSuppress + iota
	ErrFileAccess
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFormat, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFormat:
		return "ignore list failed to parse or validate"
	case ErrFileAccess:
		return "ignore list file could not be read"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

const defaultModule = "rules"

// Entry is one validated IgnoreEntry, per spec.md §3.
type Entry struct {
	Path       string
	Pattern    string
	MD5        string
	Module     string
	References []string
	Offset     *int64
	Reason     string

	compiled *regexp.Regexp
}

// rawEntry mirrors the on-disk JSON shape before validation.
type rawEntry struct {
	Path       string   `json:"path,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	MD5        string   `json:"md5,omitempty"`
	Module     string   `json:"module,omitempty"`
	References []string `json:"references,omitempty"`
	Offset     *int64   `json:"offset,omitempty"`
	Reason     string   `json:"reason"`
}

type rawList struct {
	Include []string   `json:"include"`
	Ignore  []rawEntry `json:"ignore"`
}

// List is an ordered, validated IgnoreList.
type List struct {
	entries []Entry
}

// Load reads the ignore-list file at path, recursively resolving
// "include" entries relative to their declaring file, flattening them
// in declaration order, validating every entry per spec.md §3, and
// pre-compiling pattern-shape entries.
func Load(path string) (*List, error) {
	raws, err := loadResolved(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	l := &List{}
	for _, re := range raws {
		e, verr := validate(re)
		if verr != nil {
			return nil, verr
		}
		l.entries = append(l.entries, e)
	}
	return l, nil
}

func loadResolved(path string, seen map[string]bool) ([]rawEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ErrFileAccess.Error(err)
	}
	if seen[abs] {
		return nil, nil
	}
	seen[abs] = true

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrFileAccess.Error(err)
	}

	var rl rawList
	if err = json.Unmarshal(raw, &rl); err != nil {
		return nil, ErrInvalidFormat.Error(err)
	}

	dir := filepath.Dir(path)
	var out []rawEntry

	for _, inc := range rl.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		nested, nerr := loadResolved(incPath, seen)
		if nerr != nil {
			return nil, nerr
		}
		out = append(out, nested...)
	}

	out = append(out, rl.Ignore...)
	return out, nil
}

// validate enforces spec.md §3's IgnoreEntry invariants and, for a
// pattern-shaped entry, compiles the regex.
func validate(re rawEntry) (Entry, error) {
	hasPath := re.Path != ""
	hasPattern := re.Pattern != ""
	hasMD5 := re.MD5 != ""

	if hasPath && hasPattern {
		return Entry{}, ErrInvalidFormat.Error(fmt.Errorf("%s: path and pattern are mutually exclusive", re.Reason))
	}
	if !hasPath && !hasPattern && !hasMD5 {
		return Entry{}, ErrInvalidFormat.Error(fmt.Errorf("%s: at least one of path/pattern/md5 must be set", re.Reason))
	}
	if re.Offset != nil && len(re.References) > 0 {
		return Entry{}, ErrInvalidFormat.Error(fmt.Errorf("%s: offset and references are mutually exclusive", re.Reason))
	}
	if (re.Offset != nil || len(re.References) > 0) && re.Module == "" {
		return Entry{}, ErrInvalidFormat.Error(fmt.Errorf("%s: module must be set when offset or references is set", re.Reason))
	}

	module := re.Module
	if module == "" {
		module = defaultModule
	}

	e := Entry{
		Path:       re.Path,
		Pattern:    re.Pattern,
		MD5:        re.MD5,
		Module:     module,
		References: re.References,
		Offset:     re.Offset,
		Reason:     re.Reason,
	}

	if hasPattern {
		compiled, cerr := regexp.Compile(re.Pattern)
		if cerr != nil {
			return Entry{}, ErrInvalidFormat.Error(fmt.Errorf("%s: %w", re.Reason, cerr))
		}
		e.compiled = compiled
	}

	return e, nil
}

// Apply folds l over findings in place, walking l in declared order for
// each Finding and stopping at the first matching entry. The returned
// slice has the same length and order as findings; only the Ignored
// field of matched entries changes, per spec.md §8 invariant 5.
func (l *List) Apply(findings []report.Finding) []report.Finding {
	out := make([]report.Finding, len(findings))
	copy(out, findings)

	for i := range out {
		for _, e := range l.entries {
			if e.shapeMatches(out[i]) && e.constraintsAlign(out[i]) {
				out[i].Ignored = &report.Ignored{Reason: e.Reason}
				break
			}
		}
	}
	return out
}

// shapeMatches implements spec.md §9's fixed path -> pattern -> hash
// precedence: an entry that (by validation) could only ever set one of
// the three is evaluated in that order regardless.
func (e Entry) shapeMatches(f report.Finding) bool {
	if e.Path != "" {
		return e.Path == f.Path
	}
	if e.Pattern != "" {
		return e.compiled != nil && e.compiled.MatchString(f.Path)
	}
	if e.MD5 != "" {
		return e.MD5 == f.MD5
	}
	return false
}

func (e Entry) constraintsAlign(f report.Finding) bool {
	if e.Module != "" && e.Module != f.Source.Module {
		return false
	}
	if len(e.References) > 0 {
		found := false
		for _, r := range e.References {
			if r == f.Source.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if e.Offset != nil && *e.Offset != f.Location.Offset {
		return false
	}
	return true
}

// Len returns the number of validated entries.
func (l *List) Len() int { return len(l.entries) }
