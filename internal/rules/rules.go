// Package rules implements the Rule Engine Driver: it loads a rule pack
// from its resolved JSON form, compiles it into a regex-based matcher,
// and applies it to Artifacts, producing Findings per spec.md §4.6.
//
// The matcher contract is intentionally opaque - spec.md §1 leaves rule
// language choice to the implementer. No rule-matching library exists
// anywhere in the retrieval pack, so this compiles each rule's pattern
// with the standard library's regexp package (see DESIGN.md).
package rules

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	ErrInvalidFormat liberr.CodeError = liberr.MinPkgRules + iota
	ErrFileAccess
)

func init() {
	liberr.RegisterIdFctMessage(ErrInvalidFormat, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrInvalidFormat:
		return "rule pack failed to parse or compile"
	case ErrFileAccess:
		return "rule pack file could not be read"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// Meta is a rule's optional descriptive metadata, per spec.md §3.
type Meta struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Accuracy    int     `json:"accuracy,omitempty"`
}

// sourceFile is one entry of a rule pack's "pack" array: a module name
// plus the path to a file holding one regex pattern per line.
type sourceFile struct {
	Module string `json:"module"`
	Path   string `json:"path"`
}

// rawPack is the on-disk JSON shape described by spec.md §6.
type rawPack struct {
	Include []string     `json:"include"`
	Pack    []sourceFile `json:"pack"`
}

const defaultModule = "rules"

// Rule is one opaque, compiled matcher entry.
type Rule struct {
	ID     string
	Module string
	Meta   Meta
	re     *regexp.Regexp
}

// Match is one opaque (offset, length, rule_id, meta) tuple, per
// spec.md §4.6's matcher contract.
type Match struct {
	Offset int64
	Length int64
	RuleID string
	Module string
	Meta   Meta
}

// Pack is the compiled, flattened rule pack the Rule Engine Driver runs.
type Pack struct {
	rules []Rule
}

// Load reads the rule-pack file at path, recursively resolving and
// flattening "include" entries relative to the file that declares them,
// then compiles every rule's pattern.
func Load(path string) (*Pack, error) {
	entries, err := loadResolved(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	p := &Pack{}
	for _, e := range entries {
		module := e.Module
		if module == "" {
			module = defaultModule
		}

		lines, lerr := readLines(e.Path)
		if lerr != nil {
			return nil, ErrFileAccess.Error(lerr)
		}

		for i, pattern := range lines {
			if pattern == "" {
				continue
			}
			re, cerr := regexp.Compile(pattern)
			if cerr != nil {
				return nil, ErrInvalidFormat.Error(fmt.Errorf("%s:%d: %w", e.Path, i+1, cerr))
			}
			id := ruleID(e.Path, i)
			p.rules = append(p.rules, Rule{ID: id, Module: module, Meta: Meta{Name: id}, re: re})
		}
	}

	return p, nil
}

// loadResolved recursively reads path's rawPack, flattening includes in
// declaration order and guarding against cycles via seen.
func loadResolved(path string, seen map[string]bool) ([]sourceFile, error) {
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

	var rp rawPack
	if err = json.Unmarshal(raw, &rp); err != nil {
		return nil, ErrInvalidFormat.Error(err)
	}

	dir := filepath.Dir(path)
	var out []sourceFile

	for _, inc := range rp.Include {
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

	for _, sf := range rp.Pack {
		if !filepath.IsAbs(sf.Path) {
			sf.Path = filepath.Join(dir, sf.Path)
		}
		out = append(out, sf)
	}

	return out, nil
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, trimCR(string(raw[start:i])))
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, trimCR(string(raw[start:])))
	}
	return lines, nil
}

func trimCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}
	return s
}

func ruleID(path string, line int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", path, line)))
	return hex.EncodeToString(sum[:])[:12]
}

// Apply runs every compiled rule against content and returns one Match
// per (rule, regex submatch) pair, per spec.md §4.6.
func (p *Pack) Apply(content []byte) []Match {
	var out []Match
	for _, r := range p.rules {
		locs := r.re.FindAllIndex(content, -1)
		for _, loc := range locs {
			out = append(out, Match{
				Offset: int64(loc[0]),
				Length: int64(loc[1] - loc[0]),
				RuleID: r.ID,
				Module: r.Module,
				Meta:   r.Meta,
			})
		}
	}
	return out
}

// Len returns the number of compiled rules.
func (p *Pack) Len() int { return len(p.rules) }
