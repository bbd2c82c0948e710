// Package report defines the Finding data model the core emits and the
// Reporter Adapter that renders it. spec.md §1 treats the reporter as an
// external collaborator, but a SARIF and a pretty-tree renderer are
// supplied here so the binary produces output end-to-end.
package report

// Location is a byte offset plus an optional text-file line number.
type Location struct {
	Offset int64
	Line   *int
}

// Sample is the before/match/after window around a Finding, per
// spec.md §4.5.
type Sample struct {
	Window int
	Before string
	Match  string
	After  string
	Binary bool
}

// Source names the rule that produced a Finding.
type Source struct {
	Module      string
	RuleID      string
	RuleVersion string
	Description string
}

// Ignored annotates a suppressed Finding with its justification.
type Ignored struct {
	Reason string
}

// Finding is one credential hit, per spec.md §3.
type Finding struct {
	Path       string
	MD5        string
	Confidence int
	Location   Location
	Sample     Sample
	Source     Source
	Ignored    *Ignored
}

// DefaultConfidence is used when a rule's metadata carries no accuracy.
const DefaultConfidence = 50
