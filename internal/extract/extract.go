// Package extract implements the Archive Extractors component: one
// extractor per supported container format, all sharing the uniform
// extract(source, destination) contract spec.md §4.2 describes.
package extract

import (
	"fmt"
	"os"

	"github/sabouaram/stacs/internal/classify"
	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	// ErrFileAccess covers create-destination / read-source failures.
	ErrFileAccess liberr.CodeError = liberr.MinPkgExtract + iota
	// ErrInvalidFile covers magic-matched-but-malformed contents.
	ErrInvalidFile
	// ErrUnsupported covers a classified tag with no registered extractor.
	ErrUnsupported
)

func init() {
	liberr.RegisterIdFctMessage(ErrFileAccess, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFileAccess:
		return "extractor could not access source or destination"
	case ErrInvalidFile:
		return "extractor matched format but content is malformed"
	case ErrUnsupported:
		return "no extractor registered for this format tag"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// Func is the uniform extractor contract: on success destination holds
// the expanded members as a fresh, caller-owned directory.
type Func func(source, destination string) error

var registry = make(map[classify.Tag]Func)

// Register wires an extractor for a format tag. Called from package
// init() only; not safe for concurrent use after program start.
func Register(tag classify.Tag, fn Func) {
	registry[tag] = fn
}

// For returns the registered extractor for tag, if any.
func For(tag classify.Tag) (Func, bool) {
	fn, ok := registry[tag]
	return fn, ok
}

// Extract looks up and runs the extractor for tag. It first creates
// destination so a failing extractor never leaves a Discovery Engine
// walk to find a half-created tree without also seeing an error.
func Extract(tag classify.Tag, source, destination string) error {
	fn, ok := For(tag)
	if !ok {
		return ErrUnsupported.Error(fmt.Errorf("tag %q", tag))
	}

	if err := os.MkdirAll(destination, 0750); err != nil {
		return ErrFileAccess.Error(err)
	}

	return fn(source, destination)
}
