// Package sampler produces the before/match/after byte windows and
// line-number annotation around a rule match, per spec.md §4.5.
package sampler

import (
	"encoding/base64"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github/sabouaram/stacs/internal/classify"
	liberr "github/sabouaram/stacs/internal/ers"
)

const (
	ErrFileAccess liberr.CodeError = liberr.MinPkgSampler + iota
)

func init() {
	liberr.RegisterIdFctMessage(ErrFileAccess, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrFileAccess:
		return "sampler could not read the target file"
	}
	return liberr.NewCodeError(code.Uint16()).GetMessage()
}

// WindowSize is the fixed before/after radius, per spec.md §6.
const WindowSize = 20

// textProbeChunks bounds the UTF-8 decodability probe to spec.md §4.5's
// "up to 10 chunks" heuristic.
const textProbeChunks = 10

const probeChunkSize = 65536

// Sample is the rendered window around one rule match.
type Sample struct {
	Window int
	Before string
	Match  string
	After  string
	Binary bool
}

// Location pairs a byte offset with an optional line number, set only
// for text files.
type Location struct {
	Offset int64
	Line   *int
}

// Sample reads path and returns the before/match/after window around
// [offset, offset+length), plus the Location annotation.
func Sample(path string, tag classify.Tag, offset, length int64) (Sample, Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sample{}, Location{}, ErrFileAccess.Error(err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Sample{}, Location{}, ErrFileAccess.Error(err)
	}
	size := info.Size()

	binary := isBinaryFamily(tag)
	if !binary {
		var probeErr error
		binary, probeErr = !isValidUTF8Prefix(f, size)
		if probeErr != nil {
			return Sample{}, Location{}, ErrFileAccess.Error(probeErr)
		}
	}

	beforeStart := offset - WindowSize
	if beforeStart < 0 {
		beforeStart = 0
	}
	afterEnd := offset + length + WindowSize
	if afterEnd > size {
		afterEnd = size
	}
	matchEnd := offset + length
	if matchEnd > size {
		matchEnd = size
	}

	before, err := readRange(f, beforeStart, offset)
	if err != nil {
		return Sample{}, Location{}, ErrFileAccess.Error(err)
	}
	match, err := readRange(f, offset, matchEnd)
	if err != nil {
		return Sample{}, Location{}, ErrFileAccess.Error(err)
	}
	after, err := readRange(f, matchEnd, afterEnd)
	if err != nil {
		return Sample{}, Location{}, ErrFileAccess.Error(err)
	}

	s := Sample{
		Window: WindowSize,
		Before: encode(before, binary),
		Match:  encode(match, binary),
		After:  encode(after, binary),
		Binary: binary,
	}

	loc := Location{Offset: offset}
	if !binary {
		if line, lerr := lineNumber(f, offset); lerr == nil {
			loc.Line = &line
		}
	}

	return s, loc, nil
}

func encode(b []byte, binary bool) string {
	if binary {
		return base64.StdEncoding.EncodeToString(b)
	}
	return string(b)
}

func readRange(f *os.File, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func isBinaryFamily(tag classify.Tag) bool {
	s := string(tag)
	for _, family := range []string{"application/", "image/", "audio/", "video/"} {
		if strings.HasPrefix(s, family) {
			return true
		}
	}
	return false
}

// isValidUTF8Prefix reads up to textProbeChunks chunks from the start of
// f and reports whether the bytes seen so far decode as valid UTF-8.
func isValidUTF8Prefix(f *os.File, size int64) (bool, error) {
	limit := int64(textProbeChunks) * probeChunkSize
	if size < limit {
		limit = size
	}

	buf := make([]byte, limit)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return false, err
	}
	return utf8.Valid(buf), nil
}

// lineNumber re-reads f from the start, counting '\n' bytes up to
// offset, per spec.md §4.5's text-only line annotation.
func lineNumber(f *os.File, offset int64) (int, error) {
	const chunk = 65536
	buf := make([]byte, chunk)
	var pos int64
	line := 1

	for pos < offset {
		want := chunk
		if remaining := offset - pos; remaining < int64(want) {
			want = int(remaining)
		}
		n, err := f.ReadAt(buf[:want], pos)
		if n > 0 {
			for _, b := range buf[:n] {
				if b == '\n' {
					line++
				}
			}
			pos += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
	}

	return line, nil
}
