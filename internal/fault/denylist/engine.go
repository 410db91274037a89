// Package denylist implements the decision engine of the interception layer:
// given a hostname, decide whether resolution should be synthetically failed
// based on the patterns currently published in the control file.
//
// Every decision is a pure function of (hostname, current file contents).
// Nothing is cached between calls, deliberately: the controller may replace
// the file between any two calls, and staleness would undermine the tight
// scenario control the tool exists to provide. The cost when the denylist is
// inactive is a single stat.
//
// Matching is unanchored: a pattern matches the hostname if it matches any
// substring of it, so the pattern "evil" denies "notevilatall.com". Anchor
// with ^ and $ for exact matches. This is intentional — patterns are a
// flexible test-tool knob, not an access-control syntax.
package denylist

import (
	"bufio"
	"io"
	"os"
	"regexp"

	"github.com/failpoint-io/dnsfault/internal/fault/controlfile"
	"github.com/failpoint-io/dnsfault/internal/fault/domain"
)

// Engine evaluates hostnames against the control file. It holds no mutable
// state, so a single Engine is safe for arbitrary concurrent callers.
type Engine struct {
	path string
}

// New returns an Engine reading the well-known control file path.
func New() *Engine {
	return NewAt(controlfile.Path)
}

// NewAt returns an Engine reading an alternate control file path.
// Intended for tests and tooling; deployed interceptors use New.
func NewAt(path string) *Engine {
	return &Engine{path: path}
}

// IsDenied reports whether host matches any pattern in the active denylist.
func (e *Engine) IsDenied(host string) bool {
	return e.Decide(host).Denied
}

// Decide evaluates host against the denylist and reports the outcome,
// including the first pattern that matched.
//
// Failure policy is fail open throughout: a missing, empty, or unreadable
// control file means "inactive", and a malformed pattern line is skipped
// without aborting the scan. No failure on this path is ever surfaced to the
// caller or logged.
func (e *Engine) Decide(host string) domain.Decision {
	if host == "" {
		return domain.Allowed()
	}

	// Fast path: one metadata syscall when the denylist is inactive.
	st, err := os.Stat(e.path)
	if err != nil || st.Size() == 0 {
		return domain.Allowed()
	}

	f, err := os.Open(e.path)
	if err != nil {
		// Raced with deactivation, or unreadable. Inactive either way.
		return domain.Allowed()
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, controlfile.MaxLineBytes)
	for {
		line, err := readBoundedLine(r)
		if line != "" {
			if re, cerr := regexp.CompilePOSIX(line); cerr == nil {
				if re.MatchString(host) {
					return domain.DeniedBy(line)
				}
			}
			// Malformed pattern: skip, keep scanning.
		}
		if err != nil {
			return domain.Allowed()
		}
	}
}

// readBoundedLine returns the next line without its trailing newline,
// truncated to the reader's buffer size. The remainder of an overlong line is
// discarded so the next call starts at the next line. Returns io.EOF (with
// the final, possibly unterminated line) when the input is exhausted.
func readBoundedLine(r *bufio.Reader) (string, error) {
	chunk, isPrefix, err := r.ReadLine()
	line := string(chunk)
	for isPrefix && err == nil {
		_, isPrefix, err = r.ReadLine()
	}
	if err != nil && err != io.EOF {
		// Treat a read error mid-file like end of input: evaluate what we
		// have, deny nothing further.
		return line, io.EOF
	}
	return line, err
}
