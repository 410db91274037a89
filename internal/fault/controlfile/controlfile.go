// Package controlfile defines the on-disk protocol through which an external
// controller publishes the denylist to the interception layer.
//
// The protocol is a single well-known file holding one POSIX extended regular
// expression per line. File present and non-empty means the denylist is
// active; file absent or empty means inactive. The file is only ever replaced
// atomically (write to a temporary path in the same directory, then rename),
// so a concurrent reader observes either the old or the new content in full,
// never a partial write. There is no locking, no versioning, and no
// acknowledgment channel; atomic replace is the only consistency guarantee.
package controlfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/failpoint-io/dnsfault/internal/fault/common/log"
)

const (
	// Path is the fixed, well-known location of the control file. It is a
	// compile-time constant rather than configuration: the preload library
	// and the controller must agree on it without any shared config channel.
	Path = "/tmp/.dnsfault-denylist"

	// MaxLineBytes bounds a single pattern line. Longer lines are truncated
	// by the reader, best effort; the denylist is a test tool, not a
	// security boundary.
	MaxLineBytes = 512
)

// Writer publishes and removes the control file on behalf of a controller.
// It is never used on the decision path; the engine is a read-only consumer.
type Writer struct {
	path   string
	logger log.Logger
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Path overrides the control file location. Defaults to Path.
	// Non-default paths are for tests and tooling only.
	Path string
	// Logger receives warnings about patterns that will not compile.
	// Defaults to a noop logger.
	Logger log.Logger
}

// NewWriter constructs a Writer.
func NewWriter(opts WriterOptions) *Writer {
	if opts.Path == "" {
		opts.Path = Path
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Writer{path: opts.Path, logger: opts.Logger}
}

// Publish atomically replaces the control file with the given patterns, one
// per line, activating the denylist. Patterns that do not compile as POSIX
// extended regular expressions are logged as warnings but still written: the
// engine skips them during evaluation, and rejecting them here would make
// publish ordering observable to the controller.
//
// Publishing an empty pattern list writes an empty file, which the engine
// treats as inactive.
func (w *Writer) Publish(patterns []string) error {
	for i, p := range patterns {
		if _, err := regexp.CompilePOSIX(p); err != nil {
			w.logger.Warn(map[string]any{
				"index":   i,
				"pattern": p,
				"error":   err.Error(),
			}, "deny pattern will not compile and will be ignored by the engine")
		}
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp control file: %w", err)
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	for _, p := range patterns {
		if _, err := bw.WriteString(p + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write temp control file: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush temp control file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp control file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp control file: %w", err)
	}

	// The target process usually runs as a different user than the
	// controller, so the file must be world-readable.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp control file: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename control file into place: %w", err)
	}

	w.logger.Info(map[string]any{
		"path":     w.path,
		"patterns": len(patterns),
	}, "denylist published")
	return nil
}

// Deactivate removes the control file, deactivating the denylist.
// Removing an already-absent file is not an error.
func (w *Writer) Deactivate() error {
	err := os.Remove(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove control file: %w", err)
	}
	w.logger.Info(map[string]any{"path": w.path}, "denylist deactivated")
	return nil
}

// Path returns the control file path this writer publishes to.
func (w *Writer) Path() string {
	return w.path
}

// Status describes the current state of a control file.
type Status struct {
	Active   bool      // file present with non-zero size
	Patterns int       // non-blank lines, counting lines the engine would skip
	ModTime  time.Time // zero when inactive
}

// Probe inspects the control file at path and reports its status. Any read
// failure reports inactive, mirroring the engine's fail-open reading of the
// same file.
func Probe(path string) Status {
	st, err := os.Stat(path)
	if err != nil || st.Size() == 0 {
		return Status{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}
	}

	var n int
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			n++
		}
	}
	return Status{Active: true, Patterns: n, ModTime: st.ModTime()}
}
