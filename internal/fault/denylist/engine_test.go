package denylist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failpoint-io/dnsfault/internal/fault/controlfile"
)

// newTestEngine returns an engine reading a control file inside a temp dir,
// plus the file's path for the test to populate.
func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".denylist")
	return NewAt(path), path
}

func writeControlFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDecide_FileAbsent_AllowsEverything(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.False(t, e.IsDenied("api.example.com"))
	assert.False(t, e.IsDenied("db.internal"))
}

func TestDecide_FileEmpty_AllowsEverything(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, "")

	assert.False(t, e.IsDenied("api.example.com"))
}

func TestDecide_AnchoredExactMatch(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, `^api\.example\.com$`+"\n")

	assert.True(t, e.IsDenied("api.example.com"))
	assert.False(t, e.IsDenied("api.example.com.evil.org"))
	assert.False(t, e.IsDenied("www.example.com"))
}

func TestDecide_AnchoredSuffix(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, `.*\.internal$`+"\n")

	assert.True(t, e.IsDenied("db.internal"))
	assert.False(t, e.IsDenied("db.internal.example.com"))
}

func TestDecide_UnanchoredSubstringSemantics(t *testing.T) {
	// Unanchored matching is deliberate: a bare pattern matches anywhere in
	// the hostname.
	e, path := newTestEngine(t)
	writeControlFile(t, path, "evil\n")

	assert.True(t, e.IsDenied("evil.com"))
	assert.True(t, e.IsDenied("notevilatall.com"))
	assert.False(t, e.IsDenied("good.com"))
}

func TestDecide_MalformedLineSkipped(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, "[unterminated\n"+`evil\.com`+"\n")

	assert.True(t, e.IsDenied("evil.com"))
	assert.False(t, e.IsDenied("good.com"))
}

func TestDecide_InvalidLinesDoNotChangeResult(t *testing.T) {
	e, path := newTestEngine(t)
	cleanEngine, cleanPath := newTestEngine(t)

	valid := []string{`^one\.example$`, `two`, `^three\.example\.org$`}
	invalid := []string{"[oops", "(dangling", "a{2,1}"}

	// Interleave invalid lines between every valid one.
	var b strings.Builder
	for i, v := range valid {
		b.WriteString(invalid[i%len(invalid)] + "\n")
		b.WriteString(v + "\n")
	}

	writeControlFile(t, cleanPath, strings.Join(valid, "\n")+"\n")
	writeControlFile(t, path, b.String())

	for _, host := range []string{
		"one.example", "one.example.com", "two.example", "stwo", "three.example.org", "allowed.net",
	} {
		assert.Equal(t, cleanEngine.IsDenied(host), e.IsDenied(host), "host %q", host)
	}
}

func TestDecide_FirstMatchWins(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, "example\n"+`^api\.example\.com$`+"\n")

	dec := e.Decide("api.example.com")
	require.True(t, dec.Denied)
	assert.Equal(t, "example", dec.Pattern, "scan must stop at the first matching line")
}

func TestDecide_BlankLinesSkipped(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, "\n\n"+`evil\.com`+"\n\n")

	assert.True(t, e.IsDenied("evil.com"))
	// A blank line must not act as a match-everything pattern.
	assert.False(t, e.IsDenied("good.com"))
}

func TestDecide_NoTrailingNewline(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, `evil\.com`) // unterminated final line

	assert.True(t, e.IsDenied("evil.com"))
}

func TestDecide_Idempotent(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, `^api\.example\.com$`+"\n")

	first := e.Decide("api.example.com")
	second := e.Decide("api.example.com")
	assert.Equal(t, first, second)

	first = e.Decide("other.example.com")
	second = e.Decide("other.example.com")
	assert.Equal(t, first, second)
}

func TestDecide_EmptyHostnameNeverDenied(t *testing.T) {
	e, path := newTestEngine(t)
	writeControlFile(t, path, ".*\n") // catch-all

	assert.False(t, e.IsDenied(""))
	assert.True(t, e.IsDenied("anything.example"))
}

func TestDecide_OversizedLineTruncatedBestEffort(t *testing.T) {
	e, path := newTestEngine(t)

	// A pattern longer than the line bound is truncated, not dropped: the
	// first MaxLineBytes still participate in matching.
	long := strings.Repeat("a", controlfile.MaxLineBytes+200)
	writeControlFile(t, path, long+"\n"+`evil\.com`+"\n")

	assert.True(t, e.IsDenied(strings.Repeat("a", controlfile.MaxLineBytes+300)+".com"))
	// The truncated line's tail must not bleed into the next line.
	assert.True(t, e.IsDenied("evil.com"))
	assert.False(t, e.IsDenied("good.com"))
}

func TestDecide_ChangesVisibleImmediately(t *testing.T) {
	e, path := newTestEngine(t)

	assert.False(t, e.IsDenied("api.example.com"))

	writeControlFile(t, path, `^api\.example\.com$`+"\n")
	assert.True(t, e.IsDenied("api.example.com"))

	require.NoError(t, os.Remove(path))
	assert.False(t, e.IsDenied("api.example.com"))
}

func TestDecide_AtomicReplaceRace(t *testing.T) {
	// Two complete file contents both deny the probe host, but any torn
	// read would yield a truncated pattern with unbalanced parentheses,
	// which fails to compile and allows the host. Rename-based replacement
	// must therefore never produce an allow while the flipping is underway.
	path := filepath.Join(t.TempDir(), ".denylist")
	e := NewAt(path)
	w := controlfile.NewWriter(controlfile.WriterOptions{Path: path})

	contentA := []string{`(^api\.example\.com$)`}
	contentB := []string{`(^api\.example\.com$)`, `(^spare\.example\.com$)`}
	require.NoError(t, w.Publish(contentA))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		flip := false
		for ctx.Err() == nil {
			content := contentA
			if flip {
				content = contentB
			}
			flip = !flip
			if err := w.Publish(content); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if !e.IsDenied("api.example.com") {
					t.Error("observed an allow during atomic replacement")
					return
				}
				if e.IsDenied("unrelated.example.net") {
					t.Error("observed a spurious deny during atomic replacement")
					return
				}
			}
		}()
	}

	wg.Wait()
}

func BenchmarkDecide_Inactive(b *testing.B) {
	e := NewAt(filepath.Join(b.TempDir(), ".denylist"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.IsDenied("api.example.com")
	}
}

func BenchmarkDecide_ActiveNoMatch(b *testing.B) {
	path := filepath.Join(b.TempDir(), ".denylist")
	patterns := []string{
		`^one\.example\.com$`, `^two\.example\.com$`, `^three\.example\.com$`,
		`^four\.example\.com$`, `.*\.internal$`,
	}
	if err := os.WriteFile(path, []byte(strings.Join(patterns, "\n")+"\n"), 0o644); err != nil {
		b.Fatal(err)
	}
	e := NewAt(path)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.IsDenied("api.example.com")
	}
}
