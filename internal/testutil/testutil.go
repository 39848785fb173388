// Package testutil provides shared test helpers: log capture for the
// monitoring logger and tolerance assertions for spatial vectors.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/monitoring"
)

// LogRecorder collects lines written through monitoring.Logf.
type LogRecorder struct {
	mu    sync.Mutex
	lines []string
}

// CaptureLogs redirects monitoring.Logf into a recorder until the test ends.
func CaptureLogs(t testing.TB) *LogRecorder {
	t.Helper()
	rec := &LogRecorder{}
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.lines = append(rec.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return rec
}

// Quiet mutes monitoring.Logf until the test ends.
func Quiet(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// Lines returns a copy of the captured lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Count returns how many captured lines contain substr.
func (r *LogRecorder) Count(substr string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// AssertVecNear checks every component of got against want within tol.
func AssertVecNear(t testing.TB, want, got r3.Vec, tol float64, msgAndArgs ...interface{}) bool {
	t.Helper()
	if closeTo(want.X, got.X, tol) && closeTo(want.Y, got.Y, tol) && closeTo(want.Z, got.Z, tol) {
		return true
	}
	msg := fmt.Sprintf("vectors differ beyond %g: want %v, got %v", tol, want, got)
	return assert.Fail(t, msg, msgAndArgs...)
}

func closeTo(a, b, tol float64) bool {
	d := a - b
	return d <= tol && d >= -tol
}
