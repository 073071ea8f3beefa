// Package testkit holds helpers shared by package tests: seam swapping and
// disposable database containers behind build tags
package testkit

import (
	"sync"
	"testing"
)

var seams sync.Mutex

// Swap points target at replacement until the test ends
func Swap[T any](t testing.TB, target *T, replacement T) {
	t.Helper()
	orig := *target
	*target = replacement
	t.Cleanup(func() { *target = orig })
}

// Serial holds a process-wide lock for the rest of the test, for tests that
// Swap package-level seams other tests read
func Serial(t testing.TB) {
	t.Helper()
	seams.Lock()
	t.Cleanup(seams.Unlock)
}
