//go:build unix

package testfs

import "testing"

// Harness sows a declarative FileTree into a t.TempDir() and lets a test
// assert what it finds there afterward — used both for the "commit this
// source tree" side (sow, stage, commit) and the "checkout reconstructed
// it correctly" side (checkout into a fresh Harness root, then Assert).
type Harness struct {
	t    *testing.T
	root string
}

// New creates a Harness rooted at a fresh temp directory and sows given
// onto it.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{t: t, root: root}

	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return h
}

// Empty creates a Harness rooted at a fresh, empty temp directory — used
// as a checkout destination before asserting its contents.
func Empty(t *testing.T) *Harness {
	t.Helper()
	return &Harness{t: t, root: t.TempDir()}
}

// Root returns the harness's temp directory root path.
func (h *Harness) Root() string { return h.root }

// Assert verifies the harness's directory matches expected.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	actual, err := ReapTree(h.root)
	if err != nil {
		h.t.Fatalf("reap %s: %v", h.root, err)
	}
	AssertTree(h.t, expected, actual)
}
