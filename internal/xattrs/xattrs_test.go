//go:build unix

package xattrs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/xattr"
)

func TestCaptureApplyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := xattr.Set(path, "user.ostrepo_test", []byte("v1")); err != nil {
		t.Skipf("filesystem does not support user xattrs, skipping: %v", err)
	}

	entries, err := Capture(path, false)
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "user.ostrepo_test" || string(entries[0].Value) != "v1" {
		t.Fatalf("Capture() = %+v, want one user.ostrepo_test=v1 entry", entries)
	}

	dest := filepath.Join(t.TempDir(), "f2")
	if err := os.WriteFile(dest, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := Apply(dest, false, entries); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	got, err := Capture(dest, false)
	if err != nil {
		t.Fatalf("Capture(dest) failed: %v", err)
	}
	if len(got) != 1 || string(got[0].Value) != "v1" {
		t.Fatalf("Capture(dest) after Apply() = %+v, want one user.ostrepo_test=v1 entry", got)
	}
}

func TestCaptureReturnsSortedByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := xattr.Set(path, "user.zzz", []byte("z")); err != nil {
		t.Skipf("filesystem does not support user xattrs, skipping: %v", err)
	}
	if err := xattr.Set(path, "user.aaa", []byte("a")); err != nil {
		t.Fatalf("xattr.Set() failed: %v", err)
	}

	entries, err := Capture(path, false)
	if err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "user.aaa" || entries[1].Name != "user.zzz" {
		t.Fatalf("Capture() = %+v, want sorted [user.aaa user.zzz]", entries)
	}
}

func TestCaptureOnNoXattrsReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	entries, err := Capture(path, false)
	if err != nil {
		t.Fatalf("Capture() on a file with no xattrs should not error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Capture() = %+v, want no entries", entries)
	}
}
