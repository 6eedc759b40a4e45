//go:build unix

package posix

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestStatIdentityOnRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}

	dev, ino, nlink, _, ok := StatIdentity(info)
	if !ok {
		t.Fatal("StatIdentity() should succeed for a regular os.FileInfo on unix")
	}
	if ino == 0 {
		t.Error("StatIdentity() returned a zero inode for a real file")
	}
	if nlink == 0 {
		t.Error("StatIdentity() returned a zero nlink for a real file")
	}
	_ = dev
}

func TestStatOwnerMatchesCurrentProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}

	uid, gid, ok := StatOwner(info)
	if !ok {
		t.Fatal("StatOwner() should succeed for a regular os.FileInfo on unix")
	}
	if int(uid) != os.Getuid() {
		t.Errorf("StatOwner() uid = %d, want %d", uid, os.Getuid())
	}
	if int(gid) != os.Getgid() {
		t.Errorf("StatOwner() gid = %d, want %d", gid, os.Getgid())
	}
}

func TestChmodAppliesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := Chmod(path, 0o600); err != nil {
		t.Fatalf("Chmod() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode after Chmod() = %o, want %o", info.Mode().Perm(), 0o600)
	}
}

func TestLchownToOwnUIDSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := Lchown(path, os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("Lchown() to the calling process's own uid/gid should not require privilege: %v", err)
	}
}

func TestStripSetidMasksAllThreeBits(t *testing.T) {
	full := uint32(0o644) | unix.S_ISUID | unix.S_ISGID | unix.S_ISVTX
	got := StripSetid(full)
	if got != 0o644 {
		t.Errorf("StripSetid(%o) = %o, want %o", full, got, 0o644)
	}
}

func TestStripSetidLeavesPlainModeUntouched(t *testing.T) {
	if got := StripSetid(0o755); got != 0o755 {
		t.Errorf("StripSetid(0o755) = %o, want 0o755 unchanged", got)
	}
}
