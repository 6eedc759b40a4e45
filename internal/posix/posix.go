//go:build unix

// Package posix wraps the low-level filesystem primitives that only exist
// at the syscall layer: device/inode identity, ownership, mode bits, and
// device-node creation.
package posix

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ostrepo/ostrepo/internal/types"
)

// StatIdentity extracts device/inode/nlink/rdev identity from a Stat_t, the
// fields the devino cache and FILE device-node attrs
// need.
func StatIdentity(info os.FileInfo) (dev, ino uint64, nlink uint32, rdev uint64, ok bool) {
	st, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), uint32(st.Nlink), uint64(st.Rdev), true
}

// StatOwner extracts uid/gid from a Stat_t.
func StatOwner(info os.FileInfo) (uid, gid uint32, ok bool) {
	st, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

// Mknod creates a device node. Only root can create block/char devices on
// most kernels, so bare-mode checkout of a device node generally requires
// root.
func Mknod(path string, mode uint32, rdev uint64) error {
	if err := unix.Mknod(path, mode, int(rdev)); err != nil {
		return fmt.Errorf("mknod %s: %w", path, err)
	}
	return nil
}

// Lchown sets ownership on a path without following a trailing symlink.
func Lchown(path string, uid, gid int) error {
	if err := unix.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("lchown %s: %w", path, err)
	}
	return nil
}

// Chmod applies a mode bit pattern to path.
func Chmod(path string, mode uint32) error {
	if err := unix.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// StripSetid masks out setuid/setgid/sticky bits, used when materializing
// archive-mode content blobs so a malicious tree can never stage a setuid
// payload.
func StripSetid(mode uint32) uint32 {
	return mode &^ (unix.S_ISUID | unix.S_ISGID | unix.S_ISVTX)
}
