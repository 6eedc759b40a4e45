//go:build unix

// Package xattrs captures and applies the sorted (name,value) extended
// attribute lists carried by FILE and DIR_META objects. Grounded on rclone-rclone/backend/local/xattr.go, which lists
// + gets + sets extended attributes on a POSIX file for exactly this
// purpose.
package xattrs

import (
	"fmt"
	"sort"

	"github.com/pkg/xattr"

	"github.com/ostrepo/ostrepo/internal/types"
)

// Capture reads every user-visible extended attribute on path (or, for a
// symlink, on the link itself) and returns them sorted by name — the
// canonical order the object checksum depends on.
func Capture(path string, isSymlink bool) ([]types.XattrEntry, error) {
	list, lerr := func() ([]string, error) {
		if isSymlink {
			return xattr.LList(path)
		}
		return xattr.List(path)
	}()
	if lerr != nil {
		// Filesystems without xattr support (tmpfs variants, some overlays,
		// some NFS configurations) fail List outright; treat that as "no
		// xattrs" rather than aborting the whole scan over it.
		return nil, nil
	}

	entries := make([]types.XattrEntry, 0, len(list))
	for _, name := range list {
		var (
			val []byte
			err error
		)
		if isSymlink {
			val, err = xattr.LGet(path, name)
		} else {
			val, err = xattr.Get(path, name)
		}
		if err != nil {
			return nil, fmt.Errorf("get xattr %s on %s: %w", name, path, err)
		}
		entries = append(entries, types.XattrEntry{Name: name, Value: val})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Apply sets every entry in xs on path, in list order (already sorted by
// the caller; order doesn't matter for application, only for hashing).
func Apply(path string, isSymlink bool, xs []types.XattrEntry) error {
	for _, x := range xs {
		var err error
		if isSymlink {
			err = xattr.LSet(path, x.Name, x.Value)
		} else {
			err = xattr.Set(path, x.Name, x.Value)
		}
		if err != nil {
			return fmt.Errorf("set xattr %s on %s: %w", x.Name, path, err)
		}
	}
	return nil
}
