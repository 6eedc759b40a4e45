//go:build unix

package testfs

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ReapTree scans root and returns its state: files grouped by inode
// (hardlinks) and symlinks with their targets.
func ReapTree(root string) (*ReapResult, error) {
	result := &ReapResult{}
	inodeToFile := make(map[uint64]*ReapFile)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			result.Symlinks = append(result.Symlinks, ReapSymlink{Path: relPath, Target: target})
			return nil
		}

		if info.IsDir() {
			return nil
		}

		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("cannot get stat for %s", path)
		}

		inode := stat.Ino
		nlink := uint64(stat.Nlink) //nolint:unconvert // platform-dependent type

		if existing, ok := inodeToFile[inode]; ok {
			existing.Path = append(existing.Path, relPath)
		} else {
			inodeToFile[inode] = &ReapFile{
				Path:  []string{relPath},
				Inode: inode,
				Nlink: nlink,
				Size:  info.Size(),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rf := range inodeToFile {
		result.Files = append(result.Files, *rf)
	}
	return result, nil
}
