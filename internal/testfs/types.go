// Package testfs provides declarative filesystem-tree test infrastructure:
// sow a tree from a spec onto disk, stage/commit/checkout it through a
// repository, reap the result back, and assert it matches what was
// expected — the round trip every commitengine/checkout test needs.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Files: []File{
//	        {Path: []string{"a.txt", "backup/a.txt"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	tree, _ := commitengine.StageDirectoryToMtree(repo, h.Root(), commitengine.Options{})
//	...
//	h.Assert(given) // or a different expected tree after checkout
package testfs

// FileTree describes a filesystem state (used for both setup and verification).
type FileTree struct {
	Files    []File    `json:"files,omitempty"`
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file, possibly with hardlinks.
//
// In setup context: Path[0] is created with content from Chunks; Path[1:]
// are hardlinked to Path[0]. In verification context: all paths must
// exist and share the same inode.
type File struct {
	Path   []string `json:"path"`
	Chunks []Chunk  `json:"chunks,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	Pattern rune   `json:"pattern"`
	Size    string `json:"size"` // IEC units: "1KiB", "1MiB", "1GiB"
}

// Symlink defines a symbolic link, relative to the tree root.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// ReapResult is the filesystem state captured from a real directory,
// grouped the way FileTree expects for comparison.
type ReapResult struct {
	Files    []ReapFile    `json:"files,omitempty"`
	Symlinks []ReapSymlink `json:"symlinks,omitempty"`
}

// ReapFile groups every path sharing one inode (hardlinks).
type ReapFile struct {
	Path  []string `json:"path"`
	Inode uint64   `json:"inode"`
	Nlink uint64   `json:"nlink"`
	Size  int64    `json:"size"`
}

// ReapSymlink is one captured symlink and its target.
type ReapSymlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}
