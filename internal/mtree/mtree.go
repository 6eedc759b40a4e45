// Package mtree builds a mutable in-memory directory tree that gets
// staged bottom-up into DIR_TREE/DIR_META objects once fully populated.
// The tree mirrors the attribute-per-node, name-ordered-children shape a
// directory scan naturally produces, the same way a discovered-files
// slice accumulates results from many walker goroutines before a single
// pass turns it into output.
package mtree

import (
	"sort"
	"strings"

	"github.com/ostrepo/ostrepo/internal/objectvariant"
	"github.com/ostrepo/ostrepo/internal/types"
)

// Stager is the subset of *repo.Repo the tree builder needs to seal a
// tree into staged objects, kept narrow so mtree doesn't import repo.
type Stager interface {
	StageDirMeta(m objectvariant.DirMeta) (types.Checksum, error)
	StageDirTree(t objectvariant.DirTree) (types.Checksum, error)
}

// fileNode is a leaf: a name pointing at an already-staged FILE checksum.
type fileNode struct {
	checksum types.Checksum
}

// Tree is one directory's mutable node: its own attributes plus a set of
// named children, each either a file checksum or a nested Tree.
type Tree struct {
	attrs   types.Attrs
	files   map[string]fileNode
	subdirs map[string]*Tree
}

// New creates an empty tree for a directory with the given attributes.
func New(attrs types.Attrs) *Tree {
	return &Tree{attrs: attrs, files: map[string]fileNode{}, subdirs: map[string]*Tree{}}
}

// SetAttrs replaces the directory's own attributes (mode/owner/xattrs).
func (t *Tree) SetAttrs(attrs types.Attrs) { t.attrs = attrs }

// ReplaceFile sets (or overwrites) a direct child file entry to csum,
// implementing the checkout/import union rule that the last write for a
// given name wins.
func (t *Tree) ReplaceFile(name string, csum types.Checksum) {
	t.files[name] = fileNode{checksum: csum}
	delete(t.subdirs, name)
}

// EnsureDir returns the named child subtree, creating it with attrs if it
// doesn't exist yet, and promoting a same-named file entry to a directory
// if one was present (last writer wins, same as ReplaceFile).
func (t *Tree) EnsureDir(name string, attrs types.Attrs) *Tree {
	if sub, ok := t.subdirs[name]; ok {
		return sub
	}
	delete(t.files, name)
	sub := New(attrs)
	t.subdirs[name] = sub
	return sub
}

// SetSubdir attaches an already-built subtree under name, replacing
// whatever file or directory entry previously held that name. Used when a
// subtree is constructed independently (e.g. by a concurrent walker) and
// only needs to be grafted onto its parent once complete.
func (t *Tree) SetSubdir(name string, sub *Tree) {
	delete(t.files, name)
	t.subdirs[name] = sub
}

// EnsureParentDirs walks (creating as needed) every directory component of
// a slash-separated relative path, returning the final parent directory a
// leaf entry named by the last component should be added to.
func (t *Tree) EnsureParentDirs(relPath string, defaultAttrs types.Attrs) *Tree {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return t
	}
	parts := strings.Split(relPath, "/")
	cur := t
	for _, p := range parts[:len(parts)-1] {
		cur = cur.EnsureDir(p, defaultAttrs)
	}
	return cur
}

// Lookup resolves a slash-separated relative path to its subtree, or nil
// if any component along the way is missing or is a file, not a directory.
func (t *Tree) Lookup(relPath string) *Tree {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return t
	}
	cur := t
	for _, p := range strings.Split(relPath, "/") {
		next, ok := cur.subdirs[p]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Walk visits every directory in the tree depth-first, root first.
func (t *Tree) Walk(fn func(path string, dir *Tree)) {
	t.walk("", fn)
}

func (t *Tree) walk(path string, fn func(string, *Tree)) {
	fn(path, t)
	names := make([]string, 0, len(t.subdirs))
	for name := range t.subdirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		childPath := name
		if path != "" {
			childPath = path + "/" + name
		}
		t.subdirs[name].walk(childPath, fn)
	}
}

// Seal recursively stages every subtree's DIR_TREE/DIR_META pair bottom-up
// and returns this directory's (contentsChecksum, metadataChecksum).
func (t *Tree) Seal(st Stager) (contents types.Checksum, meta types.Checksum, err error) {
	dirEntries := make([]types.DirEntry, 0, len(t.files))
	for name, f := range t.files {
		dirEntries = append(dirEntries, types.DirEntry{Name: name, Checksum: f.checksum})
	}

	subNames := make([]string, 0, len(t.subdirs))
	for name := range t.subdirs {
		subNames = append(subNames, name)
	}
	sort.Strings(subNames)

	subEntries := make([]types.SubdirEntry, 0, len(t.subdirs))
	for _, name := range subNames {
		sub := t.subdirs[name]
		subContents, subMeta, err := sub.Seal(st)
		if err != nil {
			return types.Checksum{}, types.Checksum{}, err
		}
		subEntries = append(subEntries, types.SubdirEntry{
			Name:             name,
			ContentsChecksum: subContents,
			MetadataChecksum: subMeta,
		})
	}

	tree := objectvariant.DirTree{
		Files:   types.SortedDirEntries(dirEntries),
		Subdirs: types.SortedSubdirEntries(subEntries),
	}
	contents, err = st.StageDirTree(tree)
	if err != nil {
		return types.Checksum{}, types.Checksum{}, err
	}

	meta, err = st.StageDirMeta(objectvariant.DirMeta{Attrs: t.attrs})
	if err != nil {
		return types.Checksum{}, types.Checksum{}, err
	}
	return contents, meta, nil
}
