package mtree

import (
	"testing"

	"github.com/ostrepo/ostrepo/internal/objectvariant"
	"github.com/ostrepo/ostrepo/internal/types"
)

// fakeStager stages DIR_META/DIR_TREE payloads into an in-memory map keyed
// by content checksum, mirroring the content-addressed identity rule the
// real repo enforces without touching a filesystem.
type fakeStager struct {
	objects map[types.Checksum][]byte
}

func newFakeStager() *fakeStager {
	return &fakeStager{objects: map[types.Checksum][]byte{}}
}

func (f *fakeStager) StageDirMeta(m objectvariant.DirMeta) (types.Checksum, error) {
	payload := objectvariant.EncodeDirMeta(m)
	csum := types.FromBytes(payload)
	f.objects[csum] = payload
	return csum, nil
}

func (f *fakeStager) StageDirTree(tr objectvariant.DirTree) (types.Checksum, error) {
	payload := objectvariant.EncodeDirTree(tr)
	csum := types.FromBytes(payload)
	f.objects[csum] = payload
	return csum, nil
}

func fileChecksum(name string) types.Checksum {
	return types.FromBytes([]byte(name))
}

func TestTreeEnsureParentDirsAndReplaceFile(t *testing.T) {
	tree := New(types.Attrs{Mode: 0o755})
	dir := tree.EnsureParentDirs("a/b/c.txt", types.Attrs{Mode: 0o755})
	dir.ReplaceFile("c.txt", fileChecksum("c.txt"))

	got := tree.Lookup("a/b")
	if got == nil {
		t.Fatal("Lookup(a/b) returned nil")
	}
	if _, ok := got.files["c.txt"]; !ok {
		t.Error("c.txt was not placed under a/b")
	}
}

func TestReplaceFilePromotesOverDirectory(t *testing.T) {
	tree := New(types.Attrs{})
	tree.EnsureDir("name", types.Attrs{})
	tree.ReplaceFile("name", fileChecksum("name"))

	if _, isDir := tree.subdirs["name"]; isDir {
		t.Error("ReplaceFile did not remove the colliding subdir entry")
	}
	if _, isFile := tree.files["name"]; !isFile {
		t.Error("ReplaceFile did not install the file entry")
	}
}

func TestEnsureDirPromotesOverFile(t *testing.T) {
	tree := New(types.Attrs{})
	tree.ReplaceFile("name", fileChecksum("name"))
	tree.EnsureDir("name", types.Attrs{})

	if _, isFile := tree.files["name"]; isFile {
		t.Error("EnsureDir did not remove the colliding file entry")
	}
	if _, isDir := tree.subdirs["name"]; !isDir {
		t.Error("EnsureDir did not install the subdir entry")
	}
}

func TestWalkVisitsRootFirstThenSortedChildren(t *testing.T) {
	tree := New(types.Attrs{})
	tree.EnsureDir("b", types.Attrs{})
	tree.EnsureDir("a", types.Attrs{})

	var order []string
	tree.Walk(func(path string, _ *Tree) {
		order = append(order, path)
	})

	want := []string{"", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("Walk() visited %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Walk() order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestSealIsDeterministic(t *testing.T) {
	build := func() *Tree {
		tree := New(types.Attrs{Mode: 0o755})
		tree.ReplaceFile("file.txt", fileChecksum("file.txt"))
		sub := tree.EnsureDir("sub", types.Attrs{Mode: 0o755})
		sub.ReplaceFile("nested.txt", fileChecksum("nested.txt"))
		return tree
	}

	st1 := newFakeStager()
	contents1, meta1, err := build().Seal(st1)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	st2 := newFakeStager()
	contents2, meta2, err := build().Seal(st2)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	if contents1 != contents2 {
		t.Errorf("Seal() contents checksum not deterministic: %v != %v", contents1, contents2)
	}
	if meta1 != meta2 {
		t.Errorf("Seal() meta checksum not deterministic: %v != %v", meta1, meta2)
	}
}

func TestSealReflectsFileChanges(t *testing.T) {
	tree1 := New(types.Attrs{})
	tree1.ReplaceFile("a.txt", fileChecksum("version-1"))
	contents1, _, err := tree1.Seal(newFakeStager())
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	tree2 := New(types.Attrs{})
	tree2.ReplaceFile("a.txt", fileChecksum("version-2"))
	contents2, _, err := tree2.Seal(newFakeStager())
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	if contents1 == contents2 {
		t.Error("Seal() produced the same contents checksum for two different file versions")
	}
}
