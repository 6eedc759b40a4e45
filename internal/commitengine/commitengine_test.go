package commitengine

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ostrepo/ostrepo/internal/config"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
)

func defaultRootAttrs() types.Attrs {
	return types.Attrs{Mode: 0o755}
}

func writeTarFixture(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	tw := tar.NewWriter(buf)
	defer func() { _ = tw.Close() }()

	if err := tw.WriteHeader(&tar.Header{Name: "dir", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatalf("write tar dir header: %v", err)
	}
	content := []byte("hello from the archive")
	if err := tw.WriteHeader(&tar.Header{
		Name:     "dir/file.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
	}); err != nil {
		t.Fatalf("write tar file header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write tar file content: %v", err)
	}
}

func openBareRepo(t *testing.T) *repo.Repo {
	t.Helper()
	root := t.TempDir()
	r, err := repo.Init(root, config.ModeBare, "")
	if err != nil {
		t.Fatalf("repo.Init() failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	if err := r.PrepareTransaction(); err != nil {
		t.Fatalf("PrepareTransaction() failed: %v", err)
	}
	return r
}

func writeTestTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.Symlink("nested.txt", filepath.Join(root, "sub", "link.txt")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
}

func TestStageDirectoryToMtreeAndCommit(t *testing.T) {
	r := openBareRepo(t)

	srcDir := t.TempDir()
	writeTestTree(t, srcDir)

	tree, err := StageDirectoryToMtree(r, srcDir, Options{Workers: 4})
	if err != nil {
		t.Fatalf("StageDirectoryToMtree() failed: %v", err)
	}

	if tree.Lookup("sub") == nil {
		t.Fatal("staged tree is missing the sub directory")
	}

	commitCsum, err := StageCommit(r, tree, StageCommitOptions{Subject: "initial import"})
	if err != nil {
		t.Fatalf("StageCommit() failed: %v", err)
	}
	if commitCsum.IsZero() {
		t.Error("StageCommit() returned the zero checksum")
	}
}

func TestStageDirectoryToMtreeIsDeterministic(t *testing.T) {
	r := openBareRepo(t)

	srcDir := t.TempDir()
	writeTestTree(t, srcDir)

	tree1, err := StageDirectoryToMtree(r, srcDir, Options{Workers: 1})
	if err != nil {
		t.Fatalf("StageDirectoryToMtree() failed: %v", err)
	}
	contents1, meta1, err := StageMtree(r, tree1)
	if err != nil {
		t.Fatalf("StageMtree() failed: %v", err)
	}

	tree2, err := StageDirectoryToMtree(r, srcDir, Options{Workers: 8})
	if err != nil {
		t.Fatalf("StageDirectoryToMtree() failed: %v", err)
	}
	contents2, meta2, err := StageMtree(r, tree2)
	if err != nil {
		t.Fatalf("StageMtree() failed: %v", err)
	}

	if contents1 != contents2 {
		t.Errorf("contents checksum varied with worker count: %v != %v", contents1, contents2)
	}
	if meta1 != meta2 {
		t.Errorf("meta checksum varied with worker count: %v != %v", meta1, meta2)
	}
}

func TestStageDirectoryToMtreeExcludes(t *testing.T) {
	r := openBareRepo(t)

	srcDir := t.TempDir()
	writeTestTree(t, srcDir)
	if err := os.MkdirAll(filepath.Join(srcDir, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	tree, err := StageDirectoryToMtree(r, srcDir, Options{Workers: 2, Excludes: []string{".git"}})
	if err != nil {
		t.Fatalf("StageDirectoryToMtree() failed: %v", err)
	}
	if tree.Lookup(".git") != nil {
		t.Error("excluded .git directory was staged anyway")
	}
}

func TestImportTar(t *testing.T) {
	r := openBareRepo(t)

	var buf bytes.Buffer
	writeTarFixture(t, &buf)

	tree, err := ImportTar(r, &buf, defaultRootAttrs())
	if err != nil {
		t.Fatalf("ImportTar() failed: %v", err)
	}
	if tree.Lookup("dir") == nil {
		t.Fatal("ImportTar() did not create the tar's top-level directory")
	}
	if tree.Lookup("dir").Lookup("") == nil {
		t.Fatal("Lookup of an empty relative path should return the directory itself")
	}
}
