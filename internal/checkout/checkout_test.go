//go:build unix

package checkout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ostrepo/ostrepo/internal/commitengine"
	"github.com/ostrepo/ostrepo/internal/config"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
)

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

func writeSourceTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "top.txt"), []byte("top-level content"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("nested content"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.Symlink("nested.txt", filepath.Join(root, "sub", "link.txt")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
}

func stageAndCommit(t *testing.T, r *repo.Repo, srcDir string) (commitCsum types.Checksum) {
	t.Helper()
	tree, err := commitengine.StageDirectoryToMtree(r, srcDir, commitengine.Options{Workers: 2})
	if err != nil {
		t.Fatalf("StageDirectoryToMtree() failed: %v", err)
	}
	csum, err := commitengine.StageCommit(r, tree, commitengine.StageCommitOptions{Subject: "checkout fixture"})
	if err != nil {
		t.Fatalf("StageCommit() failed: %v", err)
	}
	return csum
}

func TestCheckoutRoundTrip(t *testing.T) {
	r := openBareRepo(t)
	srcDir := t.TempDir()
	writeSourceTree(t, srcDir)
	commitCsum := stageAndCommit(t, r, srcDir)

	destDir := t.TempDir()
	if err := Checkout(r, commitCsum, destDir, Options{Workers: 2}); err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	top, err := os.ReadFile(filepath.Join(destDir, "top.txt"))
	if err != nil {
		t.Fatalf("read top.txt failed: %v", err)
	}
	if string(top) != "top-level content" {
		t.Errorf("top.txt content = %q, want %q", top, "top-level content")
	}

	nested, err := os.ReadFile(filepath.Join(destDir, "sub", "nested.txt"))
	if err != nil {
		t.Fatalf("read sub/nested.txt failed: %v", err)
	}
	if string(nested) != "nested content" {
		t.Errorf("sub/nested.txt content = %q, want %q", nested, "nested content")
	}

	target, err := os.Readlink(filepath.Join(destDir, "sub", "link.txt"))
	if err != nil {
		t.Fatalf("readlink sub/link.txt failed: %v", err)
	}
	if target != "nested.txt" {
		t.Errorf("sub/link.txt target = %q, want %q", target, "nested.txt")
	}
}

func TestCheckoutHardlinksLooseFiles(t *testing.T) {
	r := openBareRepo(t)
	srcDir := t.TempDir()
	writeSourceTree(t, srcDir)
	commitCsum := stageAndCommit(t, r, srcDir)

	destDir := t.TempDir()
	if err := Checkout(r, commitCsum, destDir, Options{Workers: 1}); err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	destInfo, err := os.Stat(filepath.Join(destDir, "top.txt"))
	if err != nil {
		t.Fatalf("stat checked-out file failed: %v", err)
	}

	loosePath, ok := r.LooseFilePath(mustFileChecksum(t, r, commitCsum, "top.txt"))
	if !ok {
		t.Fatal("expected top.txt's FILE object to exist loose")
	}
	looseInfo, err := os.Stat(loosePath)
	if err != nil {
		t.Fatalf("stat loose object failed: %v", err)
	}

	if !os.SameFile(destInfo, looseInfo) {
		t.Error("checked-out file should be hardlinked to the loose object, not copied")
	}
}

func mustFileChecksum(t *testing.T, r *repo.Repo, commitCsum types.Checksum, name string) types.Checksum {
	t.Helper()
	c, err := r.LoadCommit(commitCsum)
	if err != nil {
		t.Fatalf("LoadCommit() failed: %v", err)
	}
	tree, err := r.LoadDirTree(c.RootContents)
	if err != nil {
		t.Fatalf("LoadDirTree() failed: %v", err)
	}
	for _, f := range tree.Files {
		if f.Name == name {
			return f.Checksum
		}
	}
	t.Fatalf("file %q not found in root tree", name)
	return types.Checksum{}
}

func TestCheckoutOverwriteReplacesExisting(t *testing.T) {
	r := openBareRepo(t)
	srcDir := t.TempDir()
	writeSourceTree(t, srcDir)
	commitCsum := stageAndCommit(t, r, srcDir)

	destDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(destDir, "top.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file failed: %v", err)
	}

	if err := Checkout(r, commitCsum, destDir, Options{Workers: 1, Overwrite: true}); err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "top.txt"))
	if err != nil {
		t.Fatalf("read top.txt failed: %v", err)
	}
	if string(got) != "top-level content" {
		t.Errorf("top.txt content = %q, want it replaced with %q", got, "top-level content")
	}
}
