// Package refs implements the mutable name -> checksum namespace on top of
// a repository: refs/heads/<name>, refs/remotes/<remote>/<name>, `^N`
// parent-walk suffixes, and a refs/summary listing. Every write goes
// through a temp-file-then-rename so a reader never observes a half
// written ref, the same atomic-replace shape used for content objects and
// the repo config.
package refs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ostrepo/ostrepo/internal/layout"
	"github.com/ostrepo/ostrepo/internal/objectvariant"
	"github.com/ostrepo/ostrepo/internal/types"
)

// CommitResolver is the repo surface ref resolution needs: reading a
// commit's parent pointer to walk `^N` suffixes.
type CommitResolver interface {
	LoadCommit(csum types.Checksum) (objectvariant.Commit, error)
}

func isValidRefName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' || r == '^' || r == '~' || r < 0x20 {
			return false
		}
	}
	return !types.LooksLikeChecksum(name)
}

// HeadPath returns the on-disk path of a local branch ref.
func HeadPath(repoRoot, name string) string {
	return filepath.Join(layout.RefsHeadsDir(repoRoot), name)
}

// RemotePath returns the on-disk path of a remote-tracking ref.
func RemotePath(repoRoot, remote, name string) string {
	return filepath.Join(layout.RefsRemotesDir(repoRoot), remote, name)
}

// SetHead writes (or overwrites) refs/heads/<name> to point at csum.
func SetHead(repoRoot, name string, csum types.Checksum) error {
	if !isValidRefName(name) {
		return &types.InvalidRefError{Name: name, Reason: "empty, hidden, path-like, or checksum-shaped ref names are reserved"}
	}
	return writeRefAtomic(HeadPath(repoRoot, name), csum)
}

// SetRemote writes (or overwrites) refs/remotes/<remote>/<name>.
func SetRemote(repoRoot, remote, name string, csum types.Checksum) error {
	if !isValidRefName(remote) || !isValidRefName(name) {
		return &types.InvalidRefError{Name: remote + "/" + name, Reason: "invalid remote or branch name"}
	}
	return writeRefAtomic(RemotePath(repoRoot, remote, name), csum)
}

func writeRefAtomic(path string, csum types.Checksum) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(csum.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write ref tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename ref into place: %w", err)
	}
	return nil
}

// DeleteHead removes a local branch ref. Missing is not an error.
func DeleteHead(repoRoot, name string) error {
	return deleteRef(HeadPath(repoRoot, name))
}

// DeleteRemote removes a remote-tracking ref. Missing is not an error.
func DeleteRemote(repoRoot, remote, name string) error {
	return deleteRef(RemotePath(repoRoot, remote, name))
}

func deleteRef(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete ref: %w", err)
	}
	return nil
}

func readRefFile(path string) (types.Checksum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Checksum{}, &types.NotFoundError{What: "ref", Name: filepath.Base(path)}
		}
		return types.Checksum{}, fmt.Errorf("read ref %s: %w", path, err)
	}
	return types.ParseChecksum(strings.TrimSpace(string(data)))
}

// ListHeads returns every local branch name, sorted.
func ListHeads(repoRoot string) ([]string, error) {
	return listRefNames(layout.RefsHeadsDir(repoRoot))
}

// ListRemoteBranches returns every branch name tracked under remote, sorted.
func ListRemoteBranches(repoRoot, remote string) ([]string, error) {
	return listRefNames(filepath.Join(layout.RefsRemotesDir(repoRoot), remote))
}

func listRefNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list refs %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && !strings.HasSuffix(e.Name(), ".tmp") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve looks up name, which may be:
//   - a full 64-hex-char checksum, used directly
//   - "refs/heads/<branch>" or a bare local branch name
//   - "refs/remotes/<remote>/<branch>" or "<remote>/<branch>"
//   - any of the above with a trailing "^" (or "^N") walking that many
//     commit parents back
func Resolve(repoRoot string, resolver CommitResolver, name string) (types.Checksum, error) {
	base, generations, err := splitParentSuffix(name)
	if err != nil {
		return types.Checksum{}, err
	}

	csum, err := resolveBase(repoRoot, base)
	if err != nil {
		return types.Checksum{}, err
	}

	for i := 0; i < generations; i++ {
		commit, err := resolver.LoadCommit(csum)
		if err != nil {
			return types.Checksum{}, fmt.Errorf("walk %s^%d: %w", name, i+1, err)
		}
		if commit.Parent.IsZero() {
			return types.Checksum{}, &types.InvalidRefError{Name: name, Reason: "^ walk exceeds the commit's ancestry"}
		}
		csum = commit.Parent
	}
	return csum, nil
}

func splitParentSuffix(name string) (base string, generations int, err error) {
	idx := strings.IndexByte(name, '^')
	if idx < 0 {
		return name, 0, nil
	}
	base = name[:idx]
	suffix := name[idx+1:]
	if suffix == "" {
		return base, 1, nil
	}
	n, convErr := strconv.Atoi(suffix)
	if convErr != nil || n < 0 {
		return "", 0, &types.InvalidRefError{Name: name, Reason: "malformed ^N suffix"}
	}
	return base, n, nil
}

func resolveBase(repoRoot, base string) (types.Checksum, error) {
	if types.LooksLikeChecksum(base) {
		return types.ParseChecksum(base)
	}

	if rest, ok := strings.CutPrefix(base, "refs/heads/"); ok {
		return readRefFile(HeadPath(repoRoot, rest))
	}
	if rest, ok := strings.CutPrefix(base, "refs/remotes/"); ok {
		remote, branch, found := strings.Cut(rest, "/")
		if !found {
			return types.Checksum{}, &types.InvalidRefError{Name: base, Reason: "remote ref missing branch component"}
		}
		return readRefFile(RemotePath(repoRoot, remote, branch))
	}

	if csum, err := readRefFile(HeadPath(repoRoot, base)); err == nil {
		return csum, nil
	}
	if remote, branch, found := strings.Cut(base, "/"); found {
		if csum, err := readRefFile(RemotePath(repoRoot, remote, branch)); err == nil {
			return csum, nil
		}
	}
	return types.Checksum{}, &types.InvalidRefError{Name: base, Reason: "no matching local or remote-tracking ref"}
}

// WriteSummary regenerates refs/summary: one "<name> <checksum>" line per
// local branch, sorted by name, atomically replacing any previous summary.
func WriteSummary(repoRoot string) error {
	heads, err := ListHeads(repoRoot)
	if err != nil {
		return err
	}

	tmp := layout.RefsSummaryPath(repoRoot) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create summary tmp: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, name := range heads {
		csum, err := readRefFile(HeadPath(repoRoot, name))
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", name, csum); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, layout.RefsSummaryPath(repoRoot)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename summary into place: %w", err)
	}
	return nil
}
