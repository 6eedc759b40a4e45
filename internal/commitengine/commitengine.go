// Package commitengine turns a filesystem directory (or an archive) into
// a staged commit: a concurrent fan-out tree walk that stages every file
// as it's discovered, assembles the results into a mutable tree bottom-up,
// and seals the tree into a COMMIT object. The walk is a recursive
// one-goroutine-per-directory fan-out bounded by a semaphore, the same
// breadth-controlled-depth-first shape a parallel directory scan uses
// elsewhere in this codebase, adapted here to return a built subtree
// instead of appending to a shared result channel.
package commitengine

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ostrepo/ostrepo/internal/mtree"
	"github.com/ostrepo/ostrepo/internal/objectvariant"
	"github.com/ostrepo/ostrepo/internal/posix"
	"github.com/ostrepo/ostrepo/internal/progress"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
	"github.com/ostrepo/ostrepo/internal/xattrs"
)

// Stager is *repo.Repo's staging surface. This package takes the concrete
// type directly rather than a narrower interface since it also needs
// DevinoLookup and repo.StageFlags, and repo has no dependency back onto
// this package.
type Stager = *repo.Repo

// Options configures a directory-to-tree staging run.
type Options struct {
	Workers      int
	ShowProgress bool
	Excludes     []string
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// walkStats tracks concurrent progress the same way a parallel scan does:
// counters shared by every walker goroutine, guarded by mu.
type walkStats struct {
	filesStaged int64
	bytesStaged int64
	mu          sync.Mutex
}

func (s *walkStats) add(files, bytes int64) {
	s.mu.Lock()
	s.filesStaged += files
	s.bytesStaged += bytes
	s.mu.Unlock()
}

func (s *walkStats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("staged %d files (%d bytes)", s.filesStaged, s.bytesStaged)
}

// StageDirectoryToMtree walks root concurrently, staging every regular
// file, symlink, and device node it finds, and returns the resulting
// mutable tree rooted at root (not yet sealed).
func StageDirectoryToMtree(st Stager, root string, opts Options) (*mtree.Tree, error) {
	sem := types.NewSemaphore(opts.workers())
	stats := &walkStats{}
	bar := progress.New(opts.ShowProgress, -1)
	bar.Describe(stats)
	defer bar.Finish(stats)

	tree, err := walkDirectory(st, root, sem, opts, stats, bar)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func walkDirectory(st Stager, dir string, sem types.Semaphore, opts Options, stats *walkStats, bar *progress.Bar) (*mtree.Tree, error) {
	sem.Acquire()
	info, err := os.Lstat(dir)
	if err != nil {
		sem.Release()
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	attrs, err := captureAttrs(dir, info)
	if err != nil {
		sem.Release()
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	sem.Release()
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	tree := mtree.New(attrs)

	type subResult struct {
		name string
		sub  *mtree.Tree
		err  error
	}

	var subdirNames []string
	for _, e := range entries {
		if e.IsDir() {
			subdirNames = append(subdirNames, e.Name())
		}
	}
	sort.Strings(subdirNames)

	resultsCh := make(chan subResult, len(subdirNames))
	var wg sync.WaitGroup
	for _, name := range subdirNames {
		if shouldExclude(name, opts.Excludes) {
			continue
		}
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := walkDirectory(st, filepath.Join(dir, name), sem, opts, stats, bar)
			resultsCh <- subResult{name: name, sub: sub, err: err}
		}()
	}
	wg.Wait()
	close(resultsCh)

	var firstErr error
	for r := range resultsCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		tree.SetSubdir(r.name, r.sub)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	for _, e := range entries {
		if e.IsDir() || shouldExclude(e.Name(), opts.Excludes) {
			continue
		}
		if err := stageEntry(st, dir, e, tree, stats, bar); err != nil {
			return nil, err
		}
	}

	return tree, nil
}

func stageEntry(st Stager, dir string, e os.DirEntry, tree *mtree.Tree, stats *walkStats, bar *progress.Bar) error {
	fullPath := filepath.Join(dir, e.Name())
	info, err := e.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", fullPath, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(fullPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", fullPath, err)
		}
		fi, err := captureFileInfo(fullPath, info)
		if err != nil {
			return err
		}
		fi.LinkTo = target
		header := objectvariant.FileHeader{Kind: fi.Kind, Attrs: fi.Attrs, LinkTo: fi.LinkTo}
		csum, err := st.StageFile(header, nil, repo.StageFlags{}, nil)
		if err != nil {
			return fmt.Errorf("stage symlink %s: %w", fullPath, err)
		}
		tree.ReplaceFile(e.Name(), csum)

	case info.Mode().IsRegular():
		dev, ino, _, _, ok := posix.StatIdentity(info)
		var existing *types.Checksum
		if ok {
			if csum, hit := st.DevinoLookup(dev, ino); hit {
				existing = &csum
			}
		}
		if existing != nil {
			tree.ReplaceFile(e.Name(), *existing)
			stats.add(1, 0)
			bar.Describe(stats)
			return nil
		}

		f, err := os.Open(fullPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", fullPath, err)
		}
		fi, err := captureFileInfo(fullPath, info)
		if err != nil {
			_ = f.Close()
			return err
		}
		header := objectvariant.FileHeader{Kind: fi.Kind, Size: fi.Size, Attrs: fi.Attrs}
		csum, err := st.StageFile(header, f, repo.StageFlags{}, nil)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("stage file %s: %w", fullPath, err)
		}
		tree.ReplaceFile(e.Name(), csum)
		stats.add(1, fi.Size)
		bar.Describe(stats)

	default:
		// devices, FIFOs, sockets: captured as a header-only FILE object
		// with no content stream.
		fi, err := captureFileInfo(fullPath, info)
		if err != nil {
			return err
		}
		header := objectvariant.FileHeader{Kind: fi.Kind, Attrs: fi.Attrs}
		csum, err := st.StageFile(header, nil, repo.StageFlags{}, nil)
		if err != nil {
			return fmt.Errorf("stage special file %s: %w", fullPath, err)
		}
		tree.ReplaceFile(e.Name(), csum)
	}
	return nil
}

func captureAttrs(path string, info os.FileInfo) (types.Attrs, error) {
	_, _, _, rdev, _ := posix.StatIdentity(info)
	isSymlink := info.Mode()&os.ModeSymlink != 0
	xs, err := xattrs.Capture(path, isSymlink)
	if err != nil {
		return types.Attrs{}, fmt.Errorf("capture xattrs %s: %w", path, err)
	}
	mode := uint32(info.Mode().Perm())
	uid, gid, _ := posix.StatOwner(info)
	return types.Attrs{Mode: mode, UID: uid, GID: gid, Rdev: rdev, Xattr: xs}, nil
}

// captureFileInfo builds the scan-time metadata carrier for a non-directory
// entry: POSIX attributes plus the filesystem identity the devino cache and
// hardlink checkout path key on.
func captureFileInfo(path string, info os.FileInfo) (types.FileInfo, error) {
	attrs, err := captureAttrs(path, info)
	if err != nil {
		return types.FileInfo{}, err
	}
	dev, ino, nlink, _, _ := posix.StatIdentity(info)

	kind := types.FileKindDevice
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		kind = types.FileKindSymlink
	case info.Mode().IsRegular():
		kind = types.FileKindRegular
	}

	return types.FileInfo{
		Path:  path,
		Size:  info.Size(),
		Dev:   dev,
		Ino:   ino,
		Nlink: nlink,
		Kind:  kind,
		Attrs: attrs,
	}, nil
}

func shouldExclude(name string, patterns []string) bool {
	for _, p := range patterns {
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

// StageMtree seals a built tree into its DIR_TREE/DIR_META pair without
// creating a commit, for callers that only need the content checksums
// (e.g. comparing two trees).
func StageMtree(st Stager, tree *mtree.Tree) (contents, meta types.Checksum, err error) {
	return tree.Seal(st)
}

// StageCommitOptions carries the commit metadata a caller supplies.
type StageCommitOptions struct {
	Parent   types.Checksum // Zero if this is a root commit
	Subject  string
	Body     string
	Metadata map[string]string
	Related  []types.Checksum
}

// StageCommit seals tree and wraps the result in a COMMIT object pointing
// at Parent, returning the commit's checksum.
func StageCommit(st Stager, tree *mtree.Tree, opts StageCommitOptions) (types.Checksum, error) {
	contents, meta, err := tree.Seal(st)
	if err != nil {
		return types.Checksum{}, err
	}

	commit := objectvariant.Commit{
		Metadata:       opts.Metadata,
		Parent:         opts.Parent,
		RelatedObjects: opts.Related,
		Subject:        opts.Subject,
		Body:           opts.Body,
		TimestampUnix:  uint64(time.Now().Unix()),
		RootContents:   contents,
		RootMetadata:   meta,
	}
	return st.StageCommit(commit)
}

// ImportTar streams a tar archive directly into a tree without touching a
// real filesystem, the archive-mode counterpart to StageDirectoryToMtree:
// directory, regular-file and symlink members become staged entries placed
// at their archive paths. Every other member type, hardlinks included, is
// skipped without error.
func ImportTar(st Stager, r io.Reader, rootAttrs types.Attrs) (*mtree.Tree, error) {
	tree := mtree.New(rootAttrs)
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		attrs := types.Attrs{
			Mode: uint32(hdr.Mode) & 0o7777,
			UID:  uint32(hdr.Uid),
			GID:  uint32(hdr.Gid),
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			dir := tree
			if name != "." && name != "/" {
				for _, p := range strings.Split(strings.Trim(name, "/"), "/") {
					dir = dir.EnsureDir(p, attrs)
				}
			}
			dir.SetAttrs(attrs)

		case tar.TypeSymlink:
			parent := tree.EnsureParentDirs(name, types.Attrs{Mode: 0o755})
			header := objectvariant.FileHeader{Kind: types.FileKindSymlink, Attrs: attrs, LinkTo: hdr.Linkname}
			csum, err := st.StageFile(header, nil, repo.StageFlags{}, nil)
			if err != nil {
				return nil, fmt.Errorf("stage tar symlink %s: %w", name, err)
			}
			parent.ReplaceFile(filepath.Base(name), csum)

		case tar.TypeReg:
			parent := tree.EnsureParentDirs(name, types.Attrs{Mode: 0o755})
			header := objectvariant.FileHeader{Kind: types.FileKindRegular, Size: hdr.Size, Attrs: attrs}
			csum, err := st.StageFile(header, tr, repo.StageFlags{}, nil)
			if err != nil {
				return nil, fmt.Errorf("stage tar file %s: %w", name, err)
			}
			parent.ReplaceFile(filepath.Base(name), csum)

		default:
			// Skip archive members this store has no object kind for
			// (hardlinks, pax extended headers already consumed by the
			// tar reader, etc).
			continue
		}
	}
	return tree, nil
}
