//go:build unix

// Package checkout reconstructs a committed tree onto a real filesystem:
// a concurrent fan-out walk over the DIR_TREE graph (the same
// semaphore-bounded shape internal/commitengine uses to walk a real
// directory inward), hardlinking loose FILE objects into place with a
// copy fallback on EXDEV, and a devino shortcut that skips a file already
// correctly in place.
package checkout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ostrepo/ostrepo/internal/metrics"
	"github.com/ostrepo/ostrepo/internal/objectvariant"
	"github.com/ostrepo/ostrepo/internal/posix"
	"github.com/ostrepo/ostrepo/internal/progress"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
	"github.com/ostrepo/ostrepo/internal/xattrs"
)

// Options configures a checkout run.
type Options struct {
	Workers      int
	ShowProgress bool
	// Overwrite allows checkout to replace an existing file/symlink/device
	// at a destination path that's already occupied. Without it, an
	// occupied path that isn't already the right content is an error —
	// the union rule from commit staging only applies at tree-build time,
	// not silently at checkout time.
	Overwrite bool
	// Metrics is nil-safe; when set, every link/copy/skip is also counted
	// there alongside the in-process progress bar stats.
	Metrics *metrics.Recorder
	// AsUser checks out for an unprivileged caller: ownership recorded in
	// the object's attrs is left unrestored (the file keeps the checking-
	// out process's own uid/gid) rather than failing on EPERM, and recorded
	// xattrs are not applied.
	AsUser bool
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

type stats struct {
	mu      sync.Mutex
	linked  int64
	copied  int64
	skipped int64
}

func (s *stats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("linked %d, copied %d, skipped %d", s.linked, s.copied, s.skipped)
}

func (s *stats) incLinked()  { s.mu.Lock(); s.linked++; s.mu.Unlock() }
func (s *stats) incCopied()  { s.mu.Lock(); s.copied++; s.mu.Unlock() }
func (s *stats) incSkipped() { s.mu.Lock(); s.skipped++; s.mu.Unlock() }

// Checkout reconstructs commit's root tree onto destDir, creating it if
// necessary.
func Checkout(r *repo.Repo, commit types.Checksum, destDir string, opts Options) error {
	c, err := r.LoadCommit(commit)
	if err != nil {
		return fmt.Errorf("load commit %s: %w", commit, err)
	}
	return CheckoutTree(r, c.RootContents, c.RootMetadata, destDir, opts)
}

// CheckoutTree reconstructs an arbitrary (contents,meta) DIR_TREE/DIR_META
// pair onto destDir — the same primitive Checkout uses for the root, also
// usable to materialize a subtree in isolation.
func CheckoutTree(r *repo.Repo, contents, meta types.Checksum, destDir string, opts Options) error {
	sem := types.NewSemaphore(opts.workers())
	st := &stats{}
	bar := progress.New(opts.ShowProgress, -1)
	bar.Describe(st)
	defer bar.Finish(st)

	if err := checkoutDir(r, contents, meta, destDir, sem, st, bar, opts); err != nil {
		return err
	}
	return nil
}

func checkoutDir(r *repo.Repo, contentsCsum, metaCsum types.Checksum, destDir string, sem types.Semaphore, st *stats, bar *progress.Bar, opts Options) error {
	sem.Acquire()
	dirMeta, err := r.LoadDirMeta(metaCsum)
	if err != nil {
		sem.Release()
		return fmt.Errorf("load dir meta for %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		sem.Release()
		return fmt.Errorf("mkdir %s: %w", destDir, err)
	}
	tree, err := r.LoadDirTree(contentsCsum)
	sem.Release()
	if err != nil {
		return fmt.Errorf("load dir tree for %s: %w", destDir, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(tree.Subdirs))
	for _, sub := range tree.Subdirs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			childDir := filepath.Join(destDir, sub.Name)
			if err := checkoutDir(r, sub.ContentsChecksum, sub.MetadataChecksum, childDir, sem, st, bar, opts); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}

	for _, f := range tree.Files {
		if err := checkoutFile(r, filepath.Join(destDir, f.Name), f.Checksum, st, bar, opts); err != nil {
			return err
		}
	}

	return applyDirAttrs(destDir, dirMeta.Attrs, opts.AsUser)
}

func checkoutFile(r *repo.Repo, destPath string, csum types.Checksum, st *stats, bar *progress.Bar, opts Options) error {
	header, err := r.LoadFileHeader(csum)
	if err != nil {
		return fmt.Errorf("load file header for %s: %w", destPath, err)
	}

	if skip, err := tryDevinoSkip(r, destPath, csum); err != nil {
		return err
	} else if skip {
		st.incSkipped()
		opts.Metrics.CheckoutSkipped()
		bar.Describe(st)
		return nil
	}

	if opts.Overwrite {
		if err := os.RemoveAll(destPath); err != nil {
			return fmt.Errorf("remove existing %s: %w", destPath, err)
		}
	} else if _, err := os.Lstat(destPath); err == nil {
		return fmt.Errorf("checkout %s: %w", destPath, os.ErrExist)
	}

	switch header.Kind {
	case types.FileKindSymlink:
		if err := os.Symlink(header.LinkTo, destPath); err != nil {
			return fmt.Errorf("symlink %s: %w", destPath, err)
		}
	case types.FileKindDevice:
		if err := posix.Mknod(destPath, header.Attrs.Mode, header.Attrs.Rdev); err != nil {
			return fmt.Errorf("mknod %s: %w", destPath, err)
		}
	default:
		if err := materializeRegularFile(r, destPath, csum, header, st, opts); err != nil {
			return err
		}
	}

	bar.Describe(st)
	return applyFileAttrs(destPath, header, opts.AsUser)
}

// tryDevinoSkip reports whether destPath already has the identity of a
// checked-out copy of csum, per the persistent devino cache — when true,
// checkout leaves the file untouched instead of relinking it.
func tryDevinoSkip(r *repo.Repo, destPath string, csum types.Checksum) (bool, error) {
	info, err := os.Lstat(destPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("lstat %s: %w", destPath, err)
	}
	dev, ino, _, _, ok := posix.StatIdentity(info)
	if !ok {
		return false, nil
	}
	if cached, hit := r.CachedDevinoLookup(dev, ino); hit && cached == csum {
		return true, nil
	}
	return false, nil
}

func materializeRegularFile(r *repo.Repo, destPath string, csum types.Checksum, header objectvariant.FileHeader, st *stats, opts Options) error {
	if src, ok := r.LooseFilePath(csum); ok && !r.IsArchive() {
		if err := createHardlink(src, destPath); err == nil {
			st.incLinked()
			opts.Metrics.CheckoutLinked()
			return nil
		} else if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("link %s: %w", destPath, err)
		}
	}

	content, err := r.ReadFileContent(csum, header)
	if err != nil {
		return fmt.Errorf("read content for %s: %w", destPath, err)
	}
	if err := os.WriteFile(destPath, content, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	st.incCopied()
	opts.Metrics.CheckoutCopied()
	return nil
}

const orphanedTmpMaxAge = 1 * time.Minute

// createHardlink links source to target atomically via a temp name then
// rename, so a reader never observes a partially linked destination. A
// stale ".checkout.tmp" left by a crashed prior run is cleaned up and
// retried only when it's old enough and has another hardlink keeping its
// data alive.
func createHardlink(source, target string) error {
	tmp := target + ".checkout.tmp"

	err := os.Link(source, tmp)
	if errors.Is(err, os.ErrExist) {
		if cleanupErr := tryCleanupOrphanedTmp(tmp); cleanupErr != nil {
			return fmt.Errorf("tmp file exists and cannot be cleaned: %w", cleanupErr)
		}
		err = os.Link(source, tmp)
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func tryCleanupOrphanedTmp(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("lstat: %w", err)
	}
	if info.ModTime().After(time.Now().Add(-orphanedTmpMaxAge)) {
		return fmt.Errorf("tmp file too recent to be an orphan")
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file (mode %v)", info.Mode())
	}
	_, _, nlink, _, ok := posix.StatIdentity(info)
	if !ok || nlink <= 1 {
		return fmt.Errorf("nlink=%d, may be the only copy of its data", nlink)
	}
	return os.Remove(path)
}

func applyFileAttrs(path string, header objectvariant.FileHeader, asUser bool) error {
	isSymlink := header.Kind == types.FileKindSymlink
	if !isSymlink {
		if err := posix.Chmod(path, header.Attrs.Mode); err != nil {
			return err
		}
	}
	if !asUser {
		if err := posix.Lchown(path, int(header.Attrs.UID), int(header.Attrs.GID)); err != nil {
			return err
		}
	}
	if !asUser && len(header.Attrs.Xattr) > 0 {
		if err := xattrs.Apply(path, isSymlink, header.Attrs.Xattr); err != nil {
			return fmt.Errorf("apply xattrs %s: %w", path, err)
		}
	}
	return nil
}

func applyDirAttrs(path string, attrs types.Attrs, asUser bool) error {
	if err := posix.Chmod(path, attrs.Mode); err != nil {
		return err
	}
	if !asUser {
		if err := posix.Lchown(path, int(attrs.UID), int(attrs.GID)); err != nil {
			return err
		}
	}
	if !asUser && len(attrs.Xattr) > 0 {
		if err := xattrs.Apply(path, false, attrs.Xattr); err != nil {
			return fmt.Errorf("apply xattrs %s: %w", path, err)
		}
	}
	return nil
}
