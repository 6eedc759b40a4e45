// Package remotecache implements the per-remote lookaside cache of pack
// files: a resync against a freshly downloaded super-index prunes packs no
// longer referenced, reports which packs are already on disk and which
// still need fetching, and a self-cleaning atomic swap installs the new
// super-index — the same read-old/write-new/rename-into-place idiom
// internal/objectcache uses for its devino database, generalized from one
// database handle to a directory of pack files reconciled against a
// wanted set.
package remotecache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ostrepo/ostrepo/internal/layout"
	"github.com/ostrepo/ostrepo/internal/pack"
	"github.com/ostrepo/ostrepo/internal/types"
)

// ResyncResult reports, after a resync, which of the wanted packs were
// already present in the cache and which still need to be fetched.
type ResyncResult struct {
	CachedMeta   []types.Checksum
	CachedData   []types.Checksum
	UncachedMeta []types.Checksum
	UncachedData []types.Checksum
}

// Resync reconciles repoRoot's remote-cache/<remote>/ directory against a
// freshly downloaded super-index: pack files not referenced by the new
// super-index are deleted, the survivors are reported as cached, the rest
// as uncached, and the super-index itself is installed atomically.
func Resync(repoRoot, remote string, superIndexData []byte) (ResyncResult, error) {
	si, err := pack.DecodeSuperIndex(superIndexData)
	if err != nil {
		return ResyncResult{}, fmt.Errorf("resync %s: %w", remote, err)
	}

	dir := layout.RemoteCacheDir(repoRoot, remote)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ResyncResult{}, fmt.Errorf("create remote cache dir: %w", err)
	}

	wantedMeta := checksumSet(si.MetaPacks)
	wantedData := checksumSet(si.DataPacks)

	cachedMeta, err := pruneAndCollect(dir, wantedMeta, true)
	if err != nil {
		return ResyncResult{}, err
	}
	cachedData, err := pruneAndCollect(dir, wantedData, false)
	if err != nil {
		return ResyncResult{}, err
	}

	result := ResyncResult{
		CachedMeta:   cachedMeta,
		CachedData:   cachedData,
		UncachedMeta: subtract(si.MetaPacks, cachedMeta),
		UncachedData: subtract(si.DataPacks, cachedData),
	}

	if err := writeIndexAtomic(dir, superIndexData); err != nil {
		return ResyncResult{}, err
	}
	return result, nil
}

func checksumSet(refs []pack.SuperIndexPackRef) map[types.Checksum]bool {
	set := make(map[types.Checksum]bool, len(refs))
	for _, r := range refs {
		set[r.Checksum] = true
	}
	return set
}

// pruneAndCollect walks dir for pack index/data pairs of the given kind,
// deletes any whose checksum is not in wanted, and returns the checksums
// of the ones that survive (wanted, with at least one of the two files
// present).
func pruneAndCollect(dir string, wanted map[types.Checksum]bool, isMeta bool) ([]types.Checksum, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list remote cache dir: %w", err)
	}

	seen := map[types.Checksum]bool{}
	for _, e := range entries {
		csum, ok := packChecksumFromName(e.Name(), isMeta)
		if !ok {
			continue
		}
		if !wanted[csum] {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove stale cache file %s: %w", e.Name(), err)
			}
			continue
		}
		seen[csum] = true
	}

	cached := make([]types.Checksum, 0, len(seen))
	for csum := range seen {
		cached = append(cached, csum)
	}
	return cached, nil
}

func packChecksumFromName(name string, isMeta bool) (types.Checksum, bool) {
	prefix := "ostdatapack-"
	if isMeta {
		prefix = "ostmetapack-"
	}
	for _, suffix := range []string{".index", ".data"} {
		if len(name) > len(prefix)+len(suffix) && name[:len(prefix)] == prefix && name[len(name)-len(suffix):] == suffix {
			hexPart := name[len(prefix) : len(name)-len(suffix)]
			if csum, err := types.ParseChecksum(hexPart); err == nil {
				return csum, true
			}
		}
	}
	return types.Checksum{}, false
}

func subtract(refs []pack.SuperIndexPackRef, have []types.Checksum) []types.Checksum {
	haveSet := make(map[types.Checksum]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	var missing []types.Checksum
	for _, r := range refs {
		if !haveSet[r.Checksum] {
			missing = append(missing, r.Checksum)
		}
	}
	return missing
}

// indexPath returns remote-cache/<remote>/index.
func indexPath(dir string) string { return filepath.Join(dir, "index") }

func writeIndexAtomic(dir string, data []byte) error {
	tmp := indexPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write remote cache index tmp: %w", err)
	}
	if err := os.Rename(tmp, indexPath(dir)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename remote cache index into place: %w", err)
	}
	return nil
}

// LoadIndex reads and decodes the remote's currently cached super-index.
func LoadIndex(repoRoot, remote string) (*pack.SuperIndex, error) {
	data, err := os.ReadFile(indexPath(layout.RemoteCacheDir(repoRoot, remote)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.NotFoundError{What: "remote-cache index", Name: remote}
		}
		return nil, fmt.Errorf("read remote cache index: %w", err)
	}
	return pack.DecodeSuperIndex(data)
}

// GetCachedPackData returns the on-disk path of a cached pack's data file,
// if present.
func GetCachedPackData(repoRoot, remote string, csum types.Checksum, isMeta bool) (string, bool) {
	dir := layout.RemoteCacheDir(repoRoot, remote)
	path := filepath.Join(dir, packBaseName(csum, isMeta)+".data")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// TakeCachedPackData installs a downloaded pack's (index, data) pair into
// the cache by renaming sourceData (and, if non-empty, sourceIndex) into
// place. Passing an empty sourceData deletes any existing cache entry for
// csum instead — the null-path-deletes convention a fetcher uses to evict
// a pack it could not validate.
func TakeCachedPackData(repoRoot, remote string, csum types.Checksum, isMeta bool, sourceIndex, sourceData string) error {
	dir := layout.RemoteCacheDir(repoRoot, remote)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create remote cache dir: %w", err)
	}

	dataDest := filepath.Join(dir, packBaseName(csum, isMeta)+".data")
	indexDest := filepath.Join(dir, packBaseName(csum, isMeta)+".index")

	if sourceData == "" {
		if err := os.Remove(dataDest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete cached pack data: %w", err)
		}
		if err := os.Remove(indexDest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete cached pack index: %w", err)
		}
		return nil
	}

	if sourceIndex != "" {
		if err := os.Rename(sourceIndex, indexDest); err != nil {
			return fmt.Errorf("install cached pack index: %w", err)
		}
	}
	if err := os.Rename(sourceData, dataDest); err != nil {
		return fmt.Errorf("install cached pack data: %w", err)
	}
	return nil
}

func packBaseName(csum types.Checksum, isMeta bool) string {
	prefix := "ostdatapack-"
	if isMeta {
		prefix = "ostmetapack-"
	}
	return prefix + csum.String()
}
