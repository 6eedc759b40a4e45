// Package layout maps (checksum, object type) to on-disk paths inside a
// repository, and names the repository's other top-level directories.
package layout

import (
	"path/filepath"

	"github.com/ostrepo/ostrepo/internal/types"
)

// LoosePath returns objects/<aa>/<bbbb...bb>.<ext> for checksum under type t.
func LoosePath(repoRoot string, csum types.Checksum, t types.ObjectType) string {
	hexStr := csum.String()
	return filepath.Join(repoRoot, "objects", hexStr[:2], hexStr[2:]+"."+t.Ext())
}

// LooseContentPath returns the sibling .filecontent path for a FILE object
// staged in archive mode.
func LooseContentPath(repoRoot string, csum types.Checksum) string {
	hexStr := csum.String()
	return filepath.Join(repoRoot, "objects", hexStr[:2], hexStr[2:]+".filecontent")
}

// ShardDir returns the objects/<aa> directory containing csum's loose object.
func ShardDir(repoRoot string, csum types.Checksum) string {
	return filepath.Join(repoRoot, "objects", csum.String()[:2])
}

// ObjectsDir returns the repository's objects/ directory.
func ObjectsDir(repoRoot string) string { return filepath.Join(repoRoot, "objects") }

// PackDir returns the repository's objects/pack/ directory.
func PackDir(repoRoot string) string { return filepath.Join(repoRoot, "objects", "pack") }

// SuperIndexPath returns the repository's objects/pack/index file.
func SuperIndexPath(repoRoot string) string { return filepath.Join(PackDir(repoRoot), "index") }

// TmpDir returns the repository's tmp/ staging directory.
func TmpDir(repoRoot string) string { return filepath.Join(repoRoot, "tmp") }

// TmpPendingDir returns tmp/pending/ — reserved, currently unused.
func TmpPendingDir(repoRoot string) string { return filepath.Join(TmpDir(repoRoot), "pending") }

// RefsDir returns the repository's refs/ directory.
func RefsDir(repoRoot string) string { return filepath.Join(repoRoot, "refs") }

// RefsHeadsDir returns refs/heads/.
func RefsHeadsDir(repoRoot string) string { return filepath.Join(RefsDir(repoRoot), "heads") }

// RefsRemotesDir returns refs/remotes/.
func RefsRemotesDir(repoRoot string) string { return filepath.Join(RefsDir(repoRoot), "remotes") }

// RefsSummaryPath returns refs/summary.
func RefsSummaryPath(repoRoot string) string { return filepath.Join(RefsDir(repoRoot), "summary") }

// RemoteCacheDir returns remote-cache/<remote>/.
func RemoteCacheDir(repoRoot, remote string) string {
	return filepath.Join(repoRoot, "remote-cache", remote)
}

// ConfigPath returns the repository's config file.
func ConfigPath(repoRoot string) string { return filepath.Join(repoRoot, "config") }

// PackIndexPath returns objects/pack/ost<meta|data>pack-<csum>.index.
func PackIndexPath(repoRoot string, csum types.Checksum, isMeta bool) string {
	return filepath.Join(PackDir(repoRoot), packBaseName(csum, isMeta)+".index")
}

// PackDataPath returns objects/pack/ost<meta|data>pack-<csum>.data.
func PackDataPath(repoRoot string, csum types.Checksum, isMeta bool) string {
	return filepath.Join(PackDir(repoRoot), packBaseName(csum, isMeta)+".data")
}

func packBaseName(csum types.Checksum, isMeta bool) string {
	prefix := "ostdatapack-"
	if isMeta {
		prefix = "ostmetapack-"
	}
	return prefix + csum.String()
}

// AllShardDirs returns the 256 possible two-hex-char shard directory names.
func AllShardDirs() []string {
	const hexDigits = "0123456789abcdef"
	dirs := make([]string, 0, 256)
	for _, a := range hexDigits {
		for _, b := range hexDigits {
			dirs = append(dirs, string(a)+string(b))
		}
	}
	return dirs
}
