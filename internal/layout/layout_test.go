package layout

import (
	"strings"
	"testing"

	"github.com/ostrepo/ostrepo/internal/types"
)

func testChecksum() types.Checksum {
	return types.FromBytes([]byte("layout test fixture"))
}

func TestLoosePathSharding(t *testing.T) {
	csum := testChecksum()
	got := LoosePath("/repo", csum, types.ObjectFile)

	hexStr := csum.String()
	want := "/repo/objects/" + hexStr[:2] + "/" + hexStr[2:] + "." + types.ObjectFile.Ext()
	if got != want {
		t.Errorf("LoosePath() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, ShardDir("/repo", csum)) {
		t.Errorf("LoosePath() %q should live under ShardDir() %q", got, ShardDir("/repo", csum))
	}
}

func TestLooseContentPathSharesShardWithLoosePath(t *testing.T) {
	csum := testChecksum()
	content := LooseContentPath("/repo", csum)
	loose := LoosePath("/repo", csum, types.ObjectFile)

	if ShardDir("/repo", csum) == "" || !strings.HasPrefix(content, ShardDir("/repo", csum)) {
		t.Errorf("LooseContentPath() %q should live under the same shard as %q", content, loose)
	}
	if !strings.HasSuffix(content, ".filecontent") {
		t.Errorf("LooseContentPath() = %q, want a .filecontent suffix", content)
	}
}

func TestPackPathsDistinguishMetaAndData(t *testing.T) {
	csum := testChecksum()

	metaIndex := PackIndexPath("/repo", csum, true)
	dataIndex := PackIndexPath("/repo", csum, false)
	if metaIndex == dataIndex {
		t.Error("meta and data pack index paths should differ")
	}
	if !strings.Contains(metaIndex, "ostmetapack-") {
		t.Errorf("PackIndexPath(meta) = %q, want an ostmetapack- prefix", metaIndex)
	}
	if !strings.Contains(dataIndex, "ostdatapack-") {
		t.Errorf("PackIndexPath(data) = %q, want an ostdatapack- prefix", dataIndex)
	}

	dataPath := PackDataPath("/repo", csum, false)
	if !strings.HasSuffix(dataPath, ".data") {
		t.Errorf("PackDataPath() = %q, want a .data suffix", dataPath)
	}
	if !strings.HasPrefix(dataPath, PackDir("/repo")) {
		t.Errorf("PackDataPath() %q should live under PackDir() %q", dataPath, PackDir("/repo"))
	}
}

func TestAllShardDirsCoversFullByteRange(t *testing.T) {
	dirs := AllShardDirs()
	if len(dirs) != 256 {
		t.Fatalf("AllShardDirs() returned %d entries, want 256", len(dirs))
	}
	seen := make(map[string]bool, 256)
	for _, d := range dirs {
		if len(d) != 2 {
			t.Errorf("shard dir %q is not 2 hex characters", d)
		}
		seen[d] = true
	}
	if len(seen) != 256 {
		t.Errorf("AllShardDirs() contains duplicates: %d unique of 256", len(seen))
	}
}

func TestTmpPendingDirNestsUnderTmpDir(t *testing.T) {
	if !strings.HasPrefix(TmpPendingDir("/repo"), TmpDir("/repo")) {
		t.Errorf("TmpPendingDir() %q should nest under TmpDir() %q", TmpPendingDir("/repo"), TmpDir("/repo"))
	}
}
