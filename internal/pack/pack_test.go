package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ostrepo/ostrepo/internal/types"
)

func checksumOf(b byte) types.Checksum {
	var c types.Checksum
	c[0] = b
	return c
}

func TestIndexEncodeDecodeRoundTrip(t *testing.T) {
	entries := []IndexEntry{
		{Checksum: checksumOf(3), Offset: 100, Length: 10},
		{Checksum: checksumOf(1), Offset: 0, Length: 50},
		{Checksum: checksumOf(2), Offset: 50, Length: 50},
	}

	encoded := EncodeIndex(entries)
	idx, err := DecodeIndex(encoded)
	if err != nil {
		t.Fatalf("DecodeIndex() failed: %v", err)
	}
	if len(idx.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(idx.Entries))
	}
	for i := 1; i < len(idx.Entries); i++ {
		if idx.Entries[i-1].Checksum.String() >= idx.Entries[i].Checksum.String() {
			t.Errorf("entries not sorted at index %d", i)
		}
	}

	entry, ok := idx.Find(checksumOf(2))
	if !ok {
		t.Fatal("Find() did not locate checksumOf(2)")
	}
	if entry.Offset != 50 || entry.Length != 50 {
		t.Errorf("Find() = %+v, want offset=50 length=50", entry)
	}

	if _, ok := idx.Find(checksumOf(9)); ok {
		t.Error("Find() located a checksum that was never indexed")
	}
}

func TestDecodeIndexRejectsBadMagic(t *testing.T) {
	if _, err := DecodeIndex([]byte("not an index")); err == nil {
		t.Error("DecodeIndex() accepted data with no valid magic header")
	}
}

func TestSuperIndexEncodeDecodeRoundTrip(t *testing.T) {
	si := SuperIndex{
		MetaPacks: []SuperIndexPackRef{{Checksum: checksumOf(1)}},
		DataPacks: []SuperIndexPackRef{{Checksum: checksumOf(2)}, {Checksum: checksumOf(3)}},
	}
	got, err := DecodeSuperIndex(EncodeSuperIndex(si))
	if err != nil {
		t.Fatalf("DecodeSuperIndex() failed: %v", err)
	}
	if len(got.MetaPacks) != 1 || len(got.DataPacks) != 2 {
		t.Fatalf("got %+v, want 1 meta pack and 2 data packs", got)
	}
	if got.MetaPacks[0].Checksum != checksumOf(1) {
		t.Errorf("meta pack checksum mismatch: %v", got.MetaPacks[0].Checksum)
	}
}

func TestWritePackFromEntriesAndReadEntry(t *testing.T) {
	dir := t.TempDir()
	entries := map[types.Checksum][]byte{
		types.FromBytes([]byte("alpha")): []byte("alpha"),
		types.FromBytes([]byte("beta")):  []byte("beta"),
	}

	dataPath, indexPath, err := WritePackFromEntries(dir, entries)
	if err != nil {
		t.Fatalf("WritePackFromEntries() failed: %v", err)
	}

	rawIndex, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	idx, err := DecodeIndex(rawIndex)
	if err != nil {
		t.Fatalf("DecodeIndex() failed: %v", err)
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("read data: %v", err)
	}

	for csum, want := range entries {
		entry, ok := idx.Find(csum)
		if !ok {
			t.Fatalf("Find() missed checksum for %q", want)
		}
		got, err := ReadEntry(data, entry.Offset, true, csum)
		if err != nil {
			t.Fatalf("ReadEntry() failed: %v", err)
		}
		if string(got) != string(want) {
			t.Errorf("ReadEntry() = %q, want %q", got, want)
		}
	}
}

func TestReadEntryDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	entries := map[types.Checksum][]byte{
		types.FromBytes([]byte("payload")): []byte("payload"),
	}
	dataPath, indexPath, err := WritePackFromEntries(dir, entries)
	if err != nil {
		t.Fatalf("WritePackFromEntries() failed: %v", err)
	}
	rawIndex, _ := os.ReadFile(indexPath)
	idx, _ := DecodeIndex(rawIndex)
	data, _ := os.ReadFile(dataPath)

	entry := idx.Entries[0]
	if _, err := ReadEntry(data, entry.Offset, true, checksumOf(0xff)); err == nil {
		t.Error("ReadEntry() accepted a payload that didn't match the requested checksum")
	}
}

func TestStoreAddPackFileAndFindInPacks(t *testing.T) {
	repoRoot := t.TempDir()
	scratchDir := t.TempDir()

	entries := map[types.Checksum][]byte{
		types.FromBytes([]byte("one")): []byte("one"),
		types.FromBytes([]byte("two")): []byte("two"),
	}
	dataPath, indexPath, err := WritePackFromEntries(scratchDir, entries)
	if err != nil {
		t.Fatalf("WritePackFromEntries() failed: %v", err)
	}

	packCsum := types.FromBytes([]byte("pack-identity"))
	store := NewStore(repoRoot)
	defer store.Close()

	if err := store.AddPackFile(indexPath, dataPath, packCsum, false); err != nil {
		t.Fatalf("AddPackFile() failed: %v", err)
	}
	if err := store.RegenerateSuperIndex(); err != nil {
		t.Fatalf("RegenerateSuperIndex() failed: %v", err)
	}

	_, data, err := store.ListPackIndexes()
	if err != nil {
		t.Fatalf("ListPackIndexes() failed: %v", err)
	}
	if len(data) != 1 || data[0] != packCsum {
		t.Fatalf("ListPackIndexes() data = %v, want [%v]", data, packCsum)
	}

	for csum, want := range entries {
		foundPack, offset, _, found, err := store.FindInPacks(csum, false)
		if err != nil {
			t.Fatalf("FindInPacks() failed: %v", err)
		}
		if !found || foundPack != packCsum {
			t.Fatalf("FindInPacks(%v) = %v, %v, want %v, true", csum, foundPack, found, packCsum)
		}
		mapped, err := store.MapPackFile(foundPack, false)
		if err != nil {
			t.Fatalf("MapPackFile() failed: %v", err)
		}
		got, err := ReadEntry(mapped, offset, true, csum)
		if err != nil {
			t.Fatalf("ReadEntry() failed: %v", err)
		}
		if string(got) != string(want) {
			t.Errorf("ReadEntry() = %q, want %q", got, want)
		}
	}
}

func TestListPackIndexesWithNoSuperIndexYet(t *testing.T) {
	repoRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repoRoot, "objects", "pack"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	store := NewStore(repoRoot)
	defer store.Close()

	meta, data, err := store.ListPackIndexes()
	if err != nil {
		t.Fatalf("ListPackIndexes() failed: %v", err)
	}
	if len(meta) != 0 || len(data) != 0 {
		t.Errorf("ListPackIndexes() on a fresh repo = %v, %v, want empty", meta, data)
	}
}
