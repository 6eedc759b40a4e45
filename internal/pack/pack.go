// Package pack reads and writes pack files: an index (sorted checksum ->
// offset table) plus a data blob, consolidated under a super-index that
// lists every pack a repository knows about. Pack data is memory-mapped
// via golang.org/x/sys/unix.Mmap rather than held in the Go heap.
package pack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ostrepo/ostrepo/internal/layout"
	"github.com/ostrepo/ostrepo/internal/types"
)

const (
	indexMagic      = "OSTv0PACKINDEX"
	superIndexMagic = "OSTv0SUPERPACKINDEX"
)

// IndexEntry is one (checksum -> offset,length) row of a pack index,
// always stored sorted by Checksum so lookups binary-search.
type IndexEntry struct {
	Checksum types.Checksum
	Offset   uint64
	Length   uint64
}

// Index is a decoded pack index.
type Index struct {
	Entries []IndexEntry
}

// Find binary-searches the index for checksum, returning its offset/length.
func (idx *Index) Find(csum types.Checksum) (IndexEntry, bool) {
	entries := idx.Entries
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Checksum.Bytes(), csum.Bytes()) >= 0
	})
	if i < len(entries) && entries[i].Checksum == csum {
		return entries[i], true
	}
	return IndexEntry{}, false
}

// EncodeIndex serializes idx, sorting entries by checksum first so the
// result is binary-search-ready.
func EncodeIndex(entries []IndexEntry) []byte {
	sorted := append([]IndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Checksum.Bytes(), sorted[j].Checksum.Bytes()) < 0
	})

	buf := new(bytes.Buffer)
	buf.WriteString(indexMagic)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(sorted)))
	for _, e := range sorted {
		buf.Write(e.Checksum.Bytes())
		_ = binary.Write(buf, binary.BigEndian, e.Offset)
		_ = binary.Write(buf, binary.BigEndian, e.Length)
	}
	return buf.Bytes()
}

// DecodeIndex parses a pack index, verifying its magic header.
func DecodeIndex(data []byte) (*Index, error) {
	if len(data) < len(indexMagic) || string(data[:len(indexMagic)]) != indexMagic {
		return nil, &types.InvalidFormatError{Context: "pack index", Detail: "bad magic header"}
	}
	r := bytes.NewReader(data[len(indexMagic):])

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, &types.InvalidFormatError{Context: "pack index", Detail: "truncated count"}
	}

	entries := make([]IndexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var csumBytes [32]byte
		if _, err := r.Read(csumBytes[:]); err != nil {
			return nil, &types.InvalidFormatError{Context: "pack index", Detail: "truncated entry checksum"}
		}
		var off, length uint64
		if err := binary.Read(r, binary.BigEndian, &off); err != nil {
			return nil, &types.InvalidFormatError{Context: "pack index", Detail: "truncated entry offset"}
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, &types.InvalidFormatError{Context: "pack index", Detail: "truncated entry length"}
		}
		entries = append(entries, IndexEntry{Checksum: types.Checksum(csumBytes), Offset: off, Length: length})
	}
	return &Index{Entries: entries}, nil
}

// SuperIndexPackRef names one pack and carries its (currently always
// empty) bloom filter bytes. The field is reserved for a future
// probabilistic membership check before a pack mapping is touched.
type SuperIndexPackRef struct {
	Checksum types.Checksum
	Bloom    []byte
}

// SuperIndex lists every pack a repository knows about.
type SuperIndex struct {
	MetaPacks []SuperIndexPackRef
	DataPacks []SuperIndexPackRef
}

// EncodeSuperIndex serializes a super-index.
func EncodeSuperIndex(si SuperIndex) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(superIndexMagic)
	writeRefs(buf, si.MetaPacks)
	writeRefs(buf, si.DataPacks)
	return buf.Bytes()
}

func writeRefs(buf *bytes.Buffer, refs []SuperIndexPackRef) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(refs)))
	for _, ref := range refs {
		buf.Write(ref.Checksum.Bytes())
		_ = binary.Write(buf, binary.BigEndian, uint32(len(ref.Bloom)))
		buf.Write(ref.Bloom)
	}
}

// DecodeSuperIndex parses a super-index file.
func DecodeSuperIndex(data []byte) (*SuperIndex, error) {
	if len(data) < len(superIndexMagic) || string(data[:len(superIndexMagic)]) != superIndexMagic {
		return nil, &types.InvalidFormatError{Context: "super-index", Detail: "bad magic header"}
	}
	r := bytes.NewReader(data[len(superIndexMagic):])

	meta, err := readRefs(r)
	if err != nil {
		return nil, fmt.Errorf("super-index meta packs: %w", err)
	}
	dataPacks, err := readRefs(r)
	if err != nil {
		return nil, fmt.Errorf("super-index data packs: %w", err)
	}
	return &SuperIndex{MetaPacks: meta, DataPacks: dataPacks}, nil
}

func readRefs(r *bytes.Reader) ([]SuperIndexPackRef, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, &types.InvalidFormatError{Context: "super-index", Detail: "truncated count"}
	}
	refs := make([]SuperIndexPackRef, 0, count)
	for i := uint32(0); i < count; i++ {
		var csumBytes [32]byte
		if _, err := r.Read(csumBytes[:]); err != nil {
			return nil, &types.InvalidFormatError{Context: "super-index", Detail: "truncated pack checksum"}
		}
		var bloomLen uint32
		if err := binary.Read(r, binary.BigEndian, &bloomLen); err != nil {
			return nil, &types.InvalidFormatError{Context: "super-index", Detail: "truncated bloom length"}
		}
		bloom := make([]byte, bloomLen)
		if bloomLen > 0 {
			if _, err := r.Read(bloom); err != nil {
				return nil, &types.InvalidFormatError{Context: "super-index", Detail: "truncated bloom filter"}
			}
		}
		refs = append(refs, SuperIndexPackRef{Checksum: types.Checksum(csumBytes), Bloom: bloom})
	}
	return refs, nil
}

// mapping is a memory-mapped pack data file.
type mapping struct {
	data []byte
}

func mapFile(path string) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return &mapping{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &mapping{data: data}, nil
}

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}

// ReadEntry reads the length-prefixed payload at offset within a mapped
// pack data file, optionally verifying its SHA-256 against want.
func ReadEntry(data []byte, offset uint64, verify bool, want types.Checksum) ([]byte, error) {
	if offset+4 > uint64(len(data)) {
		return nil, &types.InvalidFormatError{Context: "pack entry", Detail: "offset out of range"}
	}
	length := binary.BigEndian.Uint32(data[offset : offset+4])
	start := offset + 4
	end := start + uint64(length)
	if end > uint64(len(data)) {
		return nil, &types.InvalidFormatError{Context: "pack entry", Detail: "truncated entry"}
	}
	payload := data[start:end]
	if verify {
		got := types.FromBytes(payload)
		if got != want {
			return nil, &types.CorruptedObjectError{Expected: want, Actual: got}
		}
	}
	return payload, nil
}

// Store caches loaded pack indexes and memory-mapped pack data behind one
// per-repo mutex.
type Store struct {
	root string

	mu       sync.Mutex
	super    *SuperIndex
	superSet bool
	indexes  map[types.Checksum]*Index
	dataMaps map[types.Checksum]*mapping
}

// NewStore builds a pack store rooted at repoRoot. Nothing is loaded until
// first use.
func NewStore(repoRoot string) *Store {
	return &Store{
		root:     repoRoot,
		indexes:  map[types.Checksum]*Index{},
		dataMaps: map[types.Checksum]*mapping{},
	}
}

// Close tears down every memory mapping held by the store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.dataMaps {
		_ = m.close()
	}
	s.dataMaps = map[types.Checksum]*mapping{}
	s.indexes = map[types.Checksum]*Index{}
	s.super = nil
	s.superSet = false
}

// ListPackIndexes returns the super-index's meta and data pack checksums,
// loading and caching the super-index on first call.
func (s *Store) ListPackIndexes() (meta, data []types.Checksum, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.superSet {
		if err := s.loadSuperIndexLocked(); err != nil {
			return nil, nil, err
		}
	}
	if s.super == nil {
		return nil, nil, nil
	}
	for _, r := range s.super.MetaPacks {
		meta = append(meta, r.Checksum)
	}
	for _, r := range s.super.DataPacks {
		data = append(data, r.Checksum)
	}
	return meta, data, nil
}

func (s *Store) loadSuperIndexLocked() error {
	raw, err := os.ReadFile(layout.SuperIndexPath(s.root))
	if err != nil {
		if os.IsNotExist(err) {
			s.super = nil
			s.superSet = true
			return nil
		}
		return fmt.Errorf("read super-index: %w", err)
	}
	si, err := DecodeSuperIndex(raw)
	if err != nil {
		return err
	}
	s.super = si
	s.superSet = true
	return nil
}

// RegenerateSuperIndex lists every *.index file under objects/pack, rebuilds
// the super-index, and atomically replaces it, invalidating the cache.
func (s *Store) RegenerateSuperIndex() error {
	packDir := layout.PackDir(s.root)
	entries, err := os.ReadDir(packDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return fmt.Errorf("list %s: %w", packDir, err)
		}
	}

	var si SuperIndex
	for _, e := range entries {
		name := e.Name()
		isMeta := hasPrefix(name, "ostmetapack-") && hasSuffix(name, ".index")
		isData := hasPrefix(name, "ostdatapack-") && hasSuffix(name, ".index")
		if !isMeta && !isData {
			continue
		}
		hexPart := trimPrefixSuffix(name, packPrefix(isMeta), ".index")
		csum, err := types.ParseChecksum(hexPart)
		if err != nil {
			continue
		}
		ref := SuperIndexPackRef{Checksum: csum}
		if isMeta {
			si.MetaPacks = append(si.MetaPacks, ref)
		} else {
			si.DataPacks = append(si.DataPacks, ref)
		}
	}

	tmp := layout.SuperIndexPath(s.root) + ".tmp"
	if err := os.WriteFile(tmp, EncodeSuperIndex(si), 0o644); err != nil {
		return fmt.Errorf("write super-index tmp: %w", err)
	}
	if err := os.Rename(tmp, layout.SuperIndexPath(s.root)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename super-index into place: %w", err)
	}

	s.mu.Lock()
	s.super = &si
	s.superSet = true
	s.mu.Unlock()
	return nil
}

func packPrefix(isMeta bool) string {
	if isMeta {
		return "ostmetapack-"
	}
	return "ostdatapack-"
}

func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }
func hasSuffix(s, sfx string) bool {
	return len(s) >= len(sfx) && s[len(s)-len(sfx):] == sfx
}
func trimPrefixSuffix(s, p, sfx string) string { return s[len(p) : len(s)-len(sfx)] }

// LoadPackIndex loads and caches the index for pack csum.
func (s *Store) LoadPackIndex(csum types.Checksum, isMeta bool) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexes[csum]; ok {
		return idx, nil
	}

	raw, err := os.ReadFile(layout.PackIndexPath(s.root, csum, isMeta))
	if err != nil {
		return nil, fmt.Errorf("read pack index %s: %w", csum, err)
	}
	idx, err := DecodeIndex(raw)
	if err != nil {
		return nil, err
	}
	s.indexes[csum] = idx
	return idx, nil
}

// MapPackFile memory-maps and caches pack csum's data file.
func (s *Store) MapPackFile(csum types.Checksum, isMeta bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.dataMaps[csum]; ok {
		return m.data, nil
	}

	m, err := mapFile(layout.PackDataPath(s.root, csum, isMeta))
	if err != nil {
		return nil, fmt.Errorf("map pack data %s: %w", csum, err)
	}
	s.dataMaps[csum] = m
	return m.data, nil
}

// FindInPacks searches every pack of the matching kind for checksum,
// binary-searching each index in turn, and returns the owning pack and
// byte offset on hit.
func (s *Store) FindInPacks(csum types.Checksum, isMeta bool) (packCsum types.Checksum, offset uint64, length uint64, found bool, err error) {
	var packs []types.Checksum
	meta, data, err := s.ListPackIndexes()
	if err != nil {
		return types.Checksum{}, 0, 0, false, err
	}
	if isMeta {
		packs = meta
	} else {
		packs = data
	}

	for _, p := range packs {
		idx, err := s.LoadPackIndex(p, isMeta)
		if err != nil {
			continue
		}
		if entry, ok := idx.Find(csum); ok {
			return p, entry.Offset, entry.Length, true, nil
		}
	}
	return types.Checksum{}, 0, 0, false, nil
}

// AddPackFile installs a scratch (index,data) pair under their
// pack-checksum-derived names in objects/pack/. The caller still must call
// RegenerateSuperIndex afterward.
func (s *Store) AddPackFile(scratchIndex, scratchData string, packCsum types.Checksum, isMeta bool) error {
	if err := os.MkdirAll(layout.PackDir(s.root), 0o755); err != nil {
		return fmt.Errorf("create pack dir: %w", err)
	}
	if err := os.Rename(scratchIndex, layout.PackIndexPath(s.root, packCsum, isMeta)); err != nil {
		return fmt.Errorf("install pack index: %w", err)
	}
	if err := os.Rename(scratchData, layout.PackDataPath(s.root, packCsum, isMeta)); err != nil {
		return fmt.Errorf("install pack data: %w", err)
	}
	return nil
}

// WritePackFromEntries builds a scratch pack (data file + sorted index) from
// entries keyed by checksum, writing both under dir as the fixed names
// pack-data.tmp and pack-index.tmp (a second call with the same dir
// overwrites them); the caller computes the pack checksum (conventionally
// the SHA-256 of the data file) and calls AddPackFile to install it.
func WritePackFromEntries(dir string, entries map[types.Checksum][]byte) (dataPath, indexPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}

	dataPath = filepath.Join(dir, "pack-data.tmp")
	df, err := os.Create(dataPath)
	if err != nil {
		return "", "", err
	}
	bw := bufio.NewWriter(df)

	keys := make([]types.Checksum, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})

	var idxEntries []IndexEntry
	var offset uint64
	for _, k := range keys {
		payload := entries[k]
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
		if _, err := bw.Write(lenBuf); err != nil {
			_ = df.Close()
			return "", "", err
		}
		if _, err := bw.Write(payload); err != nil {
			_ = df.Close()
			return "", "", err
		}
		idxEntries = append(idxEntries, IndexEntry{Checksum: k, Offset: offset, Length: uint64(len(payload))})
		offset += 4 + uint64(len(payload))
	}
	if err := bw.Flush(); err != nil {
		_ = df.Close()
		return "", "", err
	}
	if err := df.Close(); err != nil {
		return "", "", err
	}

	indexPath = filepath.Join(dir, "pack-index.tmp")
	if err := os.WriteFile(indexPath, EncodeIndex(idxEntries), 0o644); err != nil {
		return "", "", err
	}
	return dataPath, indexPath, nil
}
