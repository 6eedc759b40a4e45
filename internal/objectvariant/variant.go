// Package objectvariant implements the canonical binary serialization for
// the four object kinds. Every variant is hand-rolled big-endian framing
// built with encoding/binary and bytes.Buffer, the same way a deterministic
// cache key gets built byte-by-byte (see DESIGN.md) — generalized here from
// a fixed-shape cache key to a tagged, versioned, self-describing object
// format.
//
// Re-hashing the bytes this package produces must always reproduce the
// checksum the store named the object under.
package objectvariant

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ostrepo/ostrepo/internal/types"
)

// FormatVersion is the first byte of every encoded variant.
const FormatVersion byte = 1

// FileHeader is the FILE object payload: POSIX attributes plus enough
// information to reconstruct a regular file, symlink, or device node. In
// bare mode the content stream follows the header inline when staging; in
// archive mode the header is the entire loose object and content lives in
// the sibling .filecontent file.
type FileHeader struct {
	Kind   types.FileKind
	Size   int64 // content length; 0 for symlinks/devices
	Attrs  types.Attrs
	LinkTo string // symlink target
}

// EncodeFileHeader serializes a FileHeader (without content) canonically.
func EncodeFileHeader(h FileHeader) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FormatVersion)
	buf.WriteByte(byte(types.ObjectFile))
	buf.WriteByte(byte(h.Kind))
	writeInt64(&buf, h.Size)
	writeAttrs(&buf, h.Attrs)
	writeString(&buf, h.LinkTo)
	return buf.Bytes()
}

// DecodeFileHeader parses bytes produced by EncodeFileHeader.
func DecodeFileHeader(b []byte) (FileHeader, error) {
	r := bytes.NewReader(b)
	if err := expectTag(r, types.ObjectFile); err != nil {
		return FileHeader{}, err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return FileHeader{}, wrapShort("file.kind", err)
	}
	size, err := readInt64(r)
	if err != nil {
		return FileHeader{}, wrapShort("file.size", err)
	}
	attrs, err := readAttrs(r)
	if err != nil {
		return FileHeader{}, err
	}
	link, err := readString(r)
	if err != nil {
		return FileHeader{}, wrapShort("file.linkto", err)
	}
	return FileHeader{Kind: types.FileKind(kindByte), Size: size, Attrs: attrs, LinkTo: link}, nil
}

// DirMeta is the DIR_META object payload: a directory's attributes, no
// children.
type DirMeta struct {
	Attrs types.Attrs
}

func EncodeDirMeta(m DirMeta) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FormatVersion)
	buf.WriteByte(byte(types.ObjectDirMeta))
	writeAttrs(&buf, m.Attrs)
	return buf.Bytes()
}

func DecodeDirMeta(b []byte) (DirMeta, error) {
	r := bytes.NewReader(b)
	if err := expectTag(r, types.ObjectDirMeta); err != nil {
		return DirMeta{}, err
	}
	attrs, err := readAttrs(r)
	if err != nil {
		return DirMeta{}, err
	}
	return DirMeta{Attrs: attrs}, nil
}

// DirTree is the DIR_TREE object payload: an ordered list of (name,
// file-checksum) plus an ordered list of (name, subtree-contents-checksum,
// subtree-metadata-checksum), both sorted lexicographically by name.
type DirTree struct {
	Files   []types.DirEntry
	Subdirs []types.SubdirEntry
}

// EncodeDirTree serializes t canonically. Callers must pass Files/Subdirs
// already sorted by name (types.SortedDirEntries / SortedSubdirEntries) —
// this function does not re-sort, so that a caller who got the order wrong
// produces a detectably different checksum rather than silently "fixing"
// it.
func EncodeDirTree(t DirTree) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FormatVersion)
	buf.WriteByte(byte(types.ObjectDirTree))

	writeUint32(&buf, uint32(len(t.Files)))
	for _, f := range t.Files {
		writeString(&buf, f.Name)
		buf.Write(f.Checksum.Bytes())
	}

	writeUint32(&buf, uint32(len(t.Subdirs)))
	for _, s := range t.Subdirs {
		writeString(&buf, s.Name)
		buf.Write(s.ContentsChecksum.Bytes())
		buf.Write(s.MetadataChecksum.Bytes())
	}
	return buf.Bytes()
}

func DecodeDirTree(b []byte) (DirTree, error) {
	r := bytes.NewReader(b)
	if err := expectTag(r, types.ObjectDirTree); err != nil {
		return DirTree{}, err
	}

	nFiles, err := readUint32(r)
	if err != nil {
		return DirTree{}, wrapShort("dirtree.nfiles", err)
	}
	files := make([]types.DirEntry, 0, nFiles)
	for i := uint32(0); i < nFiles; i++ {
		name, err := readString(r)
		if err != nil {
			return DirTree{}, wrapShort("dirtree.file.name", err)
		}
		csum, err := readChecksum(r)
		if err != nil {
			return DirTree{}, wrapShort("dirtree.file.checksum", err)
		}
		files = append(files, types.DirEntry{Name: name, Checksum: csum})
	}

	nSubdirs, err := readUint32(r)
	if err != nil {
		return DirTree{}, wrapShort("dirtree.nsubdirs", err)
	}
	subdirs := make([]types.SubdirEntry, 0, nSubdirs)
	for i := uint32(0); i < nSubdirs; i++ {
		name, err := readString(r)
		if err != nil {
			return DirTree{}, wrapShort("dirtree.subdir.name", err)
		}
		contents, err := readChecksum(r)
		if err != nil {
			return DirTree{}, wrapShort("dirtree.subdir.contents", err)
		}
		meta, err := readChecksum(r)
		if err != nil {
			return DirTree{}, wrapShort("dirtree.subdir.meta", err)
		}
		subdirs = append(subdirs, types.SubdirEntry{Name: name, ContentsChecksum: contents, MetadataChecksum: meta})
	}

	return DirTree{Files: files, Subdirs: subdirs}, nil
}

// Commit is the COMMIT object payload.
type Commit struct {
	Metadata       map[string]string
	Parent         types.Checksum // Zero if root
	RelatedObjects []types.Checksum
	Subject        string
	Body           string
	TimestampUnix  uint64
	RootContents   types.Checksum
	RootMetadata   types.Checksum
}

func EncodeCommit(c Commit) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FormatVersion)
	buf.WriteByte(byte(types.ObjectCommit))

	writeStringMap(&buf, c.Metadata)
	buf.Write(c.Parent.Bytes())

	writeUint32(&buf, uint32(len(c.RelatedObjects)))
	for _, r := range c.RelatedObjects {
		buf.Write(r.Bytes())
	}

	writeString(&buf, c.Subject)
	writeString(&buf, c.Body)
	writeUint64(&buf, c.TimestampUnix)
	buf.Write(c.RootContents.Bytes())
	buf.Write(c.RootMetadata.Bytes())
	return buf.Bytes()
}

func DecodeCommit(b []byte) (Commit, error) {
	r := bytes.NewReader(b)
	if err := expectTag(r, types.ObjectCommit); err != nil {
		return Commit{}, err
	}

	meta, err := readStringMap(r)
	if err != nil {
		return Commit{}, err
	}
	parent, err := readChecksum(r)
	if err != nil {
		return Commit{}, wrapShort("commit.parent", err)
	}

	nRelated, err := readUint32(r)
	if err != nil {
		return Commit{}, wrapShort("commit.nrelated", err)
	}
	related := make([]types.Checksum, 0, nRelated)
	for i := uint32(0); i < nRelated; i++ {
		csum, err := readChecksum(r)
		if err != nil {
			return Commit{}, wrapShort("commit.related", err)
		}
		related = append(related, csum)
	}

	subject, err := readString(r)
	if err != nil {
		return Commit{}, wrapShort("commit.subject", err)
	}
	body, err := readString(r)
	if err != nil {
		return Commit{}, wrapShort("commit.body", err)
	}
	ts, err := readUint64(r)
	if err != nil {
		return Commit{}, wrapShort("commit.timestamp", err)
	}
	rootContents, err := readChecksum(r)
	if err != nil {
		return Commit{}, wrapShort("commit.rootcontents", err)
	}
	rootMeta, err := readChecksum(r)
	if err != nil {
		return Commit{}, wrapShort("commit.rootmeta", err)
	}

	return Commit{
		Metadata:       meta,
		Parent:         parent,
		RelatedObjects: related,
		Subject:        subject,
		Body:           body,
		TimestampUnix:  ts,
		RootContents:   rootContents,
		RootMetadata:   rootMeta,
	}, nil
}

// --- low-level framing helpers ---

func expectTag(r *bytes.Reader, want types.ObjectType) error {
	ver, err := r.ReadByte()
	if err != nil {
		return wrapShort("header.version", err)
	}
	if ver != FormatVersion {
		return &types.InvalidFormatError{Context: "objectvariant", Detail: fmt.Sprintf("unsupported format version %d", ver)}
	}
	tag, err := r.ReadByte()
	if err != nil {
		return wrapShort("header.tag", err)
	}
	if types.ObjectType(tag) != want {
		return &types.InvalidFormatError{
			Context: "objectvariant",
			Detail:  fmt.Sprintf("expected tag %s, got %s", want, types.ObjectType(tag)),
		}
	}
	return nil
}

func wrapShort(field string, err error) error {
	return &types.InvalidFormatError{Context: "objectvariant", Detail: fmt.Sprintf("truncated %s: %v", field, err)}
}

func writeUint32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }
func writeUint64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.BigEndian, v) }
func writeInt64(buf *bytes.Buffer, v int64)   { _ = binary.Write(buf, binary.BigEndian, v) }

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytesField(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeAttrs(buf *bytes.Buffer, a types.Attrs) {
	writeUint32(buf, a.Mode)
	writeUint32(buf, a.UID)
	writeUint32(buf, a.GID)
	writeUint64(buf, a.Rdev)

	// Xattrs must already be sorted by name by the caller (posix/xattrs
	// capture sorts them) — reordering here would silently change object
	// identity rather than surfacing the bug.
	writeUint32(buf, uint32(len(a.Xattr)))
	for _, x := range a.Xattr {
		writeString(buf, x.Name)
		writeBytesField(buf, x.Value)
	}
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Canonical order: metadata dict keys sorted lexicographically, same
	// rationale as DIR_TREE ordering.
	sort.Strings(keys)
	writeUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		writeString(buf, m[k])
	}
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readBytesField(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readChecksum(r *bytes.Reader) (types.Checksum, error) {
	var c types.Checksum
	_, err := io.ReadFull(r, c[:])
	return c, err
}

func readAttrs(r *bytes.Reader) (types.Attrs, error) {
	var a types.Attrs
	var err error
	if a.Mode, err = readUint32(r); err != nil {
		return a, wrapShort("attrs.mode", err)
	}
	if a.UID, err = readUint32(r); err != nil {
		return a, wrapShort("attrs.uid", err)
	}
	if a.GID, err = readUint32(r); err != nil {
		return a, wrapShort("attrs.gid", err)
	}
	if a.Rdev, err = readUint64(r); err != nil {
		return a, wrapShort("attrs.rdev", err)
	}
	n, err := readUint32(r)
	if err != nil {
		return a, wrapShort("attrs.nxattr", err)
	}
	a.Xattr = make([]types.XattrEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return a, wrapShort("attrs.xattr.name", err)
		}
		val, err := readBytesField(r)
		if err != nil {
			return a, wrapShort("attrs.xattr.value", err)
		}
		a.Xattr = append(a.Xattr, types.XattrEntry{Name: name, Value: val})
	}
	return a, nil
}

func readStringMap(r *bytes.Reader) (map[string]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, wrapShort("metadata.count", err)
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, wrapShort("metadata.key", err)
		}
		v, err := readString(r)
		if err != nil {
			return nil, wrapShort("metadata.value", err)
		}
		m[k] = v
	}
	return m, nil
}
