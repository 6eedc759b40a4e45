package objectvariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostrepo/ostrepo/internal/types"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{
		Kind: types.FileKindRegular,
		Size: 1234,
		Attrs: types.Attrs{
			Mode: 0o644, UID: 1000, GID: 1000,
			Xattr: []types.XattrEntry{{Name: "user.a", Value: []byte("1")}, {Name: "user.b", Value: []byte("2")}},
		},
	}
	enc := EncodeFileHeader(h)
	dec, err := DecodeFileHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, h, dec)
}

func TestDirTreeCanonicalOrderingIsDeterministic(t *testing.T) {
	entriesA := []types.DirEntry{{Name: "b", Checksum: types.FromBytes([]byte("b"))}, {Name: "a", Checksum: types.FromBytes([]byte("a"))}}
	entriesB := []types.DirEntry{{Name: "a", Checksum: types.FromBytes([]byte("a"))}, {Name: "b", Checksum: types.FromBytes([]byte("b"))}}

	sortedA := types.SortedDirEntries(entriesA)
	sortedB := types.SortedDirEntries(entriesB)

	encA := EncodeDirTree(DirTree{Files: sortedA})
	encB := EncodeDirTree(DirTree{Files: sortedB})
	assert.Equal(t, encA, encB, "permuting insertion order must not change the serialization")

	dec, err := DecodeDirTree(encA)
	require.NoError(t, err)
	assert.Equal(t, sortedA, dec.Files)
}

func TestCommitRoundTrip(t *testing.T) {
	c := Commit{
		Metadata:      map[string]string{"foo": "bar", "baz": "qux"},
		Parent:        types.FromBytes([]byte("parent")),
		Subject:       "init",
		Body:          "",
		TimestampUnix: 1700000000,
		RootContents:  types.FromBytes([]byte("contents")),
		RootMetadata:  types.FromBytes([]byte("meta")),
	}
	enc := EncodeCommit(c)
	dec, err := DecodeCommit(enc)
	require.NoError(t, err)
	assert.Equal(t, c.Subject, dec.Subject)
	assert.Equal(t, c.Metadata, dec.Metadata)
	assert.Equal(t, c.Parent, dec.Parent)
	assert.Equal(t, c.RootContents, dec.RootContents)
}

func TestDecodeRejectsWrongTag(t *testing.T) {
	enc := EncodeDirMeta(DirMeta{})
	_, err := DecodeCommit(enc)
	require.Error(t, err)
	var fmtErr *types.InvalidFormatError
	assert.ErrorAs(t, err, &fmtErr)
}

func TestContentAddressingReHashIsStable(t *testing.T) {
	tree := DirTree{Files: types.SortedDirEntries([]types.DirEntry{
		{Name: "a.txt", Checksum: types.FromBytes([]byte("hello"))},
	})}
	enc := EncodeDirTree(tree)
	csum1 := types.FromBytes(enc)
	csum2 := types.FromBytes(EncodeDirTree(tree))
	assert.Equal(t, csum1, csum2)
}
