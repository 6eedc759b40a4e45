// Package xsum provides write-through SHA-256 hashing and the atomic
// temp-file-then-link primitive every staged object goes through:
// hash while copying, then link the result into place under its
// content-addressed name.
package xsum

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ostrepo/ostrepo/internal/types"
)

// HashingWriter wraps an io.Writer, accumulating a running SHA-256 digest
// of everything written through it.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewHashingWriter wraps w so every Write is also hashed.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
		hw.n += int64(n)
	}
	return n, err
}

// Sum returns the checksum of everything written so far.
func (hw *HashingWriter) Sum() types.Checksum {
	return types.Checksum(hw.h.Sum(nil))
}

// Len returns the number of bytes written so far.
func (hw *HashingWriter) Len() int64 { return hw.n }

// HashReader hashes everything it reads from r.
type HashReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewHashReader wraps r so every Read is also hashed.
func NewHashReader(r io.Reader) *HashReader {
	return &HashReader{r: r, h: sha256.New()}
}

func (hr *HashReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

// Sum returns the checksum of everything read so far.
func (hr *HashReader) Sum() types.Checksum {
	return types.Checksum(hr.h.Sum(nil))
}

// Len returns the number of bytes read so far.
func (hr *HashReader) Len() int64 { return hr.n }

// TempFile creates a uniquely-named temp file under tmpDir, suitable for
// staging content before it is linked into its final content-addressed
// name. Temp names are uuid-based rather than a fixed suffix because
// staging happens concurrently across goroutines within one transaction.
func TempFile(tmpDir string) (*os.File, string, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create tmp dir %s: %w", tmpDir, err)
	}
	name := filepath.Join(tmpDir, "stage-"+uuid.NewString())
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("create temp file %s: %w", name, err)
	}
	return f, name, nil
}

// LinkIntoPlace links tmp to final. EEXIST is benign — it means a
// concurrent writer staged the same content first. The temp file is always
// unlinked afterward, on success or failure.
func LinkIntoPlace(tmp, final string) error {
	defer func() { _ = os.Remove(tmp) }()

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create object shard dir: %w", err)
	}

	err := os.Link(tmp, final)
	if err == nil || errors.Is(err, os.ErrExist) {
		return nil
	}
	return fmt.Errorf("link %s -> %s: %w", tmp, final, err)
}
