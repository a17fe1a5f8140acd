// Package blobstore keeps attachment bodies on disk, addressed by the
// BLAKE3 digest of their content and compressed with zstd. Identical
// uploads share one file; the database decides when a blob is no longer
// referenced and calls Delete.
package blobstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/kidandcat/workboard/internal/apperr"
)

const tmpDir = "tmp"

// ErrNotFound is returned by Open for a digest with no stored blob.
var ErrNotFound = fmt.Errorf("blob: %w", apperr.ErrNotFound)

// Store is a directory of compressed blobs. Safe for concurrent use:
// writes go through a temp file and an atomic rename.
type Store struct {
	root string
}

// Blob describes stored content.
type Blob struct {
	Digest      string
	Size        int64
	ContentType string // sniffed from the first bytes
}

// New returns a Store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Put stores everything read from r. Content longer than maxBytes is
// rejected with a validation error and nothing is kept. maxBytes <= 0
// means no limit.
func (s *Store) Put(r io.Reader, maxBytes int64) (*Blob, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*.zst")
	if err != nil {
		return nil, fmt.Errorf("creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	hasher := blake3.New()
	sniff := &headBuffer{max: 512}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	size, err := io.Copy(io.MultiWriter(enc, hasher, sniff), src)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("writing blob: %w", err)
	}
	if maxBytes > 0 && size > maxBytes {
		enc.Close()
		return nil, apperr.Invalid("file", "exceeds the %s upload limit", humanize.IBytes(uint64(maxBytes)))
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flushing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp blob: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	final := s.path(digest)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("creating shard directory: %w", err)
	}
	if _, err := os.Stat(final); err == nil {
		os.Remove(tmpPath)
	} else if err := os.Rename(tmpPath, final); err != nil {
		return nil, fmt.Errorf("renaming blob: %w", err)
	}
	success = true

	return &Blob{Digest: digest, Size: size, ContentType: http.DetectContentType(sniff.buf)}, nil
}

// Open returns a reader over the decompressed content of digest.
func (s *Store) Open(digest string) (io.ReadCloser, error) {
	if !validDigest(digest) {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &blobReader{dec: dec, f: f}, nil
}

// Exists reports whether digest is stored.
func (s *Store) Exists(digest string) bool {
	if !validDigest(digest) {
		return false
	}
	_, err := os.Stat(s.path(digest))
	return err == nil
}

// Delete removes digest. Deleting a missing blob is not an error.
func (s *Store) Delete(digest string) error {
	if !validDigest(digest) {
		return nil
	}
	err := os.Remove(s.path(digest))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest+".zst")
}

func validDigest(d string) bool {
	if len(d) != 64 {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}

type blobReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *blobReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *blobReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

// headBuffer keeps the first max bytes written to it.
type headBuffer struct {
	buf []byte
	max int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.max - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
