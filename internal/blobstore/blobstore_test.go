package blobstore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kidandcat/workboard/internal/apperr"
)

func TestPutOpenRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	content := strings.Repeat("status report\n", 500)

	blob, err := s.Put(strings.NewReader(content), 0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if blob.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", blob.Size, len(content))
	}
	if len(blob.Digest) != 64 {
		t.Errorf("Digest = %q", blob.Digest)
	}
	if !strings.HasPrefix(blob.ContentType, "text/plain") {
		t.Errorf("ContentType = %q", blob.ContentType)
	}

	r, err := s.Open(blob.Digest)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != content {
		t.Error("content changed in round trip")
	}
}

func TestPutDedupes(t *testing.T) {
	s, _ := New(t.TempDir())
	a, err := s.Put(strings.NewReader("same bytes"), 0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := s.Put(strings.NewReader("same bytes"), 0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if a.Digest != b.Digest {
		t.Errorf("digests differ: %s vs %s", a.Digest, b.Digest)
	}
	c, _ := s.Put(strings.NewReader("other bytes"), 0)
	if c.Digest == a.Digest {
		t.Error("different content, same digest")
	}
}

func TestPutEnforcesLimit(t *testing.T) {
	s, _ := New(t.TempDir())
	_, err := s.Put(bytes.NewReader(make([]byte, 2048)), 1024)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("oversized Put error = %v, want validation", err)
	}
	if _, err := s.Put(bytes.NewReader(make([]byte, 1024)), 1024); err != nil {
		t.Errorf("Put at the limit: %v", err)
	}
}

func TestDeleteAndExists(t *testing.T) {
	s, _ := New(t.TempDir())
	blob, _ := s.Put(strings.NewReader("to be removed"), 0)
	if !s.Exists(blob.Digest) {
		t.Fatal("Exists = false after Put")
	}
	if err := s.Delete(blob.Digest); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(blob.Digest) {
		t.Error("Exists = true after Delete")
	}
	if err := s.Delete(blob.Digest); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := s.Open(blob.Digest); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Open after Delete error = %v, want not found", err)
	}
	if _, err := s.Open("../../etc/passwd"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Open of malformed digest error = %v", err)
	}
}
