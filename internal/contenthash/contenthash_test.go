package contenthash_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"voxpipe/internal/contenthash"
)

func TestFileMatchesSHA256Prefix(t *testing.T) {
	content := bytes.Repeat([]byte("voice memo "), 5000)
	path := filepath.Join(t.TempDir(), "memo.m4a")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := contenthash.File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])
	if d.Full != want {
		t.Fatalf("digest mismatch: got %s want %s", d.Full, want)
	}
	if d.ID != want[:contenthash.IDLength] {
		t.Fatalf("unexpected id %s", d.ID)
	}
	if d.Size != int64(len(content)) {
		t.Fatalf("unexpected size %d", d.Size)
	}
}

func TestIDIgnoresNameAndChunking(t *testing.T) {
	content := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 3*contenthash.ChunkSize+17)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.m4a")
	b := filepath.Join(dir, "renamed copy.m4a")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	idA, err := contenthash.ID(a)
	if err != nil {
		t.Fatalf("ID(a): %v", err)
	}
	idB, err := contenthash.ID(b)
	if err != nil {
		t.Fatalf("ID(b): %v", err)
	}
	if idA != idB {
		t.Fatalf("expected identical ids, got %s and %s", idA, idB)
	}

	d, err := contenthash.Reader(iotest.OneByteReader(bytes.NewReader(content)))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if d.ID != idA {
		t.Fatalf("byte-at-a-time reader produced %s, want %s", d.ID, idA)
	}
}

type readSizes struct {
	r     io.Reader
	sizes []int
}

func (s *readSizes) Read(p []byte) (int, error) {
	s.sizes = append(s.sizes, len(p))
	return s.r.Read(p)
}

func TestReaderUsesFixedChunks(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 5*contenthash.ChunkSize/2)
	path := filepath.Join(t.TempDir(), "memo.m4a")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	src := &readSizes{r: f}
	d, err := contenthash.Reader(src)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if d.Size != int64(len(content)) {
		t.Fatalf("unexpected size %d", d.Size)
	}
	for _, n := range src.sizes {
		if n != contenthash.ChunkSize {
			t.Fatalf("expected %d byte reads, saw %v", contenthash.ChunkSize, src.sizes)
		}
	}
	if len(src.sizes) < 3 {
		t.Fatalf("expected at least three chunked reads, saw %d", len(src.sizes))
	}
}

func TestDifferentContentDifferentID(t *testing.T) {
	a, _ := contenthash.Reader(bytes.NewReader([]byte("one")))
	b, _ := contenthash.Reader(bytes.NewReader([]byte("two")))
	if a.ID == b.ID {
		t.Fatal("expected distinct ids")
	}
}

func TestReaderPropagatesErrors(t *testing.T) {
	if _, err := contenthash.Reader(iotest.ErrReader(io.ErrUnexpectedEOF)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := contenthash.File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValid(t *testing.T) {
	if !contenthash.Valid("0123456789ab") {
		t.Fatal("expected valid id")
	}
	for _, s := range []string{"", "0123456789AB", "0123456789a", "0123456789abc", "zzzzzzzzzzzz"} {
		if contenthash.Valid(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}
