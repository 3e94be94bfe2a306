// Package contenthash derives the stable item identifier used for dedup.
//
// The identifier is the first IDLength hex characters of the SHA-256 digest of
// the file's bytes. It depends only on content, never on name or mtime, so a
// renamed or re-synced copy of a recording maps to the same queue item.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	// IDLength is the number of hex characters kept from the digest (48 bits).
	IDLength = 12
	// ChunkSize is the read buffer used while streaming file content.
	ChunkSize = 8 * 1024
)

// Digest is the full hex digest together with the short identifier.
type Digest struct {
	Full string
	ID   string
	Size int64
}

// File streams the file at path through SHA-256 in fixed-size chunks.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	d, err := Reader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// Reader hashes everything readable from r, reading at most ChunkSize bytes
// per call.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var size int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digest{}, err
		}
	}
	full := hex.EncodeToString(h.Sum(nil))
	return Digest{Full: full, ID: full[:IDLength], Size: size}, nil
}

// ID is a convenience wrapper returning only the short identifier for path.
func ID(path string) (string, error) {
	d, err := File(path)
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

// Valid reports whether s has the shape of an item identifier.
func Valid(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
