// Package hashutil provides the streaming SHA-256 primitives used for
// post-copy verification (C7, C8, C9) and dedup keying (C6).
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// chunkSize is the read buffer used while streaming a file through the
// hasher. It sits inside the [4 KiB, 1 MiB] range spec.md §4.1 requires.
const chunkSize = 256 * 1024

// SHA256OfFile streams path in fixed-size chunks and returns its 64-char
// lowercase hex digest. It returns ("", err) on any read error — callers
// that only want a comparison sentinel should use SHA256OfFileOrEmpty.
func SHA256OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return SHA256OfReader(f)
}

// SHA256OfReader streams r in fixed-size chunks and returns its hex digest.
func SHA256OfReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256OfFileOrEmpty streams path and returns its hex digest, or "" if the
// file could not be read. Used at call sites that want a null-sentinel
// instead of an error (e.g. dst doesn't exist yet).
func SHA256OfFileOrEmpty(path string) string {
	digest, err := SHA256OfFile(path)
	if err != nil {
		return ""
	}
	return digest
}

// ChecksumsEqual reports whether a and b are the same non-empty digest.
// Per spec.md §4.1, a null digest on either side never compares equal —
// an unreadable file is never "the same" as anything.
func ChecksumsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b
}
