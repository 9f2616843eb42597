package hashes

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is the MD5 fingerprint of a blob in both encodings the
// service expects: hex for content-addressed resource ids, base64 for
// the md5 query parameter on upload.
type Digest struct {
	Hex    string
	Base64 string
	Length int64
}

// FileDigest computes the digest of the file at path by streaming it.
func FileDigest(path string) (*Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hashes: opening %s for digest: %w", path, err)
	}
	defer f.Close()

	return ReaderDigest(f)
}

// ReaderDigest computes the digest of everything readable from r.
func ReaderDigest(r io.Reader) (*Digest, error) {
	h := md5.New() //nolint:gosec // content fingerprint, not a security boundary

	n, err := io.Copy(h, r)
	if err != nil {
		return nil, fmt.Errorf("hashes: computing digest: %w", err)
	}

	sum := h.Sum(nil)

	return &Digest{
		Hex:    hex.EncodeToString(sum),
		Base64: base64.StdEncoding.EncodeToString(sum),
		Length: n,
	}, nil
}
