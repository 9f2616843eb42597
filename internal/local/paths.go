// Package local is the filesystem side of the sync engine: it
// enumerates artifacts in the working directory, validates logical
// paths, and performs atomic JSON and binary writes via temp-file
// commit.
package local

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is returned for logical paths that could escape the
// working directory or cannot exist on a supported platform.
var ErrInvalidPath = errors.New("local: invalid path")

// platformInvalid are characters rejected in logical paths because at
// least one supported platform cannot store them.
const platformInvalid = `<>:"|?*`

// ValidatePath rejects empty paths, control characters, scheme
// prefixes smuggled into path text, parent-directory traversal, and
// platform-invalid characters.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	lower := strings.ToLower(path)
	if strings.Contains(lower, "http:") || strings.Contains(lower, "https:") {
		return fmt.Errorf("%w: %q contains a URL scheme", ErrInvalidPath, path)
	}

	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidPath, path)
		}
	}

	if strings.ContainsAny(path, platformInvalid) {
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidPath, path)
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q contains parent traversal", ErrInvalidPath, path)
		}
	}

	return nil
}

// NormalizePath canonicalizes a logical path: forward slashes, a
// single leading slash, and NFC unicode normalization so digests and
// hash-store keys agree across platforms.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	p = norm.NFC.String(p)

	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}
