package remote

import (
	"fmt"
	"strings"
)

// forbiddenKeyChars may not appear in a path segment.
const forbiddenKeyChars = ".$#[]"

// CleanPath trims slashes, collapses empty segments and validates every
// segment. The root is "".
func CleanPath(path string) (string, error) {
	segments := SplitPath(path)
	for _, seg := range segments {
		if err := ValidateKey(seg); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, "/"), nil
}

// SplitPath splits a path into non-empty segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinPath joins path segments, ignoring empty ones.
func JoinPath(parts ...string) string {
	var segments []string
	for _, p := range parts {
		segments = append(segments, SplitPath(p)...)
	}
	return strings.Join(segments, "/")
}

// LastSegment returns the final segment of path, "" for the root.
func LastSegment(path string) string {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// ValidateKey checks a single path segment.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidPath)
	}
	if strings.ContainsAny(key, forbiddenKeyChars) {
		return fmt.Errorf("%w: key %q contains one of %q", ErrInvalidPath, key, forbiddenKeyChars)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: key %q contains a control character", ErrInvalidPath, key)
		}
	}
	return nil
}
