package store

import (
	"fmt"
	"strings"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
)

// reservedPathChars are rejected in any identifier used as a path segment.
// The store reserves ".#$[]/"; "_" is reserved here as the conversation key
// separator, so distinct user pairs can never collide on one conversation
// path. The check runs client-side so a violation fails before any network
// call.
const reservedPathChars = ".#$[]/_"

// ValidateSegment rejects empty segments and segments containing reserved
// path characters.
func ValidateSegment(segment string) error {
	if segment == "" {
		return fmt.Errorf("%w: empty segment", domain.ErrInvalidIdentifier)
	}
	if strings.ContainsAny(segment, reservedPathChars) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, segment)
	}
	return nil
}

// ValidateSegments validates every segment, returning the first violation.
func ValidateSegments(segments ...string) error {
	for _, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

// Join builds a store path from pre-validated segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split breaks a path into its segments, dropping empty components from
// leading or trailing slashes.
func Split(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
