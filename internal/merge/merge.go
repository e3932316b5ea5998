// Package merge stitches per-chunk transcripts back into one transcript
// (spec §4.9): plain concatenation for silence-cut chunks, suffix/prefix
// de-duplication for overlap-cut chunks, followed by whitespace and
// punctuation-spacing cleanup.
package merge

import (
	"regexp"
	"strings"
)

// ChunkTranscript is one chunk's decoded text paired with whether it
// overlaps its predecessor (spec §4.9).
type ChunkTranscript struct {
	Text       string
	HasOverlap bool
}

// Merge concatenates chunk transcripts in order, de-duplicating the
// overlapping boundary between consecutive overlap-cut chunks.
func Merge(chunks []ChunkTranscript) string {
	if len(chunks) == 0 {
		return ""
	}

	var parts []string
	parts = append(parts, strings.Fields(chunks[0].Text)...)

	for i := 1; i < len(chunks); i++ {
		words := strings.Fields(chunks[i].Text)
		if chunks[i].HasOverlap {
			n := longestMatchingSuffixPrefix(parts, words)
			words = words[n:]
		}
		parts = append(parts, words...)
	}

	return cleanupSpacing(strings.Join(parts, " "))
}

// longestMatchingSuffixPrefix finds the length of the longest run where
// the trailing tokens of prev match the leading tokens of next
// case-insensitively,
// requiring at least 2 matched tokens (spec §4.9).
func longestMatchingSuffixPrefix(prev, next []string) int {
	maxLen := len(prev)
	if len(next) < maxLen {
		maxLen = len(next)
	}

	for n := maxLen; n >= 2; n-- {
		if suffixEqualsPrefix(prev, next, n) {
			return n
		}
	}
	return 0
}

func suffixEqualsPrefix(prev, next []string, n int) bool {
	suffix := prev[len(prev)-n:]
	prefix := next[:n]
	for i := range suffix {
		if !strings.EqualFold(suffix[i], prefix[i]) {
			return false
		}
	}
	return true
}

var (
	multiSpace     = regexp.MustCompile(`\s{2,}`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,!?;:])`)
)

// cleanupSpacing collapses doubled whitespace and normalizes spacing
// around punctuation.
func cleanupSpacing(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
