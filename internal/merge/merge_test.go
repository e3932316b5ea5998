package merge

import "testing"

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil); got != "" {
		t.Errorf("Merge(nil) = %q, want empty", got)
	}
}

func TestMergePlainJoinWithoutOverlap(t *testing.T) {
	chunks := []ChunkTranscript{
		{Text: "hello there"},
		{Text: "general kenobi"},
	}
	got := Merge(chunks)
	want := "hello there general kenobi"
	if got != want {
		t.Errorf("Merge() = %q, want %q", got, want)
	}
}

func TestMergeDeduplicatesOverlap(t *testing.T) {
	chunks := []ChunkTranscript{
		{Text: "the quick brown fox jumps"},
		{Text: "brown fox jumps over the lazy dog", HasOverlap: true},
	}
	got := Merge(chunks)
	want := "the quick brown fox jumps over the lazy dog"
	if got != want {
		t.Errorf("Merge() = %q, want %q", got, want)
	}
}

func TestMergeRequiresAtLeastTwoMatchedTokens(t *testing.T) {
	chunks := []ChunkTranscript{
		{Text: "ends with fox"},
		{Text: "fox is unrelated to the rest", HasOverlap: true},
	}
	got := Merge(chunks)
	want := "ends with fox fox is unrelated to the rest"
	if got != want {
		t.Errorf("Merge() = %q, want %q", got, want)
	}
}

func TestCleanupSpacingCollapsesWhitespaceAndPunctuation(t *testing.T) {
	got := cleanupSpacing("hello   world ,  how are you ?")
	want := "hello world, how are you?"
	if got != want {
		t.Errorf("cleanupSpacing() = %q, want %q", got, want)
	}
}

func TestMergeSingleChunk(t *testing.T) {
	chunks := []ChunkTranscript{{Text: "only one chunk"}}
	if got := Merge(chunks); got != "only one chunk" {
		t.Errorf("Merge() = %q, want %q", got, "only one chunk")
	}
}
