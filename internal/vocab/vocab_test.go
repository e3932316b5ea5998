package vocab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	vocabJSON := `{"0": "▁the", "1": "▁a", "2": "s", "8192": "<blank>"}`
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "vocab.json")
	if err := os.WriteFile(path, []byte(vocabJSON), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Len() != 8193 {
		t.Errorf("Len() = %d, want 8193", v.Len())
	}
	if v.Decode(0) != "▁the" {
		t.Errorf("Decode(0) = %q, want %q", v.Decode(0), "▁the")
	}
}

func TestLoadBadPath(t *testing.T) {
	if _, err := Load("/nonexistent/vocab.json"); err == nil {
		t.Error("Load should fail for nonexistent file")
	}
}

func TestLoadBadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(path, []byte("not json"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("Load should fail for invalid JSON")
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁hi"}`))
	if got := v.Decode(999); got != "" {
		t.Errorf("Decode(999) = %q, want empty", got)
	}
	if got := v.Decode(-1); got != "" {
		t.Errorf("Decode(-1) = %q, want empty", got)
	}
}

func TestDecodeBlank(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁hi"}`))
	if got := v.Decode(Blank); got != "" {
		t.Errorf("Decode(Blank) = %q, want empty", got)
	}
}

func TestDecodeSequence(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁the", "1": "▁a", "2": "s", "3": "k"}`))
	text := v.DecodeSequence([]int32{0, 1, 2, 3})
	if text != "the ask" {
		t.Errorf("DecodeSequence = %q, want %q", text, "the ask")
	}
}

func TestDecodeSequenceEmpty(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁hello"}`))
	if text := v.DecodeSequence(nil); text != "" {
		t.Errorf("DecodeSequence(nil) = %q, want empty", text)
	}
}

func TestDecodeSequenceNoLeadingTrailingWhitespace(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁hello", "1": "▁world"}`))
	text := v.DecodeSequence([]int32{0, 1})
	if strings.TrimSpace(text) != text {
		t.Errorf("DecodeSequence has leading/trailing whitespace: %q", text)
	}
	if strings.Contains(text, "▁") {
		t.Errorf("DecodeSequence leaked ▁ marker: %q", text)
	}
}

func TestDecodeSequenceSkipsUnknownIDs(t *testing.T) {
	v, _ := Parse([]byte(`{"0": "▁hi"}`))
	text := v.DecodeSequence([]int32{0, 999})
	if text != "hi" {
		t.Errorf("DecodeSequence with OOB id = %q, want %q", text, "hi")
	}
}
