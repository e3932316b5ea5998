// Package vocab loads the Parakeet TDT sub-word vocabulary and converts
// token id sequences back to text.
package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Special token ids called out by the model's tokenizer.
const (
	StartOfTranscript  = 4
	NoPredictLanguage  = 23
	LanguageEnglish    = 64
	LanguageFrench     = 71
	Blank              = 8192
	MaxTokenID         = 8192
)

// wordBoundary is the SentencePiece marker for a leading space.
const wordBoundary = "▁"

// Vocabulary maps token id to sub-word piece. Index i holds the piece for
// token id i; Blank has no stored piece. It is read-only once loaded and
// safe for concurrent use by multiple decode goroutines.
type Vocabulary struct {
	pieces []string
}

// Load reads a JSON object mapping string-encoded token ids to sub-word
// pieces, e.g. {"0": "▁the", "1": "▁a", ...}.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes vocabulary JSON from an in-memory buffer.
func Parse(data []byte) (*Vocabulary, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("vocab: parsing JSON: %w", err)
	}

	maxID := 0
	for k := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("vocab: invalid token id %q: %w", k, err)
		}
		if id > maxID {
			maxID = id
		}
	}

	pieces := make([]string, maxID+1)
	for k, v := range raw {
		id, _ := strconv.Atoi(k)
		pieces[id] = v
	}

	return &Vocabulary{pieces: pieces}, nil
}

// Decode returns the sub-word piece for id, or "" for the blank id or any
// id outside the loaded range. The joint network occasionally emits ids
// outside the trained range when logits degenerate; this is never fatal.
func (v *Vocabulary) Decode(id int32) string {
	if id == Blank || id < 0 || int(id) >= len(v.pieces) {
		return ""
	}
	return v.pieces[id]
}

// DecodeSequence concatenates the pieces for ids, replacing the "▁" word
// boundary marker with a single space, collapsing the result, and
// trimming leading/trailing whitespace. The output never contains "▁".
func (v *Vocabulary) DecodeSequence(ids []int32) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(v.Decode(id))
	}
	text := strings.ReplaceAll(b.String(), wordBoundary, " ")
	return strings.Join(strings.Fields(text), " ")
}

// Len reports the number of ids the vocabulary can address, including
// the blank id's slot if covered by the loaded range.
func (v *Vocabulary) Len() int {
	return len(v.pieces)
}
