package dataset

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer turns raw text into token ids for the encoder towers. Words are
// lower-cased, split on non-alphanumeric boundaries, hashed into a fixed
// vocabulary, and truncated to the configured sequence length. Id 0 is
// reserved so hashed ids always land in [1, vocabSize).
type Tokenizer struct {
	vocabSize int
	seqLen    int
}

// NewTokenizer creates a Tokenizer for the given vocabulary size and maximum
// sequence length.
func NewTokenizer(vocabSize, seqLen int) *Tokenizer {
	return &Tokenizer{vocabSize: vocabSize, seqLen: seqLen}
}

// Encode tokenises text into at most seqLen token ids. Empty input encodes
// to a single reserved id so downstream pooling never divides by zero.
func (t *Tokenizer) Encode(text string) []int {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	ids := make([]int, 0, min(len(words), t.seqLen))
	for _, word := range words {
		if len(ids) == t.seqLen {
			break
		}
		ids = append(ids, t.hash(word))
	}
	if len(ids) == 0 {
		ids = append(ids, 1)
	}
	return ids
}

func (t *Tokenizer) hash(word string) int {
	h := fnv.New32a()
	h.Write([]byte(word))
	return int(h.Sum32())%(t.vocabSize-1) + 1
}
