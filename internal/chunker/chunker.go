// Package chunker splits extracted text into overlapping token-bounded segments.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// charsPerToken is the rough character-per-token ratio used when whitespace
// tokenization is not representative of the text (e.g. CJK prose).
const charsPerToken = 4

// Chunker produces overlapping windows of at most maxTokens tokens each.
// Consecutive windows share exactly overlap tokens, except the final window,
// which may be shorter. Output order determines chunk ordinals.
type Chunker struct {
	maxTokens int
	overlap   int
}

// New creates a chunker. overlap must satisfy 0 <= overlap < maxTokens.
func New(maxTokens, overlap int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunker: max tokens must be positive, got %d", maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", maxTokens, overlap)
	}
	return &Chunker{maxTokens: maxTokens, overlap: overlap}, nil
}

// Chunk splits text into windows over its whitespace-delimited token stream.
// A text of maxTokens tokens or fewer yields a single chunk. When the token
// stream cannot bound window size (a single token wider than a whole window),
// chunking degrades to the same sliding window over characters; it never
// fails outright, since embedding cannot proceed on unchunked text.
func (c *Chunker) Chunk(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	for _, tok := range tokens {
		if len(tok) > c.maxTokens*charsPerToken {
			return c.chunkChars(text)
		}
	}
	if len(tokens) <= c.maxTokens {
		return []string{Preprocess(text)}
	}
	chunks := make([]string, 0, len(tokens)/(c.maxTokens-c.overlap)+1)
	start := 0
	for start < len(tokens) {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end >= len(tokens) {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// chunkChars applies the identical sliding window over runes, approximating
// tokens at charsPerToken characters each.
func (c *Chunker) chunkChars(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	maxChars := c.maxTokens * charsPerToken
	overlapChars := c.overlap * charsPerToken
	if len(runes) <= maxChars {
		return []string{string(runes)}
	}
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		if end >= len(runes) {
			break
		}
		start = end - overlapChars
	}
	return chunks
}

// Preprocess normalizes text for chunking and indexing (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
