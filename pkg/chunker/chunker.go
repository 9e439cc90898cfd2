// Package chunker splits book text into overlapping character windows that
// the extraction pipeline feeds to the model one at a time.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one window of the source text. ID is the zero-based position of
// the chunk within the book and is what relations reference as chunk_id.
type Chunk struct {
	ID        int
	Text      string
	CharStart int
	CharEnd   int
	Tokens    int
}

// Chunker produces fixed-size rune windows with a fixed overlap between
// consecutive windows.
type Chunker struct {
	chunkChars   int
	overlapChars int
	encoding     *tiktoken.Tiktoken
}

// NewChunker validates the window geometry and loads the token encoding
// used for per-chunk token counts.
func NewChunker(chunkChars, overlapChars int) (*Chunker, error) {
	if chunkChars <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkChars)
	}
	if overlapChars < 0 || overlapChars >= chunkChars {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkChars, overlapChars)
	}
	encoding, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return nil, fmt.Errorf("loading token encoding: %w", err)
	}
	return &Chunker{
		chunkChars:   chunkChars,
		overlapChars: overlapChars,
		encoding:     encoding,
	}, nil
}

// Normalize collapses the raw book text before chunking: carriage returns
// are dropped, blank-line paragraph breaks become single newlines, and
// surrounding whitespace is trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	for strings.Contains(text, "\n\n") {
		text = strings.ReplaceAll(text, "\n\n", "\n")
	}
	return strings.TrimSpace(text)
}

// Chunk slices the normalized text into windows. Offsets are rune indexes
// into the normalized text.
func (c *Chunker) Chunk(text string) []Chunk {
	chunks := split(text, c.chunkChars, c.overlapChars)
	for i := range chunks {
		chunks[i].Tokens = len(c.encoding.Encode(chunks[i].Text, nil, nil))
	}
	return chunks
}

// split does the windowing without token counts.
func split(text string, chunkChars, overlapChars int) []Chunk {
	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil
	}

	step := chunkChars - overlapChars
	chunks := []Chunk{}
	for start := 0; start < len(runes); start += step {
		end := start + chunkChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			ID:        len(chunks),
			Text:      string(runes[start:end]),
			CharStart: start,
			CharEnd:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
