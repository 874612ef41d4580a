package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 400
)

var ErrNoChunks = errors.New("text produced no chunks")

// Splitter cuts text into overlapping pieces.
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// NewRecursiveSplitter splits on paragraph, line, then word boundaries,
// measuring size in characters.
func NewRecursiveSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
}

// Chunk splits text and drops pieces that are blank after trimming.
func Chunk(splitter Splitter, text string) ([]string, error) {
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text failed: %w", err)
	}
	chunks := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}
