package ingest

import (
	"context"
	"strings"

	"docchat/internal/llm"
)

const (
	DefaultSummaryChunks   = 10
	DefaultSummaryMaxChars = 8000
	maxTitleRunes          = 200
	fallbackPreviewRunes   = 300
)

// MetadataGenerator produces title, description and summary for a sample of
// document text.
type MetadataGenerator interface {
	GenerateMetadata(ctx context.Context, sample string) (llm.DocumentMetadata, error)
}

// SampleChunks picks at most budget chunks: all of them when they fit,
// otherwise a slice from the start, one from the middle and one from the end
// in a 40/30/30 split, each at least one chunk.
func SampleChunks(chunks []string, budget int) []string {
	total := len(chunks)
	if budget <= 0 {
		budget = DefaultSummaryChunks
	}
	if total <= budget {
		return chunks
	}

	start := max(1, budget*4/10)
	middle := max(1, budget*3/10)
	end := max(1, budget-start-middle)

	midStart := (total - middle) / 2
	sample := make([]string, 0, start+middle+end)
	sample = append(sample, chunks[:start]...)
	sample = append(sample, chunks[midStart:midStart+middle]...)
	sample = append(sample, chunks[total-end:]...)
	return sample
}

// BuildSample joins the sampled chunks with blank lines and caps the result.
func BuildSample(chunks []string, budget, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}
	combined := strings.Join(SampleChunks(chunks, budget), "\n\n")
	return truncateRunes(combined, maxChars, "...")
}

// resolveMetadata calls the generator and repairs its output. A generator
// failure never fails ingestion; a preview-based fallback is used instead.
func resolveMetadata(ctx context.Context, gen MetadataGenerator, currentTitle string, chunks []string, budget, maxChars int) (llm.DocumentMetadata, error) {
	if len(chunks) == 0 {
		return llm.DocumentMetadata{
			Title:       currentTitle,
			Description: "No content available.",
			Summary:     "No content available for summary.",
		}, nil
	}

	meta, err := gen.GenerateMetadata(ctx, BuildSample(chunks, budget, maxChars))
	if err != nil {
		return fallbackMetadata(currentTitle, chunks[0]), err
	}

	if strings.TrimSpace(meta.Title) == "" {
		meta.Title = currentTitle
	}
	if strings.TrimSpace(meta.Description) == "" {
		meta.Description = "Description unavailable."
	}
	if strings.TrimSpace(meta.Summary) == "" {
		meta.Summary = "Summary unavailable."
	}
	meta.Title = truncateRunes(strings.TrimSpace(meta.Title), maxTitleRunes, "")
	return meta, nil
}

func fallbackMetadata(currentTitle, firstChunk string) llm.DocumentMetadata {
	preview := truncateRunes(firstChunk, fallbackPreviewRunes, "")
	return llm.DocumentMetadata{
		Title:       truncateRunes(currentTitle, maxTitleRunes, ""),
		Description: "Metadata generation failed. Document preview: " + truncateRunes(preview, 100, "") + "...",
		Summary:     "Metadata generation failed. Preview: " + preview + "...",
	}
}

func truncateRunes(s string, n int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}
