package app

import "strings"

const (
	minTitleWords  = 4
	maxTitleWords  = 7
	maxTitleLength = 255
	defaultTitle   = "New chat"
)

// fallbackTitle is the first words of the message, or a fixed title for
// blank content.
func fallbackTitle(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return defaultTitle
	}
	return strings.Join(words[:min(len(words), maxTitleWords)], " ")
}

// normalizeTitle collapses whitespace, drops one trailing sentence mark and
// keeps the title between 4 and 7 words, padding from fallback when short.
func normalizeTitle(raw, fallback string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	if cleaned == "" {
		cleaned = fallback
	}
	if n := len(cleaned); n > 0 && strings.IndexByte(".!?", cleaned[n-1]) >= 0 {
		cleaned = cleaned[:n-1]
	}

	words := strings.Fields(cleaned)
	switch {
	case len(words) > maxTitleWords:
		words = words[:maxTitleWords]
	case len(words) < minTitleWords && fallback != "":
		need := minTitleWords - len(words)
		fb := strings.Fields(fallback)
		words = append(words, fb[:min(need, len(fb))]...)
	}
	return truncate(strings.Join(words, " "), maxTitleLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
