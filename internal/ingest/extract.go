package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/unicode"

	"docchat/internal/model"
	"docchat/internal/pkg/pdfextract"
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrEmptyText       = errors.New("no text could be extracted")
)

// Extract turns raw file bytes into plain text according to the document
// type. Blank output is reported as ErrEmptyText.
func Extract(docType model.DocumentType, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch docType {
	case model.DocumentTypePDF:
		text, err = pdfextract.ExtractText(data)
	case model.DocumentTypeTXT, model.DocumentTypeMD:
		text, err = decodeUTF8(data)
	case model.DocumentTypeHTML:
		text, err = htmlText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s text failed: %w", docType, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// decodeUTF8 replaces invalid byte sequences with U+FFFD.
func decodeUTF8(data []byte) (string, error) {
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// htmlText keeps the text nodes of an HTML document, joined by single
// spaces. Script and style contents are not text.
func htmlText(data []byte) (string, error) {
	decoded, err := decodeUTF8(data)
	if err != nil {
		return "", err
	}
	root, err := html.Parse(bytes.NewReader([]byte(decoded)))
	if err != nil {
		return "", err
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " "), nil
}
