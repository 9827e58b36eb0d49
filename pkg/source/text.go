// Package source provides page sources for ingestion.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PageBreak separates pages in pdftotext output.
const PageBreak = "\f"

// TextSource is a document held as plain text, one page per form feed.
type TextSource struct {
	name  string
	pages []string
}

func NewText(name, text string) *TextSource {
	pages := strings.Split(text, PageBreak)
	// pdftotext terminates the last page with a form feed too.
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return &TextSource{name: name, pages: pages}
}

// LoadText reads a text file, e.g. the output of `pdftotext -layout`.
func LoadText(path string) (*TextSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return NewText(filepath.Base(path), string(data)), nil
}

func (s *TextSource) Name() string { return s.name }

func (s *TextSource) PageCount() int { return len(s.pages) }

func (s *TextSource) PageText(ctx context.Context, page int) (string, error) {
	if page < 0 || page >= len(s.pages) {
		return "", fmt.Errorf("page %d out of range [0, %d)", page, len(s.pages))
	}
	return s.pages[page], nil
}
