package processor

import (
	"strings"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
)

type ProcessorConfig struct {
	MinWords      int
	MaxWords      int
	ContextWindow int
	UseSeparators bool
	// CollapseSpaces squeezes runs of spaces and tabs inside each line
	// before chunking. Line breaks are kept for paragraph splitting.
	CollapseSpaces bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (Processor, error) {
	if config.MinWords == 0 {
		config.MinWords = 150
	}
	if config.MaxWords == 0 {
		config.MaxWords = 300
	}
	if err := validate(config.MinWords, config.MaxWords, config.ContextWindow); err != nil {
		return Processor{}, err
	}

	return Processor{
		config: config,
	}, nil
}

func (p *Processor) Process(docs []models.Document) ([]models.ProcessedDocument, error) {
	var processed []models.ProcessedDocument

	for _, doc := range docs {
		content := doc.Content
		if p.config.CollapseSpaces {
			content = cleanText(content)
		}

		chunks, err := Chunk(content, p.config.MinWords, p.config.MaxWords,
			p.config.UseSeparators, p.config.ContextWindow)
		if err != nil {
			return nil, err
		}

		processed = append(processed, models.ProcessedDocument{
			Document: doc,
			Chunks:   chunks,
		})
	}

	return processed, nil
}

// Chunk splits text into word-bounded chunks.
//
// Words accumulate in a buffer paragraph by paragraph. When the buffer holds
// at least minWords it becomes a chunk; if it holds more than maxWords it is
// cut at maxWords and the words past the cut are discarded. Each chunk is
// padded with up to contextWindow words from the end of the previous chunk
// and from the start of the next paragraph. A final buffer shorter than
// minWords is dropped.
func Chunk(text string, minWords, maxWords int, useSeparators bool, contextWindow int) ([]models.Chunk, error) {
	if err := validate(minWords, maxWords, contextWindow); err != nil {
		return nil, err
	}

	paragraphs := splitParagraphs(text, useSeparators)

	var (
		chunks   []models.Chunk
		buffer   []string
		previous []string
	)

	emit := func(core []string, next []string) {
		words := make([]string, 0, len(core)+2*contextWindow)
		words = append(words, tail(previous, contextWindow)...)
		words = append(words, core...)
		words = append(words, head(next, contextWindow)...)

		chunks = append(chunks, models.Chunk{
			ID:        len(chunks),
			Text:      strings.Join(words, " "),
			WordCount: len(words),
		})
		previous = core
	}

	for i, para := range paragraphs {
		buffer = append(buffer, para...)
		if len(buffer) < minWords {
			continue
		}
		if len(buffer) > maxWords {
			buffer = buffer[:maxWords]
		}

		var next []string
		if i+1 < len(paragraphs) {
			next = paragraphs[i+1]
		}
		emit(buffer, next)
		buffer = nil
	}

	// Whatever is left in buffer is below minWords and is dropped.
	return chunks, nil
}

func validate(minWords, maxWords, contextWindow int) error {
	if minWords < 1 {
		return types.Configf("min_words must be positive, got %d", minWords)
	}
	if maxWords < minWords {
		return types.Configf("max_words (%d) must be at least min_words (%d)", maxWords, minWords)
	}
	if contextWindow < 0 {
		return types.Configf("context_window must be non-negative, got %d", contextWindow)
	}
	return nil
}

// splitParagraphs returns the words of each non-empty paragraph.
func splitParagraphs(text string, useSeparators bool) [][]string {
	var raw []string
	if useSeparators {
		raw = strings.Split(text, "\n")
	} else {
		raw = []string{text}
	}

	paragraphs := make([][]string, 0, len(raw))
	for _, r := range raw {
		if words := strings.Fields(r); len(words) > 0 {
			paragraphs = append(paragraphs, words)
		}
	}
	return paragraphs
}

func tail(words []string, n int) []string {
	if n >= len(words) {
		return words
	}
	return words[len(words)-n:]
}

func head(words []string, n int) []string {
	if n >= len(words) {
		return words
	}
	return words[:n]
}

func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		// Replace multiple spaces with single space
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}
