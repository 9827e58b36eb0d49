// Package ingest runs the write path: pages are read, the page offset and
// table of contents are resolved, text is chunked and embedded, and the
// chunks are upserted into the vector index under one namespace.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/llm"
	"github.com/xhad/tutor/pkg/offset"
	"github.com/xhad/tutor/pkg/processor"
)

// BatchEmbedder embeds chunks and reports the ones that failed.
type BatchEmbedder interface {
	Model() string
	EmbedChunks(ctx context.Context, chunks []models.Chunk) *llm.BatchResult
}

// Writer is the write side of the vector index.
type Writer interface {
	Upsert(ctx context.Context, namespace string, entries []models.Entry) error
}

// Named is implemented by sources that can describe themselves, e.g. by
// file name or URL. The name is stored as each chunk's "source".
type Named interface {
	Name() string
}

type PipelineConfig struct {
	Chunking  processor.ProcessorConfig
	BatchSize int // chunks per embedding round
	// Progress is called after every embedding round with the number of
	// chunks processed so far.
	Progress func(done, total int)
	Logger   *zerolog.Logger
}

type Pipeline struct {
	processor processor.Processor
	resolver  *offset.Resolver
	embedder  BatchEmbedder
	writer    Writer
	config    PipelineConfig
	log       zerolog.Logger
}

// Report summarises one ingest run.
type Report struct {
	Namespace string
	Source    string
	Pages     int
	Offset    int
	Toc       *models.Toc
	Chunks    int
	Indexed   int
	Failed    []int // chunk ids that could not be embedded
}

func NewWithConfig(resolver *offset.Resolver, embedder BatchEmbedder, writer Writer, config PipelineConfig) (*Pipeline, error) {
	if resolver == nil || embedder == nil || writer == nil {
		return nil, types.Configf("ingest needs a resolver, an embedder and an index")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	proc, err := processor.NewWithConfig(config.Chunking)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		processor: proc,
		resolver:  resolver,
		embedder:  embedder,
		writer:    writer,
		config:    config,
		log:       zerolog.Nop(),
	}
	if config.Logger != nil {
		p.log = *config.Logger
	}
	return p, nil
}

// Ingest indexes src under namespace. Chunks that fail to embed are skipped
// and listed in the report; a failed upsert aborts the run.
func (p *Pipeline) Ingest(ctx context.Context, namespace string, src types.PageSource) (*Report, error) {
	if namespace == "" {
		return nil, types.Configf("namespace is required")
	}

	report := &Report{Namespace: namespace, Source: namespace, Pages: src.PageCount()}
	if n, ok := src.(Named); ok && n.Name() != "" {
		report.Source = n.Name()
	}
	log := p.log.With().Str("namespace", namespace).Str("source", report.Source).Logger()

	var err error
	if report.Offset, err = p.resolver.InferOffset(ctx, src); err != nil {
		return nil, fmt.Errorf("infer page offset: %w", err)
	}
	if report.Toc, err = p.resolver.ExtractToc(ctx, src); err != nil {
		return nil, fmt.Errorf("extract table of contents: %w", err)
	}
	log.Info().Int("pages", report.Pages).Int("offset", report.Offset).Int("toc_entries", report.Toc.Len()).Msg("document resolved")

	text, err := readAll(ctx, src)
	if err != nil {
		return nil, err
	}
	processed, err := p.processor.Process([]models.Document{{ID: namespace, URL: report.Source, Content: text}})
	if err != nil {
		return nil, err
	}
	chunks := processed[0].Chunks
	report.Chunks = len(chunks)

	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		res := p.embedder.EmbedChunks(ctx, batch)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Failed = append(report.Failed, res.Failed...)

		entries := make([]models.Entry, 0, len(res.Vectors))
		for _, c := range batch {
			v, ok := res.Vectors[c.ID]
			if !ok {
				continue
			}
			entries = append(entries, models.Entry{
				ID:     strconv.Itoa(c.ID),
				Vector: v,
				Metadata: map[string]interface{}{
					"text":        c.Text,
					"source":      report.Source,
					"chunk":       c.ID,
					"page_offset": report.Offset,
				},
			})
		}
		if len(entries) > 0 {
			if err := p.writer.Upsert(ctx, namespace, entries); err != nil {
				return nil, fmt.Errorf("upsert chunks %d-%d: %w", start, end-1, err)
			}
		}
		report.Indexed += len(entries)

		if p.config.Progress != nil {
			p.config.Progress(end, len(chunks))
		}
	}

	sort.Ints(report.Failed)
	if len(report.Failed) > 0 {
		log.Warn().Ints("failed", report.Failed).Msg("some chunks were not indexed")
	}
	log.Info().Int("chunks", report.Chunks).Int("indexed", report.Indexed).Str("model", p.embedder.Model()).Msg("ingest finished")
	return report, nil
}

func readAll(ctx context.Context, src types.PageSource) (string, error) {
	pages := make([]string, 0, src.PageCount())
	for i := 0; i < src.PageCount(); i++ {
		text, err := src.PageText(ctx, i)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
