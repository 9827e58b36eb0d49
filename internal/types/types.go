package types

import (
	"context"

	"github.com/xhad/tutor/internal/models"
)

// Core interfaces
type Embedder interface {
	Embed(ctx context.Context, text string) (models.Vector, error)
	Model() string
}

// VectorBackend is a namespaced nearest-neighbour store. Query results are
// ordered by descending score with ties broken by entry id ascending.
type VectorBackend interface {
	Upsert(ctx context.Context, namespace string, entries []models.Entry) error
	Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error)
	ListNamespaces(ctx context.Context) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// PageSource gives page-indexed access to the text of a paginated document.
type PageSource interface {
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
}

// FooterSource is implemented by sources that can extract the bottom
// fraction of a page themselves, e.g. from layout coordinates.
type FooterSource interface {
	FooterText(ctx context.Context, page int, fraction float64) (string, error)
}

// CorpusProvider supplies the rankable items for a scope, e.g. all lessons of a class.
type CorpusProvider interface {
	Corpus(ctx context.Context, scope string) ([]models.CorpusItem, error)
}

type Processor interface {
	Process(docs []models.Document) ([]models.ProcessedDocument, error)
}
