// Package fakes holds deterministic test doubles for the provider interfaces.
package fakes

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
)

// KeywordEmbedder embeds text as counts of vocabulary stems. Words match a
// stem by prefix, so "derivative" and "derivatives" both count for "deriv".
type KeywordEmbedder struct {
	Name  string
	Vocab []string
	Err   error

	mu    sync.Mutex
	Calls []string
}

func NewKeywordEmbedder(vocab ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Name: "keyword", Vocab: vocab}
}

func (e *KeywordEmbedder) Model() string { return e.Name }

func (e *KeywordEmbedder) Embed(ctx context.Context, text string) (models.Vector, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, text)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.Vector{}, err
	}
	if e.Err != nil {
		return models.Vector{}, e.Err
	}

	values := make([]float32, len(e.Vocab))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		for i, stem := range e.Vocab {
			if strings.HasPrefix(w, stem) {
				values[i]++
			}
		}
	}
	return models.Vector{Model: e.Name, Values: values}, nil
}

func (e *KeywordEmbedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Backend wraps a VectorBackend and injects failures per namespace.
type Backend struct {
	types.VectorBackend

	mu      sync.Mutex
	Failing map[string]error
	Block   map[string]bool // namespaces whose queries wait for ctx cancellation
	ListErr error
	Queried []string
}

func (b *Backend) Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error) {
	b.mu.Lock()
	b.Queried = append(b.Queried, namespace)
	err := b.Failing[namespace]
	block := b.Block[namespace]
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return b.VectorBackend.Query(ctx, namespace, vector, topK)
}

func (b *Backend) ListNamespaces(ctx context.Context) ([]string, error) {
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	return b.VectorBackend.ListNamespaces(ctx)
}

// ErrUnavailable is a stand-in for a provider outage.
var ErrUnavailable = &types.ProviderError{
	Provider: "fake",
	Op:       "query",
	Kind:     types.ErrTransientProvider,
	Err:      errors.New("service unavailable"),
}

// Pages is an in-memory PageSource.
type Pages []string

func (p Pages) PageCount() int { return len(p) }

func (p Pages) PageText(ctx context.Context, page int) (string, error) {
	if page < 0 || page >= len(p) {
		return "", errors.New("page out of range")
	}
	return p[page], nil
}
