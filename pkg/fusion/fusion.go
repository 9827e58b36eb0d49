// Package fusion composes the prompt sent to the chat model from the
// conversation history, the user's question and whatever course material
// the vector index and the lesson ranker can contribute.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/ranker"
	"github.com/xhad/tutor/pkg/tokens"
	"golang.org/x/sync/errgroup"
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error)
	QueryAllNamespaces(ctx context.Context, vector models.Vector, topK int) (*models.Match, error)
}

// Finder picks the corpus item closest to a query.
type Finder interface {
	FindMostSimilar(ctx context.Context, query string, corpus []models.CorpusItem) (*ranker.Ranked, error)
}

type OrchestratorConfig struct {
	MaxTurns         int
	MaxHistoryTokens int
	SourceTimeout    time.Duration // bound on each augmentation source
	TopK             int
	Counter          tokens.Counter
	Logger           *zerolog.Logger
	Metrics          *metrics.Metrics
}

// Request is one user message and the context it arrives with.
type Request struct {
	History    []models.Turn
	Query      string
	Namespace  string // empty searches every namespace
	Corpus     []models.CorpusItem
	Scope      string // corpus scope, used when Corpus is empty
	DeepSearch bool
}

// Result is the composed prompt plus what went into it.
type Result struct {
	Prompt     string
	History    []models.Turn
	Snippet    *models.Match
	Referenced []models.CorpusItem
}

type Orchestrator struct {
	embedder types.Embedder
	searcher Searcher
	finder   Finder
	corpus   types.CorpusProvider
	config   OrchestratorConfig
	log      zerolog.Logger
}

// NewWithConfig wires the augmentation sources. Any of searcher, finder and
// corpus may be nil, in which case that source never contributes.
func NewWithConfig(embedder types.Embedder, searcher Searcher, finder Finder, corpus types.CorpusProvider, config OrchestratorConfig) (*Orchestrator, error) {
	if searcher != nil && embedder == nil {
		return nil, types.Configf("vector search needs an embedder")
	}
	if config.MaxTurns == 0 {
		config.MaxTurns = 20
	}
	if config.MaxHistoryTokens == 0 {
		config.MaxHistoryTokens = 3000
	}
	if config.MaxTurns < 0 || config.MaxHistoryTokens < 0 {
		return nil, types.Configf("history bounds must not be negative")
	}
	if config.SourceTimeout <= 0 {
		config.SourceTimeout = 15 * time.Second
	}
	if config.TopK <= 0 {
		config.TopK = 1
	}
	if config.Counter == nil {
		config.Counter = tokens.ApproxCounter{}
	}

	o := &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		finder:   finder,
		corpus:   corpus,
		config:   config,
		log:      zerolog.Nop(),
	}
	if config.Logger != nil {
		o.log = *config.Logger
	}
	return o, nil
}

// ComposePrompt builds the outbound prompt. Augmentation failures are logged
// and dropped; only configuration errors and cancellation are returned.
func (o *Orchestrator) ComposePrompt(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, types.Configf("query is required")
	}

	res := &Result{History: o.boundHistory(req.History)}

	if req.DeepSearch {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			m, err := o.searchSnippet(gctx, query, req.Namespace)
			if err := o.settle("vector", err, m != nil); err != nil {
				return err
			}
			res.Snippet = m
			return nil
		})
		g.Go(func() error {
			r, err := o.findLesson(gctx, query, req.Corpus, req.Scope)
			if err := o.settle("ranker", err, r != nil); err != nil {
				return err
			}
			if r != nil {
				res.Referenced = []models.CorpusItem{r.Item}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res.Prompt = compose(res.History, res.Snippet, res.Referenced, query)
	return res, nil
}

// settle records the outcome of one source and decides whether its error is
// fatal to the request.
func (o *Orchestrator) settle(source string, err error, found bool) error {
	switch {
	case err == nil && found:
		o.config.Metrics.Augmentation(source, "ok")
		return nil
	case err == nil:
		o.config.Metrics.Augmentation(source, "empty")
		return nil
	}

	o.config.Metrics.Augmentation(source, "error")
	if errors.Is(err, types.ErrConfiguration) {
		return err
	}
	o.log.Warn().Err(err).Str("source", source).Msg("augmentation source unavailable")
	return nil
}

// searchSnippet returns the best indexed chunk for query, scoped to
// namespace when it is set. A nil match means nothing was found.
func (o *Orchestrator) searchSnippet(ctx context.Context, query, namespace string) (*models.Match, error) {
	if o.searcher == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.SourceTimeout)
	defer cancel()

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if namespace == "" {
		return o.searcher.QueryAllNamespaces(ctx, vec, o.config.TopK)
	}
	matches, err := o.searcher.Query(ctx, namespace, vec, o.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", namespace, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// findLesson ranks corpus against query. An empty corpus is loaded from the
// corpus provider for scope.
func (o *Orchestrator) findLesson(ctx context.Context, query string, corpus []models.CorpusItem, scope string) (*ranker.Ranked, error) {
	if o.finder == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.SourceTimeout)
	defer cancel()

	if len(corpus) == 0 && o.corpus != nil && scope != "" {
		var err error
		corpus, err = o.corpus.Corpus(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load corpus %s: %w", scope, err)
		}
	}
	if len(corpus) == 0 {
		return nil, nil
	}
	return o.finder.FindMostSimilar(ctx, query, corpus)
}

// boundHistory keeps the most recent turns that fit both MaxTurns and
// MaxHistoryTokens. The input slice is not modified.
func (o *Orchestrator) boundHistory(turns []models.Turn) []models.Turn {
	budget := o.config.MaxHistoryTokens
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		if len(turns)-i > o.config.MaxTurns {
			break
		}
		cost := o.config.Counter.Count(turns[i].Text)
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	out := make([]models.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

func compose(history []models.Turn, snippet *models.Match, referenced []models.CorpusItem, query string) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", speaker(t.Role), t.Text)
		}
		b.WriteString("\n")
	}

	if snippet != nil {
		if text := strings.TrimSpace(snippet.Text()); text != "" {
			fmt.Fprintf(&b, "Relevant course material (from %s):\n%s\n\n", SourceLabel(snippet), text)
		}
	}

	for _, item := range referenced {
		fmt.Fprintf(&b, "Related lesson: %s\n", item.Title)
		if item.Summary != "" {
			fmt.Fprintf(&b, "%s\n", item.Summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// SourceLabel describes where a snippet came from: its "source" metadata
// when present, otherwise its namespace.
func SourceLabel(m *models.Match) string {
	label := m.Namespace
	if s, ok := m.Metadata["source"].(string); ok && s != "" {
		label = s
	}
	if label == "" {
		label = "course index"
	}
	return label
}

func speaker(r models.Role) string {
	if r == models.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
