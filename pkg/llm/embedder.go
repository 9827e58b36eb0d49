package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/tokens"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingClient is the provider call behind an Embedder. Both the ollama
// and openai langchaingo clients satisfy it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider       string // ollama or openai
	Model          string
	BaseURL        string
	APIKey         string
	MaxInputTokens int
	Timeout        time.Duration
	Concurrency    int     // parallel calls in EmbedChunks
	RateLimit      float64 // calls per second, 0 disables limiting
	Counter        tokens.Counter
	Logger         *zerolog.Logger
	Metrics        *metrics.Metrics
}

var openAIEmbeddingModels = map[string]bool{
	"text-embedding-3-small": true,
	"text-embedding-3-large": true,
	"text-embedding-ada-002": true,
}

// Embedder turns text into model-tagged vectors.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewEmbedderWithConfig builds an Embedder backed by the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	var client EmbeddingClient
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, types.Configf("failed to initialize ollama embedder: %v", err)
		}
		client = emb
	case "openai":
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		if !openAIEmbeddingModels[config.Model] {
			return nil, types.Configf("unknown openai embedding model %q", config.Model)
		}
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, types.Configf("failed to initialize openai embedder: %v", err)
		}
		client = emb
	default:
		return nil, types.Configf("unknown embedding provider %q", config.Provider)
	}

	return NewEmbedderWithClient(config, client)
}

// NewEmbedderWithClient wraps an existing provider client.
func NewEmbedderWithClient(config EmbedderConfig, client EmbeddingClient) (*Embedder, error) {
	if client == nil {
		return nil, types.Configf("embedding client is required")
	}
	if config.Model == "" {
		return nil, types.Configf("embedding model is required")
	}
	if config.MaxInputTokens == 0 {
		config.MaxInputTokens = 8191
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Counter == nil {
		config.Counter = tokens.ApproxCounter{}
	}

	e := &Embedder{
		config: config,
		client: client,
		log:    zerolog.Nop(),
	}
	if config.Logger != nil {
		e.log = *config.Logger
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return e, nil
}

func (e *Embedder) Model() string { return e.config.Model }

// Embed returns the embedding of text. Failures are *types.ProviderError
// classified as ErrContentTooLarge or ErrTransientProvider.
func (e *Embedder) Embed(ctx context.Context, text string) (models.Vector, error) {
	v, err := e.embed(ctx, text)
	e.config.Metrics.Embedding(err)
	return v, err
}

func (e *Embedder) embed(ctx context.Context, text string) (models.Vector, error) {
	if n := e.config.Counter.Count(text); n > e.config.MaxInputTokens {
		return models.Vector{}, e.fail(types.ErrContentTooLarge,
			fmt.Errorf("%d tokens exceeds budget of %d", n, e.config.MaxInputTokens))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return models.Vector{}, e.fail(types.ErrTransientProvider, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	embeddings, err := e.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return models.Vector{}, e.fail(classify(err), err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return models.Vector{}, e.fail(types.ErrTransientProvider, errors.New("no embedding returned"))
	}

	return models.Vector{Model: e.config.Model, Values: embeddings[0]}, nil
}

func (e *Embedder) fail(kind, err error) error {
	return &types.ProviderError{Provider: e.config.Provider, Op: "embed", Kind: kind, Err: err}
}

// classify maps a provider error onto the error taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"maximum context length", "context length", "too many tokens", "input is too long"} {
		if strings.Contains(msg, marker) {
			return types.ErrContentTooLarge
		}
	}
	return types.ErrTransientProvider
}

// BatchResult holds the outcome of embedding a set of chunks.
type BatchResult struct {
	Vectors map[int]models.Vector // keyed by chunk id
	Failed  []int                 // chunk ids, ascending
	Errors  map[int]error
}

// EmbedChunks embeds every chunk, continuing past individual failures.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) *BatchResult {
	res := &BatchResult{
		Vectors: make(map[int]models.Vector, len(chunks)),
		Errors:  make(map[int]error),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			v, err := e.Embed(gctx, chunk.Text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Warn().Err(err).Int("chunk", chunk.ID).Msg("chunk embedding failed")
				res.Failed = append(res.Failed, chunk.ID)
				res.Errors[chunk.ID] = err
				return nil
			}
			res.Vectors[chunk.ID] = v
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(res.Failed)
	return res
}
