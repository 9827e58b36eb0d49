package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/logger"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/config"
	"github.com/xhad/tutor/pkg/fusion"
	"github.com/xhad/tutor/pkg/index"
	"github.com/xhad/tutor/pkg/ingest"
	"github.com/xhad/tutor/pkg/llm"
	"github.com/xhad/tutor/pkg/offset"
	"github.com/xhad/tutor/pkg/processor"
	"github.com/xhad/tutor/pkg/ranker"
	"github.com/xhad/tutor/pkg/source"
	"github.com/xhad/tutor/pkg/store"
	"github.com/xhad/tutor/pkg/tokens"
)

// app holds the components shared by all commands.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	counter  tokens.Counter
	embedder *llm.Embedder
	index    *index.Index
	close    func()
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, types.Configf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	a := &app{
		cfg:      cfg,
		log:      logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}),
		registry: prometheus.NewRegistry(),
		counter:  tokens.NewCounter(),
		close:    func() {},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:       cfg.Embedding.Provider,
		Model:          cfg.Embedding.Model,
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		MaxInputTokens: cfg.Embedding.MaxInputTokens,
		Timeout:        cfg.Embedding.Timeout,
		Concurrency:    cfg.Embedding.Concurrency,
		RateLimit:      cfg.Embedding.RateLimit,
		Counter:        a.counter,
		Logger:         &a.log,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var backend types.VectorBackend
	if cfg.Database.URL != "" {
		pg, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
			IVFLists:   cfg.Database.IVFLists,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		backend = pg
		a.close = pg.Close
	} else {
		a.log.Warn().Msg("no database configured, vectors are kept in memory for this process only")
		backend = store.NewMemory()
	}

	a.index, err = index.NewWithConfig(backend, index.IndexConfig{
		Concurrency:      cfg.Index.Concurrency,
		NamespaceTimeout: cfg.Index.NamespaceTimeout,
		DefaultTopK:      cfg.Index.TopK,
		Logger:           &a.log,
		Metrics:          a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) resolver() (*offset.Resolver, error) {
	mode := offset.Continuous
	if a.cfg.Resolver.Mode == "single_page" {
		mode = offset.SinglePage
	}
	return offset.NewWithConfig(offset.ResolverConfig{
		FooterFraction: a.cfg.Resolver.FooterFraction,
		MaxPages:       a.cfg.Resolver.MaxPages,
		SkipFromPage:   a.cfg.Resolver.SkipFromPage,
		Separators:     a.cfg.Resolver.Separators,
		Mode:           mode,
		Logger:         &a.log,
	})
}

func (a *app) pipeline(progress func(done, total int)) (*ingest.Pipeline, error) {
	resolver, err := a.resolver()
	if err != nil {
		return nil, err
	}
	return ingest.NewWithConfig(resolver, a.embedder, a.index, ingest.PipelineConfig{
		Chunking: processor.ProcessorConfig{
			MinWords:       a.cfg.Processor.MinWords,
			MaxWords:       a.cfg.Processor.MaxWords,
			ContextWindow:  a.cfg.Processor.ContextWindow,
			UseSeparators:  a.cfg.Processor.Split == "paragraph",
			CollapseSpaces: true,
		},
		BatchSize: a.cfg.Processor.BatchSize,
		Progress:  progress,
		Logger:    &a.log,
	})
}

func (a *app) webSource(baseURL string, onProgress func(url string)) (*source.WebSource, error) {
	return source.NewWeb(source.WebConfig{
		BaseURL:           baseURL,
		MaxDepth:          a.cfg.Source.MaxDepth,
		MaxPages:          a.cfg.Source.MaxPages,
		RateLimit:         a.cfg.Source.RateLimit,
		IgnorePatterns:    a.cfg.Source.IgnorePatterns,
		AllowedExtensions: a.cfg.Source.AllowedExtensions,
		OnProgress:        onProgress,
		Logger:            &a.log,
	})
}

// loadLessons reads the lesson corpus at path and settles the scope chat
// requests rank against. An empty scope falls back to the file's only
// scope; a file with several scopes needs one chosen.
func loadLessons(path, scope string) (*source.LessonFile, string, error) {
	if path == "" {
		return nil, scope, nil
	}
	lessons, err := source.LoadLessons(path)
	if err != nil {
		return nil, "", err
	}
	if scope != "" {
		return lessons, scope, nil
	}

	scopes := lessons.Scopes()
	switch len(scopes) {
	case 0:
		return nil, "", types.Configf("%s defines no lessons", path)
	case 1:
		return lessons, scopes[0], nil
	default:
		return nil, "", types.Configf("%s defines several scopes (%s), choose one with --scope", path, strings.Join(scopes, ", "))
	}
}

// assistant builds the prompt orchestrator and a chat engine that can call
// the retrieval tools. lessons may be nil.
func (a *app) assistant(lessons *source.LessonFile) (*fusion.Orchestrator, *llm.ChatEngine, error) {
	var corpus types.CorpusProvider
	if lessons != nil {
		corpus = lessons
	}

	orch, err := fusion.NewWithConfig(a.embedder, a.index, ranker.New(a.embedder, nil), corpus, fusion.OrchestratorConfig{
		MaxTurns:         a.cfg.Fusion.MaxTurns,
		MaxHistoryTokens: a.cfg.Fusion.MaxHistoryTokens,
		SourceTimeout:    a.cfg.Fusion.SourceTimeout,
		Counter:          a.counter,
		Logger:           &a.log,
		Metrics:          a.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	tools := llm.NewRegistry()
	if err := orch.RegisterTools(tools); err != nil {
		return nil, nil, err
	}

	tiers := make([]llm.ModelTier, 0, len(a.cfg.LLM.Models))
	for _, m := range a.cfg.LLM.Models {
		tiers = append(tiers, llm.ModelTier{Model: m.Name, MaxContext: m.MaxContext})
	}
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:      a.cfg.LLM.Provider,
		Tiers:         tiers,
		Temperature:   a.cfg.LLM.Temperature,
		MaxTokens:     a.cfg.LLM.MaxTokens,
		BaseURL:       a.cfg.LLM.BaseURL,
		APIKey:        a.cfg.LLM.APIKey,
		Timeout:       a.cfg.LLM.Timeout,
		MaxToolRounds: a.cfg.LLM.MaxToolRounds,
		Tools:         tools,
		Counter:       a.counter,
		Logger:        &a.log,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	return orch, chat, nil
}
