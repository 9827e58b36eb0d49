package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var providers = map[string]bool{"ollama": true, "openai": true}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...interface{}) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	if !providers[c.LLM.Provider] {
		add("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
		add("llm.base_url", "Ollama base URL is required")
	}
	if c.LLM.BaseURL != "" && !validHTTPURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid base URL")
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		add("llm.api_key", "api_key is required for openai")
	}
	if len(c.LLM.Models) == 0 {
		add("llm.models", "at least one model is required")
	}
	for i, m := range c.LLM.Models {
		if m.Name == "" {
			add(fmt.Sprintf("llm.models[%d].name", i), "name is required")
		}
		if m.MaxContext < 0 {
			add(fmt.Sprintf("llm.models[%d].max_context", i), "max_context must not be negative")
		}
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Embedding
	if !providers[c.Embedding.Provider] {
		add("embedding.provider", "unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		add("embedding.model", "model is required")
	}
	if c.Embedding.Concurrency < 1 {
		add("embedding.concurrency", "concurrency must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit", "rate_limit must not be negative")
	}

	// Database
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	}
	if !tableName.MatchString(c.Database.TableName) {
		add("database.table_name", "invalid table name %q", c.Database.TableName)
	}
	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}
	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Index
	if c.Index.Concurrency < 1 {
		add("index.concurrency", "concurrency must be positive")
	}
	if c.Index.TopK < 1 {
		add("index.top_k", "top_k must be positive")
	}

	// Processor
	if c.Processor.MinWords < 1 {
		add("processor.min_words", "min_words must be positive")
	}
	if c.Processor.MaxWords < c.Processor.MinWords {
		add("processor.max_words", "max_words must be at least min_words")
	}
	if c.Processor.ContextWindow < 0 {
		add("processor.context_window", "context_window must not be negative")
	}
	if c.Processor.Split != "paragraph" && c.Processor.Split != "none" {
		add("processor.split", "split must be paragraph or none")
	}

	// Resolver
	if c.Resolver.FooterFraction <= 0 || c.Resolver.FooterFraction > 1 {
		add("resolver.footer_fraction", "footer_fraction must be in (0, 1]")
	}
	if c.Resolver.MaxPages < 1 {
		add("resolver.max_pages", "max_pages must be positive")
	}
	if c.Resolver.SkipFromPage < 0 {
		add("resolver.skip_from_page", "skip_from_page must not be negative")
	}
	if c.Resolver.Mode != "continuous" && c.Resolver.Mode != "single_page" {
		add("resolver.mode", "mode must be continuous or single_page")
	}

	// Fusion
	if c.Fusion.MaxTurns < 0 {
		add("fusion.max_turns", "max_turns must not be negative")
	}
	if c.Fusion.MaxHistoryTokens < 0 {
		add("fusion.max_history_tokens", "max_history_tokens must not be negative")
	}

	// Source
	if c.Source.MaxDepth < 1 {
		add("source.max_depth", "max_depth must be positive")
	}
	if c.Source.RateLimit <= 0 {
		add("source.rate_limit", "rate_limit must be positive")
	}
	for _, ext := range c.Source.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("source.allowed_extensions", "invalid extension format: %s", ext)
		}
	}

	return errors
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
