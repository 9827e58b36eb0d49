package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ModelTier struct {
	Name       string `yaml:"name"`
	MaxContext int    `yaml:"max_context"`
}

type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Models        []ModelTier   `yaml:"models"` // tried in order
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	Timeout       time.Duration `yaml:"timeout"`
	Streaming     bool          `yaml:"streaming"`
}

type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	MaxInputTokens int           `yaml:"max_input_tokens"`
	Concurrency    int           `yaml:"concurrency"`
	RateLimit      float64       `yaml:"rate_limit"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the vector backend. An empty URL keeps vectors
// in memory.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
	IVFLists  int    `yaml:"ivf_lists"`
}

type IndexConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	NamespaceTimeout time.Duration `yaml:"namespace_timeout"`
	TopK             int           `yaml:"top_k"`
}

type ProcessorConfig struct {
	MinWords      int    `yaml:"min_words"`
	MaxWords      int    `yaml:"max_words"`
	ContextWindow int    `yaml:"context_window"`
	Split         string `yaml:"split"` // paragraph or none
	BatchSize     int    `yaml:"batch_size"`
}

type ResolverConfig struct {
	FooterFraction float64 `yaml:"footer_fraction"`
	MaxPages       int     `yaml:"max_pages"`
	SkipFromPage   int     `yaml:"skip_from_page"`
	Separators     string  `yaml:"separators"`
	Mode           string  `yaml:"mode"` // continuous or single_page
}

type FusionConfig struct {
	MaxTurns         int           `yaml:"max_turns"`
	MaxHistoryTokens int           `yaml:"max_history_tokens"`
	SourceTimeout    time.Duration `yaml:"source_timeout"`
	DeepSearch       bool          `yaml:"deep_search"`
}

type SourceConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	MaxPages          int      `yaml:"max_pages"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Source    SourceConfig    `yaml:"source"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig reads path, or the first config file found in the default
// locations when path is empty. Variables from a .env file in the working
// directory are loaded first and never override the real environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/tutor/config.yaml"),
			"/etc/tutor/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if len(config.LLM.Models) == 0 {
		config.LLM.Models = []ModelTier{{Name: "mistral", MaxContext: 8192}}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxToolRounds == 0 {
		config.LLM.MaxToolRounds = 3
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 2 * time.Minute
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = config.LLM.Provider
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.APIKey == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == "openai" {
			config.Embedding.Model = "text-embedding-3-small"
		} else {
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.MaxInputTokens == 0 {
		config.Embedding.MaxInputTokens = 8191
	}
	if config.Embedding.Concurrency == 0 {
		config.Embedding.Concurrency = 4
	}
	if config.Embedding.Timeout == 0 {
		config.Embedding.Timeout = 30 * time.Second
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "course_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.IVFLists == 0 {
		config.Database.IVFLists = 100
	}

	if config.Index.Concurrency == 0 {
		config.Index.Concurrency = 10
	}
	if config.Index.NamespaceTimeout == 0 {
		config.Index.NamespaceTimeout = 10 * time.Second
	}
	if config.Index.TopK == 0 {
		config.Index.TopK = 5
	}

	if config.Processor.MinWords == 0 {
		config.Processor.MinWords = 150
	}
	if config.Processor.MaxWords == 0 {
		config.Processor.MaxWords = 300
	}
	if config.Processor.Split == "" {
		config.Processor.Split = "paragraph"
	}
	if config.Processor.BatchSize == 0 {
		config.Processor.BatchSize = 32
	}

	if config.Resolver.FooterFraction == 0 {
		config.Resolver.FooterFraction = 0.09
	}
	if config.Resolver.MaxPages == 0 {
		config.Resolver.MaxPages = 20
	}
	if config.Resolver.Mode == "" {
		config.Resolver.Mode = "continuous"
	}

	if config.Fusion.MaxTurns == 0 {
		config.Fusion.MaxTurns = 20
	}
	if config.Fusion.MaxHistoryTokens == 0 {
		config.Fusion.MaxHistoryTokens = 3000
	}
	if config.Fusion.SourceTimeout == 0 {
		config.Fusion.SourceTimeout = 15 * time.Second
	}

	if config.Source.MaxDepth == 0 {
		config.Source.MaxDepth = 3
	}
	if config.Source.MaxPages == 0 {
		config.Source.MaxPages = 200
	}
	if config.Source.RateLimit == 0 {
		config.Source.RateLimit = 2.0
	}
	if len(config.Source.AllowedExtensions) == 0 {
		config.Source.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
		config.Embedding.APIKey = key
	}
	if level := os.Getenv("TUTOR_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
