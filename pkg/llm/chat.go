package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/tokens"
)

// ModelTier is one step of the fallback chain.
type ModelTier struct {
	Model      string
	MaxContext int // prompt token budget; 0 means unbounded
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string // ollama or openai
	Tiers          []ModelTier
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxToolRounds  int
	Tools          *Registry
	Counter        tokens.Counter
	Logger         *zerolog.Logger
	Metrics        *metrics.Metrics
}

// ModelFactory creates the client for a model name.
type ModelFactory func(model string) (llms.Model, error)

// Attempt records one try against a model tier.
type Attempt struct {
	Model   string
	Skipped bool // prompt did not fit the tier's budget
	Err     error
}

// Reply is the answer of a chat call.
type Reply struct {
	Content  string
	Model    string
	Attempts []Attempt
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config  ChatConfig
	factory ModelFactory
	log     zerolog.Logger

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	var factory ModelFactory
	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		factory = func(model string) (llms.Model, error) {
			return ollama.New(ollama.WithModel(model), ollama.WithServerURL(config.BaseURL))
		}
	case "openai":
		factory = func(model string) (llms.Model, error) {
			opts := []openai.Option{openai.WithModel(model)}
			if config.APIKey != "" {
				opts = append(opts, openai.WithToken(config.APIKey))
			}
			if config.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(config.BaseURL))
			}
			return openai.New(opts...)
		}
	default:
		return nil, types.Configf("unknown chat provider %q", config.Provider)
	}

	return NewWithFactory(config, factory)
}

// NewWithFactory creates a ChatEngine whose model clients come from factory.
func NewWithFactory(config ChatConfig, factory ModelFactory) (*ChatEngine, error) {
	if len(config.Tiers) == 0 {
		config.Tiers = []ModelTier{{Model: "mistral"}}
	}
	for _, tier := range config.Tiers {
		if tier.Model == "" {
			return nil, types.Configf("model tier without a model name")
		}
		if tier.MaxContext < 0 {
			return nil, types.Configf("model %s: max context cannot be negative", tier.Model)
		}
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, types.Configf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, types.Configf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful teaching assistant. Answer questions using the course material provided with the question when it is relevant."
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxToolRounds == 0 {
		config.MaxToolRounds = 3
	}
	if config.Counter == nil {
		config.Counter = tokens.ApproxCounter{}
	}

	ce := &ChatEngine{
		config:  config,
		factory: factory,
		log:     zerolog.Nop(),
		models:  make(map[string]llms.Model),
	}
	if config.Logger != nil {
		ce.log = *config.Logger
	}
	return ce, nil
}

func (ce *ChatEngine) model(name string) (llms.Model, error) {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	if m, ok := ce.models[name]; ok {
		return m, nil
	}
	m, err := ce.factory(name)
	if err != nil {
		return nil, types.Configf("failed to initialize LLM %s: %v", name, err)
	}
	ce.models[name] = m
	return m, nil
}

// Chat answers prompt, walking the model tiers in order. A tier is skipped
// when the prompt exceeds its budget and abandoned when the provider reports
// a context-length failure; any other failure ends the call.
func (ce *ChatEngine) Chat(ctx context.Context, prompt string) (*Reply, error) {
	reply := &Reply{}
	needed := ce.config.Counter.Count(ce.config.SystemTemplate) + ce.config.Counter.Count(prompt)

	for _, tier := range ce.config.Tiers {
		if tier.MaxContext > 0 && needed > tier.MaxContext {
			reply.Attempts = append(reply.Attempts, Attempt{Model: tier.Model, Skipped: true, Err: types.ErrContentTooLarge})
			continue
		}

		content, err := ce.complete(ctx, tier.Model, prompt)
		reply.Attempts = append(reply.Attempts, Attempt{Model: tier.Model, Err: err})
		ce.config.Metrics.ChatAttempt(tier.Model, err)

		if err == nil {
			reply.Content = content
			reply.Model = tier.Model
			return reply, nil
		}
		if !errors.Is(err, types.ErrContentTooLarge) {
			return reply, fmt.Errorf("chat error: %w", err)
		}
		ce.log.Warn().Str("model", tier.Model).Err(err).Msg("prompt too large for model, trying next tier")
	}

	return reply, &types.ProviderError{
		Provider: ce.config.Provider,
		Op:       "chat",
		Kind:     types.ErrContentTooLarge,
		Err:      fmt.Errorf("no model tier accepts a %d token prompt", needed),
	}
}

func (ce *ChatEngine) complete(ctx context.Context, modelName, prompt string) (string, error) {
	model, err := ce.model(modelName)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	tools := ce.config.Tools
	if tools != nil && tools.Len() > 0 {
		opts = append(opts, llms.WithTools(tools.Definitions()))
	}

	for round := 0; ; round++ {
		response, err := model.GenerateContent(ctx, content, opts...)
		if err != nil {
			return "", ce.fail(err)
		}
		if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
			return "", ce.fail(errors.New("no response from LLM"))
		}

		choice := response.Choices[0]
		if len(choice.ToolCalls) == 0 || tools == nil || round >= ce.config.MaxToolRounds {
			return choice.Content, nil
		}

		assistant := llms.TextParts(llms.ChatMessageTypeAI, choice.Content)
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		content = append(content, assistant)

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			out := tools.Execute(ctx, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
			content = append(content, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    out,
					},
				},
			})
		}
	}
}

func (ce *ChatEngine) fail(err error) error {
	return &types.ProviderError{Provider: ce.config.Provider, Op: "chat", Kind: classify(err), Err: err}
}

// ChatStream streams the answer of the first tier that fits the prompt.
// Errors after the stream has started are delivered as an "Error: " chunk.
func (ce *ChatEngine) ChatStream(ctx context.Context, prompt string) (<-chan string, error) {
	needed := ce.config.Counter.Count(ce.config.SystemTemplate) + ce.config.Counter.Count(prompt)

	var tier *ModelTier
	for i := range ce.config.Tiers {
		t := ce.config.Tiers[i]
		if t.MaxContext == 0 || needed <= t.MaxContext {
			tier = &t
			break
		}
	}
	if tier == nil {
		return nil, ce.fail(fmt.Errorf("maximum context length exceeded by %d token prompt", needed))
	}

	model, err := ce.model(tier.Model)
	if err != nil {
		return nil, err
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		emit := func(chunk string) bool {
			select {
			case resultChan <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		streamed := false
		response, err := model.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				streamed = true
				if !emit(string(chunk)) {
					return ctx.Err()
				}
				return nil
			}),
		)
		ce.config.Metrics.ChatAttempt(tier.Model, err)
		if err != nil {
			emit(fmt.Sprintf("Error: %v", err))
			return
		}

		// Providers that ignore the streaming callback return the whole answer.
		if !streamed && response != nil {
			for _, choice := range response.Choices {
				if choice != nil && choice.Content != "" {
					if !emit(choice.Content) {
						return
					}
				}
			}
		}
	}()

	return resultChan, nil
}
