package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/llm"
	"github.com/xhad/tutor/pkg/tokens"
)

// scriptedModel replays responses and records the messages it was sent.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	err       error
	calls     [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "done"}}}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func answer(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func factoryFor(models map[string]*scriptedModel) llm.ModelFactory {
	return func(name string) (llms.Model, error) {
		m, ok := models[name]
		if !ok {
			return nil, errors.New("no such model")
		}
		return m, nil
	}
}

func TestNewWithConfig(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Tiers:       []llm.ModelTier{{Model: "mistral"}},
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	})
	assert.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfig_Invalid(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Provider: "bard"})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = llm.NewWithFactory(llm.ChatConfig{Temperature: 3}, factoryFor(nil))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestChat_FirstTierAnswers(t *testing.T) {
	small := &scriptedModel{responses: []*llms.ContentResponse{answer("use the power rule")}}
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "small", MaxContext: 4000}, {Model: "large", MaxContext: 128000}},
	}, factoryFor(map[string]*scriptedModel{"small": small}))
	require.NoError(t, err)

	reply, err := engine.Chat(context.Background(), "how do I compute a derivative")
	require.NoError(t, err)
	assert.Equal(t, "use the power rule", reply.Content)
	assert.Equal(t, "small", reply.Model)
	assert.Equal(t, []llm.Attempt{{Model: "small"}}, reply.Attempts)

	require.Len(t, small.calls, 1)
	assert.Equal(t, llms.ChatMessageTypeSystem, small.calls[0][0].Role)
	assert.Equal(t, llms.TextParts(llms.ChatMessageTypeHuman, "how do I compute a derivative"), small.calls[0][1])
}

func TestChat_FallsBackOnContextLength(t *testing.T) {
	small := &scriptedModel{err: errors.New("This model's maximum context length is 4097 tokens")}
	large := &scriptedModel{responses: []*llms.ContentResponse{answer("long answer")}}
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "small"}, {Model: "large"}},
	}, factoryFor(map[string]*scriptedModel{"small": small, "large": large}))
	require.NoError(t, err)

	reply, err := engine.Chat(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "large", reply.Model)
	require.Len(t, reply.Attempts, 2)
	assert.ErrorIs(t, reply.Attempts[0].Err, types.ErrContentTooLarge)
	assert.NoError(t, reply.Attempts[1].Err)
}

func TestChat_SkipsTiersThatCannotFit(t *testing.T) {
	large := &scriptedModel{}
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers:          []llm.ModelTier{{Model: "small", MaxContext: 10}, {Model: "large", MaxContext: 1000}},
		SystemTemplate: "system",
		Counter:        tokens.ApproxCounter{},
	}, factoryFor(map[string]*scriptedModel{"large": large}))
	require.NoError(t, err)

	reply, err := engine.Chat(context.Background(), strings.Repeat("word ", 50))
	require.NoError(t, err)
	assert.Equal(t, "large", reply.Model)
	assert.True(t, reply.Attempts[0].Skipped)
}

func TestChat_NoTierFits(t *testing.T) {
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "small", MaxContext: 5}},
	}, factoryFor(nil))
	require.NoError(t, err)

	reply, err := engine.Chat(context.Background(), strings.Repeat("word ", 50))
	assert.ErrorIs(t, err, types.ErrContentTooLarge)
	assert.Len(t, reply.Attempts, 1)
}

func TestChat_TransientErrorStopsChain(t *testing.T) {
	small := &scriptedModel{err: errors.New("connection reset by peer")}
	large := &scriptedModel{}
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "small"}, {Model: "large"}},
	}, factoryFor(map[string]*scriptedModel{"small": small, "large": large}))
	require.NoError(t, err)

	_, err = engine.Chat(context.Background(), "question")
	assert.ErrorIs(t, err, types.ErrTransientProvider)
	assert.Empty(t, large.calls)
}

func TestChat_ExecutesToolCalls(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		{Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{
				ID:   "call_1",
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      "find_lesson",
					Arguments: `{"query":"derivative"}`,
				},
			}},
		}}},
		answer("See the Derivatives lesson."),
	}}

	registry := llm.NewRegistry()
	require.NoError(t, registry.Register(llm.ToolFunc{
		Def: llms.FunctionDefinition{Name: "find_lesson"},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "Derivatives: " + args["query"].(string), nil
		},
	}))

	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "m"}},
		Tools: registry,
	}, factoryFor(map[string]*scriptedModel{"m": model}))
	require.NoError(t, err)

	reply, err := engine.Chat(context.Background(), "which lesson covers derivatives?")
	require.NoError(t, err)
	assert.Equal(t, "See the Derivatives lesson.", reply.Content)

	require.Len(t, model.calls, 2)
	second := model.calls[1]
	last := second[len(second)-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
	assert.Equal(t, llms.ToolCallResponse{
		ToolCallID: "call_1",
		Name:       "find_lesson",
		Content:    "Derivatives: derivative",
	}, last.Parts[0])
}

func TestChatStream_FallsBackToWholeResponse(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{answer("streamed answer")}}
	engine, err := llm.NewWithFactory(llm.ChatConfig{
		Tiers: []llm.ModelTier{{Model: "m"}},
	}, factoryFor(map[string]*scriptedModel{"m": model}))
	require.NoError(t, err)

	stream, err := engine.ChatStream(context.Background(), "question")
	require.NoError(t, err)

	var got strings.Builder
	for chunk := range stream {
		got.WriteString(chunk)
	}
	assert.Equal(t, "streamed answer", got.String())
}

func TestChatStream_StopsWhenCallerGoesAway(t *testing.T) {
	tests := []struct {
		name  string
		model *scriptedModel
	}{
		{name: "error", model: &scriptedModel{err: errors.New("connection reset by peer")}},
		{name: "whole response", model: &scriptedModel{responses: []*llms.ContentResponse{answer("unread answer")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.NewWithFactory(llm.ChatConfig{
				Tiers: []llm.ModelTier{{Model: "m"}},
			}, factoryFor(map[string]*scriptedModel{"m": tt.model}))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			stream, err := engine.ChatStream(ctx, "question")
			require.NoError(t, err)

			// Nobody reads while the producer runs; it must give up and close.
			time.Sleep(50 * time.Millisecond)
			select {
			case chunk, ok := <-stream:
				assert.False(t, ok, "producer still blocked sending %q", chunk)
			case <-time.After(time.Second):
				t.Fatal("stream was never closed")
			}
		})
	}
}
