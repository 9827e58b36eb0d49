package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/llm"
)

func echoTool(name string) llm.ToolFunc {
	return llm.ToolFunc{
		Def: llms.FunctionDefinition{Name: name, Description: "echo"},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if v, ok := args["fail"]; ok && v == true {
				return "", errors.New("boom")
			}
			s, _ := args["text"].(string)
			return name + ":" + s, nil
		},
	}
}

func TestRegistry(t *testing.T) {
	r := llm.NewRegistry()
	require.NoError(t, r.Register(echoTool("b")))
	require.NoError(t, r.Register(echoTool("a")))

	err := r.Register(echoTool("a"))
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorIs(t, r.Register(echoTool("")), types.ErrConfiguration)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Function.Name)
	assert.Equal(t, "a", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)

	ctx := context.Background()
	assert.Equal(t, "a:hi", r.Execute(ctx, "a", `{"text":"hi"}`))
	assert.Equal(t, "a:", r.Execute(ctx, "a", ""))
	assert.Equal(t, llm.NoToolResponse, r.Execute(ctx, "run_python_code", `{}`))
	assert.Equal(t, "Error: boom", r.Execute(ctx, "a", `{"fail":true}`))
	assert.Contains(t, r.Execute(ctx, "a", `{not json`), "invalid arguments")
}
