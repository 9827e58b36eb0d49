package fusion

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/tutor/pkg/llm"
)

const (
	SearchToolName     = "search_course_material"
	FindLessonToolName = "find_lesson"
)

// RegisterTools adds the retrieval tools backed by o to reg.
func (o *Orchestrator) RegisterTools(reg *llm.Registry) error {
	if err := reg.Register(o.searchTool()); err != nil {
		return err
	}
	return reg.Register(o.findLessonTool())
}

func (o *Orchestrator) searchTool() llm.Tool {
	return llm.ToolFunc{
		Def: llms.FunctionDefinition{
			Name:        SearchToolName,
			Description: "Search the indexed course material for the passage most relevant to a question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look for",
					},
					"namespace": map[string]any{
						"type":        "string",
						"description": "Optional document namespace to restrict the search to",
					},
				},
				"required": []string{"query"},
			},
		},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			namespace, _ := args["namespace"].(string)

			m, err := o.searchSnippet(ctx, query, namespace)
			if err != nil {
				return "", err
			}
			if m == nil || m.Text() == "" {
				return "No relevant course material found.", nil
			}
			return fmt.Sprintf("From %s:\n%s", SourceLabel(m), m.Text()), nil
		},
	}
}

func (o *Orchestrator) findLessonTool() llm.Tool {
	return llm.ToolFunc{
		Def: llms.FunctionDefinition{
			Name:        FindLessonToolName,
			Description: "Find the lesson whose title and summary best match a topic.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Topic or question",
					},
					"scope": map[string]any{
						"type":        "string",
						"description": "Class whose lessons are searched",
					},
				},
				"required": []string{"query", "scope"},
			},
		},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			scope, _ := args["scope"].(string)
			if query == "" || scope == "" {
				return "", fmt.Errorf("query and scope are required")
			}

			r, err := o.findLesson(ctx, query, nil, scope)
			if err != nil {
				return "", err
			}
			if r == nil {
				return "No matching lesson found.", nil
			}
			return fmt.Sprintf("%s\n%s", r.Item.Title, r.Item.Summary), nil
		},
	}
}
