// Package prompttool serves the prompt template catalogue as the
// get_prompt_templates tool.
package prompttool

import (
	"context"

	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/prompts"
)

type templatesArgs struct {
	Category string `json:"category"`
}

type templatesResult struct {
	Category   string             `json:"category,omitempty"`
	Count      int                `json:"count"`
	Templates  map[string]string  `json:"templates"`
	Categories []prompts.Category `json:"available_categories"`
}

// Tools returns the prompt catalogue tool bound to c.
func Tools(c *prompts.Catalog) []tools.Tool {
	handler := func(_ context.Context, args string) (string, error) {
		var a templatesArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		selected := c.Filter(a.Category)
		return tools.Encode(templatesResult{
			Category:   a.Category,
			Count:      len(selected),
			Templates:  selected,
			Categories: c.Categories(),
		})
	}

	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name: "get_prompt_templates",
				Description: "Get prompt templates for common OS NGD workflows. " +
					"category filters template names by substring (e.g. 'usrn', 'routing'); " +
					"'warwickshire' returns the Warwickshire example set.",
				Parameters: tools.Object(map[string]any{
					"category": tools.String("Optional category filter"),
				}),
				Idempotent: true,
			},
			Handler:     handler,
			DeclaredP50: 1,
			DeclaredMax: 500,
		},
	}
}
