package prompts

import "fmt"

// Argument is a named prompt argument.
type Argument struct {
	Name        string
	Description string
	Required    bool
	Default     string
}

// Prompt is an MCP prompt: a parameterised user message.
type Prompt struct {
	Name        string
	Description string
	Arguments   []Argument
	render      func(c *Catalog, args map[string]string) (string, error)
}

// Render produces the prompt text. Missing optional arguments take their
// default; a missing required argument is an error.
func (p Prompt) Render(c *Catalog, args map[string]string) (string, error) {
	resolved := make(map[string]string, len(p.Arguments))
	for _, a := range p.Arguments {
		v := args[a.Name]
		if v == "" {
			if a.Required {
				return "", fmt.Errorf("prompts: %s: missing required argument %q", p.Name, a.Name)
			}
			v = a.Default
		}
		resolved[a.Name] = v
	}
	return p.render(c, resolved)
}

// Prompts returns the MCP prompts served alongside the tools.
func Prompts() []Prompt {
	return []Prompt{
		{
			Name:        "usrn_breakdown_analysis",
			Description: "Generate a step-by-step USRN breakdown workflow",
			Arguments: []Argument{
				{Name: "usrn", Description: "Unique Street Reference Number", Required: true},
			},
			render: func(c *Catalog, args map[string]string) (string, error) {
				text, err := c.Render("usrn_breakdown", args)
				if err != nil {
					return "", err
				}
				return "As an expert in OS NGD API workflows and transport network analysis, " + text, nil
			},
		},
		{
			Name:        "collection_query_guidance",
			Description: "Generate guidance for querying OS NGD collections",
			Arguments: []Argument{
				{Name: "collection_id", Description: "Collection to query", Required: true},
				{Name: "query_type", Description: "What to query for", Default: "features"},
			},
			render: func(_ *Catalog, args map[string]string) (string, error) {
				return fmt.Sprintf("As an OS NGD API expert, guide me through querying the '%s' collection for %s. "+
					"Include: 1) Available filters, 2) Best practices for bbox queries, "+
					"3) CRS considerations, 4) Example queries with proper syntax.",
					args["collection_id"], args["query_type"]), nil
			},
		},
		{
			Name:        "workflow_planning",
			Description: "Generate a workflow plan for complex OS NGD queries",
			Arguments: []Argument{
				{Name: "user_request", Description: "The request to plan for", Required: true},
				{Name: "data_theme", Description: "NGD data theme to focus on", Default: "transport"},
			},
			render: func(_ *Catalog, args map[string]string) (string, error) {
				return fmt.Sprintf("As a geospatial workflow planner, create a detailed workflow plan for: '%s'. "+
					"Focus on %s theme data. Include: 1) Collection selection rationale, "+
					"2) Query sequence with dependencies, 3) Filter strategies, "+
					"4) Error handling considerations.",
					args["user_request"], args["data_theme"]), nil
			},
		},
	}
}
