package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/osngd/internal/ngd"
	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/prompts"
)

// DocsFetcher loads public documentation pages. [ngd.Client] implements it.
type DocsFetcher interface {
	GetText(ctx context.Context, req ngd.Request) (string, error)
}

// DocPages are the transport network documentation pages served as
// os-docs:// resources.
var DocPages = []string{"street", "road", "tram-on-road", "road-node", "road-link", "road-junction"}

const docsScheme = "os-docs://"

type docPayload struct {
	FeatureType string  `json:"feature_type"`
	Content     string  `json:"content,omitempty"`
	ContentType string  `json:"content_type"`
	SourceURL   string  `json:"source_url"`
	Timestamp   float64 `json:"timestamp"`
	Error       string  `json:"error,omitempty"`
}

func (s *Server) registerPrompts(c *prompts.Catalog) {
	for _, p := range prompts.Prompts() {
		args := make([]*mcpsdk.PromptArgument, len(p.Arguments))
		for i, a := range p.Arguments {
			args[i] = &mcpsdk.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required}
		}
		s.sdk.AddPrompt(&mcpsdk.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		}, func(_ context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
			var in map[string]string
			if req.Params != nil {
				in = req.Params.Arguments
			}
			text, err := p.Render(c, in)
			if err != nil {
				return nil, err
			}
			return &mcpsdk.GetPromptResult{
				Description: p.Description,
				Messages: []*mcpsdk.PromptMessage{
					{Role: "user", Content: &mcpsdk.TextContent{Text: text}},
				},
			}, nil
		})
	}
}

// registerResources serves every page of [DocPages]. A failed fetch is
// reported inside the payload rather than as a protocol error, so clients
// still receive a readable resource.
func (s *Server) registerResources(docs DocsFetcher, baseURL string) {
	if baseURL == "" {
		baseURL = ngd.DefaultDocsBaseURL
	}
	for _, page := range DocPages {
		uri := docsScheme + page
		source := strings.TrimRight(baseURL, "/") + "/" + page + ".md"
		s.sdk.AddResource(&mcpsdk.Resource{
			URI:         uri,
			Name:        page,
			Description: "OS NGD transport network documentation: " + page,
			MIMEType:    "application/json",
		}, func(ctx context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
			payload := docPayload{
				FeatureType: page,
				ContentType: "markdown",
				SourceURL:   source,
				Timestamp:   float64(time.Now().UnixNano()) / 1e9,
			}
			text, err := docs.GetText(ctx, ngd.Request{Kind: ngd.KindDocs, PathParams: []string{page}})
			if err != nil {
				observe.Logger(ctx).Error("fetch documentation failed", "page", page, "err", err)
				payload.Error = ngd.SanitizeString(err.Error())
			} else {
				payload.Content = text
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			return &mcpsdk.ReadResourceResult{
				Contents: []*mcpsdk.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(data)}},
			}, nil
		})
	}
}
