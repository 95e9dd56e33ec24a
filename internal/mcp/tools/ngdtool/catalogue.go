package ngdtool

import (
	"context"
	"fmt"
	"net/url"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
)

const helloMessage = "Hello from the OS NGD - Features API MCP server! The connection is working correctly."

// collectionArgs is the argument shape shared by the single-collection tools.
type collectionArgs struct {
	CollectionID string `json:"collection_id"`
}

type detailedArgs struct {
	CollectionIDs []string `json:"collection_ids"`
}

type collectionSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (h *handlers) helloWorld(context.Context, string) (string, error) {
	return helloMessage, nil
}

func (h *handlers) checkAPIKey(context.Context, string) (string, error) {
	if _, err := h.up.APIKey(); err != nil {
		return err.Error(), nil
	}
	return "OS_API_KEY is set!", nil
}

func (h *handlers) listCollections(ctx context.Context, _ string) (string, error) {
	data, err := h.up.Get(ctx, ngd.Request{Kind: ngd.KindCollections})
	if err != nil {
		return "", fmt.Errorf("ngdtool: list collections: %w", err)
	}
	raw, ok := data["collections"].([]any)
	if !ok {
		return "", envelope.New(envelope.CodeNotFound, "No collections found")
	}
	out := make([]collectionSummary, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		title, _ := m["title"].(string)
		out = append(out, collectionSummary{ID: id, Title: title})
	}
	return tools.Encode(map[string]any{"collections": out})
}

func (h *handlers) workflowContext(ctx context.Context, _ string) (string, error) {
	snap, err := h.wf.Load(ctx)
	if err != nil {
		return "", err
	}
	return tools.Encode(snap.View(h.wf.CachedQueryables()))
}

// checkCollection validates id syntactically and against the catalogue.
func (h *handlers) checkCollection(id string) error {
	if err := guard.ValidateCollectionID(id); err != nil {
		return err
	}
	return h.wf.ValidateCollection(id)
}

func (h *handlers) collectionInfo(ctx context.Context, args string) (string, error) {
	var a collectionArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if err := h.checkCollection(a.CollectionID); err != nil {
		return "", err
	}
	data, err := h.up.Get(ctx, ngd.Request{Kind: ngd.KindCollection, PathParams: []string{a.CollectionID}})
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

func (h *handlers) collectionQueryables(ctx context.Context, args string) (string, error) {
	var a collectionArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if err := h.checkCollection(a.CollectionID); err != nil {
		return "", err
	}
	q, err := h.wf.Queryables(ctx, a.CollectionID)
	if err != nil {
		return "", err
	}
	return tools.Encode(q)
}

func (h *handlers) detailedCollections(ctx context.Context, args string) (string, error) {
	var a detailedArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if len(a.CollectionIDs) == 0 {
		return "", envelope.InvalidInput("collection_ids must not be empty")
	}
	if len(a.CollectionIDs) > guard.MaxBulkIdentifiers {
		return "", envelope.InvalidInput("too many collection_ids (%d, maximum %d)", len(a.CollectionIDs), guard.MaxBulkIdentifiers)
	}
	for _, id := range a.CollectionIDs {
		if err := guard.ValidateCollectionID(id); err != nil {
			return "", err
		}
	}

	details, err := h.wf.Detailed(ctx, a.CollectionIDs)
	if err != nil {
		return "", err
	}
	collections := make(map[string]any, len(details))
	errs := make(map[string]any)
	for _, d := range details {
		if d.Err != nil {
			errs[d.ID] = envelope.FromError("fetch_detailed_collections", d.Err, ngd.Classify)
			continue
		}
		collections[d.ID] = map[string]any{"queryables": d.Queryables}
	}
	out := map[string]any{
		"collections":       collections,
		"cached_queryables": h.wf.CachedQueryables(),
	}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	return tools.Encode(out)
}

func (h *handlers) catalogueTools() []tools.Tool {
	collectionSchema := tools.Object(map[string]any{
		"collection_id": tools.String("Collection id, e.g. 'trn-ntwk-street-1'"),
	}, "collection_id")

	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name:        "hello_world",
				Description: "A simple test tool that confirms the server is reachable.",
				Parameters:  tools.Object(map[string]any{}),
				Idempotent:  true,
			},
			Handler:     h.helloWorld,
			DeclaredP50: 1,
			DeclaredMax: 100,
		},
		{
			Definition: tools.Definition{
				Name:        "check_api_key",
				Description: "Check whether the OS API key is configured.",
				Parameters:  tools.Object(map[string]any{}),
				Idempotent:  true,
			},
			Handler:     h.checkAPIKey,
			DeclaredP50: 1,
			DeclaredMax: 100,
		},
		{
			Definition: tools.Definition{
				Name:        "list_collections",
				Description: "List all feature collections in the OS NGD API (id and title only).",
				Parameters:  tools.Object(map[string]any{}),
				Idempotent:  true,
			},
			Handler:     h.listCollections,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name: "get_workflow_context",
				Description: "Load the collection catalogue and planning guide. " +
					"Call this first: most other tools refuse to run until it has succeeded.",
				Parameters: tools.Object(map[string]any{}),
				Idempotent: true,
			},
			Handler:     h.workflowContext,
			DeclaredP50: 1_500,
			DeclaredMax: 90_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_collection_info",
				Description: "Get detailed information about a specific collection.",
				Parameters:  collectionSchema,
				Gated:       true,
				Idempotent:  true,
			},
			Handler:     h.collectionInfo,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_collection_queryables",
				Description: "Get the queryable properties of a collection. Use these names in search_features filters.",
				Parameters:  collectionSchema,
				Gated:       true,
				Idempotent:  true,
			},
			Handler:     h.collectionQueryables,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name:        "fetch_detailed_collections",
				Description: "Fetch queryables for several collections in one call. Results are cached for later planning.",
				Parameters: tools.Object(map[string]any{
					"collection_ids": tools.StringList("Collection ids to describe", guard.MaxBulkIdentifiers),
				}, "collection_ids"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.detailedCollections,
			DeclaredP50: 3_000,
			DeclaredMax: 120_000,
		},
	}
}

// setIf adds key=value to q when value is not empty.
func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
