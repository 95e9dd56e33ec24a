// Package ngdtool provides the MCP tools that query the OS NGD Features,
// Linked Identifiers and Places APIs.
//
// Tools exported by this package:
//
//   - hello_world: connectivity check.
//   - check_api_key: reports whether an API key is configured.
//   - list_collections: id and title of every collection.
//   - get_workflow_context: loads the collection catalogue and planning guide.
//   - get_collection_info, get_collection_queryables: collection metadata.
//   - fetch_detailed_collections: queryables for several collections at once.
//   - search_features, get_feature: feature queries.
//   - get_linked_identifiers: identifier correlations.
//   - get_bulk_features, get_bulk_linked_features: bounded fan-out variants.
//   - search_by_uprn, search_by_postcode: address lookups.
//
// Every tool except hello_world, check_api_key, list_collections,
// get_workflow_context and the two address lookups is gated on the workflow
// context.
package ngdtool

import (
	"context"

	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
	"github.com/MrWong99/osngd/internal/workflow"
)

// bulkConcurrency caps in-flight requests of a bulk tool. The upstream pacer
// still spaces them out.
const bulkConcurrency = 5

// Upstream is the part of [ngd.Client] the tools need.
type Upstream interface {
	Get(ctx context.Context, req ngd.Request) (map[string]any, error)
	APIKey() (string, error)
}

type handlers struct {
	up Upstream
	wf *workflow.Context
}

// Tools returns every NGD tool bound to up and wf.
func Tools(up Upstream, wf *workflow.Context) []tools.Tool {
	h := &handlers{up: up, wf: wf}
	var out []tools.Tool
	out = append(out, h.catalogueTools()...)
	out = append(out, h.featureTools()...)
	out = append(out, h.linkedTools()...)
	out = append(out, h.placesTools()...)
	return out
}
