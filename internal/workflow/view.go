package workflow

import "time"

// PlanningRequirement is returned with every workflow context. Agents are
// expected to state their plan before they call any gated tool.
const PlanningRequirement = "Before calling any search tool, explain your plan: " +
	"1) which collection(s) from available_collections answer the request, " +
	"2) which queryable attributes you will filter on (fetch them with fetch_detailed_collections or get_collection_queryables), " +
	"3) the exact CQL filter and bbox you will send. " +
	"Only use collection ids listed in available_collections."

// FilterGuide summarises the CQL filter rules enforced on search_features.
var FilterGuide = map[string]any{
	"syntax":         "CQL2 text, e.g. description='Cinema' AND roadclassification='A Road'",
	"string_values":  "single quotes; double an embedded quote ('St John''s Road')",
	"max_length":     1000,
	"spatial_filter": "use the bbox parameter (minx,miny,maxx,maxy) rather than spatial CQL",
	"rejected":       "statement terminators, SQL comments, UNION SELECT, script or javascript content",
}

// View renders the snapshot as the get_workflow_context tool result.
func (s *Snapshot) View(cachedQueryables []string) map[string]any {
	endpoints := s.Endpoints
	if endpoints == nil {
		endpoints = []string{}
	}
	if cachedQueryables == nil {
		cachedQueryables = []string{}
	}
	collections := make(map[string]any, len(s.Collections))
	for _, c := range s.Collections {
		collections[c.ID] = map[string]any{
			"title":       c.Title,
			"description": c.Description,
			"version":     c.Version,
		}
	}
	v := map[string]any{
		"available_collections":          collections,
		"openapi_endpoints":              endpoints,
		"cached_queryables":              cachedQueryables,
		"MANDATORY_PLANNING_REQUIREMENT": PlanningRequirement,
		"QUICK_FILTERING_GUIDE":          FilterGuide,
		"loaded_at":                      s.LoadedAt.UTC().Format(time.RFC3339),
	}
	if s.OpenAPIError != "" {
		v["openapi_error"] = s.OpenAPIError
	}
	return v
}
