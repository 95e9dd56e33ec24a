package ngdtool

import (
	"context"
	"net/url"
	"regexp"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
)

const defaultSearchLimit = 10

var attrNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,99}$`)

type searchArgs struct {
	CollectionID   string `json:"collection_id"`
	BBox           string `json:"bbox"`
	CRS            string `json:"crs"`
	BBoxCRS        string `json:"bbox_crs"`
	Limit          *int   `json:"limit"`
	Offset         int    `json:"offset"`
	Filter         string `json:"filter"`
	FilterLang     string `json:"filter_lang"`
	QueryAttr      string `json:"query_attr"`
	QueryAttrValue string `json:"query_attr_value"`
}

type featureArgs struct {
	CollectionID string `json:"collection_id"`
	FeatureID    string `json:"feature_id"`
	CRS          string `json:"crs"`
}

type bulkFeatureArgs struct {
	CollectionID string   `json:"collection_id"`
	Identifiers  []string `json:"identifiers"`
	QueryByAttr  string   `json:"query_by_attr"`
}

// searchQuery validates a and renders the upstream query string.
func searchQuery(a searchArgs) (url.Values, error) {
	limit := defaultSearchLimit
	if a.Limit != nil {
		limit = *a.Limit
	}
	if err := guard.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if err := guard.ValidateOffset(a.Offset); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if a.Offset > 0 {
		q.Set("offset", strconv.Itoa(a.Offset))
	}
	if a.BBox != "" {
		b, err := guard.ParseBBox(a.BBox)
		if err != nil {
			return nil, err
		}
		q.Set("bbox", b.String())
	}
	setIf(q, "crs", a.CRS)
	setIf(q, "bbox-crs", a.BBoxCRS)

	filter := a.Filter
	if a.QueryAttr != "" || a.QueryAttrValue != "" {
		if a.QueryAttr == "" || a.QueryAttrValue == "" {
			return nil, envelope.InvalidInput("query_attr and query_attr_value must be given together")
		}
		if !attrNameRe.MatchString(a.QueryAttr) {
			return nil, envelope.InvalidInput("query_attr %q is not a valid property name", a.QueryAttr)
		}
		attrFilter := a.QueryAttr + "=" + guard.QuoteLiteral(a.QueryAttrValue)
		if filter == "" {
			filter = attrFilter
		} else {
			filter = "(" + filter + ") AND " + attrFilter
		}
	}
	if filter != "" {
		if err := guard.Default().CheckFilter(filter); err != nil {
			return nil, err
		}
		q.Set("filter", filter)
		lang := a.FilterLang
		if lang == "" {
			lang = "cql-text"
		}
		q.Set("filter-lang", lang)
	}
	return q, nil
}

func (h *handlers) search(ctx context.Context, a searchArgs) (map[string]any, error) {
	if err := h.checkCollection(a.CollectionID); err != nil {
		return nil, err
	}
	q, err := searchQuery(a)
	if err != nil {
		return nil, err
	}
	return h.up.Get(ctx, ngd.Request{Kind: ngd.KindCollectionItems, PathParams: []string{a.CollectionID}, Query: q})
}

func (h *handlers) feature(ctx context.Context, a featureArgs) (map[string]any, error) {
	if err := h.checkCollection(a.CollectionID); err != nil {
		return nil, err
	}
	if err := guard.ValidateIdentifier("feature_id", a.FeatureID); err != nil {
		return nil, err
	}
	q := url.Values{}
	setIf(q, "crs", a.CRS)
	return h.up.Get(ctx, ngd.Request{
		Kind:       ngd.KindCollectionItem,
		PathParams: []string{a.CollectionID, a.FeatureID},
		Query:      q,
	})
}

func (h *handlers) searchFeatures(ctx context.Context, args string) (string, error) {
	var a searchArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	data, err := h.search(ctx, a)
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

func (h *handlers) getFeature(ctx context.Context, args string) (string, error) {
	var a featureArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	data, err := h.feature(ctx, a)
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

// fanOut runs fn for every identifier with bounded concurrency. A failed item
// becomes an error envelope in its slot; the remaining items are unaffected.
func fanOut(ctx context.Context, tool string, ids []string, fn func(ctx context.Context, id string) (map[string]any, error)) ([]any, error) {
	results := make([]any, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			data, err := fn(gctx, id)
			if err != nil {
				results[i] = envelope.FromError(tool, err, ngd.Classify)
				return nil
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *handlers) bulkFeatures(ctx context.Context, args string) (string, error) {
	var a bulkFeatureArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if err := guard.ValidateIdentifiers(a.Identifiers); err != nil {
		return "", err
	}
	if err := h.checkCollection(a.CollectionID); err != nil {
		return "", err
	}
	if a.QueryByAttr != "" && !attrNameRe.MatchString(a.QueryByAttr) {
		return "", envelope.InvalidInput("query_by_attr %q is not a valid property name", a.QueryByAttr)
	}

	results, err := fanOut(ctx, "get_bulk_features", a.Identifiers, func(ctx context.Context, id string) (map[string]any, error) {
		if a.QueryByAttr != "" {
			return h.search(ctx, searchArgs{CollectionID: a.CollectionID, QueryAttr: a.QueryByAttr, QueryAttrValue: id})
		}
		return h.feature(ctx, featureArgs{CollectionID: a.CollectionID, FeatureID: id})
	})
	if err != nil {
		return "", err
	}
	return tools.Encode(map[string]any{"results": results})
}

func (h *handlers) featureTools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name: "search_features",
				Description: "Search features in a collection. Supports bbox, paging, a CQL text filter " +
					"and a simple attribute equality shortcut (query_attr/query_attr_value).",
				Parameters: tools.Object(map[string]any{
					"collection_id":    tools.String("Collection id"),
					"bbox":             tools.String("minx,miny,maxx,maxy"),
					"crs":              tools.String("CRS URI of the response geometries"),
					"bbox_crs":         tools.String("CRS URI of the bbox"),
					"limit":            tools.Integer("Page size", 1, guard.MaxLimit, defaultSearchLimit),
					"offset":           tools.Integer("Number of features to skip", 0, 1_000_000, 0),
					"filter":           tools.String("CQL text filter, e.g. \"description = 'Cinema'\""),
					"filter_lang":      tools.Enum("Filter language", "cql-text"),
					"query_attr":       tools.String("Property name for an equality filter"),
					"query_attr_value": tools.String("Value the property must equal"),
				}, "collection_id"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.searchFeatures,
			DeclaredP50: 1_000,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_feature",
				Description: "Get a single feature by id.",
				Parameters: tools.Object(map[string]any{
					"collection_id": tools.String("Collection id"),
					"feature_id":    tools.String("Feature id"),
					"crs":           tools.String("CRS URI of the response geometry"),
				}, "collection_id", "feature_id"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.getFeature,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name: "get_bulk_features",
				Description: "Get several features in one call, either by feature id or by an attribute value. " +
					"Each result slot holds either the feature data or an error envelope.",
				Parameters: tools.Object(map[string]any{
					"collection_id": tools.String("Collection id"),
					"identifiers":   tools.StringList("Feature ids or attribute values", guard.MaxBulkIdentifiers),
					"query_by_attr": tools.String("Query by this attribute instead of the feature id"),
				}, "collection_id", "identifiers"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.bulkFeatures,
			DeclaredP50: 5_000,
			DeclaredMax: 180_000,
		},
	}
}
