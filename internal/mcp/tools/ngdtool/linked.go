package ngdtool

import (
	"context"

	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
)

type linkedArgs struct {
	IdentifierType string `json:"identifier_type"`
	Identifier     string `json:"identifier"`
	FeatureType    string `json:"feature_type"`
}

type bulkLinkedArgs struct {
	IdentifierType string   `json:"identifier_type"`
	Identifiers    []string `json:"identifiers"`
	FeatureType    string   `json:"feature_type"`
}

func (h *handlers) linked(ctx context.Context, a linkedArgs) (map[string]any, error) {
	if err := guard.ValidateIdentifier("identifier_type", a.IdentifierType); err != nil {
		return nil, err
	}
	if err := guard.ValidateIdentifier("identifier", a.Identifier); err != nil {
		return nil, err
	}
	data, err := h.up.Get(ctx, ngd.Request{
		Kind:       ngd.KindLinkedIdentifiers,
		PathParams: []string{a.IdentifierType, a.Identifier},
	})
	if err != nil {
		return nil, err
	}
	if a.FeatureType == "" {
		return data, nil
	}
	return map[string]any{"identifiers": correlated(data, a.FeatureType)}, nil
}

// correlated returns the identifiers of the first correlation whose
// correlatedFeatureType equals featureType.
func correlated(data map[string]any, featureType string) []string {
	out := []string{}
	items, _ := data["correlations"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok || m["correlatedFeatureType"] != featureType {
			continue
		}
		ids, _ := m["correlatedIdentifiers"].([]any)
		for _, v := range ids {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := obj["identifier"].(string); ok {
				out = append(out, id)
			}
		}
		break
	}
	return out
}

func (h *handlers) linkedIdentifiers(ctx context.Context, args string) (string, error) {
	var a linkedArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	data, err := h.linked(ctx, a)
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

func (h *handlers) bulkLinked(ctx context.Context, args string) (string, error) {
	var a bulkLinkedArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if err := guard.ValidateIdentifier("identifier_type", a.IdentifierType); err != nil {
		return "", err
	}
	if err := guard.ValidateIdentifiers(a.Identifiers); err != nil {
		return "", err
	}
	results, err := fanOut(ctx, "get_bulk_linked_features", a.Identifiers, func(ctx context.Context, id string) (map[string]any, error) {
		return h.linked(ctx, linkedArgs{IdentifierType: a.IdentifierType, Identifier: id, FeatureType: a.FeatureType})
	})
	if err != nil {
		return "", err
	}
	return tools.Encode(map[string]any{"results": results})
}

func (h *handlers) linkedTools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name: "get_linked_identifiers",
				Description: "Get identifiers linked to an identifier (e.g. the TOIDs of a USRN). " +
					"With feature_type only the identifiers of that correlated feature type are returned.",
				Parameters: tools.Object(map[string]any{
					"identifier_type": tools.String("Identifier type, e.g. 'TOID', 'UPRN', 'USRN'"),
					"identifier":      tools.String("Identifier value"),
					"feature_type":    tools.String("Correlated feature type to keep, e.g. 'RoadLink'"),
				}, "identifier_type", "identifier"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.linkedIdentifiers,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_bulk_linked_features",
				Description: "Get linked identifiers for several identifiers in one call.",
				Parameters: tools.Object(map[string]any{
					"identifier_type": tools.String("Identifier type, e.g. 'TOID', 'UPRN', 'USRN'"),
					"identifiers":     tools.StringList("Identifier values", guard.MaxBulkIdentifiers),
					"feature_type":    tools.String("Correlated feature type to keep"),
				}, "identifier_type", "identifiers"),
				Gated:      true,
				Idempotent: true,
			},
			Handler:     h.bulkLinked,
			DeclaredP50: 5_000,
			DeclaredMax: 180_000,
		},
	}
}
