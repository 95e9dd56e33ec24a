// Package routingtool exposes the in-memory road routing network as MCP
// tools.
//
// Tools exported by this package:
//
//   - build_routing_network: fetch road links and (re)build the network.
//   - get_routing_data: build if asked, then return the whole network.
//   - get_routing_network_info: counts and a sample of nodes.
//   - get_routing_nodes, get_routing_edges: flat listings.
//   - get_routing_tables: pgRouting-style node and edge tables.
//   - find_nearest_routing_node: spatial lookup of the closest node.
package routingtool

import (
	"context"
	"errors"
	"maps"
	"math"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/routing"
)

type buildArgs struct {
	BBox                string `json:"bbox"`
	Limit               *int   `json:"limit"`
	IncludeRestrictions *bool  `json:"include_restrictions"`
	BuildNetwork        *bool  `json:"build_network"`
}

type nearestArgs struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

type nearestResult struct {
	Node           routing.NodeRow   `json:"node"`
	DistanceMetres float64           `json:"distance_m"`
	ConnectedEdges []routing.EdgeRow `json:"connected_edges"`
}

type handlers struct {
	svc *routing.Service
}

// options validates a and fills in defaults.
func (a buildArgs) options() (routing.BuildOptions, error) {
	opts := routing.BuildOptions{Limit: routing.MaxPage, IncludeRestrictions: true}
	if a.Limit != nil {
		if err := guard.ValidateLimit(*a.Limit); err != nil {
			return opts, err
		}
		opts.Limit = *a.Limit
	}
	if a.IncludeRestrictions != nil {
		opts.IncludeRestrictions = *a.IncludeRestrictions
	}
	if a.BBox != "" {
		b, err := guard.ParseBBox(a.BBox)
		if err != nil {
			return opts, err
		}
		opts.BBox = b.String()
	}
	return opts, nil
}

// NotBuiltMessage is the envelope message for queries made before a network
// has been built.
const NotBuiltMessage = "Routing network not built. Call build_routing_network first."

// built returns the current network, translating [routing.ErrNotBuilt] into
// an envelope that points at the build tool.
func (h *handlers) built() (*routing.Network, error) {
	n, err := h.svc.Built()
	if errors.Is(err, routing.ErrNotBuilt) {
		return nil, envelope.New(envelope.CodeGeneral, NotBuiltMessage,
			envelope.WithRetryTool("build_routing_network"),
			envelope.WithHint("Call build_routing_network (or get_routing_data with build_network=true) first, then retry"),
			envelope.WithCause(err))
	}
	return n, err
}

func (h *handlers) build(ctx context.Context, args string) (string, error) {
	var a buildArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	opts, err := a.options()
	if err != nil {
		return "", err
	}
	return tools.Encode(h.svc.Build(ctx, opts))
}

func (h *handlers) data(ctx context.Context, args string) (string, error) {
	var a buildArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	opts, err := a.options()
	if err != nil {
		return "", err
	}

	out := map[string]any{}
	if a.BuildNetwork == nil || *a.BuildNetwork {
		res := h.svc.Build(ctx, opts)
		if res.Status != "success" {
			return tools.Encode(res)
		}
		res.Restrictions = nil
		out["build"] = res
	}
	n, err := h.built()
	if err != nil {
		return "", err
	}
	restrictions := h.svc.Restrictions()
	out["status"] = "success"
	out["network_summary"] = n.Summary()
	out["nodes"] = n.Nodes()
	out["edges"] = n.Edges()
	out["restrictions"] = restrictions
	out["restriction_count"] = len(restrictions)
	return tools.Encode(out)
}

func (h *handlers) info(context.Context, string) (string, error) {
	n, err := h.built()
	if err != nil {
		return "", err
	}
	return tools.Encode(map[string]any{"status": "success", "network_info": n.Summary()})
}

func (h *handlers) nodes(context.Context, string) (string, error) {
	n, err := h.built()
	if err != nil {
		return "", err
	}
	rows := n.Nodes()
	return tools.Encode(map[string]any{"status": "success", "node_count": len(rows), "nodes": rows})
}

func (h *handlers) edges(context.Context, string) (string, error) {
	n, err := h.built()
	if err != nil {
		return "", err
	}
	rows := n.Edges()
	return tools.Encode(map[string]any{"status": "success", "edge_count": len(rows), "edges": rows})
}

func (h *handlers) tables(context.Context, string) (string, error) {
	n, err := h.built()
	if err != nil {
		return "", err
	}
	return tools.Encode(map[string]any{"status": "success", "routing_tables": n.RoutingTables()})
}

func (h *handlers) nearest(_ context.Context, args string) (string, error) {
	var a nearestArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if a.Lon == nil || a.Lat == nil {
		return "", envelope.InvalidInput("lon and lat are required")
	}
	lon, lat := *a.Lon, *a.Lat
	if math.IsNaN(lon) || lon < -180 || lon > 180 || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return "", envelope.InvalidInput("coordinate (%v, %v) is out of range", lon, lat)
	}
	n, err := h.built()
	if err != nil {
		return "", err
	}
	node, dist, err := n.Nearest(lon, lat)
	if errors.Is(err, routing.ErrNoLocations) {
		return "", envelope.New(envelope.CodeNotFound, err.Error(), envelope.WithCause(err),
			envelope.WithRetryTool("build_routing_network"),
			envelope.WithHint("Rebuild the network from road links that carry geometries, then retry"))
	}
	if err != nil {
		return "", err
	}

	res := nearestResult{Node: routing.NodeRowOf(node), DistanceMetres: math.Round(dist*100) / 100}
	for _, e := range n.ConnectedEdges(node.ID) {
		res.ConnectedEdges = append(res.ConnectedEdges, routing.EdgeRowOf(e))
	}
	return tools.Encode(res)
}

// Tools returns the routing tools bound to svc.
func Tools(svc *routing.Service) []tools.Tool {
	h := &handlers{svc: svc}
	buildProps := map[string]any{
		"bbox":                 tools.String("minx,miny,maxx,maxy in WGS84 longitude/latitude"),
		"limit":                tools.Integer("Maximum number of road links to fetch", 1, routing.MaxPage, routing.MaxPage),
		"include_restrictions": tools.Bool("Also fetch routing restrictions for the same area", true),
	}
	dataProps := map[string]any{
		"build_network": tools.Bool("Build the network before returning it", true),
	}
	maps.Copy(dataProps, buildProps)
	empty := tools.Object(map[string]any{})

	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name: "build_routing_network",
				Description: "Build an in-memory routing network from OS NGD road links. " +
					"Replaces the current network when the build succeeds.",
				Parameters: tools.Object(buildProps),
				Gated:      true,
			},
			Handler:     h.build,
			DeclaredP50: 2_000,
			DeclaredMax: 120_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_routing_data",
				Description: "Build (optionally) and return the complete routing network: nodes, edges and restrictions.",
				Parameters:  tools.Object(dataProps),
				Gated:       true,
			},
			Handler:     h.data,
			DeclaredP50: 2_000,
			DeclaredMax: 120_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_routing_network_info",
				Description: "Summary of the current routing network.",
				Parameters:  empty,
				Idempotent:  true,
			},
			Handler:     h.info,
			DeclaredP50: 1,
			DeclaredMax: 1_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_routing_nodes",
				Description: "List every node of the current routing network.",
				Parameters:  empty,
				Idempotent:  true,
			},
			Handler:     h.nodes,
			DeclaredP50: 5,
			DeclaredMax: 5_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_routing_edges",
				Description: "List every edge of the current routing network with costs and geometry.",
				Parameters:  empty,
				Idempotent:  true,
			},
			Handler:     h.edges,
			DeclaredP50: 5,
			DeclaredMax: 5_000,
		},
		{
			Definition: tools.Definition{
				Name:        "get_routing_tables",
				Description: "Export the network as pgRouting-style node and edge tables.",
				Parameters:  empty,
				Idempotent:  true,
			},
			Handler:     h.tables,
			DeclaredP50: 5,
			DeclaredMax: 5_000,
		},
		{
			Definition: tools.Definition{
				Name:        "find_nearest_routing_node",
				Description: "Find the routing node closest to a WGS84 coordinate.",
				Parameters: tools.Object(map[string]any{
					"lon": tools.Number("Longitude"),
					"lat": tools.Number("Latitude"),
				}, "lon", "lat"),
				Idempotent: true,
			},
			Handler:     h.nearest,
			DeclaredP50: 1,
			DeclaredMax: 1_000,
		},
	}
}
