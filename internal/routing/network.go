// Package routing builds an in-memory road network from NGD road-link
// features.
//
// A [Network] is a plain adjacency structure: nodes are road intersections
// keyed by their external identifier and given dense integer ids starting at
// 1, edges are road links between two nodes. Networks are built once, sealed,
// and then only read. No path finding is performed here; the network is
// exposed as flat tables for the caller to process.
package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/rtree"
)

// FallbackCost is the edge cost used when a feature carries neither a
// geometry_length property nor a measurable geometry.
const FallbackCost = 100.0

// sampleSize is the number of nodes listed in [Summary.SampleNodes].
const sampleSize = 5

// ErrNoLocations is returned by [Network.Nearest] when no node has a known
// location.
var ErrNoLocations = errors.New("routing: network has no located nodes")

// Node is a road intersection.
type Node struct {
	ID                 int
	ExternalIdentifier string
	// ConnectedEdgeIDs is ordered by edge id and holds no duplicates.
	ConnectedEdgeIDs []int
	// Location is the coordinate of the node taken from the first edge
	// geometry that references it, if any.
	Location *orb.Point
}

// Edge is a road link between two nodes. ReverseCost always equals Cost.
type Edge struct {
	ID             int
	RoadIdentifier string
	RoadName       string
	SourceNodeID   int
	TargetNodeID   int
	Cost           float64
	ReverseCost    float64
	Geometry       orb.Geometry
}

// Network is a node/edge graph. Mutating methods are not safe for concurrent
// use; once [Network.Seal] has been called the network is read-only and may
// be shared freely.
type Network struct {
	nodes   []*Node
	edges   []*Edge
	lookup  map[string]int
	sealed  bool
	index   rtree.RTreeG[int]
	located int
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{lookup: make(map[string]int)}
}

// AddNode registers externalID and returns its id. Calling it again with the
// same identifier returns the same id. A sealed network only resolves known
// identifiers and returns 0 for new ones.
func (n *Network) AddNode(externalID string) int {
	if n.sealed {
		id, ok := n.lookup[externalID]
		if !ok {
			slog.Warn("routing: AddNode on sealed network ignored", "node", externalID)
		}
		return id
	}
	return n.addNode(externalID, nil)
}

func (n *Network) addNode(externalID string, loc *orb.Point) int {
	if id, ok := n.lookup[externalID]; ok {
		if node := n.nodes[id-1]; node.Location == nil && loc != nil {
			node.Location = loc
		}
		return id
	}
	id := len(n.nodes) + 1
	n.nodes = append(n.nodes, &Node{ID: id, ExternalIdentifier: externalID, Location: loc})
	n.lookup[externalID] = id
	return id
}

// AddEdge ingests one road-link feature. It reports false, and logs a
// warning, when the feature lacks a start or end node identifier.
func (n *Network) AddEdge(f *geojson.Feature) (*Edge, bool) {
	if n.sealed {
		slog.Warn("routing: AddEdge on sealed network ignored")
		return nil, false
	}
	if f == nil {
		return nil, false
	}
	start := propString(f.Properties, "startnode")
	end := propString(f.Properties, "endnode")
	if start == "" || end == "" {
		slog.Warn("routing: road link missing node data", "feature", featureID(f))
		return nil, false
	}

	first, last := endpoints(f.Geometry)
	src := n.addNode(start, first)
	dst := n.addNode(end, last)

	cost := edgeCost(f)
	e := &Edge{
		ID:             len(n.edges) + 1,
		RoadIdentifier: roadLinkID(f.Properties),
		RoadName:       propString(f.Properties, "name1_text"),
		SourceNodeID:   src,
		TargetNodeID:   dst,
		Cost:           cost,
		ReverseCost:    cost,
		Geometry:       f.Geometry,
	}
	n.edges = append(n.edges, e)

	n.nodes[src-1].ConnectedEdgeIDs = append(n.nodes[src-1].ConnectedEdgeIDs, e.ID)
	if dst != src {
		n.nodes[dst-1].ConnectedEdgeIDs = append(n.nodes[dst-1].ConnectedEdgeIDs, e.ID)
	}
	return e, true
}

// Seal marks the network as built and indexes located nodes. Further
// [Network.AddEdge] calls are ignored.
func (n *Network) Seal() {
	if n.sealed {
		return
	}
	for _, node := range n.nodes {
		if node.Location == nil {
			continue
		}
		p := [2]float64{node.Location.Lon(), node.Location.Lat()}
		n.index.Insert(p, p, node.ID)
		n.located++
	}
	n.sealed = true
}

// Built reports whether [Network.Seal] has been called.
func (n *Network) Built() bool { return n.sealed }

// NodeCount returns the number of nodes.
func (n *Network) NodeCount() int { return len(n.nodes) }

// EdgeCount returns the number of edges.
func (n *Network) EdgeCount() int { return len(n.edges) }

// Node returns the node with the given id.
func (n *Network) Node(id int) (*Node, bool) {
	if id < 1 || id > len(n.nodes) {
		return nil, false
	}
	return n.nodes[id-1], true
}

// Edge returns the edge with the given id.
func (n *Network) Edge(id int) (*Edge, bool) {
	if id < 1 || id > len(n.edges) {
		return nil, false
	}
	return n.edges[id-1], true
}

// NodeID returns the id of the node with the given external identifier.
func (n *Network) NodeID(externalID string) (int, bool) {
	id, ok := n.lookup[externalID]
	return id, ok
}

// ConnectedEdges returns the edges touching node id, ordered by edge id.
func (n *Network) ConnectedEdges(id int) []*Edge {
	node, ok := n.Node(id)
	if !ok {
		return nil
	}
	out := make([]*Edge, len(node.ConnectedEdgeIDs))
	for i, eid := range node.ConnectedEdgeIDs {
		out[i] = n.edges[eid-1]
	}
	return out
}

// Nearest returns the located node closest to (lon, lat) and its geodesic
// distance in metres. The search box grows until it holds a candidate, then
// once more so that a closer node just outside the first box is not missed.
func (n *Network) Nearest(lon, lat float64) (*Node, float64, error) {
	if n.located == 0 {
		return nil, 0, ErrNoLocations
	}
	target := orb.Point{lon, lat}

	var candidates []int
	for r := 0.001; ; r *= 4 {
		candidates = candidates[:0]
		n.index.Search(
			[2]float64{lon - r, lat - r}, [2]float64{lon + r, lat + r},
			func(_, _ [2]float64, id int) bool {
				candidates = append(candidates, id)
				return true
			})
		if len(candidates) > 0 {
			// A hit may lie in a box corner, and a degree of longitude is
			// shorter than a degree of latitude; widen once to cover both.
			wide := r * math.Sqrt2 / math.Max(math.Cos(lat*math.Pi/180), 0.01)
			candidates = candidates[:0]
			n.index.Search(
				[2]float64{lon - wide, lat - wide}, [2]float64{lon + wide, lat + wide},
				func(_, _ [2]float64, id int) bool {
					candidates = append(candidates, id)
					return true
				})
			break
		}
		if r > 360 {
			return nil, 0, ErrNoLocations
		}
	}

	var (
		best     *Node
		bestDist = math.Inf(1)
	)
	for _, id := range candidates {
		node := n.nodes[id-1]
		if d := geo.Distance(target, *node.Location); best == nil || d < bestDist {
			best, bestDist = node, d
		}
	}
	return best, bestDist, nil
}

// edgeCost resolves the cost of a road link: the geometry_length property,
// then the geodesic length of the geometry, then [FallbackCost].
func edgeCost(f *geojson.Feature) float64 {
	if v, ok := f.Properties["geometry_length"]; ok {
		if c, ok := toFloat(v); ok && c >= 0 {
			return c
		}
	}
	if f.Geometry != nil {
		if l := geo.Length(f.Geometry); l > 0 && !math.IsNaN(l) {
			return l
		}
	}
	return FallbackCost
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// roadLinkID reads roadtrackorpathreference[0].roadlinkid, defaulting to
// "NONE".
func roadLinkID(p geojson.Properties) string {
	refs, ok := p["roadtrackorpathreference"].([]any)
	if !ok || len(refs) == 0 {
		return "NONE"
	}
	ref, ok := refs[0].(map[string]any)
	if !ok {
		return "NONE"
	}
	if id, ok := ref["roadlinkid"].(string); ok && id != "" {
		return id
	}
	return "NONE"
}

// endpoints returns the first and last coordinate of a line geometry.
func endpoints(g orb.Geometry) (first, last *orb.Point) {
	var ls orb.LineString
	switch t := g.(type) {
	case orb.LineString:
		ls = t
	case orb.MultiLineString:
		if len(t) == 0 {
			return nil, nil
		}
		if len(t[0]) > 0 {
			p := t[0][0]
			first = &p
		}
		if tail := t[len(t)-1]; len(tail) > 0 {
			p := tail[len(tail)-1]
			last = &p
		}
		return first, last
	default:
		return nil, nil
	}
	if len(ls) == 0 {
		return nil, nil
	}
	a, b := ls[0], ls[len(ls)-1]
	return &a, &b
}

func featureID(f *geojson.Feature) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if id := propString(f.Properties, "osid"); id != "" {
		return id
	}
	return "unknown"
}

func propString(p geojson.Properties, key string) string {
	s, _ := p[key].(string)
	return s
}
