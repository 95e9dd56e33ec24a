package routing

import (
	"github.com/paulmach/orb/geojson"
)

// SampleNode is one entry of [Summary.SampleNodes].
type SampleNode struct {
	ID             int    `json:"id"`
	Identifier     string `json:"identifier"`
	ConnectedEdges int    `json:"connected_edges"`
}

// Summary describes a network.
type Summary struct {
	TotalNodes  int          `json:"total_nodes"`
	TotalEdges  int          `json:"total_edges"`
	IsBuilt     bool         `json:"is_built"`
	SampleNodes []SampleNode `json:"sample_nodes"`
}

// NodeRow is a node in the flat listing.
type NodeRow struct {
	ID                 int         `json:"id"`
	NodeIdentifier     string      `json:"node_identifier"`
	ConnectedEdgeCount int         `json:"connected_edge_count"`
	ConnectedEdgeIDs   []int       `json:"connected_edge_ids"`
	Location           *[2]float64 `json:"location,omitempty"`
}

// EdgeRow is an edge in the flat listing.
type EdgeRow struct {
	ID           int               `json:"id"`
	RoadID       string            `json:"road_id"`
	RoadName     *string           `json:"road_name"`
	SourceNodeID int               `json:"source_node_id"`
	TargetNodeID int               `json:"target_node_id"`
	Cost         float64           `json:"cost"`
	ReverseCost  float64           `json:"reverse_cost"`
	Geometry     *geojson.Geometry `json:"geometry"`
}

// TableEdge is a pgRouting-style edge row.
type TableEdge struct {
	ID          int     `json:"id"`
	Source      int     `json:"source"`
	Target      int     `json:"target"`
	Cost        float64 `json:"cost"`
	ReverseCost float64 `json:"reverse_cost"`
	RoadID      string  `json:"road_id"`
	RoadName    *string `json:"road_name"`
}

// Tables holds the network in a form ready for loading into a routing
// engine.
type Tables struct {
	Nodes   []NodeRow   `json:"nodes"`
	Edges   []TableEdge `json:"edges"`
	Summary Summary     `json:"summary"`
}

// Summary returns node and edge counts plus the first few nodes by id.
func (n *Network) Summary() Summary {
	s := Summary{
		TotalNodes:  len(n.nodes),
		TotalEdges:  len(n.edges),
		IsBuilt:     n.sealed,
		SampleNodes: make([]SampleNode, 0, min(sampleSize, len(n.nodes))),
	}
	for _, node := range n.nodes[:min(sampleSize, len(n.nodes))] {
		s.SampleNodes = append(s.SampleNodes, SampleNode{
			ID:             node.ID,
			Identifier:     node.ExternalIdentifier,
			ConnectedEdges: len(node.ConnectedEdgeIDs),
		})
	}
	return s
}

// Nodes lists every node ordered by id.
func (n *Network) Nodes() []NodeRow {
	rows := make([]NodeRow, len(n.nodes))
	for i, node := range n.nodes {
		rows[i] = NodeRowOf(node)
	}
	return rows
}

// NodeRowOf renders a single node.
func NodeRowOf(node *Node) NodeRow {
	r := NodeRow{
		ID:                 node.ID,
		NodeIdentifier:     node.ExternalIdentifier,
		ConnectedEdgeCount: len(node.ConnectedEdgeIDs),
		ConnectedEdgeIDs:   append([]int{}, node.ConnectedEdgeIDs...),
	}
	if node.Location != nil {
		r.Location = &[2]float64{node.Location.Lon(), node.Location.Lat()}
	}
	return r
}

// Edges lists every edge ordered by id.
func (n *Network) Edges() []EdgeRow {
	rows := make([]EdgeRow, len(n.edges))
	for i, e := range n.edges {
		rows[i] = EdgeRowOf(e)
	}
	return rows
}

// EdgeRowOf renders a single edge.
func EdgeRowOf(e *Edge) EdgeRow {
	r := EdgeRow{
		ID:           e.ID,
		RoadID:       e.RoadIdentifier,
		RoadName:     optional(e.RoadName),
		SourceNodeID: e.SourceNodeID,
		TargetNodeID: e.TargetNodeID,
		Cost:         e.Cost,
		ReverseCost:  e.ReverseCost,
	}
	if e.Geometry != nil {
		r.Geometry = geojson.NewGeometry(e.Geometry)
	}
	return r
}

// RoutingTables returns pgRouting-style node and edge tables.
func (n *Network) RoutingTables() Tables {
	t := Tables{
		Nodes:   n.Nodes(),
		Edges:   make([]TableEdge, len(n.edges)),
		Summary: n.Summary(),
	}
	for i, e := range n.edges {
		t.Edges[i] = TableEdge{
			ID:          e.ID,
			Source:      e.SourceNodeID,
			Target:      e.TargetNodeID,
			Cost:        e.Cost,
			ReverseCost: e.ReverseCost,
			RoadID:      e.RoadIdentifier,
			RoadName:    optional(e.RoadName),
		}
	}
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
