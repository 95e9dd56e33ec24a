package routing

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func roadLink(start, end string, props map[string]any, line orb.LineString) *geojson.Feature {
	var f *geojson.Feature
	if line != nil {
		f = geojson.NewFeature(line)
	} else {
		f = &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
	}
	if start != "" {
		f.Properties["startnode"] = start
	}
	if end != "" {
		f.Properties["endnode"] = end
	}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func TestAddNode_Idempotent(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	a := n.AddNode("osgb-a")
	b := n.AddNode("osgb-b")
	if a != 1 || b != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", a, b)
	}
	if again := n.AddNode("osgb-a"); again != a {
		t.Errorf("AddNode repeated = %d, want %d", again, a)
	}
	if n.NodeCount() != 2 {
		t.Errorf("NodeCount = %d, want 2", n.NodeCount())
	}
	if id, ok := n.NodeID("osgb-b"); !ok || id != 2 {
		t.Errorf("NodeID = %d, %v", id, ok)
	}
}

func TestAddEdge_BuildsAdjacency(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	features := []*geojson.Feature{
		roadLink("A", "B", map[string]any{"geometry_length": 12.5, "name1_text": "High Street",
			"roadtrackorpathreference": []any{map[string]any{"roadlinkid": "rl-1"}}}, nil),
		roadLink("B", "C", map[string]any{"geometry_length": 7.0}, nil),
		roadLink("C", "A", nil, nil),
		roadLink("", "D", nil, nil),
		roadLink("D", "", nil, nil),
	}
	ingested := 0
	for _, f := range features {
		if _, ok := n.AddEdge(f); ok {
			ingested++
		}
	}

	if ingested != 3 || n.EdgeCount() != 3 {
		t.Fatalf("ingested %d, EdgeCount %d; want 3", ingested, n.EdgeCount())
	}
	if n.NodeCount() != 3 {
		t.Errorf("NodeCount = %d, want 3 (skipped features must not create nodes)", n.NodeCount())
	}

	for _, e := range n.Edges() {
		if _, ok := n.Node(e.SourceNodeID); !ok {
			t.Errorf("edge %d source %d missing", e.ID, e.SourceNodeID)
		}
		if _, ok := n.Node(e.TargetNodeID); !ok {
			t.Errorf("edge %d target %d missing", e.ID, e.TargetNodeID)
		}
		if e.Cost != e.ReverseCost {
			t.Errorf("edge %d cost %v != reverse %v", e.ID, e.Cost, e.ReverseCost)
		}
	}

	e1, _ := n.Edge(1)
	if e1.RoadIdentifier != "rl-1" || e1.RoadName != "High Street" || e1.Cost != 12.5 {
		t.Errorf("edge 1 = %+v", e1)
	}
	e3, _ := n.Edge(3)
	if e3.RoadIdentifier != "NONE" || e3.Cost != FallbackCost {
		t.Errorf("edge 3 = %+v, want NONE and fallback cost", e3)
	}

	b, _ := n.Node(2)
	if !slices.Equal(b.ConnectedEdgeIDs, []int{1, 2}) {
		t.Errorf("node B edges = %v", b.ConnectedEdgeIDs)
	}
	if got := n.ConnectedEdges(1); len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("ConnectedEdges(A) = %v", got)
	}
	if n.ConnectedEdges(99) != nil {
		t.Error("ConnectedEdges on unknown node should be nil")
	}
}

func TestAddEdge_SelfLoopCountedOnce(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	n.AddEdge(roadLink("A", "A", nil, nil))
	a, _ := n.Node(1)
	if !slices.Equal(a.ConnectedEdgeIDs, []int{1}) {
		t.Errorf("self loop edges = %v", a.ConnectedEdgeIDs)
	}
}

func TestEdgeCost_GeodesicFallback(t *testing.T) {
	t.Parallel()
	line := orb.LineString{{-1.5, 52.0}, {-1.5, 52.001}}
	n := NewNetwork()
	e, ok := n.AddEdge(roadLink("A", "B", nil, line))
	if !ok {
		t.Fatal("edge not added")
	}
	// 0.001 degree of latitude is roughly 111 metres.
	if e.Cost < 100 || e.Cost > 125 {
		t.Errorf("geodesic cost = %v, want about 111", e.Cost)
	}

	withProp, _ := n.AddEdge(roadLink("B", "C", map[string]any{"geometry_length": 42.0}, line))
	if withProp.Cost != 42 {
		t.Errorf("geometry_length should win, got %v", withProp.Cost)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	for i := range 7 {
		n.AddEdge(roadLink(string(rune('A'+i)), string(rune('A'+i+1)), nil, nil))
	}
	s := n.Summary()
	if s.IsBuilt {
		t.Error("IsBuilt before Seal")
	}
	n.Seal()
	s = n.Summary()
	if s.TotalNodes != 8 || s.TotalEdges != 7 || !s.IsBuilt {
		t.Errorf("summary = %+v", s)
	}
	if len(s.SampleNodes) != 5 || s.SampleNodes[0].ID != 1 || s.SampleNodes[4].ID != 5 {
		t.Errorf("sample nodes = %+v", s.SampleNodes)
	}
	if s.SampleNodes[1].ConnectedEdges != 2 {
		t.Errorf("node B connected edges = %d, want 2", s.SampleNodes[1].ConnectedEdges)
	}
}

func TestSeal_IgnoresLaterEdges(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	n.AddEdge(roadLink("A", "B", nil, nil))
	n.Seal()
	if _, ok := n.AddEdge(roadLink("B", "C", nil, nil)); ok {
		t.Error("AddEdge succeeded on sealed network")
	}
	if n.EdgeCount() != 1 {
		t.Errorf("EdgeCount = %d", n.EdgeCount())
	}
}

func TestSeal_AddNodeOnlyResolvesKnownIDs(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	n.AddEdge(roadLink("A", "B", nil, nil))
	b := n.AddNode("B")
	n.Seal()

	if id := n.AddNode("Z"); id != 0 {
		t.Errorf("AddNode(new) on sealed network = %d, want 0", id)
	}
	if id := n.AddNode("B"); id != b {
		t.Errorf("AddNode(known) = %d, want %d", id, b)
	}
	if got := n.NodeCount(); got != 2 {
		t.Errorf("NodeCount = %d, want 2", got)
	}
}

func TestRoutingTables(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	n.AddEdge(roadLink("A", "B", map[string]any{"geometry_length": 3.0, "name1_text": "Mill Lane"}, orb.LineString{{0, 0}, {0, 0.0001}}))
	n.Seal()

	tables := n.RoutingTables()
	if len(tables.Nodes) != 2 || len(tables.Edges) != 1 {
		t.Fatalf("tables = %+v", tables)
	}
	e := tables.Edges[0]
	if e.Source != 1 || e.Target != 2 || e.Cost != 3 || e.ReverseCost != 3 || *e.RoadName != "Mill Lane" {
		t.Errorf("edge row = %+v", e)
	}

	data, err := json.Marshal(n.Edges())
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatal(err)
	}
	geom, _ := rows[0]["geometry"].(map[string]any)
	if geom["type"] != "LineString" {
		t.Errorf("geometry = %v", rows[0]["geometry"])
	}
}

func TestNearest(t *testing.T) {
	t.Parallel()
	n := NewNetwork()
	if _, _, err := n.Nearest(0, 0); !errors.Is(err, ErrNoLocations) {
		t.Fatalf("empty network err = %v", err)
	}

	n.AddEdge(roadLink("A", "B", nil, orb.LineString{{-1.50, 52.28}, {-1.52, 52.28}}))
	n.AddEdge(roadLink("B", "C", nil, orb.LineString{{-1.52, 52.28}, {-1.53, 52.29}}))
	n.AddEdge(roadLink("X", "Y", nil, nil))
	n.Seal()

	node, dist, err := n.Nearest(-1.5205, 52.2801)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if node.ExternalIdentifier != "B" {
		t.Errorf("nearest = %s, want B", node.ExternalIdentifier)
	}
	if dist <= 0 || dist > 100 {
		t.Errorf("distance = %v", dist)
	}

	far, _, err := n.Nearest(0.0, 51.5)
	if err != nil {
		t.Fatalf("Nearest far: %v", err)
	}
	if far.ExternalIdentifier != "A" {
		t.Errorf("far nearest = %s, want A (closest to the east)", far.ExternalIdentifier)
	}
	if math.IsInf(dist, 0) {
		t.Error("infinite distance")
	}
}

func TestEndpoints_MultiLineString(t *testing.T) {
	t.Parallel()
	first, last := endpoints(orb.MultiLineString{{{0, 0}, {1, 1}}, {{1, 1}, {2, 2}}})
	if first == nil || last == nil || *first != (orb.Point{0, 0}) || *last != (orb.Point{2, 2}) {
		t.Errorf("endpoints = %v, %v", first, last)
	}
	if a, b := endpoints(orb.Point{1, 1}); a != nil || b != nil {
		t.Error("point geometry should have no endpoints")
	}
}
