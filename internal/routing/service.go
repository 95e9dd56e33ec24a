package routing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/MrWong99/osngd/internal/ngd"
	"github.com/MrWong99/osngd/internal/observe"
)

const (
	// RoadLinkCollection is the NGD collection road links are read from.
	RoadLinkCollection = "trn-ntwk-roadlink-4"

	// RestrictionCollection holds routing and asset management restrictions.
	RestrictionCollection = "trn-rami-restriction-1"

	// MaxPage is the largest page the upstream returns in one request.
	MaxPage = 100
)

// ErrNotBuilt is returned by queries on a service that has no network yet.
var ErrNotBuilt = errors.New("routing: network not built")

// Fetcher is the part of [ngd.Client] the service needs.
type Fetcher interface {
	FeatureCollection(ctx context.Context, collection string, query url.Values) (*geojson.FeatureCollection, error)
}

// BuildOptions controls one network build.
type BuildOptions struct {
	// BBox is "minx,miny,maxx,maxy" in CRS84; empty means no spatial filter.
	BBox                string
	Limit               int
	IncludeRestrictions bool
}

// BuildResult is the outcome of [Service.Build]. Status is "success" or
// "error"; on error only Message is set.
type BuildResult struct {
	Status           string             `json:"status"`
	Message          string             `json:"message"`
	Network          *Summary           `json:"network_summary,omitempty"`
	FeaturesIngested int                `json:"features_ingested"`
	FeaturesSkipped  int                `json:"features_skipped"`
	Restrictions     []*geojson.Feature `json:"restrictions,omitempty"`
	RestrictionCount int                `json:"restriction_count"`
}

// Service owns the current network. Builds create a fresh network and swap it
// in only when they succeed, so readers always see a complete network.
type Service struct {
	up      Fetcher
	metrics *observe.Metrics

	buildMu sync.Mutex

	mu           sync.RWMutex
	current      *Network
	restrictions []*geojson.Feature
}

// NewService creates a service with an empty, unbuilt network.
func NewService(up Fetcher, m *observe.Metrics) *Service {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Service{up: up, metrics: m, current: NewNetwork()}
}

// Build fetches one page of road links and replaces the current network.
// Upstream failures are reported in the result, never returned as errors.
func (s *Service) Build(ctx context.Context, opts BuildOptions) BuildResult {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	limit := opts.Limit
	if limit <= 0 || limit > MaxPage {
		limit = MaxPage
	}
	q := url.Values{
		"limit": {strconv.Itoa(limit)},
		"crs":   {ngd.CRS84},
	}
	if opts.BBox != "" {
		q.Set("bbox", opts.BBox)
	}

	log := observe.Logger(ctx)
	fc, err := s.up.FeatureCollection(ctx, RoadLinkCollection, q)
	if err != nil {
		msg := ngd.SanitizeString(err.Error())
		log.Error("routing: fetch road links failed", "err", msg)
		return BuildResult{Status: "error", Message: "Error building routing network: " + msg}
	}

	network := NewNetwork()
	res := BuildResult{Status: "success"}
	for _, f := range fc.Features {
		if _, ok := network.AddEdge(f); ok {
			res.FeaturesIngested++
		} else {
			res.FeaturesSkipped++
		}
	}
	network.Seal()

	var restrictions []*geojson.Feature
	if opts.IncludeRestrictions {
		restrictions = s.fetchRestrictions(ctx, q)
		res.Restrictions = restrictions
		res.RestrictionCount = len(restrictions)
	}

	s.mu.Lock()
	s.current = network
	s.restrictions = restrictions
	s.mu.Unlock()

	sum := network.Summary()
	res.Network = &sum
	res.Message = fmt.Sprintf("Built routing network with %d nodes and %d edges", sum.TotalNodes, sum.TotalEdges)
	s.metrics.RecordNetworkSize(ctx, sum.TotalNodes, sum.TotalEdges)
	log.Info("routing: network built",
		"nodes", sum.TotalNodes, "edges", sum.TotalEdges,
		"skipped", res.FeaturesSkipped, "restrictions", res.RestrictionCount)
	return res
}

// fetchRestrictions never fails; an upstream error yields no restrictions.
func (s *Service) fetchRestrictions(ctx context.Context, q url.Values) []*geojson.Feature {
	fc, err := s.up.FeatureCollection(ctx, RestrictionCollection, q)
	if err != nil {
		observe.Logger(ctx).Warn("routing: fetch restrictions failed", "err", ngd.SanitizeString(err.Error()))
		return []*geojson.Feature{}
	}
	if fc.Features == nil {
		return []*geojson.Feature{}
	}
	return fc.Features
}

// Current returns the last successfully built network, or an empty unbuilt
// one.
func (s *Service) Current() *Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Restrictions returns the restrictions fetched with the current network.
func (s *Service) Restrictions() []*geojson.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restrictions
}

// Built returns the current network or [ErrNotBuilt].
func (s *Service) Built() (*Network, error) {
	n := s.Current()
	if !n.Built() {
		return nil, ErrNotBuilt
	}
	return n, nil
}
