// Package workflow owns the one-time workflow context that most tools require
// before they may query the upstream API.
//
// The context is a snapshot of the collection catalogue (latest version per
// collection family) plus a summary of the upstream OpenAPI document. It is
// loaded once by [Context.Load], shared by concurrent callers, and never
// invalidated for the lifetime of the process. Queryables for individual
// collections are fetched on demand and cached alongside it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/ngd"
)

// ErrNotLoaded is returned by queries that need the snapshot before
// [Context.Load] has succeeded.
var ErrNotLoaded = errors.New("workflow: context not loaded")

// detailConcurrency bounds the queryables fan-out. Upstream pacing serialises
// the requests anyway; the limit only caps goroutines.
const detailConcurrency = 4

// suggestThreshold is the minimum Jaro-Winkler similarity for did_you_mean.
const suggestThreshold = 0.80

// Upstream is the part of [ngd.Client] the workflow context needs.
type Upstream interface {
	Get(ctx context.Context, req ngd.Request) (map[string]any, error)
}

// Collection is one entry of the catalogue.
type Collection struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Family      string `json:"-"`
	Version     int    `json:"version"`
}

// Snapshot is the immutable result of a successful [Context.Load].
type Snapshot struct {
	// Collections holds the latest version of every collection family,
	// sorted by id.
	Collections []Collection

	// Endpoints lists the paths of the upstream OpenAPI document. Empty
	// when the document could not be fetched.
	Endpoints []string

	// OpenAPIError is set when the OpenAPI document could not be fetched.
	OpenAPIError string

	LoadedAt time.Time

	all map[string]struct{}
}

// IDs returns the ids of [Snapshot.Collections].
func (s *Snapshot) IDs() []string {
	ids := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		ids[i] = c.ID
	}
	return ids
}

// Has reports whether id is any version listed by the upstream, not only the
// latest one.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.all[id]
	return ok
}

// Context is the workflow context. The zero value is not usable; create one
// with [New].
type Context struct {
	up Upstream

	mu         sync.RWMutex
	snap       *Snapshot
	queryables map[string]map[string]any

	group singleflight.Group
	now   func() time.Time
}

// New creates an empty, not yet loaded Context.
func New(up Upstream) *Context {
	return &Context{
		up:         up,
		queryables: make(map[string]map[string]any),
		now:        time.Now,
	}
}

// Ready reports whether the snapshot has been loaded.
func (c *Context) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// Snapshot returns the loaded snapshot or [ErrNotLoaded].
func (c *Context) Snapshot() (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, ErrNotLoaded
	}
	return c.snap, nil
}

// Load fetches the collection catalogue and OpenAPI summary once. Concurrent
// callers share a single in-flight fetch; later callers get the cached
// snapshot. A failed load is not cached. A caller whose ctx ends stops
// waiting but does not cancel the fetch for the others.
func (c *Context) Load(ctx context.Context) (*Snapshot, error) {
	if s, err := c.Snapshot(); err == nil {
		return s, nil
	}

	ch := c.group.DoChan("load", func() (any, error) {
		if s, err := c.Snapshot(); err == nil {
			return s, nil
		}
		s, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snap = s
		c.mu.Unlock()
		slog.Info("workflow: context loaded",
			"collections", len(s.Collections), "endpoints", len(s.Endpoints))
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Context) fetch(ctx context.Context) (*Snapshot, error) {
	raw, err := c.up.Get(ctx, ngd.Request{Kind: ngd.KindCollections})
	if err != nil {
		return nil, fmt.Errorf("workflow: fetch collections: %w", err)
	}
	all, latest := LatestCollections(raw)
	if len(latest) == 0 {
		return nil, errors.New("workflow: upstream returned no collections")
	}

	s := &Snapshot{Collections: latest, LoadedAt: c.now(), all: all}

	api, err := c.up.Get(ctx, ngd.Request{Kind: ngd.KindOpenAPI, Query: url.Values{"f": {"json"}}})
	if err != nil {
		slog.Warn("workflow: openapi document unavailable", "err", ngd.SanitizeString(err.Error()))
		s.OpenAPIError = "Failed to load OpenAPI spec"
	} else {
		s.Endpoints = OpenAPIPaths(api)
	}
	return s, nil
}

// LatestCollections parses a /collections response. It returns the set of
// every listed id and, per collection family, the entry with the highest
// version suffix, sorted by id.
func LatestCollections(raw map[string]any) (map[string]struct{}, []Collection) {
	all := make(map[string]struct{})
	best := make(map[string]Collection)

	list, _ := raw["collections"].([]any)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		all[id] = struct{}{}
		col := Collection{ID: id}
		col.Title, _ = m["title"].(string)
		col.Description, _ = m["description"].(string)
		col.Family, col.Version = splitVersion(id)

		if cur, ok := best[col.Family]; !ok || col.Version > cur.Version {
			best[col.Family] = col
		}
	}

	latest := slices.Collect(maps.Values(best))
	sort.Slice(latest, func(i, j int) bool { return latest[i].ID < latest[j].ID })
	return all, latest
}

// splitVersion splits "bld-fts-building-4" into ("bld-fts-building", 4). Ids
// without a numeric suffix are their own family at version 0.
func splitVersion(id string) (string, int) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return id, 0
	}
	v, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return id, 0
	}
	return id[:i], v
}

// OpenAPIPaths returns the sorted path keys of an OpenAPI document.
func OpenAPIPaths(doc map[string]any) []string {
	paths, _ := doc["paths"].(map[string]any)
	out := slices.Collect(maps.Keys(paths))
	sort.Strings(out)
	return out
}

// ValidateCollection returns nil when id is a listed collection, and an
// INVALID_COLLECTION error carrying the valid ids and close matches
// otherwise.
func (c *Context) ValidateCollection(id string) error {
	s, err := c.Snapshot()
	if err != nil {
		return err
	}
	if s.Has(id) {
		return nil
	}
	valid := s.IDs()
	return envelope.New(envelope.CodeInvalidColl,
		fmt.Sprintf("Invalid collection '%s'. Use one of the valid collections.", id),
		envelope.WithDetails(map[string]any{
			"invalid_collection": id,
			"valid_collections":  valid,
			"did_you_mean":       Suggest(id, valid, 3),
		}))
}

// Suggest returns up to n candidates most similar to id by Jaro-Winkler
// similarity, best first.
func Suggest(id string, candidates []string, n int) []string {
	type scored struct {
		id    string
		score float64
	}
	var hits []scored
	for _, cand := range candidates {
		s := matchr.JaroWinkler(id, cand, false)
		if s >= suggestThreshold {
			hits = append(hits, scored{cand, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]string, 0, min(n, len(hits)))
	for i := 0; i < len(hits) && i < n; i++ {
		out = append(out, hits[i].id)
	}
	return out
}

// Detail is the queryables lookup result for one collection. Exactly one of
// Queryables and Err is set.
type Detail struct {
	ID         string
	Queryables map[string]any
	Err        error
}

// Detailed fetches queryables for ids concurrently. Failures are reported per
// collection; the call itself only fails when ctx ends or the context is not
// loaded. Results are returned in the order of ids.
func (c *Context) Detailed(ctx context.Context, ids []string) ([]Detail, error) {
	if !c.Ready() {
		return nil, ErrNotLoaded
	}

	out := make([]Detail, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i, id := range ids {
		out[i].ID = id
		if err := c.ValidateCollection(id); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			q, err := c.Queryables(gctx, id)
			out[i].Queryables, out[i].Err = q, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Queryables returns the cached queryables document for id, fetching it on
// first use.
func (c *Context) Queryables(ctx context.Context, id string) (map[string]any, error) {
	c.mu.RLock()
	q, ok := c.queryables[id]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	v, err, _ := c.group.Do("queryables:"+id, func() (any, error) {
		return c.up.Get(ctx, ngd.Request{Kind: ngd.KindCollectionQueryables, PathParams: []string{id}})
	})
	if err != nil {
		return nil, err
	}
	q = v.(map[string]any)
	c.mu.Lock()
	c.queryables[id] = q
	c.mu.Unlock()
	return q, nil
}

// CachedQueryables lists the collections whose queryables are cached.
func (c *Context) CachedQueryables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := slices.Collect(maps.Keys(c.queryables))
	sort.Strings(ids)
	return ids
}
