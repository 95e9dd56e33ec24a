package ngd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies one upstream endpoint in the descriptor table.
type Kind int

const (
	KindCollections Kind = iota
	KindCollection
	KindCollectionSchema
	KindCollectionItems
	KindCollectionItem
	KindCollectionQueryables
	KindOpenAPI
	KindLinkedIdentifiers
	KindPlacesUPRN
	KindPlacesPostcode
	KindDocs
)

// Base selects which configured base URL an endpoint hangs off.
type Base int

const (
	BaseNGD Base = iota
	BaseLinks
	BasePlaces
	BaseDocs
)

// Endpoint describes a single upstream call: a path template with exactly
// Arity %s verbs, the base it is resolved against, and whether the API key is
// attached.
type Endpoint struct {
	Name   string
	Base   Base
	Path   string
	Arity  int
	Public bool
}

var (
	// ErrUnknownEndpoint is returned for a Kind outside the descriptor table.
	ErrUnknownEndpoint = errors.New("ngd: unknown endpoint")

	// ErrPathArity is returned when the number of path parameters does not
	// match the endpoint template.
	ErrPathArity = errors.New("ngd: wrong number of path parameters")
)

var endpoints = map[Kind]Endpoint{
	KindCollections:          {Name: "collections", Base: BaseNGD, Path: "/collections"},
	KindCollection:           {Name: "collection", Base: BaseNGD, Path: "/collections/%s", Arity: 1},
	KindCollectionSchema:     {Name: "collection_schema", Base: BaseNGD, Path: "/collections/%s/schema", Arity: 1},
	KindCollectionItems:      {Name: "collection_items", Base: BaseNGD, Path: "/collections/%s/items", Arity: 1},
	KindCollectionItem:       {Name: "collection_item", Base: BaseNGD, Path: "/collections/%s/items/%s", Arity: 2},
	KindCollectionQueryables: {Name: "collection_queryables", Base: BaseNGD, Path: "/collections/%s/queryables", Arity: 1},
	KindOpenAPI:              {Name: "openapi", Base: BaseNGD, Path: "/api"},
	KindLinkedIdentifiers:    {Name: "linked_identifiers", Base: BaseLinks, Path: "/identifierTypes/%s/%s", Arity: 2},
	KindPlacesUPRN:           {Name: "places_uprn", Base: BasePlaces, Path: "/uprn"},
	KindPlacesPostcode:       {Name: "places_postcode", Base: BasePlaces, Path: "/postcode"},
	KindDocs:                 {Name: "docs", Base: BaseDocs, Path: "/%s.md", Arity: 1, Public: true},
}

// Lookup returns the descriptor for k.
func Lookup(k Kind) (Endpoint, error) {
	ep, ok := endpoints[k]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %d", ErrUnknownEndpoint, int(k))
	}
	return ep, nil
}

// String returns the endpoint's short name, used as a metric attribute.
func (k Kind) String() string {
	if ep, ok := endpoints[k]; ok {
		return ep.Name
	}
	return "unknown"
}

// resolve renders the endpoint path against base. Path parameters are escaped
// as single path segments.
func (ep Endpoint) resolve(base string, params []string) (string, error) {
	if len(params) != ep.Arity {
		return "", fmt.Errorf("%w: %s wants %d, got %d", ErrPathArity, ep.Name, ep.Arity, len(params))
	}
	args := make([]any, len(params))
	for i, p := range params {
		if p == "" {
			return "", fmt.Errorf("%w: %s parameter %d is empty", ErrPathArity, ep.Name, i)
		}
		args[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + fmt.Sprintf(ep.Path, args...), nil
}
