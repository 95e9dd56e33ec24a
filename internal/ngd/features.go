package ngd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/paulmach/orb/geojson"
)

// CRS84 is the WGS84 lon/lat CRS URI understood by the NGD API.
const CRS84 = "http://www.opengis.net/def/crs/EPSG/0/4326"

// FeatureCollection fetches items from collection and decodes them as GeoJSON.
func (c *Client) FeatureCollection(ctx context.Context, collection string, query url.Values) (*geojson.FeatureCollection, error) {
	raw, err := c.Get(ctx, Request{Kind: KindCollectionItems, PathParams: []string{collection}, Query: query})
	if err != nil {
		return nil, err
	}
	return DecodeFeatureCollection(raw)
}

// DecodeFeatureCollection converts an already decoded items response into a
// [geojson.FeatureCollection].
func DecodeFeatureCollection(raw map[string]any) (*geojson.FeatureCollection, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("ngd: re-encode feature collection: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("ngd: decode feature collection: %w", err)
	}
	return fc, nil
}
