package pipeline

import (
	"context"

	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
)

type staticFetcher struct{}

func (staticFetcher) Query(ctx context.Context, query string) (*osmapi.OverpassResponse, error) {
	lat := func(v float64) *float64 { return &v }
	return &osmapi.OverpassResponse{Elements: []osmapi.OverpassElement{
		{Type: "way", ID: 1, Nodes: []int64{1, 3, 2}},
		{Type: "node", ID: 1, Lat: lat(0), Lon: lat(0)},
		{Type: "node", ID: 2, Lat: lat(1), Lon: lat(2)},
		{Type: "node", ID: 3, Lat: lat(0.5), Lon: lat(1)},
	}}, nil
}
