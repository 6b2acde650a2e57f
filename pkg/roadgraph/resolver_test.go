package roadgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/NERVsystems/streetglow/pkg/core"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
)

type fakeGeocoder struct {
	places []osmapi.Place
	err    error
	calls  int
}

func (f *fakeGeocoder) Search(ctx context.Context, name string) ([]osmapi.Place, error) {
	f.calls++
	return f.places, f.err
}

func id(v int64) *int64 { return &v }

func TestResolveKyoto(t *testing.T) {
	geo := &fakeGeocoder{places: []osmapi.Place{
		{OSMType: "relation", OSMID: id(1), DisplayName: "Kyoto, Japan", Name: "Kyoto", Type: "administrative"},
		{OSMType: "node", OSMID: id(2), DisplayName: "Kyoto Station", Type: "station"},
	}}

	areas, err := NewResolver(geo, nil).Resolve(context.Background(), "Kyoto")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(areas) != 1 {
		t.Fatalf("got %d areas, want 1", len(areas))
	}
	want := Area{Key: "Kyoto", Name: "Kyoto, Japan", Kind: "administrative", AreaID: 3600000001, Relation: 1}
	if areas[0] != want {
		t.Errorf("area = %+v, want %+v", areas[0], want)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		geo     *fakeGeocoder
		wantErr *core.Error
		calls   int
	}{
		{
			name:    "empty name",
			query:   "  ",
			geo:     &fakeGeocoder{},
			wantErr: core.ErrInvalidInput,
		},
		{
			name:    "no relations",
			query:   "Nowhere",
			geo:     &fakeGeocoder{places: []osmapi.Place{{OSMType: "way", OSMID: id(5), Name: "x"}}},
			wantErr: core.ErrNotFound,
			calls:   1,
		},
		{
			name:    "geocoder failure",
			query:   "Kyoto",
			geo:     &fakeGeocoder{err: core.ServiceError("nominatim", 500, "boom")},
			wantErr: core.ErrFetchFailed,
			calls:   1,
		},
		{
			name:    "relation missing id",
			query:   "Kyoto",
			geo:     &fakeGeocoder{places: []osmapi.Place{{OSMType: "relation", Name: "Kyoto"}}},
			wantErr: core.ErrParseFailed,
			calls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.geo, nil).Resolve(context.Background(), tt.query)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %s", err, tt.wantErr.Code)
			}
			if tt.geo.calls != tt.calls {
				t.Errorf("geocoder called %d times, want %d", tt.geo.calls, tt.calls)
			}
		})
	}
}

func TestAreasFromPlacesNameFallback(t *testing.T) {
	areas, err := AreasFromPlaces("京都", []osmapi.Place{
		{OSMType: "relation", OSMID: id(357794), Name: "京都市", Type: "city"},
		{OSMType: "relation", OSMID: id(2), DisplayName: "京都府", Name: "京都", Type: "administrative"},
	})
	if err != nil {
		t.Fatalf("AreasFromPlaces failed: %v", err)
	}
	if len(areas) != 2 {
		t.Fatalf("got %d areas, want 2", len(areas))
	}
	if areas[0].Name != "京都市" || areas[0].AreaID != 3600357794 {
		t.Errorf("first area = %+v", areas[0])
	}
	if areas[1].Name != "京都府" {
		t.Errorf("display name must win, got %q", areas[1].Name)
	}

	_, err = AreasFromPlaces("x", []osmapi.Place{{OSMType: "relation", OSMID: id(3)}})
	if !errors.Is(err, core.ErrParseFailed) {
		t.Errorf("nameless relation error = %v, want PARSE_FAILED", err)
	}
}
