// Package osm provides clients for the OpenStreetMap collaborators: Nominatim
// for place search and Overpass for raw street graphs.
package osm

import (
	"github.com/paulmach/osm"
)

// Place is one Nominatim search record
type Place struct {
	OSMType     string  `json:"osm_type"`
	OSMID       *int64  `json:"osm_id"`
	DisplayName string  `json:"display_name"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Class       string  `json:"class,omitempty"`
	Importance  float64 `json:"importance,omitempty"`
}

// IsRelation reports whether the record describes an OSM relation
func (p Place) IsRelation() bool {
	return osm.Type(p.OSMType) == osm.TypeRelation
}

// OverpassElement represents an element returned from the Overpass API.
// Coordinates are pointers so a missing field is distinguishable from zero.
type OverpassElement struct {
	ID    int64             `json:"id"`
	Type  osm.Type          `json:"type"`
	Lat   *float64          `json:"lat,omitempty"`
	Lon   *float64          `json:"lon,omitempty"`
	Tags  map[string]string `json:"tags,omitempty"`
	Nodes []int64           `json:"nodes,omitempty"` // For ways, list of node IDs
}

// OverpassResponse is the JSON envelope returned by the interpreter endpoint
type OverpassResponse struct {
	Version   float64           `json:"version,omitempty"`
	Generator string            `json:"generator,omitempty"`
	Remark    string            `json:"remark,omitempty"`
	Elements  []OverpassElement `json:"elements"`
}
