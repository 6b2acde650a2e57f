// Package roadgraph holds the raw street graph of an administrative area and
// the resolver that turns a place name into areas.
package roadgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/osm"

	"github.com/NERVsystems/streetglow/pkg/core"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
)

// Area is an administrative region usable as an Overpass search area
type Area struct {
	Key      string         `json:"key"`
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	AreaID   int64          `json:"area_id"`
	Relation osm.RelationID `json:"relation_id"`
}

// NewArea derives the Overpass area id from the relation id
func NewArea(key, name, kind string, relation osm.RelationID) Area {
	return Area{
		Key:      key,
		Name:     name,
		Kind:     kind,
		AreaID:   int64(relation) + core.AreaIDOffset,
		Relation: relation,
	}
}

// Node is a raw OSM node position
type Node struct {
	ID  osm.NodeID
	Lat float64
	Lon float64
}

// Way is an ordered node reference list. References may dangle.
type Way struct {
	ID      osm.WayID
	NodeIDs []osm.NodeID
}

// Graph is the raw road network of one area
type Graph struct {
	Nodes map[osm.NodeID]Node
	Ways  []Way
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[osm.NodeID]Node),
		Ways:  []Way{},
	}
}

// SegmentCount is the number of consecutive node pairs across all ways
func (g *Graph) SegmentCount() int {
	n := 0
	for _, w := range g.Ways {
		if len(w.NodeIDs) > 1 {
			n += len(w.NodeIDs) - 1
		}
	}
	return n
}

// FromElements partitions Overpass elements into nodes and ways.
// Elements of any other kind are ignored.
func FromElements(elements []osmapi.OverpassElement) (*Graph, error) {
	g := NewGraph()
	for i, el := range elements {
		if el.Type != osm.TypeNode && el.Type != osm.TypeWay {
			continue
		}
		// OSM ids are positive; zero means the field was absent
		if el.ID <= 0 {
			return nil, core.Errorf(core.ErrCodeParseFailed, "%s element %d has no valid id (%d)", el.Type, i, el.ID)
		}
		switch el.Type {
		case osm.TypeNode:
			if el.Lat == nil || el.Lon == nil {
				return nil, core.Errorf(core.ErrCodeParseFailed, "node %d (element %d) is missing lat/lon", el.ID, i)
			}
			id := osm.NodeID(el.ID)
			g.Nodes[id] = Node{ID: id, Lat: *el.Lat, Lon: *el.Lon}
		case osm.TypeWay:
			if el.Nodes == nil {
				return nil, core.Errorf(core.ErrCodeParseFailed, "way %d (element %d) is missing nodes", el.ID, i)
			}
			refs := make([]osm.NodeID, len(el.Nodes))
			for j, ref := range el.Nodes {
				refs[j] = osm.NodeID(ref)
			}
			g.Ways = append(g.Ways, Way{ID: osm.WayID(el.ID), NodeIDs: refs})
		}
	}
	return g, nil
}

// On-disk layout:
//
//	{"nodes": {"<id>": {"lat": f, "lon": f}}, "ways": [[id, ...]], "way_ids": [id, ...]}
//
// way_ids is optional. Ids inside ways may be numbers or numeric strings.
type graphFile struct {
	Nodes  map[string]fileNode `json:"nodes"`
	Ways   [][]flexID          `json:"ways"`
	WayIDs []flexID            `json:"way_ids,omitempty"`
}

type fileNode struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// flexID decodes from a JSON number or a numeric string
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", s, err)
		}
		*f = flexID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// Encode writes g in the cache file layout
func Encode(w io.Writer, g *Graph) error {
	out := graphFile{
		Nodes: make(map[string]fileNode, len(g.Nodes)),
		Ways:  make([][]flexID, len(g.Ways)),
	}
	for id, n := range g.Nodes {
		lat, lon := n.Lat, n.Lon
		out.Nodes[strconv.FormatInt(int64(id), 10)] = fileNode{Lat: &lat, Lon: &lon}
	}

	hasIDs := false
	ids := make([]flexID, len(g.Ways))
	for i, way := range g.Ways {
		refs := make([]flexID, len(way.NodeIDs))
		for j, ref := range way.NodeIDs {
			refs[j] = flexID(ref)
		}
		out.Ways[i] = refs
		ids[i] = flexID(way.ID)
		if way.ID != 0 {
			hasIDs = true
		}
	}
	if hasIDs {
		out.WayIDs = ids
	}

	if err := json.NewEncoder(w).Encode(out); err != nil {
		return core.Wrap(core.ErrCodeCacheWriteFailed, err, "failed to encode graph")
	}
	return nil
}

// Decode reads a graph in the cache file layout
func Decode(r io.Reader) (*Graph, error) {
	var in graphFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, core.Wrap(core.ErrCodeParseFailed, err, "failed to decode graph file")
	}
	if in.Nodes == nil || in.Ways == nil {
		return nil, core.NewError(core.ErrCodeParseFailed, "graph file is missing nodes or ways")
	}
	if in.WayIDs != nil && len(in.WayIDs) != len(in.Ways) {
		return nil, core.Errorf(core.ErrCodeParseFailed, "graph file has %d way ids for %d ways", len(in.WayIDs), len(in.Ways))
	}

	g := &Graph{
		Nodes: make(map[osm.NodeID]Node, len(in.Nodes)),
		Ways:  make([]Way, len(in.Ways)),
	}
	for key, n := range in.Nodes {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, core.Wrap(core.ErrCodeParseFailed, err, fmt.Sprintf("invalid node id %q", key))
		}
		if n.Lat == nil || n.Lon == nil {
			return nil, core.Errorf(core.ErrCodeParseFailed, "node %d is missing lat/lon", id)
		}
		g.Nodes[osm.NodeID(id)] = Node{ID: osm.NodeID(id), Lat: *n.Lat, Lon: *n.Lon}
	}
	for i, refs := range in.Ways {
		ids := make([]osm.NodeID, len(refs))
		for j, ref := range refs {
			ids[j] = osm.NodeID(ref)
		}
		g.Ways[i].NodeIDs = ids
		if in.WayIDs != nil {
			g.Ways[i].ID = osm.WayID(in.WayIDs[i])
		}
	}
	return g, nil
}
