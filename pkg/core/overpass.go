package core

import (
	"fmt"
	"strings"
)

// AreaIDOffset is added to an OSM relation id to form the Overpass area id
const AreaIDOffset int64 = 3_600_000_000

// RoadQueryTimeout is the server-side budget for road network queries, in seconds
const RoadQueryTimeout = 900

// HighwayClasses is the closed allow-list of highway tags fetched for an area.
// Classes in the first group also match with a "_link" suffix.
var (
	HighwayClassesWithLinks = []string{"motorway", "trunk", "primary", "secondary", "tertiary"}
	HighwayClasses          = []string{"unclassified", "residential", "living_street", "service", "track"}
)

// OverpassBuilder provides a fluent interface for building Overpass API queries
type OverpassBuilder struct {
	outFormat      string
	timeout        int
	areaID         int64
	elementFilters []ElementFilter
	recurseDown    bool
}

// TagFilter represents a tag filter for Overpass queries
type TagFilter struct {
	Key     string
	Values  []string
	Pattern string // raw regular expression, takes precedence over Values
	Exclude bool
}

// ElementFilter represents a filter with tags for a specific element type
type ElementFilter struct {
	ElementType string // "node", "way", "relation"
	Tags        []TagFilter
}

// NewOverpassBuilder creates a new builder with default settings
func NewOverpassBuilder() *OverpassBuilder {
	return &OverpassBuilder{
		outFormat: "json",
		timeout:   25,
	}
}

// WithTimeout sets the server-side query timeout
func (b *OverpassBuilder) WithTimeout(seconds int) *OverpassBuilder {
	b.timeout = seconds
	return b
}

// WithOutputFormat sets the output format
func (b *OverpassBuilder) WithOutputFormat(format string) *OverpassBuilder {
	b.outFormat = format
	return b
}

// WithArea restricts every element filter to the given Overpass area id
func (b *OverpassBuilder) WithArea(areaID int64) *OverpassBuilder {
	b.areaID = areaID
	return b
}

// WithWay adds a way filter
func (b *OverpassBuilder) WithWay(tags ...TagFilter) *OverpassBuilder {
	b.elementFilters = append(b.elementFilters, ElementFilter{
		ElementType: "way",
		Tags:        tags,
	})
	return b
}

// WithNode adds a node filter
func (b *OverpassBuilder) WithNode(tags ...TagFilter) *OverpassBuilder {
	b.elementFilters = append(b.elementFilters, ElementFilter{
		ElementType: "node",
		Tags:        tags,
	})
	return b
}

// WithReferencedNodes also outputs every node referenced by the matched ways
func (b *OverpassBuilder) WithReferencedNodes() *OverpassBuilder {
	b.recurseDown = true
	return b
}

// Tag creates a TagFilter for a key with optional values
func Tag(key string, values ...string) TagFilter {
	return TagFilter{
		Key:    key,
		Values: values,
	}
}

// TagMatch creates a TagFilter matching the key against a regular expression
func TagMatch(key, pattern string) TagFilter {
	return TagFilter{
		Key:     key,
		Pattern: pattern,
	}
}

// Build generates the Overpass query string
func (b *OverpassBuilder) Build() string {
	var query strings.Builder

	query.WriteString(fmt.Sprintf("[out:%s][timeout:%d];", b.outFormat, b.timeout))

	if b.areaID != 0 {
		query.WriteString(fmt.Sprintf("area(%d)->.searchArea;", b.areaID))
	}

	query.WriteString("(")
	for _, filter := range b.elementFilters {
		query.WriteString(b.buildElementFilter(filter))
	}
	query.WriteString(");out body;")

	if b.recurseDown {
		query.WriteString(">;out skel qt;")
	}

	return query.String()
}

// buildElementFilter generates the query part for a specific element filter
func (b *OverpassBuilder) buildElementFilter(filter ElementFilter) string {
	var elementQuery strings.Builder

	elementQuery.WriteString(filter.ElementType)
	for _, tag := range filter.Tags {
		elementQuery.WriteString(buildTagFilter(tag))
	}
	if b.areaID != 0 {
		elementQuery.WriteString("(area.searchArea)")
	}

	elementQuery.WriteString(";")
	return elementQuery.String()
}

// buildTagFilter generates the query part for a tag filter
func buildTagFilter(filter TagFilter) string {
	op := "~"
	if filter.Exclude {
		op = "!~"
	}
	if filter.Pattern != "" {
		return fmt.Sprintf("[%q%s%q]", filter.Key, op, filter.Pattern)
	}

	if len(filter.Values) == 0 || (len(filter.Values) == 1 && filter.Values[0] == "*") {
		if filter.Exclude {
			return fmt.Sprintf("[!%q]", filter.Key)
		}
		return fmt.Sprintf("[%q]", filter.Key)
	}

	if len(filter.Values) == 1 {
		eq := "="
		if filter.Exclude {
			eq = "!="
		}
		return fmt.Sprintf("[%q%s%q]", filter.Key, eq, filter.Values[0])
	}

	return fmt.Sprintf("[%q%s%q]", filter.Key, op, "^("+strings.Join(filter.Values, "|")+")$")
}

// HighwayPattern returns the regular expression matching the highway allow-list
func HighwayPattern() string {
	return fmt.Sprintf("^(%s)(_link)?$|^(%s)$",
		strings.Join(HighwayClassesWithLinks, "|"),
		strings.Join(HighwayClasses, "|"))
}

// RoadNetworkQuery builds the query fetching drivable and walkable streets of an
// area together with every node they reference.
func RoadNetworkQuery(areaID int64) string {
	return NewOverpassBuilder().
		WithTimeout(RoadQueryTimeout).
		WithArea(areaID).
		WithWay(TagMatch("highway", HighwayPattern())).
		WithReferencedNodes().
		Build()
}
