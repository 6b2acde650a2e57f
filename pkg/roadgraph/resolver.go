package roadgraph

import (
	"context"
	"log/slog"
	"strings"

	"github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/streetglow/pkg/core"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// Geocoder searches places by name
type Geocoder interface {
	Search(ctx context.Context, name string) ([]osmapi.Place, error)
}

// Resolver turns place names into administrative areas
type Resolver struct {
	geocoder Geocoder
	logger   *slog.Logger
}

// NewResolver creates a resolver backed by geocoder
func NewResolver(geocoder Geocoder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{geocoder: geocoder, logger: logger}
}

// Resolve returns every relation-typed match for name, in geocoder order
func (r *Resolver) Resolve(ctx context.Context, name string) ([]Area, error) {
	ctx, span := tracing.StartSpan(ctx, "roadgraph.resolve",
		trace.WithAttributes(attribute.String(tracing.AttrPlaceName, name)),
	)
	defer span.End()

	key := strings.TrimSpace(name)
	if key == "" {
		return nil, core.NewError(core.ErrCodeInvalidInput, "place name must not be empty").
			WithGuidance("Provide a city or region name such as 'Kyoto'.")
	}

	places, err := r.geocoder.Search(ctx, key)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	areas, err := AreasFromPlaces(key, places)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if len(areas) == 0 {
		err := core.Errorf(core.ErrCodeNotFound, "no administrative area matches %q", key).
			WithGuidance("Only relation results can be used as search areas. Try a broader or differently spelled name.")
		tracing.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracing.AttrAreaCount, len(areas)))
	for _, a := range areas {
		r.logger.Info("resolved area", "key", key, "name", a.Name, "kind", a.Kind, "area_id", a.AreaID)
	}
	return areas, nil
}

// AreasFromPlaces keeps only relation records and maps them to areas.
// The display name is preferred and the short name is the fallback.
func AreasFromPlaces(key string, places []osmapi.Place) ([]Area, error) {
	var areas []Area
	for i, p := range places {
		if !p.IsRelation() {
			continue
		}
		if p.OSMID == nil {
			return nil, core.Errorf(core.ErrCodeParseFailed, "relation record %d has no osm_id", i)
		}
		name := p.DisplayName
		if name == "" {
			name = p.Name
		}
		if name == "" {
			return nil, core.Errorf(core.ErrCodeParseFailed, "relation %d has no name", *p.OSMID)
		}
		areas = append(areas, NewArea(key, name, p.Type, osm.RelationID(*p.OSMID)))
	}
	return areas, nil
}
