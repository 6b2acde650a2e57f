package osm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// NominatimClient searches places by free-form name
type NominatimClient struct {
	client *Client
}

// Nominatim returns a place search client sharing c's pool and limiters
func (c *Client) Nominatim() *NominatimClient {
	return &NominatimClient{client: c}
}

// Search returns every record Nominatim reports for name, in response order
func (n *NominatimClient) Search(ctx context.Context, name string) ([]Place, error) {
	c := n.client
	ctx, span := tracing.StartSpan(ctx, "nominatim.search",
		trace.WithAttributes(attribute.String(tracing.AttrPlaceName, name)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		err := core.NewError(core.ErrCodeInvalidInput, "place name must not be empty")
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	reqURL, err := url.Parse(c.opts.NominatimURL + "/search")
	if err != nil {
		return nil, core.Wrap(core.ErrCodeInternal, err, "invalid nominatim URL")
	}
	q := reqURL.Query()
	q.Set("format", "json")
	q.Set("q", name)
	reqURL.RawQuery = q.Encode()
	target := reqURL.String()

	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	do := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return c.do(ctx, tracing.ServiceNominatim, "search", c.opts.NominatimTimeout, req)
	}

	c.logger.Debug("searching place", "name", name, "url", target)

	resp, err := core.WithRetryFactory(ctx, factory, do, c.opts.NominatimRetry)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		reportError(tracing.ServiceNominatim, "decode_error")
		perr := core.Wrap(core.ErrCodeParseFailed, err, "failed to decode nominatim response").WithQuery(name)
		tracing.RecordError(ctx, perr)
		return nil, perr
	}

	span.SetAttributes(attribute.Int("nominatim.results", len(places)))
	c.logger.Debug("place search complete", "name", name, "results", len(places))
	return places, nil
}
