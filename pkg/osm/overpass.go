package osm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// OverpassClient runs Overpass QL queries against the interpreter endpoint
type OverpassClient struct {
	client *Client
}

// Overpass returns a query client sharing c's pool and limiters
func (c *Client) Overpass() *OverpassClient {
	return &OverpassClient{client: c}
}

// Query posts query as the data form field and decodes the element list.
// A runtime error remark from the server (reported with HTTP 200) is a fetch
// failure; a reply without an elements array is a parse failure.
func (o *OverpassClient) Query(ctx context.Context, query string) (*OverpassResponse, error) {
	c := o.client
	ctx, span := tracing.StartSpan(ctx, "overpass.query",
		trace.WithAttributes(attribute.Int("overpass.query_length", len(query))),
	)
	defer span.End()

	body := url.Values{"data": {query}}.Encode()
	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.OverpassURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
	do := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return c.do(ctx, tracing.ServiceOverpass, "query", c.opts.OverpassTimeout, req)
	}

	c.logger.Debug("executing overpass query", "query", query)

	resp, err := core.WithRetryFactory(ctx, factory, do, c.opts.OverpassRetry)
	if err != nil {
		tracing.RecordError(ctx, err)
		var cerr *core.Error
		if errors.As(err, &cerr) && cerr.Query == "" {
			cerr.WithQuery(query)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var result OverpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		reportError(tracing.ServiceOverpass, "decode_error")
		perr := core.Wrap(core.ErrCodeParseFailed, err, "failed to decode overpass response").WithQuery(query)
		tracing.RecordError(ctx, perr)
		return nil, perr
	}

	if strings.Contains(result.Remark, "runtime error") {
		reportError(tracing.ServiceOverpass, "runtime_error")
		ferr := core.NewError(core.ErrCodeFetchFailed, "overpass runtime error: "+result.Remark).
			WithQuery(query).
			WithGuidance("The area may be too large for the server-side time or memory budget.")
		tracing.RecordError(ctx, ferr)
		return nil, ferr
	}

	// "elements": [] is a valid empty area; a reply without the key is not
	if result.Elements == nil {
		reportError(tracing.ServiceOverpass, "missing_elements")
		perr := core.NewError(core.ErrCodeParseFailed, "overpass response has no elements").
			WithQuery(query)
		if result.Remark != "" {
			perr.Message += " (remark: " + result.Remark + ")"
		}
		tracing.RecordError(ctx, perr)
		return nil, perr
	}

	span.SetAttributes(attribute.Int("overpass.elements", len(result.Elements)))
	c.logger.Debug("overpass query complete", "elements", len(result.Elements))
	return &result, nil
}
