package osm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/paulmach/osm"

	"github.com/NERVsystems/streetglow/pkg/core"
)

func TestNominatimSearch(t *testing.T) {
	var gotQuery, gotFormat, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"osm_type":"relation","osm_id":1,"display_name":"Kyoto, Japan","name":"Kyoto","type":"administrative"},
			{"osm_type":"node","osm_id":2,"display_name":"Kyoto Station","name":"Kyoto Station","type":"station"}
		]`))
	}))
	defer server.Close()

	client := NewClient(Options{NominatimURL: server.URL, UserAgent: "streetglow-test/1.0"})
	places, err := client.Nominatim().Search(context.Background(), "  Kyoto ")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotQuery != "Kyoto" || gotFormat != "json" {
		t.Errorf("query params q=%q format=%q", gotQuery, gotFormat)
	}
	if gotUA != "streetglow-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if len(places) != 2 {
		t.Fatalf("got %d places, want 2", len(places))
	}
	if !places[0].IsRelation() || places[1].IsRelation() {
		t.Error("IsRelation mismatch")
	}
	if places[0].OSMID == nil || *places[0].OSMID != 1 {
		t.Errorf("osm_id = %v, want 1", places[0].OSMID)
	}
}

func TestNominatimSearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		place   string
		wantErr *core.Error
	}{
		{"empty name", http.StatusOK, `[]`, "   ", core.ErrInvalidInput},
		{"server error", http.StatusInternalServerError, ``, "Kyoto", core.ErrFetchFailed},
		{"rate limited", http.StatusTooManyRequests, ``, "Kyoto", core.ErrFetchFailed},
		{"bad json", http.StatusOK, `{not json`, "Kyoto", core.ErrParseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Options{NominatimURL: server.URL, NominatimRetry: core.NoRetry})
			_, err := client.Nominatim().Search(context.Background(), tt.place)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %s", err, tt.wantErr.Code)
			}
		})
	}
}

func TestNominatimRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	retry := core.RetryOptions{MaxAttempts: 2, InitialDelay: 1, Multiplier: 1}
	client := NewClient(Options{NominatimURL: server.URL, NominatimRetry: retry})
	if _, err := client.Nominatim().Search(context.Background(), "Kyoto"); err != nil {
		t.Fatalf("Search failed after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestOverpassQuery(t *testing.T) {
	var gotData, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotData = r.PostForm.Get("data")
		w.Write([]byte(`{"version":0.6,"elements":[
			{"type":"way","id":10,"nodes":[1,2]},
			{"type":"node","id":1,"lat":35.0,"lon":135.7},
			{"type":"node","id":2,"lat":35.1,"lon":135.8},
			{"type":"relation","id":7}
		]}`))
	}))
	defer server.Close()

	query := core.RoadNetworkQuery(3600000001)
	client := NewClient(Options{OverpassURL: server.URL})
	resp, err := client.Overpass().Query(context.Background(), query)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if gotData != query {
		t.Errorf("posted data = %q, want %q", gotData, query)
	}
	if !strings.HasPrefix(gotContentType, "application/x-www-form-urlencoded") {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if len(resp.Elements) != 4 {
		t.Fatalf("got %d elements, want 4", len(resp.Elements))
	}
	if resp.Elements[0].Type != osm.TypeWay || len(resp.Elements[0].Nodes) != 2 {
		t.Errorf("unexpected way element: %+v", resp.Elements[0])
	}
	if resp.Elements[1].Lat == nil || *resp.Elements[1].Lat != 35.0 {
		t.Errorf("unexpected node lat: %v", resp.Elements[1].Lat)
	}
	if resp.Elements[3].Lat != nil {
		t.Error("relation should carry no coordinates")
	}
}

func TestOverpassQueryErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode core.ErrorCode
	}{
		{"gateway timeout", http.StatusGatewayTimeout, ``, core.ErrCodeServiceTimeout},
		{"bad request", http.StatusBadRequest, `parse error`, core.ErrCodeFetchFailed},
		{"bad json", http.StatusOK, `<html>`, core.ErrCodeParseFailed},
		{"runtime remark", http.StatusOK, `{"elements":[],"remark":"runtime error: Query timed out"}`, core.ErrCodeFetchFailed},
		{"missing elements", http.StatusOK, `{"version":0.6,"remark":"area not available"}`, core.ErrCodeParseFailed},
		{"null elements", http.StatusOK, `{"version":0.6,"elements":null}`, core.ErrCodeParseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Options{OverpassURL: server.URL})
			_, err := client.Overpass().Query(context.Background(), "[out:json];")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.CodeOf(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if calls.Load() != 1 {
				t.Errorf("overpass must not retry by default, saw %d calls", calls.Load())
			}
		})
	}
}

func TestOverpassQueryEmptyArea(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":0.6,"elements":[]}`))
	}))
	defer server.Close()

	resp, err := NewClient(Options{OverpassURL: server.URL}).Overpass().Query(context.Background(), "[out:json];")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Elements == nil || len(resp.Elements) != 0 {
		t.Errorf("Elements = %#v, want empty non-nil slice", resp.Elements)
	}
}

func TestHealthChecks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Options{NominatimURL: server.URL, OverpassURL: server.URL})
	if err := client.CheckNominatimHealth(context.Background()); err != nil {
		t.Errorf("nominatim health: %v", err)
	}
	if err := client.CheckOverpassHealth(context.Background()); err != nil {
		t.Errorf("overpass health: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	client = NewClient(Options{NominatimURL: down.URL, OverpassURL: down.URL})
	if err := client.CheckNominatimHealth(context.Background()); err == nil {
		t.Error("expected nominatim health failure")
	}
	if err := client.CheckOverpassHealth(context.Background()); err == nil {
		t.Error("expected overpass health failure")
	}
}
