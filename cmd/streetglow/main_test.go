package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/osm"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/tools"
	"github.com/NERVsystems/streetglow/pkg/version"
)

func writeGraph(t *testing.T, dir, name string) string {
	t.Helper()
	g := roadgraph.NewGraph()
	for i, ll := range [][2]float64{{35.00, 135.70}, {35.01, 135.75}, {35.02, 135.80}} {
		id := osm.NodeID(i + 1)
		g.Nodes[id] = roadgraph.Node{ID: id, Lat: ll[0], Lon: ll[1]}
	}
	g.Ways = []roadgraph.Way{{ID: 10, NodeIDs: []osm.NodeID{1, 2, 3}}}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := roadgraph.Encode(f, g); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, version.BuildVersion) {
		t.Errorf("version output %q does not mention %s", out, version.BuildVersion)
	}
}

func TestLoadCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "kyoto_1.json")

	out, err := execute(t, "load", path, "--cache-dir", dir, "--batch", "1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, want := range []string{"source:   " + path, "3 nodes, 1 ways", "segments: 2", "frames:   2 at 1 per frame"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadCommandRandom(t *testing.T) {
	dir := t.TempDir()
	writeGraph(t, dir, "kyoto_1.json")

	out, err := execute(t, "load", "--cache-dir", dir, "--seed", "7")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "kyoto_1.json") {
		t.Errorf("random load picked an unexpected file:\n%s", out)
	}
}

func TestLoadCommandEmptyCache(t *testing.T) {
	_, err := execute(t, "load", "--cache-dir", t.TempDir())
	if !errors.Is(err, core.ErrNoCacheEntries) {
		t.Errorf("error = %v, want NO_CACHE_ENTRIES", err)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "kyoto_1.json")
	out := filepath.Join(dir, "kyoto.png")

	stdout, err := execute(t, "render", "--file", path, "--out", out, "--width", "200", "--caption", "Kyoto")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(stdout, "wrote "+out) {
		t.Errorf("unexpected output %q", stdout)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("empty png")
	}
}

func TestServeRejectsBadBatch(t *testing.T) {
	_, err := execute(t, "serve", "--cache-dir", t.TempDir(), "--batch", "0")
	if err == nil || !strings.Contains(err.Error(), "batch") {
		t.Errorf("error = %v, want a batch error", err)
	}
}

func TestRegistrationConfigURLs(t *testing.T) {
	a := &app{}
	cfg := a.registrationConfig(serveOptions{addr: ":7082"}, tools.Deps{})
	if cfg.ServiceURL != "http://localhost:7082" || cfg.StreamURL != "ws://localhost:7082/stream" {
		t.Errorf("derived urls = %s %s", cfg.ServiceURL, cfg.StreamURL)
	}
	if cfg.Enabled() {
		t.Error("registration enabled without a registry url")
	}

	cfg = a.registrationConfig(serveOptions{serviceURL: "https://glow.example.org/", registryURL: "http://registry:7083"}, tools.Deps{})
	if cfg.StreamURL != "wss://glow.example.org/stream" || cfg.HealthURL != "https://glow.example.org/health" {
		t.Errorf("derived urls = %s %s", cfg.StreamURL, cfg.HealthURL)
	}
	if len(cfg.Tools) == 0 {
		t.Error("no tools announced")
	}
}
