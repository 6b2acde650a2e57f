package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
)

// Target names the graph a run works on. Exactly one of Place and File may be
// set; neither means a random cached graph.
type Target struct {
	Place string
	File  string
}

// Scene is an extracted graph ready to be drawn
type Scene struct {
	Source     string
	Area       *roadgraph.Area
	Graph      *roadgraph.Graph
	Extraction *geometry.Result
}

// Report is the outcome of Run
type Report struct {
	Mode  Mode
	Areas []AreaResult
	Scene *Scene
}

// Run executes the configured mode against target
func (p *Pipeline) Run(ctx context.Context, target Target) (*Report, error) {
	report := &Report{Mode: p.opts.Mode}

	switch p.opts.Mode {
	case ModeFetch:
		if strings.TrimSpace(target.Place) == "" {
			return nil, core.NewError(core.ErrCodeInvalidInput, "fetch mode needs a place name")
		}
		areas, err := p.FetchAll(ctx, target.Place)
		report.Areas = areas
		if err != nil {
			return report, err
		}
		return report, nil

	case ModeLoadCached:
		if target.Place != "" {
			return nil, core.NewError(core.ErrCodeInvalidInput, "load-cached mode takes a file, not a place")
		}
		fallthrough

	case ModeExtractAndServe:
		scene, err := p.Prepare(ctx, target)
		if err != nil {
			return nil, err
		}
		report.Scene = scene
		return report, nil
	}

	return nil, core.Errorf(core.ErrCodeInvalidInput, "unknown mode %q", p.opts.Mode)
}

// Prepare loads the target's graph and extracts it
func (p *Pipeline) Prepare(ctx context.Context, target Target) (*Scene, error) {
	scene, err := p.Load(ctx, target)
	if err != nil {
		return nil, err
	}

	res, err := p.Extract(ctx, scene.Graph)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", scene.Source, err)
	}
	scene.Extraction = res
	return scene, nil
}

// Load fetches or reads the target's graph without extracting it. For a
// place, the first area that loads successfully is used.
func (p *Pipeline) Load(ctx context.Context, target Target) (*Scene, error) {
	if target.Place != "" && target.File != "" {
		return nil, core.NewError(core.ErrCodeInvalidInput, "set either a place or a file, not both")
	}

	scene := &Scene{}
	if target.Place == "" {
		path, g, err := p.LoadCached(ctx, target.File)
		if err != nil {
			return nil, err
		}
		scene.Source = path
		scene.Graph = g
		return scene, nil
	}

	results, err := p.FetchAll(ctx, target.Place)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err == nil {
			area := r.Area
			scene.Area = &area
			scene.Graph = r.Graph
			scene.Source = area.Name
			return scene, nil
		}
	}
	return nil, core.Errorf(core.ErrCodeNotFound, "no area for %q could be loaded", target.Place)
}
