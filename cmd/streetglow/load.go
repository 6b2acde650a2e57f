package main

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
)

func newLoadCmd(a *app) *cobra.Command {
	var (
		seed  uint64
		batch int
	)

	cmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Load a cached road graph, or a random one, and summarize its segments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rng *rand.Rand
			if cmd.Flags().Changed("seed") {
				rng = rand.New(rand.NewPCG(seed, seed>>1))
			}
			var target pipeline.Target
			if len(args) == 1 {
				target.File = args[0]
			}

			report, err := a.pipeline(pipeline.ModeLoadCached, rng).Run(cmd.Context(), target)
			if err != nil {
				return err
			}
			printScene(cmd.OutOrStdout(), report.Scene, batch)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for picking a random cache file")
	cmd.Flags().IntVar(&batch, "batch", a.cfg.BatchSize, "segments released per frame")
	return cmd
}

func printScene(w io.Writer, scene *pipeline.Scene, batch int) {
	res := scene.Extraction
	meshes := make(map[string]struct{})
	for _, s := range res.Segments {
		meshes[geometry.MeshKey(s.Length)] = struct{}{}
	}

	frames := 0
	if batch > 0 {
		frames = (len(res.Segments) + batch - 1) / batch
	}

	fmt.Fprintf(w, "source:   %s\n", scene.Source)
	fmt.Fprintf(w, "graph:    %d nodes, %d ways\n", len(scene.Graph.Nodes), len(scene.Graph.Ways))
	fmt.Fprintf(w, "frame:    %.0f x %.0f (scale %.2f)\n", res.Width, res.Height, res.Scale)
	fmt.Fprintf(w, "segments: %d\n", len(res.Segments))
	fmt.Fprintf(w, "meshes:   %d\n", len(meshes))
	fmt.Fprintf(w, "frames:   %d at %d per frame\n", frames, batch)
}
