package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <place>",
		Short: "Resolve a place and cache the road graph of every matching area",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			place := strings.Join(args, " ")
			report, err := a.pipeline(pipeline.ModeFetch, nil).Run(cmd.Context(), pipeline.Target{Place: place})
			if report != nil {
				printAreas(cmd.OutOrStdout(), report.Areas, a.cache)
			}
			return err
		},
	}
}

func printAreas(w io.Writer, results []pipeline.AreaResult, gc *cache.GraphCache) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "FAIL  %-40s %v\n", r.Area.Name, r.Err)
			continue
		}
		fmt.Fprintf(w, "OK    %-40s %6d nodes %6d ways  %s\n",
			r.Area.Name, len(r.Graph.Nodes), len(r.Graph.Ways), gc.PathFor(r.Area))
	}
}
