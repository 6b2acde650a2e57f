package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/preview"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		out      string
		file     string
		caption  string
		maxWidth int
	)

	cmd := &cobra.Command{
		Use:   "render [place]",
		Short: "Draw a road graph into a PNG",
		Long: `render draws every road of a place, a cache file (--file), or a random
cached graph when neither is given, into a still PNG image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := pipeline.Target{Place: strings.Join(args, " "), File: file}
			scene, err := a.pipeline(pipeline.ModeExtractAndServe, nil).Load(cmd.Context(), target)
			if err != nil {
				return err
			}

			opts := preview.DefaultOptions()
			opts.Width = float32(a.cfg.TargetWidth)
			opts.Caption = caption
			opts.MaxWidth = maxWidth

			img, err := preview.Render(cmd.Context(), scene.Graph, opts)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", scene.Source, err)
			}
			if err := preview.WriteFile(out, img); err != nil {
				return err
			}

			b := img.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d) from %s\n", out, b.Dx(), b.Dy(), scene.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "streetglow.png", "output PNG path")
	cmd.Flags().StringVar(&file, "file", "", "cache file to render instead of a place")
	cmd.Flags().StringVar(&caption, "caption", "", "text drawn in the bottom-left corner")
	cmd.Flags().IntVar(&maxWidth, "max-width", 0, "downscale the image to at most this width")
	return cmd
}
