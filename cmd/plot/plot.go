// Package plot provides the plot command.
package plot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/plot"
	"github.com/bubblelab/bubblenet/internal/results"
)

// Command creates the plot command.
func Command(ctx *conf.Context) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render validation histograms and performance charts",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output PNG path (default: derived name in the plot output directory)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "histogram <result.json>",
			Short: "Histogram of network predictions split by ground truth",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHistogram(cmd, ctx, args[0], output)
			},
		},
		&cobra.Command{
			Use:   "performance [stats.yaml]",
			Short: "Grouped bar chart of background removal with error bars",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				statsFile := ""
				if len(args) == 1 {
					statsFile = args[0]
				}
				return runPerformance(cmd, ctx, statsFile, output)
			},
		},
	)
	return cmd
}

func outputPath(ctx *conf.Context, explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(ctx.Settings.Plot.OutputDir, name)
}

func runHistogram(cmd *cobra.Command, ctx *conf.Context, resultFile, output string) error {
	r, err := results.Load(resultFile)
	if err != nil {
		return err
	}
	p := ctx.Settings.Plot
	base := strings.TrimSuffix(filepath.Base(resultFile), filepath.Ext(resultFile))
	path := outputPath(ctx, output, base+".png")
	if err := plot.Histogram(r.GroundTruths, r.Outputs, path, plot.HistogramOptions{
		Bins:          p.Bins,
		PositiveLabel: p.PositiveLabel,
		NegativeLabel: p.NegativeLabel,
		Title:         fmt.Sprintf("%sepoch %d", r.Prefix, r.Epoch),
	}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runPerformance(cmd *cobra.Command, ctx *conf.Context, statsFile, output string) error {
	stats := plot.DefaultPerformanceStats()
	if statsFile != "" {
		var err error
		if stats, err = plot.LoadPerformanceStats(statsFile); err != nil {
			return err
		}
	}
	path := outputPath(ctx, output, "performance.png")
	if err := plot.Performance(stats, path, plot.PerformanceOptions{}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
