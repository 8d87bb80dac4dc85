// Package localize provides the localize command.
package localize

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/localization"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/sysinfo"
)

// Command creates the localize command.
func Command(ctx *conf.Context) *cobra.Command {
	var fromEvents bool
	cmd := &cobra.Command{
		Use:   "localize [t1 t2 ... tn]",
		Short: "Estimate bubble positions from piezo arrival times",
		Long: `Localize solves for the bubble position that best explains the relative
arrival times at the configured sensors. Pass one timing per sensor, or
--events to localize every stored event that carries timings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromEvents {
				if len(args) > 0 {
					return errors.ValidationError("--events takes no timing arguments")
				}
				return runEvents(cmd, ctx)
			}
			if len(args) == 0 {
				return errors.ValidationError("expected one timing per sensor, or --events")
			}
			return runSingle(cmd, ctx, args)
		},
	}
	cmd.Flags().BoolVar(&fromEvents, "events", false, "Localize every event in the dataset that has time zeros")
	return cmd
}

func parseTimings(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, errors.New(err).
				Component("cli").
				Category(errors.CategoryValidation).
				Context("argument", i+1).
				Build()
		}
		out[i] = v
	}
	return out, nil
}

func runSingle(cmd *cobra.Command, ctx *conf.Context, args []string) error {
	timings, err := parseTimings(args)
	if err != nil {
		return err
	}
	solver, err := ctx.NewSolver()
	if err != nil {
		return err
	}
	est, err := solver.Solve(timings)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	writeHeader(w, false)
	writeEstimate(w, "", est)
	return w.Flush()
}

func writeHeader(w io.Writer, withEvent bool) {
	if withEvent {
		fmt.Fprint(w, "RUN\tEVENT\t")
	}
	fmt.Fprintln(w, "X\tY\tZ\tRESIDUAL\tITERATIONS\tSTATUS\tFIT")
}

func writeEstimate(w io.Writer, prefix string, est localization.Estimate) {
	p := est.Position
	fit := "no"
	if est.WithinTolerance {
		fit = "yes"
	}
	fmt.Fprintf(w, "%s%.6g\t%.6g\t%.6g\t%.3g\t%d\t%s\t%s\n", prefix, p[0], p[1], p[2], est.Residual, est.Iterations, est.Status, fit)
}

// observationsFor collects the normalized timings of every event that has
// one per sensor.
func observationsFor(evs []events.BubbleEvent, sensors int) (obs [][]float64, idx []int) {
	for i := range evs {
		if len(evs[i].TimeZeros) != sensors {
			continue
		}
		t, err := localization.NormalizeTimings(evs[i].TimeZeros)
		if err != nil {
			continue
		}
		obs = append(obs, t)
		idx = append(idx, i)
	}
	return obs, idx
}

func runEvents(cmd *cobra.Command, ctx *conf.Context) error {
	log := logger.Global().Module("cli")
	start := time.Now()
	evs, err := ctx.LoadEvents(cmd.Context())
	if err != nil {
		return err
	}
	solver, err := ctx.NewSolver()
	if err != nil {
		return err
	}
	obs, idx := observationsFor(evs, solver.Geometry().NumSensors())
	if len(obs) == 0 {
		return errors.New(events.ErrNoData).
			Component("cli").
			Category(errors.CategoryValidation).
			Context("events", len(evs)).
			Build()
	}

	workers := sysinfo.GetCPUSpec().WorkerCount(ctx.Settings.Localization.Workers)
	log.Debug("localizing events", logger.Int("observations", len(obs)), logger.Int("workers", workers))
	results, err := localization.LocalizeBatch(cmd.Context(), solver, obs, workers)
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryCancellation).
			Build()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	writeHeader(w, true)
	failed := 0
	for _, r := range results {
		e := &evs[idx[r.Index]]
		if r.Err != nil {
			failed++
			log.Debug("event not localized",
				logger.String("run", e.Run),
				logger.Int("event", e.Event),
				logger.Error(r.Err))
			continue
		}
		writeEstimate(w, fmt.Sprintf("%s\t%d\t", e.Run, e.Event), r.Estimate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	log.Info("batch localization finished",
		logger.Int("events", len(evs)),
		logger.Int("solved", len(results)-failed),
		logger.Int("failed", failed),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}
