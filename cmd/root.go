package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bubblelab/bubblenet/cmd/configcmd"
	"github.com/bubblelab/bubblenet/cmd/convert"
	"github.com/bubblelab/bubblenet/cmd/localize"
	"github.com/bubblelab/bubblenet/cmd/plot"
	"github.com/bubblelab/bubblenet/cmd/train"
	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/observability"
)

const sentryFlushTimeout = 2 * time.Second

type globalFlags struct {
	configFile  string
	debug       bool
	metricsFile string
}

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	flags := &globalFlags{}
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "bubblenet",
		Short:         "Bubble chamber localization and event classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to config file (default: ./config.yaml, ~/.config/bubblenet, /etc/bubblenet)")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	configCmd := configcmd.Command(ctx)
	versionCmd := versionCommand(ctx)

	rootCmd.AddCommand(
		convert.Command(ctx),
		localize.Command(ctx),
		train.Command(ctx),
		plot.Command(ctx),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config and version work without a readable config file
		if isUnder(cmd, configCmd) || cmd == versionCmd {
			return nil
		}
		var err error
		central, err = initialize(ctx, flags)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return finish(ctx, central)
	}

	return rootCmd
}

func isUnder(cmd, parent *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == parent {
			return true
		}
	}
	return false
}

// initialize loads settings and sets up logging, telemetry and metrics
// before any subcommand runs.
func initialize(ctx *conf.Context, flags *globalFlags) (*logger.CentralLogger, error) {
	settings, err := conf.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.debug {
		settings.Debug = true
	}
	if flags.metricsFile != "" {
		settings.Metrics.TextfilePath = flags.metricsFile
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}
	ctx.Settings = settings

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(central)

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, ctx.Build.Release()); err != nil {
		logger.Global().Module("cli").Warn("telemetry disabled", logger.Error(err))
	}

	if ctx.Metrics == nil {
		m, err := observability.NewMetrics()
		if err != nil {
			return central, err
		}
		ctx.Metrics = m
	}
	return central, nil
}

func finish(ctx *conf.Context, central *logger.CentralLogger) error {
	errors.FlushSentry(sentryFlushTimeout)
	err := ctx.Metrics.WriteTextfile(ctx.Settings.Metrics.TextfilePath)
	if central != nil {
		if cerr := central.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func versionCommand(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), ctx.Build.String())
			return err
		},
	}
}
