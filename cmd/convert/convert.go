// Package convert provides the convert command, which loads a descriptor
// text file into the event store.
package convert

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

// Command creates the convert command.
func Command(ctx *conf.Context) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "convert <input.txt>",
		Short: "Parse a descriptor text file into the event store",
		Long:  `Convert reads a whitespace-delimited event table with its three header lines and replaces the contents of the configured event store with it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn != "" {
				ctx.Settings.Dataset.Store.DSN = dsn
			}
			return run(cmd, ctx, args[0])
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Override the event store DSN")
	return cmd
}

func run(cmd *cobra.Command, ctx *conf.Context, input string) error {
	start := time.Now()
	f, err := os.Open(input)
	if err != nil {
		return errors.FileError(err, input)
	}
	defer f.Close()

	rd, err := textdata.NewReader(f)
	if err != nil {
		return err
	}

	store, err := ctx.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Import(cmd.Context(), rd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d events from %s in %s\n", n, input, time.Since(start).Round(time.Millisecond))
	return nil
}
