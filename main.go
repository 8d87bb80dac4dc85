package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bubblelab/bubblenet/cmd"
	"github.com/bubblelab/bubblenet/internal/buildinfo"
	"github.com/bubblelab/bubblenet/internal/conf"
)

// buildDate and version are set at build time with -ldflags.
var (
	buildDate string
	version   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := conf.NewContext(buildinfo.NewContext(version, buildDate))
	rootCmd := cmd.RootCommand(appCtx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
