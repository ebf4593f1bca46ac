// cellflow runs the conservation tracking workflow over time-lapse movies.
//
// Usage:
//
//	cellflow run --lane name=raw/*.tif:pred/*.tif [--config cfg.json] [--db out.db] [--plots dir]
//	cellflow run --synthetic 8 --db out.db
//	cellflow inspect --lane name=raw/*.tif:pred/*.tif
//	cellflow version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cellflow/internal/version"
)

var rootFlags struct {
	logDiag  bool
	logTrace bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cellflow",
		Short: "Segment, classify and track cells in time-lapse movies",
		Long: "cellflow wires a lazy operator graph per dataset: threshold, optical\n" +
			"translation, object extraction, division and cell classification and\n" +
			"conservation tracking.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr(), rootFlags.logDiag, rootFlags.logTrace)
		},
	}
	f := root.PersistentFlags()
	f.BoolVar(&rootFlags.logDiag, "log-diag", false, "Log lane lifecycle and solver diagnostics to stderr")
	f.BoolVar(&rootFlags.logTrace, "log-trace", false, "Log every request and cache hit to stderr")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newVersionCmd())
	root.Version = version.Version
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
