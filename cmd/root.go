// Package cmd defines and implements the CLI commands for the boardcrawler
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boardcrawler",
		Short: "Resumable crawler for FC Online board posts.",
		Long: `boardcrawler walks the FC Online notice and community boards from the
newest post backwards, within a configurable time window, and appends each
post to a JSONL artifact. Sessions are resumable: posts collected on earlier
runs are skipped, so interrupting a crawl never loses work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newBoardsCmd())
	return cmd
}

// Execute is the main entry point. Signal handling is installed here so that
// Ctrl-C interrupts a session through context cancellation and the crawl
// shuts down on a durable boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
