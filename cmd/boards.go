package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fconline-rag/boardcrawler/internal/sites"
)

// newBoardsCmd lists the registered board profiles.
func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the boards this crawler knows how to walk",
		Run: func(cmd *cobra.Command, _ []string) {
			names := sites.Names()
			sort.Strings(names)
			for _, name := range names {
				profile, err := sites.Lookup(name)
				if err != nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, profile.BaseURL)
			}
		},
	}
}
