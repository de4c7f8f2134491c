package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/specforge/internal/expand"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List registered action pattern templates",
	RunE:  runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, args []string) error {
	reg := expand.NewRegistry()
	for _, id := range reg.Patterns() {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
