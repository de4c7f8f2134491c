package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	coredb "github.com/solatis/specforge/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations",
	RunE:  runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog migration status",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	if dbURL == "" {
		return fmt.Errorf("--db-url required")
	}
	database, err := coredb.Open(dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := coredb.MigrateUp(database); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	if dbURL == "" {
		return fmt.Errorf("--db-url required")
	}
	database, err := coredb.Open(dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	statuses, err := coredb.MigrateStatus(database)
	if err != nil {
		return err
	}

	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = fmt.Sprintf("applied %s (%dms)", s.AppliedAt.Format("2006-01-02T15:04:05Z"), s.ExecutionMs)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", s.ID, state)
	}
	return nil
}
