package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/specforge/internal/batch"
	"github.com/solatis/specforge/internal/core/config"
	"github.com/solatis/specforge/internal/reverse"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

var detectCmd = &cobra.Command{
	Use:   "detect [sql files...]",
	Short: "Report business patterns recognized in procedural SQL",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().String("schema", "", "entity schema YAML path")
	detectCmd.Flags().String("out", "", "output JSON path (default stdout)")
	detectCmd.Flags().Int("workers", 0, "concurrent parse workers (0 = GOMAXPROCS)")
}

// detectReport is the JSON output row for one analyzed function unit.
type detectReport struct {
	File     string                  `json:"file"`
	Line     int                     `json:"line,omitempty"`
	Action   string                  `json:"action,omitempty"`
	Entity   string                  `json:"entity,omitempty"`
	Patterns []types.DetectedPattern `json:"patterns,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("schema") {
		cfg.SchemaPath, _ = cmd.Flags().GetString("schema")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	outPath, _ := cmd.Flags().GetString("out")

	reg, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	files := make([]batch.SourceFile, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, batch.SourceFile{Name: path, Source: string(data)})
	}

	outcomes := batch.Parse(context.Background(), reverse.New(reg), nil, files, cfg.Workers)

	reports := make([]detectReport, 0, len(outcomes))
	failed := 0
	for _, outcome := range outcomes {
		report := detectReport{File: outcome.File, Line: outcome.Line}
		if outcome.Err != nil {
			report.Error = outcome.Err.Error()
			logger.Warn("parse failed", "file", outcome.File, "error", outcome.Err)
			failed++
		} else {
			report.Action = outcome.Result.IR.Name
			report.Entity = outcome.Result.IR.Entity
			report.Patterns = outcome.Result.DetectedPatterns
			logger.Info("analyzed",
				"file", outcome.File,
				"action", report.Action,
				"patterns", len(report.Patterns))
		}
		reports = append(reports, report)
	}

	encoded, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	encoded = append(encoded, '\n')

	if outPath == "" {
		if _, err := os.Stdout.Write(encoded); err != nil {
			return err
		}
	} else if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to parse", failed, len(outcomes))
	}
	return nil
}
