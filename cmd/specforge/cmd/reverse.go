package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/specforge/internal/batch"
	"github.com/solatis/specforge/internal/core/config"
	coredb "github.com/solatis/specforge/internal/core/db"
	"github.com/solatis/specforge/internal/enhance"
	"github.com/solatis/specforge/internal/reverse"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

var reverseCmd = &cobra.Command{
	Use:   "reverse [sql files...]",
	Short: "Recover action definitions from procedural SQL",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReverse,
}

func init() {
	rootCmd.AddCommand(reverseCmd)
	reverseCmd.Flags().String("schema", "", "entity schema YAML path")
	reverseCmd.Flags().String("out", "", "output JSON path (default stdout)")
	reverseCmd.Flags().Int("workers", 0, "concurrent parse workers (0 = GOMAXPROCS)")
	reverseCmd.Flags().Bool("enhance", false, "run AI enhancement on low-confidence results")
	reverseCmd.Flags().Bool("store", false, "store parse results in the catalog (requires --db-url)")
}

// reverseReport is the JSON output row for one parsed function unit.
type reverseReport struct {
	File   string             `json:"file"`
	Line   int                `json:"line,omitempty"`
	Result *types.ParseResult `json:"result,omitempty"`
	Band   string             `json:"band,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runReverse(cmd *cobra.Command, args []string) error {
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
	if cmd.Flags().Changed("enhance") {
		cfg.Enhance.Enabled, _ = cmd.Flags().GetBool("enhance")
	}
	outPath, _ := cmd.Flags().GetString("out")
	store, _ := cmd.Flags().GetBool("store")

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

	var enhancer batch.Enhancer
	if cfg.Enhance.Enabled {
		apiKey := config.OpenAIAPIKey()
		if apiKey == "" {
			return fmt.Errorf("enhancement enabled but SPECFORGE_OPENAI_API_KEY not set")
		}
		enhancer = enhance.New(enhance.Config{
			APIKey:    apiKey,
			Model:     cfg.Enhance.Model,
			Timeout:   cfg.Enhance.Timeout,
			Threshold: cfg.Enhance.Threshold,
			Logger:    logger,
		})
	}

	parser := reverse.New(reg)
	outcomes := batch.Parse(context.Background(), parser, enhancer, files, cfg.Workers)

	var cat *coredb.Catalog
	if store {
		if dbURL == "" {
			return fmt.Errorf("--store requires --db-url")
		}
		database, err := coredb.Open(dbURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		queries, err := coredb.LoadQueries(database)
		if err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}
		cat = coredb.NewCatalog(queries)
	}

	reports := make([]reverseReport, 0, len(outcomes))
	failed := 0
	for _, outcome := range outcomes {
		report := reverseReport{File: outcome.File, Line: outcome.Line}
		if outcome.Err != nil {
			report.Error = outcome.Err.Error()
			logger.Warn("parse failed", "file", outcome.File, "error", outcome.Err)
			failed++
		} else {
			report.Result = outcome.Result
			report.Band = outcome.Result.Band().String()
			logger.Info("parsed",
				"file", outcome.File,
				"action", outcome.Result.IR.Name,
				"confidence", outcome.Result.Confidence,
				"band", report.Band,
				"warnings", len(outcome.Result.Warnings))

			if cat != nil {
				id, err := cat.SaveParseResult(outcome.File, *outcome.Result)
				if err != nil {
					return fmt.Errorf("failed to store parse result for %s: %w", outcome.File, err)
				}
				logger.Info("stored parse result", "file", outcome.File, "result_id", id)
			}
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
