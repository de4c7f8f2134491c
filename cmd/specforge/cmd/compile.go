package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/specforge/internal/batch"
	"github.com/solatis/specforge/internal/core/config"
	coredb "github.com/solatis/specforge/internal/core/db"
	"github.com/solatis/specforge/internal/emit"
	"github.com/solatis/specforge/internal/emit/goorm"
	"github.com/solatis/specforge/internal/emit/plpgsql"
	"github.com/solatis/specforge/internal/expand"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

var compileCmd = &cobra.Command{
	Use:   "compile [action manifests...]",
	Short: "Compile action manifests to backend source",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().String("schema", "", "entity schema YAML path")
	compileCmd.Flags().String("backend", "", "target backend (plpgsql, goorm)")
	compileCmd.Flags().String("out", "", "output directory for emitted source")
	compileCmd.Flags().Int("workers", 0, "concurrent compile workers (0 = GOMAXPROCS)")
	compileCmd.Flags().Bool("store", false, "store compiled artifacts in the catalog (requires --db-url)")
}

// actionManifest is the YAML form of one action definition.
type actionManifest struct {
	Name    string        `yaml:"name"`
	Pattern string        `yaml:"pattern"`
	Entity  string        `yaml:"entity"`
	Config  expand.Config `yaml:"config"`
}

// manifestFile is one compile input: a list of action definitions.
type manifestFile struct {
	Actions []actionManifest `yaml:"actions"`
}

func runCompile(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("schema") {
		cfg.SchemaPath, _ = cmd.Flags().GetString("schema")
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("out") {
		cfg.OutDir, _ = cmd.Flags().GetString("out")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	store, _ := cmd.Flags().GetBool("store")

	reg, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	em, ext, err := backendEmitter(cfg.Backend)
	if err != nil {
		return err
	}

	patterns := expand.NewRegistry()
	var actions []types.Action
	for _, path := range args {
		manifests, err := loadManifests(path)
		if err != nil {
			return err
		}
		for _, m := range manifests {
			action, err := patterns.BuildAction(m.Name, m.Pattern, m.Config, m.Entity, reg)
			if err != nil {
				return fmt.Errorf("%s: action %s: %w", path, m.Name, err)
			}
			actions = append(actions, action)
		}
	}

	outcomes := batch.Compile(context.Background(), em, reg, actions, cfg.Workers)

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

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	failed := 0
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			logger.Error("compile failed", "action", outcome.Action, "error", outcome.Err)
			failed++
			continue
		}

		outPath := filepath.Join(cfg.OutDir, outcome.Action+ext)
		if err := os.WriteFile(outPath, []byte(outcome.Source), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		logger.Info("compiled", "action", outcome.Action, "backend", cfg.Backend, "path", outPath)

		if cat != nil {
			id, err := cat.SaveArtifact(coredb.Artifact{
				Backend: cfg.Backend,
				Action:  actions[i],
				Source:  outcome.Source,
			})
			if err != nil {
				return fmt.Errorf("failed to store artifact for %s: %w", outcome.Action, err)
			}
			logger.Info("stored artifact", "action", outcome.Action, "artifact_id", id)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed to compile", failed, len(outcomes))
	}
	return nil
}

// backendEmitter maps a backend name to its emitter and file extension.
func backendEmitter(name string) (emit.Emitter, string, error) {
	switch name {
	case "plpgsql":
		return plpgsql.New(), ".sql", nil
	case "goorm":
		return goorm.New(), ".go", nil
	default:
		return nil, "", fmt.Errorf("unknown backend: %s", name)
	}
}

func loadManifests(path string) ([]actionManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc manifestFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Actions) == 0 {
		return nil, fmt.Errorf("%s: no actions defined", path)
	}
	for _, m := range doc.Actions {
		if m.Name == "" || m.Pattern == "" || m.Entity == "" {
			return nil, fmt.Errorf("%s: action requires name, pattern, and entity", path)
		}
	}
	return doc.Actions, nil
}
