package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/arctrany/ai-product-selector-sub007/internal/config"
	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/internal/workflow"
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// seedDefinition is the YAML shape of a seed file.
type seedDefinition struct {
	Name       string            `yaml:"name"`
	Publish    bool              `yaml:"publish"`
	Definition models.Definition `yaml:"definition"`
}

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	envFile := flag.String("env", "", "Path to .env file")
	defFile := flag.String("f", "", "Path to a YAML flow definition file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)

	seed := demoSeed()
	if *defFile != "" {
		raw, err := os.ReadFile(*defFile)
		if err != nil {
			log.Fatalf("Failed to read definition file: %v", err)
		}
		seed = &seedDefinition{}
		if err := yaml.Unmarshal(raw, seed); err != nil {
			log.Fatalf("Failed to parse definition file: %v", err)
		}
	}

	// Validate before touching the store.
	if _, err := workflow.Compile(seed.Definition); err != nil {
		log.Fatalf("Definition does not compile: %v", err)
	}

	flow, err := store.GetFlowByName(ctx, seed.Name)
	if err != nil {
		logger.Info("Creating flow %q", seed.Name)
		flow = &models.Flow{ID: uuid.New().String(), Name: seed.Name}
		if err := store.CreateFlow(ctx, flow); err != nil {
			log.Fatalf("Failed to create flow: %v", err)
		}
	} else {
		logger.Info("Found existing flow %q (%s)", flow.Name, flow.ID)
	}

	version := 1
	if latest, err := store.LatestFlowVersion(ctx, flow.ID); err == nil {
		version = latest.Version + 1
	}

	fv := &models.FlowVersion{
		ID:         uuid.New().String(),
		FlowID:     flow.ID,
		Version:    version,
		Status:     models.FlowVersionStatusDraft,
		Definition: seed.Definition,
	}
	if err := store.CreateFlowVersion(ctx, fv); err != nil {
		log.Fatalf("Failed to create flow version: %v", err)
	}
	logger.Info("Created flow version %s (v%d)", fv.ID, fv.Version)

	if seed.Publish {
		published, err := store.PublishFlowVersion(ctx, fv.ID)
		if err != nil || !published {
			log.Fatalf("Failed to publish flow version: %v", err)
		}
		logger.Info("Published flow version %s", fv.ID)
	}
}

// demoSeed is the definition seeded when no file is given: a batch processing
// pipeline with a conditional summary step.
func demoSeed() *seedDefinition {
	return &seedDefinition{
		Name:    "demo-batch-pipeline",
		Publish: true,
		Definition: models.Definition{
			Nodes: []models.Node{
				{ID: "start", Type: models.NodeTypeStart},
				{ID: "process", Type: models.NodeTypePython, CodeRef: "builtin.batch_process",
					Args: map[string]any{"total_items": 20, "batch_size": 5}},
				{ID: "check", Type: models.NodeTypeCondition,
					Condition: &models.Condition{Op: "gte", Args: []*models.Condition{
						{Op: "var", Var: "processed_count"},
						{Op: "const", Value: 20},
					}}},
				{ID: "summary", Type: models.NodeTypePython, CodeRef: "builtin.set_values",
					Args: map[string]any{"summary": "all items processed"}},
				{ID: "end", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{
				{Source: "start", Target: "process"},
				{Source: "process", Target: "check"},
				{Source: "check", Target: "summary", When: "true"},
				{Source: "check", Target: "end", When: "false"},
				{Source: "summary", Target: "end"},
			},
		},
	}
}
