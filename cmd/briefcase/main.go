package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/pkg/chat"
	"github.com/lexhaus/briefcase/pkg/chunker"
	"github.com/lexhaus/briefcase/pkg/config"
	"github.com/lexhaus/briefcase/pkg/docstore"
	"github.com/lexhaus/briefcase/pkg/extract"
	"github.com/lexhaus/briefcase/pkg/llm"
	"github.com/lexhaus/briefcase/pkg/pipeline"
	"github.com/lexhaus/briefcase/pkg/retriever"
	"github.com/lexhaus/briefcase/pkg/store"
)

func main() {
	var (
		configPath string
		filePath   string
		tenantID   string
		documentID string
	)

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&filePath, "file", "", "Legal document to ingest (.txt, .html)")
	flag.StringVar(&tenantID, "tenant", "local", "Tenant identifier")
	flag.StringVar(&documentID, "doc", "", "Document identifier (defaults to the file name)")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(configPath, filePath, tenantID, documentID); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, filePath, tenantID, documentID string) error {
	if filePath == "" {
		return fmt.Errorf("a document file is required (-file)")
	}
	if documentID == "" {
		documentID = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config error: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	logger, err := newLogger(cfg.Logging.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	client, err := llm.NewClient(llm.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RateLimit:      cfg.LLM.RateLimit,
		MaxInFlight:    int64(cfg.LLM.MaxInFlight),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Gate and rewrite run on their own tiers when configured.
	gate, err := tieredClient(cfg, client, cfg.Chat.GateModel)
	if err != nil {
		return fmt.Errorf("failed to initialize gate client: %w", err)
	}
	rewrite, err := tieredClient(cfg, client, cfg.Chat.RewriteModel)
	if err != nil {
		return fmt.Errorf("failed to initialize rewrite client: %w", err)
	}

	vectors, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableBase:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectors.Close()

	docs := docstore.NewMemory()

	processor := pipeline.New(
		chunker.NewWithConfig(chunker.ChunkerConfig{
			MaxChunkSize: cfg.Chunker.MaxChunkSize,
			MinChunkSize: cfg.Chunker.MinChunkSize,
		}),
		client, vectors, docs,
		pipeline.ProcessorConfig{
			EmbedBatchSize: cfg.Database.BatchSize,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		},
		logger,
	)

	rt, err := retriever.New(client, vectors, retriever.RetrieverConfig{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	orchestrator := chat.NewOrchestrator(
		docs,
		llm.NewResolver(gate, rewrite, llm.ResolverConfig{Window: cfg.Chat.HistoryWindow}, logger),
		rt,
		llm.NewAnswerer(client, llm.AnswererConfig{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}),
		chat.OrchestratorConfig{HistoryWindow: cfg.Chat.HistoryWindow},
		logger,
	)

	if err := ingest(ctx, docs, processor, filePath, tenantID, documentID); err != nil {
		return err
	}

	return repl(ctx, orchestrator, documentID, tenantID)
}

func ingest(ctx context.Context, docs *docstore.Memory, processor *pipeline.Processor, filePath, tenantID, documentID string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	text, err := extract.Extract(filePath, data)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}

	if err := docs.SaveDocument(ctx, &models.Document{
		ID:      documentID,
		OwnerID: tenantID,
		Status:  models.StatusUploaded,
	}); err != nil {
		return err
	}

	spinner := getSpinner(" Processing document...")
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				spinner.Add(1)
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()

	result := processor.Process(ctx, documentID, text)
	close(done)
	spinner.Finish()
	fmt.Println()

	if !result.Succeeded() {
		color.Red("✗ Processing failed at %s stage: %s", result.FailedStage, result.Reason)
		return fmt.Errorf("document processing failed")
	}

	color.Green("✓ Document ready: %d chunks indexed", result.ChunkCount)
	return nil
}

func repl(ctx context.Context, orchestrator *chat.Orchestrator, documentID, tenantID string) error {
	color.Cyan("\nChat with %s (type 'exit' to quit, 'clear' to reset history)", documentID)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit":
			return nil
		case "clear":
			cleared, err := orchestrator.ClearHistory(ctx, documentID, tenantID)
			if err != nil {
				color.Red("Failed to clear history: %v", err)
				continue
			}
			color.Yellow("Cleared %d messages", cleared)
			continue
		}

		turn, err := orchestrator.SendMessage(ctx, documentID, tenantID, query)
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}

		assistantPrompt("\nAssistant: %s\n", turn.AssistantMessage.Content)
		if len(turn.AssistantMessage.SourceChunkIDs) > 0 {
			color.Yellow("Sources: %s", strings.Join(turn.AssistantMessage.SourceChunkIDs, ", "))
		}
	}

	return scanner.Err()
}

// tieredClient returns base when model matches the configured chat model, or
// a separate client pointed at the requested tier.
func tieredClient(cfg *config.Config, base *llm.Client, model string) (*llm.Client, error) {
	if model == "" || model == cfg.LLM.Model {
		return base, nil
	}
	return llm.NewClient(llm.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       model,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RateLimit:   cfg.LLM.RateLimit,
		MaxInFlight: int64(cfg.LLM.MaxInFlight),
	})
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
