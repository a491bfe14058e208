package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/config"
	"github.com/liteshelf/bookrec/internal/importer"
	logpkg "github.com/liteshelf/bookrec/internal/logger"
	"github.com/liteshelf/bookrec/internal/metrics"
	"github.com/liteshelf/bookrec/internal/repository/embcache"
	openaiTransport "github.com/liteshelf/bookrec/internal/transport/openai"
	qdrantTransport "github.com/liteshelf/bookrec/internal/transport/qdrant"
)

// NewImportCmd creates the import command.
func NewImportCmd() *cobra.Command {
	var (
		file  string
		clear bool
		batch int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a book catalog into the vector collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, file, clear, batch)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog JSON file (required)")
	cmd.Flags().BoolVar(&clear, "clear", false, "wipe both collections before importing")
	cmd.Flags().IntVar(&batch, "batch-size", 50, "points per upsert batch")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImport(cmd *cobra.Command, file string, clear bool, batch int) error {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	qc, err := qdrantTransport.New(&qdrantTransport.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		TimeoutSec: cfg.Qdrant.TimeoutSec,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("connect vector database: %w", err)
	}
	defer qc.Close()

	provider := openaiTransport.New(&openaiTransport.Config{
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		EmbeddingModel: cfg.Provider.EmbeddingModel,
		ChatModel:      cfg.Provider.ChatModel,
		Logger:         logger,
	})

	// The cache pays off across books sharing tag sets.
	cache := embcache.New(provider, embcache.DefaultConfig(), logger)

	imp := importer.New(qc, cache, importer.Config{
		TagsCollection: cfg.Qdrant.TagsCollection,
		DescCollection: cfg.Qdrant.DescCollection,
		VectorDim:      cfg.Qdrant.VectorDim,
		BatchSize:      batch,
		Clear:          clear,
	}, logger)

	start := time.Now()
	summary, err := imp.Run(cmd.Context(), file)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	logger.Info("Import summary",
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
		zap.Uint64("tag_points", summary.TagCount),
		zap.Uint64("desc_points", summary.DescCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d books (%d skipped) in %s\n",
		summary.Imported, summary.Skipped, time.Since(start).Round(time.Millisecond))
	return nil
}
