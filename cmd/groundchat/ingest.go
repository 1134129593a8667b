package main

import (
	"fmt"

	"github.com/liliang-cn/groundchat/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Index the markdown textbook into the vector store",
	Long: `Walks the markdown files under dir (default: ingest.docs_root), splits
them into overlapping chunks, embeds them and upserts them into the
configured Qdrant collection. Re-running replaces chunks in place.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		root := cfg.Ingest.DocsRoot
		if len(args) == 1 {
			root = args[0]
		}

		orchestrator, err := service.NewOrchestratorService(cfg, service.Collaborators{}, nil, nil, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer orchestrator.Close()

		result, err := orchestrator.Ingest.IngestDir(cmd.Context(), root)
		if err != nil {
			return err
		}

		logger.Info("Ingestion finished",
			zap.String("root", root),
			zap.Int("files", result.Files),
			zap.Int("chunks", result.Chunks),
			zap.String("collection", cfg.Vector.Collection),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d files into %s\n",
			result.Chunks, result.Files, cfg.Vector.Collection)
		return nil
	},
}
