package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/liliang-cn/groundchat/internal/service"
	"github.com/spf13/cobra"
)

var (
	askUserID string

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question through the full answering pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}
)

func init() {
	askCmd.Flags().StringVarP(&askUserID, "user", "u", "cli", "User id to ask as")
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	orchestrator, err := service.NewOrchestratorService(cfg, service.Collaborators{}, nil, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer orchestrator.Close()

	resp, err := orchestrator.Chat.Chat(ctx, &domain.ChatRequest{
		Message: question,
		UserID:  askUserID,
	})
	if err != nil {
		ce := domain.AsChatError(err)
		return fmt.Errorf("%s (%s)", ce.Message, ce.Code)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Response)
	if len(resp.Citations) > 0 {
		fmt.Fprintln(out, "\nSources:")
		fmt.Fprintln(out, service.RenderCitations(resp.Citations))
	}
	fmt.Fprintf(out, "\n(%d ms, %d tokens in session)\n", resp.ProcessingTimeMS, resp.TokenCount)
	return nil
}
