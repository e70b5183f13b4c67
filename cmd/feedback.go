package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/feedback"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/store"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Show the feedback report of the latest or a given session",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		if err := runFeedback(cmd, logger); err != nil {
			logger.Fatal("showing feedback", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringP("session", "s", "", "session id (default is the latest finished session)")
}

func runFeedback(cmd *cobra.Command, logger *zap.Logger) error {
	ctx := context.Background()

	config, err := getConfig()
	if err != nil {
		return fmt.Errorf("getting a config: %w", err)
	}

	dir, err := store.NewDir(config.SessionsDir)
	if err != nil {
		return err
	}

	sessionID, _ := cmd.Flags().GetString("session")
	scope, err := latestScope(dir, sessionID)
	if err != nil {
		return err
	}

	kv, err := dir.Open(scope)
	if err != nil {
		return err
	}

	fallbacks, err := loadFallbacks(config.FallbacksFile)
	if err != nil {
		return err
	}

	// Feedback only re-derives data, so a missing resume is not fatal here.
	resume, jobDescription, err := store.LoadPrerequisites(kv)
	if err != nil && !errors.Is(err, store.ErrMissingPrerequisite) {
		return err
	}

	provider := ai.NewFailOpen(newProvider(ctx, config.AI, logger), fallbacks, logger)

	return showFeedback(ctx, kv, resume, jobDescription, config.Role, provider, logger)
}

func showFeedback(ctx context.Context, kv store.KV, resume, jobDescription, role string, analyst feedback.Analyst, logger *zap.Logger) error {
	snapshot, err := store.Load(kv)
	if err != nil {
		return err
	}

	fmt.Println("\nPreparing your feedback...")

	report, err := feedback.Build(ctx, feedback.Input{
		Snapshot:       snapshot,
		Resume:         resume,
		JobDescription: jobDescription,
		Role:           role,
	}, analyst, logger)
	if err != nil {
		return err
	}

	return report.Render(os.Stdout)
}
