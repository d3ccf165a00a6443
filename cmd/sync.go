package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var (
		apiKey  string
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Registers a user's World Anvil articles",
		Long: `Looks up the account behind --api-key through the World Anvil API, records
its worlds and published articles, and with --enqueue queues every article
that has no pending task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiKey == "" {
				return errors.New("--api-key is required")
			}
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				sum, err := app.SyncUser(ctx, apiKey, enqueue)
				if err != nil {
					return fmt.Errorf("sync user: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s): %d worlds, %d articles seen, %d registered, %d enqueued\n",
					sum.UserID, sum.Username, sum.Worlds, sum.ArticlesSeen, sum.ArticlesRegistered, sum.Enqueued)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "World Anvil auth token of the user")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue every article without a pending task")
	return cmd
}
