package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the scrape workers and the ops HTTP server",
		Long: `Starts worker.concurrency scheduler loops against the shared article queue.
The ops HTTP surface (health, metrics, queue endpoints) is served on
server.port alongside them. Set database.migrate_on_start to apply
migrations first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				return app.RunWorkers(ctx)
			})
		},
	}
}
