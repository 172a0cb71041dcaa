package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memberdesk/memberdesk/internal/platform/cache"
	"github.com/memberdesk/memberdesk/jobs"
)

func newRevalidateCommand(e *env) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revalidate",
		Short: "Queue an immediate session revalidation for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := jobs.NewClient(cache.AsynqOpt(cache.Options{
				Addr:     e.cfg.RedisAddr,
				Password: e.cfg.RedisPassword,
				DB:       e.cfg.RedisDB,
			}))
			defer client.Close()

			info, err := client.EnqueueRevalidate(cmd.Context(), reason)
			if err != nil {
				return fmt.Errorf("enqueue revalidate: %w", err)
			}
			if e.output == "json" {
				return e.printJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "queue": info.Queue})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on %s\n", info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded on the task")
	return cmd
}
