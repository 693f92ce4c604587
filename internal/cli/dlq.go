package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuectl/internal/service"
)

func newDLQCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead letter queue operations",
	}
	cmd.AddCommand(newDLQListCmd(app), newDLQRetryCmd(app), newDLQDeleteCmd(app))
	return cmd
}

func newDLQListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs in the dead letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			dlqService := service.NewDLQService(app.repo)
			jobs, err := dlqService.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("dead letter queue is empty")
				return nil
			}
			printJobTable(jobs)
			return nil
		},
	}
}

func newDLQRetryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a dead job to pending so workers can retry it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			dlqService := service.NewDLQService(app.repo)
			job, err := dlqService.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("job %s reset to %s (attempts so far: %d)\n", job.ID, job.State, job.Attempts)
			return nil
		},
	}
}

func newDLQDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Permanently remove a job from the dead letter queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			dlqService := service.NewDLQService(app.repo)
			deleted, err := dlqService.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if deleted {
				fmt.Printf("job %s deleted\n", args[0])
			} else {
				fmt.Printf("job %s not in dead letter queue, nothing to delete\n", args[0])
			}
			return nil
		},
	}
}
