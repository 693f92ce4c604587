package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuectl/internal/models"
	"queuectl/internal/service"
)

func newInitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the persistent store schema if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()
			fmt.Printf("database initialized: %s\n", app.dbPath)
			return nil
		},
	}
}

func newEnqueueCmd(app *App) *cobra.Command {
	var (
		id         string
		shell      string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "enqueue [flags] -- <command> [args...]",
		Short: "Add a job to the queue",
		Long: `Add a job to the queue.

The command is an argument vector given after "--", executed directly with
no shell interpretation. Use --shell to run a raw shell string instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			req := &models.EnqueueRequest{ID: id}
			if shell != "" {
				req.Shell = true
				req.Command = shell
			} else {
				req.Argv = args
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}

			jobService := service.NewJobService(app.repo, app.cfg, nil)
			job, err := jobService.Enqueue(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to enqueue job: %w", err)
			}

			fmt.Printf("job enqueued: %s\n", job.ID)
			fmt.Printf("  command:     %s\n", job.Command)
			fmt.Printf("  max retries: %d\n", job.MaxRetries)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "job id (generated when omitted)")
	cmd.Flags().StringVar(&shell, "shell", "", "run this raw string through sh -c instead of an argument vector")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget before the job is dead-lettered")

	return cmd
}
