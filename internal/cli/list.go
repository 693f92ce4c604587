package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/models"
	"queuectl/internal/service"
)

func newListCmd(app *App) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			jobService := service.NewJobService(app.repo, app.cfg, nil)
			jobs, err := jobService.ListJobs(cmd.Context(), models.JobState(state), limit)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("no jobs found")
				return nil
			}
			printJobTable(jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, running, succeeded, failed_retryable, dead)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max jobs to show (0 = all)")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and active workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			jobService := service.NewJobService(app.repo, app.cfg, nil)
			status, err := jobService.GetStatus(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tCOUNT")
			total := 0
			for _, state := range models.AllStates {
				fmt.Fprintf(w, "%s\t%d\n", state, status.Counts[state])
				total += status.Counts[state]
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			w.Flush()

			fmt.Printf("\nactive workers: %d\n", len(status.Workers))
			if len(status.Workers) > 0 {
				w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "WORKER\tPID\tSTARTED\tLAST HEARTBEAT")
				for _, worker := range status.Workers {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
						worker.WorkerID,
						worker.PID,
						worker.StartedAt.Format(time.RFC3339),
						worker.LastHeartbeat.Format(time.RFC3339),
					)
				}
				w.Flush()
			}
			return nil
		},
	}
}

func printJobTable(jobs []*models.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tATTEMPTS\tMAX RETRIES\tNEXT RUN\tLAST ERROR")
	for _, job := range jobs {
		lastError := job.LastError
		if len(lastError) > 40 {
			lastError = lastError[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			job.ID,
			job.State,
			job.Attempts,
			job.MaxRetries,
			job.NextRunAt.Format(time.RFC3339),
			lastError,
		)
	}
	w.Flush()
}
