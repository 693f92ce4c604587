package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/backoff"
	"queuectl/internal/config"
	"queuectl/internal/service"
)

// defaultPIDFile is where worker start records its pid for worker stop.
const defaultPIDFile = ".queuectl.pid"

func newWorkerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker management commands",
	}
	cmd.AddCommand(newWorkerStartCmd(app), newWorkerStopCmd())
	return cmd
}

func newWorkerStartCmd(app *App) *cobra.Command {
	var (
		count        int
		limit        int
		pollInterval time.Duration
		jobTimeout   time.Duration
		drain        bool
		pidFile      string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start worker processes that claim and execute jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			if err := writePIDFile(pidFile); err != nil {
				return err
			}
			defer os.Remove(pidFile)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				fmt.Println("shutting down workers...")
				cancel()
			}()

			opts := poolOptions(ctx, app, count, limit, pollInterval, jobTimeout, drain, cmd)

			pool := service.NewPool(app.repo, opts)
			summary, err := pool.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("succeeded: %d, failed retryable: %d, dead lettered: %d\n",
				summary.Succeeded, summary.FailedRetryable, summary.Dead)
			if summary.InvocationFaults > 0 {
				fmt.Printf("invocation faults: %d\n", summary.InvocationFaults)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of concurrent workers (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max jobs to process per worker (0 = unlimited)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "wait between claim attempts when idle (default from config)")
	cmd.Flags().DurationVar(&jobTimeout, "timeout", 0, "per-job execution timeout (default from config)")
	cmd.Flags().BoolVar(&drain, "drain", false, "exit when no job is claimable instead of polling")
	cmd.Flags().StringVar(&pidFile, "pid-file", defaultPIDFile, "file recording the pool's pid for worker stop")

	return cmd
}

func newWorkerStopCmd() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running worker pool to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPIDFile(pidFile)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no workers running (pid file %s not found)", pidFile)
				}
				return err
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				if errors.Is(err, syscall.ESRCH) {
					os.Remove(pidFile)
					return fmt.Errorf("no process with pid %d, removed stale pid file", pid)
				}
				return fmt.Errorf("failed to signal pid %d: %w", pid, err)
			}

			fmt.Printf("sent stop signal to worker pool (pid %d)\n", pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", defaultPIDFile, "file recording the pool's pid")
	return cmd
}

// writePIDFile records the current process id. An existing file whose pid
// is still alive means another pool owns this pid file.
func writePIDFile(path string) error {
	if pid, err := readPIDFile(path); err == nil {
		if syscall.Kill(pid, 0) == nil {
			return fmt.Errorf("workers already running with pid %d (pid file %s)", pid, path)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// poolOptions resolves flags against the stored configuration: any flag the
// user did not set falls back to the config table.
func poolOptions(ctx context.Context, app *App, count, limit int, pollInterval, jobTimeout time.Duration, drain bool, cmd *cobra.Command) service.PoolOptions {
	cfg := app.cfg

	if count <= 0 {
		count = cfg.GetInt(ctx, config.KeyWorkerCount, 1)
	}
	if !cmd.Flags().Changed("poll-interval") {
		pollInterval = cfg.GetDuration(ctx, config.KeyPollInterval, time.Second)
	}
	if !cmd.Flags().Changed("timeout") {
		jobTimeout = cfg.GetDuration(ctx, config.KeyJobTimeout, time.Hour)
	}

	policy := backoff.Policy{
		BaseDelay:  cfg.GetDuration(ctx, config.KeyBaseDelay, time.Second),
		Multiplier: cfg.GetFloat(ctx, config.KeyMultiplier, 2),
		MaxDelay:   cfg.GetDuration(ctx, config.KeyMaxDelay, 5*time.Minute),
	}

	return service.PoolOptions{
		Count:          count,
		Limit:          limit,
		PollInterval:   pollInterval,
		Drain:          drain,
		JobTimeout:     jobTimeout,
		StaleThreshold: cfg.GetDuration(ctx, config.KeyAbandonedThreshold, time.Hour),
		Policy:         policy,
	}
}
