// Package cli implements the queuectl command tree. Commands are thin
// callers: they parse flags, open the store, and delegate to the services.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"queuectl/internal/config"
	"queuectl/internal/repository"
)

// App holds the lazily-opened store shared by all commands.
type App struct {
	dbPath string
	repo   *repository.SQLiteRepository
	cfg    *config.Config
}

func (a *App) open(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	repo, err := repository.NewSQLiteRepository(a.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", a.dbPath, err)
	}
	cfg, err := config.New(ctx, repo)
	if err != nil {
		repo.Close()
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.repo = repo
	a.cfg = cfg
	return nil
}

// Close releases the store if it was opened.
func (a *App) Close() {
	if a.repo != nil {
		a.repo.Close()
	}
}

// NewRootCmd builds the queuectl command tree.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "A persistent multi-worker job queue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&app.dbPath, "db", "queuectl.db", "path to the SQLite database")

	rootCmd.AddCommand(
		newInitCmd(app),
		newEnqueueCmd(app),
		newListCmd(app),
		newStatusCmd(app),
		newWorkerCmd(app),
		newDLQCmd(app),
		newConfigCmd(app),
	)

	return rootCmd
}
