package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/statement-import/internal/app"
	"github.com/dvloznov/statement-import/internal/config"
	"github.com/dvloznov/statement-import/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	userID     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "statement-import",
		Short: "Import bank statements, review categories and confirm them",
		Long: `statement-import uploads a bank statement, parses it into transactions
with suggested categories, and lets you review and confirm the result.

Confirmed imports are published to the configured downstream consumers.
Use the sqlite or bigquery store driver to keep uploads between runs.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a config file (default: ./config.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", os.Getenv("USER"), "User the uploads belong to")

	cmd.AddCommand(
		newImportCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newSetCategoryCmd(opts),
		newConfirmCmd(opts),
		newCancelCmd(opts),
		newCategoriesCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// withApp builds the service for one command and tears it down afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, run func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	log, err := logger.Configure(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn().Msg("Using the memory store, uploads are discarded when the command exits")
	}

	ctx := logger.WithContext(cmd.Context(), log)

	a, err := app.New(ctx, cfg, log, app.Options{Synchronous: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	return run(ctx, a)
}

func requireUser(opts *rootOptions) error {
	if opts.userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func logFrom(ctx context.Context) zerolog.Logger {
	return logger.FromContext(ctx)
}
