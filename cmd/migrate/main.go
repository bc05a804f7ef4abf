package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"weather-pipeline/internal/app"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the embedded schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	for _, dir := range []database.Direction{database.Up, database.Down} {
		root.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Run %s migrations", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrations(cmd, configPath, dir)
			},
		})
	}
	return root
}

func runMigrations(cmd *cobra.Command, configPath string, dir database.Direction) error {
	a, err := app.Load(configPath, "weather-migrate")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := database.Open(ctx, a.Config.ToDatabaseConfig(), a.Logger, a.Metrics)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	a.Logger.Info(ctx, "[MIGRATE] Running migrations", logging.Fields{
		"direction": string(dir),
		"driver":    db.Driver(),
	})
	if err := database.Migrate(ctx, db, dir); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migrations %s completed successfully\n", dir)
	return nil
}
