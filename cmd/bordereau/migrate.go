package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/bordereau-engine/pkg/database"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.New(database.Config{
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
				BusyTimeout:     cfg.Database.BusyTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).Run(database.Migrations())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
			return nil
		},
	}
}
