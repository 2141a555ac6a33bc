package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tansive/modhost/internal/common/logtrace"
	"github.com/tansive/modhost/internal/modhost/config"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/dbmanager"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			logtrace.InitLogger(cfg.LogLevel, true)
			ctx := log.Logger.WithContext(cmd.Context())

			sqlDB, err := dbmanager.NewPostgresqlDb(ctx, dbmanager.Options{DSN: cfg.DSN()})
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			if err := db.Migrate(ctx, sqlDB); err != nil {
				return err
			}
			okLabel.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
