package main

import (
	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/server"
	"github.com/spf13/cobra"
)

func migrateCMD() *cobra.Command {
	var (
		cfgPath   string
		dir       string
		direction string
		steps     int
	)
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run session store migrations against Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}
			log := newLogger(cfg.General)
			if err := server.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			log.Info().Str("direction", direction).Int("steps", steps).Msg("migrations applied")
			return nil
		},
	}
	migrate.Flags().StringVar(&dir, "dir", server.DefaultMigrationsDir, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return migrate
}
