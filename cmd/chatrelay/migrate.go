package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/db"
	"github.com/chatrelay/chatrelay/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return db.MigrateUp(logger.L, cfg.Postgres)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return db.MigrateDown(logger.L, cfg.Postgres, steps)
		},
	})
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
