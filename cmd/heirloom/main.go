package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/heirloom/internal/config"
	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	flagPort     string
	flagDBDriver string
	flagDBDSN    string
	flagLogLevel string
	flagEnvFile  string

	rootCmd = &cobra.Command{
		Use:           "heirloom",
		Short:         "Family tree service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if flagEnvFile != "" {
				files = append(files, flagEnvFile)
			}
			c, err := config.Load(files...)
			if err != nil {
				return err
			}
			applyFlags(cmd, c)
			cfg = c
			logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagPort, "port", "", "HTTP port (overrides HEIRLOOM_PORT)")
	pf.StringVar(&flagDBDriver, "db-driver", "", "database driver: sqlite or postgres (overrides HEIRLOOM_DB_DRIVER)")
	pf.StringVar(&flagDBDSN, "db-dsn", "", "database path or DSN (overrides HEIRLOOM_DB_DSN)")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides HEIRLOOM_LOG_LEVEL)")
	pf.StringVar(&flagEnvFile, "env-file", "", "dotenv file to load (default .env)")

	rootCmd.AddCommand(serveCmd, migrateCmd, treeCmd, tokenCmd)
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Port = flagPort
	}
	if flags.Changed("db-driver") {
		c.DBDriver = flagDBDriver
	}
	if flags.Changed("db-dsn") {
		c.DBDSN = flagDBDSN
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
}

func openDB(ctx context.Context) (*database.DB, error) {
	driver, err := database.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	db, err := database.OpenDriver(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
