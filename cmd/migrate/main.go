package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"cutting-erp/internal/config"
	"cutting-erp/internal/storage/mysql"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the cutting-erp schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("dir", "./migrations", "Directory containing the migration files")
	root.PersistentFlags().String("config", os.Getenv("CONFIG_PATH"), "Config file to read the db section from when DATABASE_URL is unset")
	root.PersistentFlags().Bool("verbose", false, "Log every applied migration step")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, (*mysql.Migrator).Up)
			},
		},
		&cobra.Command{
			Use:   "down [n]",
			Short: "Roll back n migrations, or all of them without n",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 0 {
					return withMigrator(cmd, (*mysql.Migrator).Down)
				}
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("down: n must be a positive number, got %q", args[0])
				}
				return withMigrator(cmd, func(m *mysql.Migrator) error { return m.Steps(-n) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *mysql.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version %d, dirty %v\n", v, dirty)
					return nil
				})
			},
		},
	)

	return root
}

func withMigrator(cmd *cobra.Command, run func(*mysql.Migrator) error) error {
	dir := flagValue(cmd, "dir")
	verbose := flagValue(cmd, "verbose") == "true"

	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m, err := mysql.NewMigrator(dsn, dir, verbose, log)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	runErr := run(m)
	if runErr != nil {
		runErr = fmt.Errorf("migrate database: %w", runErr)
	}
	return errors.Join(runErr, m.Close())
}

// resolveDSN prefers DATABASE_URL and falls back to the db section of the
// service config.
func resolveDSN(cmd *cobra.Command) (string, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn, nil
	}

	path := flagValue(cmd, "config")
	if path == "" {
		return "", errors.New("set DATABASE_URL or pass --config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	if cfg.StorageDriver != "mysql" {
		return "", fmt.Errorf("config %s uses the %s storage driver, nothing to migrate", path, cfg.StorageDriver)
	}

	return cfg.DB.DSN(), nil
}

// flagValue looks name up on cmd and its parents' persistent flags.
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
