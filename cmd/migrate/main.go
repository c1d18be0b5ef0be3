package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9_]+`)

type options struct {
	databaseURL string
	dir         string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the hub's Postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres URL (default: $DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "migrations", "migrations directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "up [n]",
			Short: "Apply all pending migrations or the next n",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withMigrator(func(m *migrate.Migrate) error {
					if len(args) == 0 {
						return ignoreNoChange(m.Up())
					}
					steps, err := parseSteps(args[0])
					if err != nil {
						return err
					}
					return ignoreNoChange(m.Steps(steps))
				})
			},
		},
		&cobra.Command{
			Use:   "down [n]",
			Short: "Roll back all migrations or the last n",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withMigrator(func(m *migrate.Migrate) error {
					if len(args) == 0 {
						return ignoreNoChange(m.Down())
					}
					steps, err := parseSteps(args[0])
					if err != nil {
						return err
					}
					return ignoreNoChange(m.Steps(-steps))
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the recorded version, clearing a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version: %s", args[0])
				}
				return opts.withMigrator(func(m *migrate.Migrate) error {
					if err := m.Force(version); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Forced version to %d\n", version)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withMigrator(func(m *migrate.Migrate) error {
					version, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create an empty up/down migration pair",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				up, down, err := createMigration(opts.dir, args[0], time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s and %s\n", up, down)
				return nil
			},
		},
	)
	return root
}

func (o *options) withMigrator(fn func(*migrate.Migrate) error) error {
	databaseURL := strings.TrimSpace(o.databaseURL)
	if databaseURL == "" {
		databaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if databaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	dir, err := filepath.Abs(o.dir)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			fmt.Fprintf(os.Stderr, "source close error: %v\n", sourceErr)
		}
		if dbErr != nil {
			fmt.Fprintf(os.Stderr, "db close error: %v\n", dbErr)
		}
	}()
	return fn(m)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func parseSteps(value string) (int, error) {
	steps, err := strconv.Atoi(value)
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid steps: %s", value)
	}
	return steps, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	name = nonAlnum.ReplaceAllString(name, "")
	return strings.Trim(name, "_")
}

// createMigration writes a timestamped pair and refuses to overwrite.
func createMigration(dir, name string, now time.Time) (string, string, error) {
	name = sanitizeName(name)
	if name == "" {
		return "", "", errors.New("migration name must include at least one alphanumeric character")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	base := fmt.Sprintf("%s_%s", now.Format("20060102150405"), name)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	for path, body := range map[string]string{up: "-- migrate up\n", down: "-- migrate down\n"} {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return "", "", err
		}
		_, writeErr := file.WriteString(body)
		closeErr := file.Close()
		if writeErr != nil {
			return "", "", writeErr
		}
		if closeErr != nil {
			return "", "", closeErr
		}
	}
	return up, down, nil
}
