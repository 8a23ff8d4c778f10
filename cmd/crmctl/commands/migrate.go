package commands

import (
	"fmt"
	"strconv"

	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/spf13/cobra"
)

func migrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrator := func(cmd *cobra.Command) (*database.Migrator, error) {
		db, err := e.database(cmd.Context())
		if err != nil {
			return nil, err
		}
		return database.NewMigrator(db, e.logger)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			return m.Up()
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (one step by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			return m.Down(steps)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dirty {
				fmt.Fprintf(out, "%d (dirty)\n", v)
				return nil
			}
			fmt.Fprintln(out, v)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
