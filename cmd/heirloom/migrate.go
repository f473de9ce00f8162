package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// opening the database applies migrations
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		v, err := db.MigrationVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s database at version %d\n", db.Backend(), v)
		return nil
	},
}
