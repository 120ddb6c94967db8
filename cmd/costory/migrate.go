package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/db/migrations"
)

// MigrateCmd creates the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ServerConfig.Database.SQLitePath
			store, err := db.NewSQLite(path)
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := migrations.Version(store.DB())
			if err != nil {
				return err
			}
			fmt.Printf("Database %s at schema version %d\n", path, v)
			return nil
		},
	}
}
