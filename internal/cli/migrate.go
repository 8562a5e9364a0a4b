package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		if db == nil {
			return errors.New("database.enabled is false; nothing to migrate")
		}
		defer db.Close()

		return migrate(cmd.Context(), cfg, db)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
