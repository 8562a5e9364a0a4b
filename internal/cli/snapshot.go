package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/OldStager01/egress-gateway/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the stored warm-start member snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}

		var store snapshot.Store
		if db != nil {
			defer db.Close()
			store, err = snapshot.New(cfg.Snapshot, db.DB)
		} else {
			store, err = snapshot.New(cfg.Snapshot, nil)
		}
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := store.Load(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# store: %s, members: %d\n", store.Name(), len(records))
		if len(records) == 0 {
			return nil
		}

		type row struct {
			ID        string    `yaml:"id"`
			Health    string    `yaml:"health"`
			CreatedAt time.Time `yaml:"created_at"`
		}
		rows := make([]row, len(records))
		for i, r := range records {
			rows[i] = row{ID: r.ID, Health: string(r.Health), CreatedAt: r.CreatedAt}
		}

		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(rows)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
