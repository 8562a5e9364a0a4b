package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OldStager01/egress-gateway/pkg/config"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "List the built-in tier presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIER\tPER MEMBER\tMIN\tTARGET\tMAX\tRPS\tQUEUE\tCEILING")
		for _, name := range config.TierNames() {
			if name == config.TierCustom {
				continue
			}
			t, err := config.TierPreset(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%g\t%d\t%d\n",
				t.Name, t.PerMemberLimit, t.MinMembers, t.TargetMembers, t.MaxMembers,
				t.RateLimit, t.QueueCapacity, t.MaxCeiling())
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
