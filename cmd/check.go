package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/wine-identify/internal/routing"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and routes without calling any provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("check"); err != nil {
			return err
		}
		routesCfg, err := routing.LoadConfig(cfg.Routing.File)
		if err != nil {
			return err
		}
		if err := routesCfg.Validate(providerNames(cfg.Providers)); err != nil {
			return eris.Wrap(err, "validate routes")
		}
		if _, err := initProviders(cfg.Providers); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config ok: %d tasks, %d tiers\n", len(routesCfg.Tasks), len(routesCfg.Tiers))
		for _, t := range routesCfg.Tiers {
			fmt.Fprintf(out, "  %-9s threshold=%.2f thinking=%s\n", t.Name, t.Threshold, t.Thinking)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
