package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDomainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List available training domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			for _, d := range registry.List() {
				cfg := d.Config()
				challenges, err := d.AllChallenges()
				if err != nil {
					return err
				}
				icon := cfg.Icon
				if icon == "" {
					icon = "-"
				}
				fmt.Printf("%s  %-14s %-14s %3d challenges  %s\n",
					icon, cfg.ID, string(cfg.Backend), len(challenges), cfg.Description)
			}
			return nil
		},
	}
}
