package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devsec-arena/arena/pkg/progress"
)

func newChallengesCommand() *cobra.Command {
	var domainID string

	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "List the challenges of a domain with completion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			d, err := pickDomain(registry, domainID)
			if err != nil {
				return err
			}
			challenges, err := d.AllChallenges()
			if err != nil {
				return err
			}

			tracker := progress.Open(cmd.Context(), settings.ProgressDB, logger)
			defer tracker.Close()
			ledger, err := tracker.Progress(cmd.Context(), d.Config().ID)
			if err != nil {
				return err
			}

			lastWorld := ""
			for _, c := range challenges {
				if c.World != lastWorld {
					fmt.Printf("\n%s\n", c.World)
					lastWorld = c.World
				}
				mark := " "
				if ledger[c.ID].Completed {
					mark = "x"
				}
				fmt.Printf("  [%s] %-40s %4d XP  %s\n", mark, c.Name, c.XP, c.Difficulty)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domainID, "domain", "d", "", "domain to list")
	return cmd
}
