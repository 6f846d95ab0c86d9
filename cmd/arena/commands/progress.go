package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devsec-arena/arena/pkg/progress"
)

func newProgressCommand() *cobra.Command {
	var (
		domainID string
		reset    bool
	)

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show earned XP and completed challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			tracker := progress.Open(cmd.Context(), settings.ProgressDB, logger)
			defer tracker.Close()

			if reset {
				d, err := pickDomain(registry, domainID)
				if err != nil {
					return err
				}
				fmt.Printf("Reset all progress for domain %q? [y/N] ", d.Config().ID)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "y" {
					fmt.Println("aborted")
					return nil
				}
				if err := tracker.Reset(cmd.Context(), d.Config().ID); err != nil {
					return err
				}
				fmt.Println("progress reset")
				return nil
			}

			for _, d := range registry.List() {
				id := d.Config().ID
				if domainID != "" && id != domainID {
					continue
				}
				challenges, err := d.AllChallenges()
				if err != nil {
					return err
				}
				ledger, err := tracker.Progress(cmd.Context(), id)
				if err != nil {
					return err
				}
				total, err := tracker.TotalXP(cmd.Context(), id)
				if err != nil {
					return err
				}

				completed, hints := 0, 0
				for _, p := range ledger {
					if p.Completed {
						completed++
					}
					hints += p.HintsUsed
				}
				fmt.Printf("%-14s %3d/%3d completed  %5d XP  %3d hints used\n",
					id, completed, len(challenges), total, hints)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domainID, "domain", "d", "", "limit to one domain")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear progress for the selected domain")
	return cmd
}
