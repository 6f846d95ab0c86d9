package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devsec-arena/arena/pkg/arena"
)

func newSafetyCommand() *cobra.Command {
	var domainID string

	cmd := &cobra.Command{
		Use:   "safety",
		Short: "Show what the safety guard protects",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			d, err := pickDomain(registry, domainID)
			if err != nil {
				return err
			}
			fmt.Println(d.Guard().Info())
			for _, p := range d.Guard().Patterns() {
				fmt.Printf("  [%s] %s\n", strings.ToUpper(string(p.Severity)), p.Message)
			}
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check <command>",
		Short: "Check a command against the safety guard",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			d, err := pickDomain(registry, domainID)
			if err != nil {
				return err
			}

			candidate := strings.Join(args, " ")
			verdict := d.Guard().ValidateCommand(candidate, false)
			switch {
			case verdict.Severity == arena.SeveritySafe:
				fmt.Println("SAFE: no pattern matched")
			case verdict.Allowed:
				fmt.Printf("ALLOWED (%s): %s\n", verdict.Severity, verdict.Message)
			default:
				fmt.Printf("BLOCKED (%s): %s\n", verdict.Severity, verdict.Message)
				if verdict.Suggestion != "" {
					fmt.Printf("  suggestion: %s\n", verdict.Suggestion)
				}
				return fmt.Errorf("command would be blocked")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&domainID, "domain", "d", "", "domain whose guard to use")
	cmd.AddCommand(check)
	return cmd
}
