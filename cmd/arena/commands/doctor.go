package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check backend tooling for every loaded domain",
		Long: `Runs each domain's backend health check: kubectl domains need a
reachable cluster, compose domains need a running Docker daemon. A
domain that fails its check can still be listed, but not played.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, registry, err := setup()
			if err != nil {
				return err
			}
			defer registry.Close()

			unhealthy := 0
			for _, d := range registry.List() {
				ok, reason := d.Deployer().HealthCheck(cmd.Context())
				status := "ok"
				if !ok {
					status = "FAIL"
					unhealthy++
				}
				fmt.Printf("%-14s %-14s %-5s %s\n",
					d.Config().ID, string(d.Config().Backend), status, reason)
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d domain(s) have unhealthy backends", unhealthy)
			}
			return nil
		},
	}
}
