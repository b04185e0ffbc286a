package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/christophersiem/little-moments/internal/health"
)

func newDoctorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the service is reachable and a microphone can be opened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			path := c.configPath
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(out, "config:    %s\n", path)
			client := c.client()
			fmt.Fprintf(out, "api:       %s\n", client.BaseURL())

			checkers := []health.Checker{health.APIChecker(client)}
			mic, err := c.buildMicrophone()
			if err != nil {
				fmt.Fprintf(out, "backends:  none usable (%v)\n", err)
			} else {
				names := make([]string, 0, len(c.cfg.Capture.Backends))
				for _, b := range c.cfg.Capture.Backends {
					names = append(names, b.Name)
				}
				fmt.Fprintf(out, "backends:  %v\n", names)
				checkers = append(checkers, health.MicrophoneChecker(mic, nil))
			}

			rep := health.New(checkers...).Run(cmd.Context())
			names := make([]string, 0, len(rep.Checks))
			for name := range rep.Checks {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "%-10s %s\n", name+":", rep.Checks[name])
			}

			if !rep.OK() || err != nil {
				return errors.New("doctor: some checks failed")
			}
			fmt.Fprintln(out, "All checks passed. Ready to record!")
			return nil
		},
	}
}
