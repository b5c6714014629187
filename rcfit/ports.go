package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/gorc/pkg/picoscope"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports usable as the device console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := picoscope.Ports()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintf(out, "  - %s\n", p.Name)
			}
			return nil
		},
	}
}
