package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cstatelab/wakebench/pkg/device"
	_ "github.com/cstatelab/wakebench/pkg/device/hrtimer" // Register timer device
	_ "github.com/cstatelab/wakebench/pkg/device/nic"     // Register NIC device
)

func createDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available delayed-event devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := device.Scan()
			if len(infos) == 0 {
				fmt.Println("No devices registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tALIAS\tKIND\tLDIST MIN\tLDIST MAX\tCAPABILITIES\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%dns\t%dns\t%s\t%s\n",
					info.ID, info.Alias, info.Kind,
					info.LDistMin, info.LDistMax,
					info.Caps, info.Description)
			}
			return w.Flush()
		},
	}
}
