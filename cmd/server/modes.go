package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/spf13/cobra"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List operating modes, their risk tier and capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODE\tRISK\tAPPROVAL\tCAPABILITIES")
		for _, m := range models.AllModes() {
			info := m.Info()
			caps := make([]string, len(info.Capabilities))
			for i, c := range info.Capabilities {
				caps[i] = string(c)
			}
			approval := "no"
			if info.RequiresApproval {
				approval = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m, info.RiskTier, approval, strings.Join(caps, ","))
		}
		return tw.Flush()
	},
}
