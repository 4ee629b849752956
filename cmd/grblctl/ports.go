package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-grbl/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := link.AvailablePorts()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "no serial ports found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
		for _, p := range ports {
			usb, ids := "no", ""
			if p.IsUSB {
				usb, ids = "yes", p.VID+":"+p.PID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, usb, ids, p.SerialNumber, p.Product)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
