package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// deviceView mirrors the admin endpoint's /devices JSON shape.
type deviceView struct {
	Index       int             `json:"index"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	MTU         int             `json:"mtu"`
	HWAddr      string          `json:"hw_addr"`
	BroadcastHW string          `json:"broadcast_hw"`
	Up          bool            `json:"up"`
	Interfaces  []interfaceView `json:"interfaces"`
}

type interfaceView struct {
	Unicast   string `json:"unicast"`
	Netmask   string `json:"netmask"`
	Broadcast string `json:"broadcast"`
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the stack's devices and their interfaces",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var devices []deviceView
			if err := fetchJSON("/devices", &devices); err != nil {
				return err
			}

			out, err := formatDevices(devices, outputFormat)
			if err != nil {
				return fmt.Errorf("format devices: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func formatDevices(devices []deviceView, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(devices)
	case formatTable:
		return formatDevicesTable(devices)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDevicesTable(devices []deviceView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tTYPE\tMTU\tHWADDR\tUP\tADDRESSES")

	for _, d := range devices {
		addrs := make([]string, 0, len(d.Interfaces))
		for _, ifc := range d.Interfaces {
			addrs = append(addrs, ifc.Unicast)
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%t\t%s\n",
			d.Index, d.Name, d.Type, d.MTU, d.HWAddr, d.Up, strings.Join(addrs, ","))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
