package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// udpPCBView mirrors the admin endpoint's /udp JSON shape.
type udpPCBView struct {
	Handle  int    `json:"handle"`
	State   string `json:"state"`
	Local   string `json:"local"`
	Pending int    `json:"pending"`
}

func udpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "udp",
		Short: "List the UDP PCB table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var pcbs []udpPCBView
			if err := fetchJSON("/udp", &pcbs); err != nil {
				return err
			}

			out, err := formatUDPPCBs(pcbs, outputFormat)
			if err != nil {
				return fmt.Errorf("format udp pcbs: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func formatUDPPCBs(pcbs []udpPCBView, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(pcbs)
	case formatTable:
		return formatUDPPCBsTable(pcbs)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatUDPPCBsTable(pcbs []udpPCBView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tSTATE\tLOCAL\tPENDING")

	for _, p := range pcbs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", p.Handle, p.State, p.Local, p.Pending)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
