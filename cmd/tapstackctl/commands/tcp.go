package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// tcpPCBView mirrors the admin endpoint's /tcp JSON shape.
type tcpPCBView struct {
	Handle int    `json:"handle"`
	State  string `json:"state"`
	Mode   string `json:"mode"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

func tcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tcp",
		Short: "List the TCP PCB table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var pcbs []tcpPCBView
			if err := fetchJSON("/tcp", &pcbs); err != nil {
				return err
			}

			out, err := formatTCPPCBs(pcbs, outputFormat)
			if err != nil {
				return fmt.Errorf("format tcp pcbs: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func formatTCPPCBs(pcbs []tcpPCBView, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(pcbs)
	case formatTable:
		return formatTCPPCBsTable(pcbs)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatTCPPCBsTable(pcbs []tcpPCBView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tSTATE\tMODE\tLOCAL\tREMOTE")

	for _, p := range pcbs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.Handle, p.State, p.Mode, p.Local, p.Remote)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
