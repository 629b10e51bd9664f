package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// arpEntryView mirrors the admin endpoint's /arp JSON shape.
type arpEntryView struct {
	ProtoAddr  string    `json:"proto_addr"`
	HWAddr     string    `json:"hw_addr"`
	State      string    `json:"state"`
	InsertedAt time.Time `json:"inserted_at"`
}

func arpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "arp",
		Short: "List the ARP cache",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var entries []arpEntryView
			if err := fetchJSON("/arp", &entries); err != nil {
				return err
			}

			out, err := formatARP(entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format arp cache: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func formatARP(entries []arpEntryView, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(entries)
	case formatTable:
		return formatARPTable(entries)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatARPTable(entries []arpEntryView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tHWADDR\tSTATE\tAGE")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ProtoAddr, e.HWAddr, e.State, time.Since(e.InsertedAt).Round(time.Second))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
