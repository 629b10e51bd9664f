package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// routeView mirrors the admin endpoint's /routes JSON shape.
type routeView struct {
	Network   string `json:"network"`
	Netmask   string `json:"netmask"`
	NextHop   string `json:"next_hop"`
	Interface string `json:"interface"`
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the stack's routing table in lookup order",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var routes []routeView
			if err := fetchJSON("/routes", &routes); err != nil {
				return err
			}

			out, err := formatRoutes(routes, outputFormat)
			if err != nil {
				return fmt.Errorf("format routes: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func formatRoutes(routes []routeView, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(routes)
	case formatTable:
		return formatRoutesTable(routes)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatRoutesTable(routes []routeView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tNETMASK\tNEXT-HOP\tINTERFACE")

	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Network, r.Netmask, r.NextHop, r.Interface)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
