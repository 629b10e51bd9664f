// Package commands implements tapstackctl's CLI: read-only introspection
// of a running tapstackd's devices, routes, ARP cache, and UDP/TCP PCB
// tables over its admin HTTP endpoint.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is shared across commands: one long-lived client
	// rather than one dial per request.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// serverAddr is the tapstackd admin endpoint (host:port).
	serverAddr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for tapstackctl.
var rootCmd = &cobra.Command{
	Use:           "tapstackctl",
	Short:         "Introspection CLI for a running tapstackd",
	Long:          "tapstackctl reads devices, routes, ARP cache, and PCB tables from tapstackd's admin HTTP endpoint.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9101", "tapstackd admin endpoint (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(arpCmd())
	rootCmd.AddCommand(udpCmd())
	rootCmd.AddCommand(tcpCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func endpointURL(path string) string {
	return fmt.Sprintf("http://%s%s", serverAddr, path)
}
