// Package commands implements tapstackd's CLI: tcp/udp send/receive
// subcommands, each of which brings up the full device/ARP/IPv4/UDP/TCP
// stack, performs one blocking application operation, and tears the
// stack back down.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the path to the YAML configuration file; built-in
// defaults are used when empty.
var configPath string

// rootCmd is the top-level cobra command for tapstackd.
var rootCmd = &cobra.Command{
	Use:   "tapstackd",
	Short: "Userspace TCP/IP stack over a kernel TAP device",
	Long: "tapstackd speaks Ethernet/ARP/IPv4/ICMP/UDP/TCP over a TAP device " +
		"and an internal loopback, exposing send/receive as one-shot CLI operations.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	rootCmd.AddCommand(tcpCmd())
	rootCmd.AddCommand(udpCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
