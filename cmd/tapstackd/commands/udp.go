package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietmachine/tapstack/internal/netstack/udp"
)

func udpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "udp",
		Short: "UDP datagram socket operations",
	}
	cmd.AddCommand(udpSendCmd())
	cmd.AddCommand(udpReceiveCmd())
	return cmd
}

func udpSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <target-ip> <target-port> <data>",
		Short: "Send one UDP datagram",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			targetIP, targetPort, err := parseEndpoint(args[0], args[1])
			if err != nil {
				return err
			}
			payload := unescapeData(args[2])

			rt, err := StartRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Stop() //nolint:errcheck

			handle, err := rt.Stack.UDP.Open()
			if err != nil {
				return fmt.Errorf("udp open: %w", err)
			}
			defer rt.Stack.UDP.Close(handle)

			remote := udp.Endpoint{Addr: targetIP, Port: targetPort}
			if err := rt.Stack.UDP.SendTo(handle, payload, remote, rt.Stack.Devices.Routes, rt.Stack.Out); err != nil {
				return fmt.Errorf("udp send_to: %w", err)
			}

			rt.Logger.Info("udp datagram sent",
				slog.String("target", fmt.Sprintf("%s:%d", targetIP, targetPort)),
				slog.Int("bytes", len(payload)),
			)
			return nil
		},
	}
}

func udpReceiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receive <local-ip> <local-port>",
		Short: "Bind and print inbound UDP datagrams until terminated",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			localIP, localPort, err := parseEndpoint(args[0], args[1])
			if err != nil {
				return err
			}

			rt, err := StartRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Stop() //nolint:errcheck

			handle, err := rt.Stack.UDP.Open()
			if err != nil {
				return fmt.Errorf("udp open: %w", err)
			}
			defer rt.Stack.UDP.Close(handle)

			local := udp.Endpoint{Addr: localIP, Port: localPort}
			if err := rt.Stack.UDP.Bind(handle, local); err != nil {
				return fmt.Errorf("udp bind: %w", err)
			}

			rt.Logger.Info("udp listening", slog.String("local", fmt.Sprintf("%s:%d", localIP, localPort)))

			ctx := rt.Context()
			for {
				dg, ok, err := rt.Stack.UDP.ReceiveFrom(ctx, handle)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("udp receive_from: %w", err)
				}
				if !ok {
					return nil
				}
				fmt.Fprintf(os.Stdout, "%s:%d %q\n", dg.Remote.Addr, dg.Remote.Port, dg.Payload)
			}
		},
	}
}
