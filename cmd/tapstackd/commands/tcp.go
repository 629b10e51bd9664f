package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietmachine/tapstack/internal/netstack/tcp"
)

// tcpReceiveBufSize bounds a single Receive call, matching a TCP PCB's
// fixed 65535-byte receive buffer cap.
const tcpReceiveBufSize = 65535

func tcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "TCP byte-stream socket operations",
	}
	cmd.AddCommand(tcpSendCmd())
	cmd.AddCommand(tcpReceiveCmd())
	return cmd
}

func tcpSendCmd() *cobra.Command {
	var graceful bool

	cmd := &cobra.Command{
		Use:   "send <target-ip> <target-port> <data>",
		Short: "Connect and send one TCP write",
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

			handle, err := rt.Stack.TCP.Open()
			if err != nil {
				return fmt.Errorf("tcp open: %w", err)
			}

			ctx := rt.Context()
			remote := tcp.Endpoint{Addr: targetIP, Port: targetPort}
			if err := rt.Stack.TCP.Connect(ctx, handle, remote); err != nil {
				return fmt.Errorf("tcp connect: %w", err)
			}
			rt.Logger.Info("tcp established", slog.String("remote", fmt.Sprintf("%s:%d", targetIP, targetPort)))

			if err := rt.Stack.TCP.Send(ctx, handle, payload); err != nil {
				return fmt.Errorf("tcp send: %w", err)
			}
			rt.Logger.Info("tcp data sent", slog.Int("bytes", len(payload)))

			if graceful {
				if err := rt.Stack.TCP.CloseGraceful(handle); err != nil {
					return fmt.Errorf("tcp close_graceful: %w", err)
				}
				return nil
			}
			rt.Stack.TCP.Close(handle)
			return nil
		},
	}
	cmd.Flags().BoolVar(&graceful, "graceful", false, "close with a FIN handshake instead of RST")
	return cmd
}

func tcpReceiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receive <local-ip> <local-port>",
		Short: "Listen, accept one connection, and print received data until terminated",
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

			handle, err := rt.Stack.TCP.Open()
			if err != nil {
				return fmt.Errorf("tcp open: %w", err)
			}

			local := tcp.Endpoint{Addr: localIP, Port: localPort}
			if err := rt.Stack.TCP.Bind(handle, local); err != nil {
				return fmt.Errorf("tcp bind: %w", err)
			}
			if err := rt.Stack.TCP.Listen(handle); err != nil {
				return fmt.Errorf("tcp listen: %w", err)
			}
			rt.Logger.Info("tcp listening", slog.String("local", fmt.Sprintf("%s:%d", localIP, localPort)))

			ctx := rt.Context()
			child, err := rt.Stack.TCP.Accept(ctx, handle)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("tcp accept: %w", err)
			}
			rt.Logger.Info("tcp connection accepted")

			for {
				data, err := rt.Stack.TCP.Receive(ctx, child, tcpReceiveBufSize)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("tcp receive: %w", err)
				}
				if data == nil {
					return nil
				}
				os.Stdout.Write(data) //nolint:errcheck
			}
		},
	}
}
