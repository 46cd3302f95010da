package main

import (
	"context"
	"fmt"
	"net"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/server"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/spf13/cobra"
)

var cmdSend = &cobra.Command{
	Use:   "send <address>...",
	Short: "Route one message along the given onward route and exit",
	Example: `  waypoint-server send --body hello udp:10.0.0.2:7700 local:4:0x00010203
  waypoint-server send --body ping --return udp:10.0.0.1:7700 tcp:10.0.0.2:7701`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var flagSend struct {
	Body   string
	Return []string
}

func init() {
	cmdMain.AddCommand(cmdSend)
	cmdSend.Flags().StringVarP(&flagSend.Body, "body", "b", "", "Message body")
	cmdSend.Flags().StringSliceVarP(&flagSend.Return, "return", "r", nil, "Return route addresses, in order")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	onward, err := types.ParseRoute(args)
	if err != nil {
		return err
	}
	ret, err := types.ParseRoute(flagSend.Return)
	if err != nil {
		return err
	}

	if err := sendOnce(cmd.Context(), cfg, protocol.NewMessage(onward, ret, []byte(flagSend.Body))); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d bytes via %v\n", len(flagSend.Body), onward)
	return nil
}

// sendOnce routes msg through a throwaway node bound to ephemeral ports.
func sendOnce(ctx context.Context, base *config.Config, msg *protocol.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := *base
	cfg.UDP.Listen = ephemeral(cfg.UDP.Listen)
	cfg.TCP.Listen = ephemeral(cfg.TCP.Listen)
	cfg.Metrics.Listen = ""

	node, err := server.New(&cfg, log, nil)
	if err != nil {
		return err
	}
	defer node.Shutdown(context.Background())

	if err := node.Start(ctx); err != nil {
		return err
	}
	return node.Send(msg)
}

// ephemeral keeps the host of a listen address and lets the system pick the
// port.
func ephemeral(listen string) string {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return "127.0.0.1:0"
	}
	return net.JoinHostPort(host, "0")
}
