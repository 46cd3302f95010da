package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/server"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type MessageRecord struct {
	Timestamp time.Time
	Route     types.Route
	Return    types.Route
	Content   string
	Status    string
}

type WaypointCLI struct {
	node           *server.Node
	inbox          uint32
	out            io.Writer
	outMu          sync.Mutex
	messageHistory []MessageRecord
	historyMu      sync.RWMutex
}

func newWaypointCLI(out io.Writer, inbox uint32) *WaypointCLI {
	return &WaypointCLI{
		inbox:          inbox,
		out:            out,
		messageHistory: make([]MessageRecord, 0),
	}
}

func (cli *WaypointCLI) addToHistory(record MessageRecord) {
	cli.historyMu.Lock()
	defer cli.historyMu.Unlock()
	cli.messageHistory = append(cli.messageHistory, record)
}

func (cli *WaypointCLI) printf(format string, args ...any) {
	cli.outMu.Lock()
	defer cli.outMu.Unlock()
	fmt.Fprintf(cli.out, format, args...)
}

// receive prints a message delivered to this node and records it.
func (cli *WaypointCLI) receive(msg *protocol.Message) error {
	timestamp := time.Now()
	cli.printf("\r\n[%s] Received via %v (return %v): %s\nwaypoint> ",
		timestamp.Format("2006-01-02 15:04:05"), msg.Hop, msg.ReturnRoute, msg.Body)

	cli.addToHistory(MessageRecord{
		Timestamp: timestamp,
		Route:     types.NewRoute(msg.Hop),
		Return:    msg.ReturnRoute,
		Content:   string(msg.Body),
		Status:    "received",
	})
	return nil
}

func (cli *WaypointCLI) initializeNode(cfg *config.Config, log logrus.FieldLogger) error {
	inbox := router.HandlerFunc(cli.receive)
	node, err := server.New(cfg, log, inbox)
	if err != nil {
		return err
	}
	if err := node.RegisterWorker(cli.inbox, inbox); err != nil {
		node.Shutdown(context.Background())
		return err
	}
	cli.node = node
	return nil
}

// returnRoute leads back to this node's inbox over the first transport it
// has.
func (cli *WaypointCLI) returnRoute() types.Route {
	addrs := cli.node.Addresses()
	if len(addrs) == 0 {
		return nil
	}
	return types.NewRoute(addrs[0], types.NewLocalAddress(server.WorkerAddressLength, cli.inbox))
}

func (cli *WaypointCLI) sendMessage(onward, ret types.Route, message string) error {
	msg := protocol.NewMessage(onward.Clone(), ret, []byte(message))
	err := cli.node.Send(msg)

	status := "sent"
	if err != nil {
		status = "failed"
	}
	cli.addToHistory(MessageRecord{
		Timestamp: time.Now(),
		Route:     onward,
		Return:    ret,
		Content:   message,
		Status:    status,
	})
	return err
}

// lastReceived returns the most recent received message with a return route.
func (cli *WaypointCLI) lastReceived() (MessageRecord, bool) {
	cli.historyMu.RLock()
	defer cli.historyMu.RUnlock()
	for i := len(cli.messageHistory) - 1; i >= 0; i-- {
		r := cli.messageHistory[i]
		if r.Status == "received" && !r.Return.Empty() {
			return r, true
		}
	}
	return MessageRecord{}, false
}

func (cli *WaypointCLI) startInteractiveCLI(in io.Reader) error {
	cli.printf("Listening on: %v\n", cli.node.Addresses())
	cli.printf("Inbox: %v\n", types.NewLocalAddress(server.WorkerAddressLength, cli.inbox))

	reader := bufio.NewReader(in)
	for {
		cli.printf("waypoint> ")
		input, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || input == "") {
			if err == io.EOF {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		parts := strings.SplitN(input, " ", 2)
		command := parts[0]
		var args string
		if len(parts) > 1 {
			args = strings.TrimSpace(parts[1])
		}

		switch command {
		case "send":
			sendParts := strings.SplitN(args, " ", 2)
			if len(sendParts) < 2 {
				cli.printf("Usage: send <address>[,<address>...] <message>\n")
				continue
			}
			onward, err := types.ParseRoute(strings.Split(sendParts[0], ","))
			if err != nil {
				cli.printf("Invalid route: %v\n", err)
				continue
			}
			if err := cli.sendMessage(onward, cli.returnRoute(), sendParts[1]); err != nil {
				cli.printf("Failed to send message: %v\n", err)
			} else {
				cli.printf("Message sent successfully\n")
			}

		case "reply":
			if args == "" {
				cli.printf("Usage: reply <message>\n")
				continue
			}
			last, ok := cli.lastReceived()
			if !ok {
				cli.printf("Nothing to reply to\n")
				continue
			}
			if err := cli.sendMessage(last.Return, cli.returnRoute(), args); err != nil {
				cli.printf("Failed to send reply: %v\n", err)
			} else {
				cli.printf("Reply sent via %v\n", last.Return)
			}

		case "handlers":
			keys := cli.node.Router().Keys()
			cli.printf("Registered handlers: %d\n", len(keys))
			for _, k := range keys {
				cli.printf("  %v\n", k)
			}

		case "status":
			cli.printf("Node Status:\n")
			for _, a := range cli.node.Addresses() {
				cli.printf("Address: %v\n", a)
			}
			cli.printf("Inbox: %v\n", types.NewLocalAddress(server.WorkerAddressLength, cli.inbox))
			for kind, k := range cli.node.Router().DefaultKeys() {
				cli.printf("Default %v: %v\n", kind, k)
			}
			connected, total := cli.node.TCPPeers()
			cli.printf("Connected TCP Peers: %d/%d\n", connected, total)

		case "history":
			cli.historyMu.RLock()
			if len(cli.messageHistory) == 0 {
				cli.printf("No message history\n")
			}
			for _, record := range cli.messageHistory {
				cli.printf("[%s] %v: %s (%s)\n",
					record.Timestamp.Format("15:04:05"),
					record.Route,
					record.Content,
					record.Status)
			}
			cli.historyMu.RUnlock()

		case "exit":
			return nil

		case "help":
			cli.printf("Available commands:\n")
			cli.printf("  send <route> <message>  - Send a message along a comma separated route\n")
			cli.printf("  reply <message>         - Answer the last received message on its return route\n")
			cli.printf("  handlers                - List registered handler keys\n")
			cli.printf("  status                  - Show node addresses and peers\n")
			cli.printf("  history                 - Show message history\n")
			cli.printf("  help                    - Show this help message\n")
			cli.printf("  exit                    - Exit the application\n")

		default:
			cli.printf("Unknown command: %s. Type 'help' for usage.\n", command)
		}
	}
}

var flagMain struct {
	ConfigFile string
	LogLevel   string
	Inbox      uint32
}

var cmdMain = &cobra.Command{
	Use:   "waypoint",
	Short: "Interactive waypoint client",
	Args:  cobra.NoArgs,
	RunE:  runCLI,
}

func init() {
	cmdMain.Flags().StringVarP(&flagMain.ConfigFile, "config", "c", "", "Configuration file")
	cmdMain.Flags().StringVar(&flagMain.LogLevel, "log-level", "warn", "Log level")
	cmdMain.Flags().Uint32Var(&flagMain.Inbox, "inbox", 1, "Local worker value that receives messages")
	cmdMain.SilenceUsage = true
}

func runCLI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagMain.ConfigFile)
	if err != nil {
		return err
	}
	cfg.Log.Level = flagMain.LogLevel
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	log.SetLevel(level)

	cli := newWaypointCLI(os.Stdout, flagMain.Inbox)
	if err := cli.initializeNode(cfg, log); err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer cli.node.Shutdown(context.Background())

	if err := cli.node.Start(ctx); err != nil {
		return err
	}
	return cli.startInteractiveCLI(os.Stdin)
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}
