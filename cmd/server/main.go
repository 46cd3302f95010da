package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

func initLogger(level logrus.Level) {
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
}

const shutdownTimeout = 10 * time.Second

var cmdMain = &cobra.Command{
	Use:   "waypoint-server",
	Short: "Waypoint message routing node",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

var flagMain struct {
	ConfigFile string
	LogLevel   string
}

func init() {
	cmdMain.PersistentFlags().StringVarP(&flagMain.ConfigFile, "config", "c", "", "Configuration file (default: waypoint.yaml in . or ~/.waypoint)")
	cmdMain.PersistentFlags().StringVar(&flagMain.LogLevel, "log-level", "", "Override log.level")
	cmdMain.SilenceUsage = true
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies flag overrides and sets up the
// logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagMain.ConfigFile)
	if err != nil {
		return nil, err
	}
	if flagMain.LogLevel != "" {
		cfg.Log.Level = flagMain.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	initLogger(level)
	return cfg, nil
}

// controller logs messages whose route ends at this node.
func controller(log logrus.FieldLogger) router.Handler {
	return router.HandlerFunc(func(msg *protocol.Message) error {
		log.WithFields(logrus.Fields{
			"bytes":  len(msg.Body),
			"return": msg.ReturnRoute,
		}).Info("Message reached node")
		return nil
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	node, err := server.New(cfg, log, controller(log))
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		node.Shutdown(context.Background())
		return err
	}
	log.WithField("addresses", node.Addresses()).Info("Waypoint server is running")

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return node.Shutdown(shutdownCtx)
}
