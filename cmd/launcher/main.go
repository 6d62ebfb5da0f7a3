package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/launcher/pkg/api"
	"github.com/openclaw/launcher/pkg/config"
	"github.com/openclaw/launcher/pkg/events"
	"github.com/openclaw/launcher/pkg/log"
	"github.com/openclaw/launcher/pkg/logstream"
	"github.com/openclaw/launcher/pkg/orchestrator"
	"github.com/openclaw/launcher/pkg/relay"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/store"
	"github.com/openclaw/launcher/pkg/workspace"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "launcher",
	Short: "OpenClaw Launcher - per-wallet container instances",
	Long: `OpenClaw Launcher maps wallet public keys to isolated application
containers: one wallet, one container, one port, one gateway token.

It provisions workspaces, supervises container health, streams logs,
and exposes an HTTP operator API with Prometheus metrics.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"OpenClaw Launcher version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the launcher server",
	Long: `Run the launcher: the HTTP operator API, the health reconciler,
and the instance store, against the local Docker daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("creating data dir: %v", err)
		}

		journal, err := events.Open(filepath.Join(cfg.DataDir, "events.db"))
		if err != nil {
			return err
		}
		defer journal.Close()

		docker := runtime.New()
		defer docker.Close()

		st := store.New(filepath.Join(cfg.DataDir, "instances.json"))
		provisioner := workspace.New(filepath.Join(cfg.DataDir, "instances"), cfg.TemplateDir)
		ctrl := orchestrator.New(cfg, st, docker, provisioner, journal)
		streamer := logstream.New(docker)
		server := api.New(cfg, ctrl, docker, streamer, provisioner, st, journal)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ctrl.StartReconciler(ctx, config.ReconcileInterval)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Run(ctx)
		}()

		logger.Info().Str("version", Version).Str("addr", cfg.ListenAddr).Msg("launcher started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
			return <-errCh
		case err := <-errCh:
			return err
		}
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the host service relay",
	Long: `Forward TCP connections from the Docker bridge address to a
loopback-only host service, so containers can reach it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		targetAddr, _ := cmd.Flags().GetString("target")

		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return relay.New(listenAddr, targetAddr).Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")

	relayCmd.Flags().String("listen", relay.DefaultListenAddr, "Address to accept connections on")
	relayCmd.Flags().String("target", relay.DefaultTargetAddr, "Address to forward connections to")
}
