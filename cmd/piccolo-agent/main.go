package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/piccolo-project/piccolo/pkg/agent"
	"github.com/piccolo-project/piccolo/pkg/config"
	"github.com/piccolo-project/piccolo/pkg/grpcapi"
	"github.com/piccolo-project/piccolo/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "piccolo-agent",
	Short:   "piccolo-agent is the PICCOLO Sub node agent",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("piccolo-agent version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("agent-addr", "0.0.0.0:7200", "address the NodeAgentService listens on")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("piccolo-agent")

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	agentAddr, _ := cmd.Flags().GetString("agent-addr")

	var tlsCfg *tls.Config
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsCfg, err = (&grpcapi.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile}).Load()
		if err != nil {
			return fmt.Errorf("load tls config: %w", err)
		}
	}

	reporter, err := agent.NewContainerReporter(cfg.ContainerdSocket)
	if err != nil {
		logger.Warn().Err(err).Msg("containerd unreachable, heartbeats will report an empty container list")
		reporter = nil
	} else {
		defer reporter.Close()
	}

	a := agent.New(cfg, nil, reporter, tlsCfg)

	// Artifact dispatch is out of scope here; the NodeAgentService runs
	// with a nil ArtifactHandler, so it answers health_check while
	// handle_artifact/remove_artifact return Unavailable.
	nodeServer := agent.NewNodeServer(nil, tlsCfg)
	nodeErrCh := make(chan error, 1)
	go func() {
		if err := nodeServer.Serve(agentAddr); err != nil {
			nodeErrCh <- fmt.Errorf("node agent server: %w", err)
		}
	}()
	logger.Info().Str("addr", agentAddr).Msg("NodeAgentService listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentDoneCh := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(agentDoneCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-nodeErrCh:
		logger.Error().Err(err).Msg("node agent server failed")
	}

	a.Stop()
	<-agentDoneCh

	shutdownDone := make(chan struct{})
	go func() {
		nodeServer.Stop()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("node agent server graceful stop timed out")
	}

	logger.Info().Msg("piccolo-agent stopped")
	return nil
}
