package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/piccolo-project/piccolo/pkg/actioncontroller"
	"github.com/piccolo-project/piccolo/pkg/config"
	"github.com/piccolo-project/piccolo/pkg/grpcapi"
	"github.com/piccolo-project/piccolo/pkg/kvstore"
	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/registry"
	"github.com/piccolo-project/piccolo/pkg/restapi"
	"github.com/piccolo-project/piccolo/pkg/statemanager"
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
	Use:     "piccolod",
	Short:   "piccolod is the PICCOLO Master node control plane",
	Version: Version,
	RunE:    runMaster,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("piccolod version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runMaster(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("piccolod")

	cfg, err := config.LoadMasterConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := kvstore.NewBoltStore(cfg.KVStorePath)
	if err != nil {
		return fmt.Errorf("open kv store at %s: %w", cfg.KVStorePath, err)
	}
	logger.Info().Str("path", cfg.KVStorePath).Msg("kv store opened")

	var tlsCfg *tls.Config
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsCfg, err = (&grpcapi.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile}).Load()
		if err != nil {
			return fmt.Errorf("load tls config: %w", err)
		}
	}

	var dispatcher statemanager.ReconcileDispatcher
	var acTransport *actioncontroller.GrpcTransport
	if cfg.ActionControllerAddr != "" {
		acTransport, err = actioncontroller.DialGrpcTransport(cfg.ActionControllerAddr, tlsCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("action controller unreachable at startup, reconcile dispatch will fail until it is")
		} else {
			dispatcher = actioncontroller.New(acTransport, 10*time.Second)
		}
	}

	mgr := statemanager.New(store, statemanager.Config{
		MetadataFetchTimeout: cfg.MetadataFetchTimeout,
		ReconcileBackoffCap:  cfg.ReconcileBackoffCap,
		KeyLockCapacity:      statemanager.DefaultConfig().KeyLockCapacity,
	}, dispatcher)

	reg := registry.New(store, registry.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		LivenessScanInterval: cfg.LivenessScanInterval,
		FailureTimeout:       cfg.FailureTimeout,
	}, mgr)

	scanner := registry.NewLivenessScanner(reg)
	scanner.Start()
	logger.Info().Msg("liveness scanner started")

	grpcServer := grpcapi.NewServer(reg, mgr, tlsCfg)
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(cfg.GrpcAddr); err != nil {
			grpcErrCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	logger.Info().Str("addr", cfg.GrpcAddr).Msg("ApiServerService listening")

	restServer := restapi.NewServer(reg, mgr, restapi.CORSOptions{AllowedOrigins: cfg.CORSAllowedOrigins})
	httpServer := &http.Server{Addr: cfg.RestAddr, Handler: restServer.Router}
	restErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			restErrCh <- fmt.Errorf("rest server: %w", err)
		}
	}()
	logger.Info().Str("addr", cfg.RestAddr).Msg("REST boundary listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-grpcErrCh:
		logger.Error().Err(err).Msg("grpc server failed")
	case err := <-restErrCh:
		logger.Error().Err(err).Msg("rest server failed")
	}

	// Drain in reverse startup order, bounded to 10s total.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	grpcStopped := make(chan struct{})
	go func() {
		grpcServer.Stop()
		close(grpcStopped)
	}()
	select {
	case <-grpcStopped:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("grpc server graceful stop timed out")
	}
	scanner.Stop()
	mgr.Shutdown()
	if acTransport != nil {
		_ = acTransport.Close()
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("kv store close failed")
	}

	logger.Info().Msg("piccolod stopped")
	return nil
}
