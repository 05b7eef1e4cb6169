package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshare/rshare/health"
	"github.com/rshare/rshare/internal/metrics"
	"github.com/rshare/rshare/keystore"
	"github.com/rshare/rshare/relay"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relay connectivity",
	RunE:  runHealth,
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Expose Prometheus metrics over HTTP until interrupted",
	RunE:  runServeMetrics,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := relay.New(relay.Config{
		HTTPURL:    cfg.Relay.HTTPURL,
		SocketHost: cfg.Relay.SocketHost,
		SocketPort: cfg.Relay.SocketPort,
		BufferSize: cfg.Relay.BufferSize,
	})

	checker := health.NewChecker(5 * time.Second)
	checker.Register("relay", health.RelayHealthCheck(client.HealthCheck))
	checker.Register("keystore", health.KeyStoreHealthCheck(func() error {
		_, err := keystore.Load(cfg.KeyStore.Directory)
		return err
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot := checker.Snapshot(ctx)
	for name, result := range snapshot.Checks {
		fmt.Printf("%-10s %-10s %s\n", name, result.Status, result.Message)
	}
	if snapshot.Status != health.StatusHealthy {
		return fmt.Errorf("relay is %s", snapshot.Status)
	}
	return nil
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics are disabled in configuration (metrics.enabled: false)")
	}

	addr := cfg.Metrics.ListenAddr
	fmt.Printf("Serving metrics on %s%s\n", addr, cfg.Metrics.Path)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	return http.ListenAndServe(addr, mux)
}
