// Command router runs a single-node Caxton message router process:
// it loads configuration, wires up persistence and observability, and
// serves the admin HTTP surface until told to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/router/api/admin"
	"github.com/caxton-io/router/config"
	"github.com/caxton-io/router/router"
	"github.com/caxton-io/router/router/observability"
	"github.com/caxton-io/router/router/persistence"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a router YAML config file")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	routerCfg, err := cfg.Router.Build()
	if err != nil {
		return fmt.Errorf("build router config: %w", err)
	}

	backend, err := persistence.NewAdapter(cfg.Persistence.Build())
	if err != nil {
		return fmt.Errorf("build persistence adapter: %w", err)
	}
	persist := router.NewPersistAdapter(backend)

	collector := observability.NewCollector("caxton_router", log)
	sink := observability.NewMetricsSink(collector)

	shutdownTracing, err := observability.InitTracing(cfg.Telemetry.ServiceName, routerCfg.TraceSamplingRatio.Float64())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	core := router.NewCore(routerCfg, log, sink, persist)

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	err = core.Recover(recoverCtx)
	cancelRecover()
	if err != nil {
		return fmt.Errorf("recover router state: %w", err)
	}

	adminServer := admin.NewServer(core, cfg.Admin.Addr)
	serveErrs := make(chan error, 1)
	go func() {
		log.Info("admin server listening", zap.String("addr", cfg.Admin.Addr))
		err := adminServer.ListenAndServe(cfg.Admin.TLSCertFile, cfg.Admin.TLSKeyFile)
		if err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErrs:
		log.Error("admin server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := adminServer.Close(); err != nil {
		log.Warn("admin server close failed", zap.Error(err))
	}
	if err := core.Shutdown(shutdownCtx); err != nil {
		log.Warn("core shutdown did not complete cleanly", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		log.Warn("metrics shutdown failed", zap.Error(err))
	}

	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
