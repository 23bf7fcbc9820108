package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/gatesync/internal/config"
	"github.com/HerbHall/gatesync/internal/delivery"
	"github.com/HerbHall/gatesync/internal/eventlog"
	"github.com/HerbHall/gatesync/internal/fleet"
	"github.com/HerbHall/gatesync/internal/ingest"
	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/notify"
	"github.com/HerbHall/gatesync/internal/poller"
	"github.com/HerbHall/gatesync/internal/pulse"
	"github.com/HerbHall/gatesync/internal/registry"
	"github.com/HerbHall/gatesync/internal/retention"
	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/settings"
	"github.com/HerbHall/gatesync/internal/snapshot"
	"github.com/HerbHall/gatesync/internal/store"
	"github.com/HerbHall/gatesync/internal/version"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "settings":
			runSettings(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := serve(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gatesync: %v\n", err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	for _, dir := range []string{cfg.DataDir(), cfg.SnapshotDir(), cfg.EventLogDir(), cfg.RawLogDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logs := eventlog.New(cfg.EventLogDir(), cfg.RawLogDir(), nil)
	defer logs.Close()

	logger, err := newLogger(cfg, logs)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

	logger.Info("GateSync starting", zap.String("version", version.Short()))
	if f := cfg.ConfigFile(); f != "" {
		logger.Info("configuration loaded", zap.String("file", f))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	settingsRepo, err := services.NewSQLiteSettingsRepository(ctx, db)
	if err != nil {
		return err
	}
	devices, err := services.NewSQLiteDeviceRepository(ctx, db)
	if err != nil {
		return err
	}
	events, err := services.NewSQLiteEventRepository(ctx, db)
	if err != nil {
		return err
	}
	tunables := services.NewTunables(settingsRepo)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	state := fleet.New(nil)
	known, err := devices.List(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	state.Seed(known)
	logger.Info("fleet loaded", zap.Int("devices", len(known)))

	snapshots := snapshot.New(cfg.SnapshotDir())
	dispatcher := notify.New(tunables, logger.Named("notify"), m)
	defer dispatcher.Wait()

	ingestor := ingest.New(events, snapshots, tunables, logger.Named("ingest"),
		ingest.WithEventLogs(logs), ingest.WithMetrics(m))

	reg := registry.New(logger)
	plugins := []plugin.Plugin{
		pulse.New(pulse.Deps{
			Devices: devices, Fleet: state, Tunables: tunables, Notifier: dispatcher, Metrics: m,
		}),
		poller.New(poller.Deps{
			Devices: devices, Fleet: state, Ingestor: ingestor, Tunables: tunables, EventLogs: logs, Metrics: m,
		}),
		delivery.New(delivery.Deps{
			Events: events, Snapshots: snapshots, Tunables: tunables, Notifier: dispatcher, Metrics: m,
		}),
		retention.New(retention.Deps{
			Events: events, Snapshots: snapshots, Tunables: tunables, LogDirs: logs.Dirs(), Metrics: m,
		}),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	if err := reg.InitAll(cfg.Viper()); err != nil {
		return err
	}
	if err := reg.StartAll(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.ListenAddr(), reg, promReg, logger.Named("http"),
		settings.NewHandler(settingsRepo, logger.Named("settings")))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	logger.Info("GateSync ready", zap.String("addr", cfg.ListenAddr()))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-srvErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	timeout := cfg.GetDuration("server.shutdown_timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll()

	logger.Info("GateSync stopped")
	return nil
}

// newLogger builds the console logger and tees it into the daily
// system.log stream.
func newLogger(cfg *config.Config, logs *eventlog.Logs) (*zap.Logger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if cfg.GetBool("log.development") {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	level := zap.InfoLevel
	if cfg.GetBool("log.development") {
		level = zap.DebugLevel
	}
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, logs.SystemCore(level))
	})), nil
}
