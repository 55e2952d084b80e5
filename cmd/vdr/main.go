package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/yavdr/vdr/internal/config"
	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
	"github.com/yavdr/vdr/internal/drivers/dummy"
	"github.com/yavdr/vdr/internal/drivers/quictuner"
	"github.com/yavdr/vdr/internal/drivers/srttuner"
	"github.com/yavdr/vdr/internal/drivers/swdecoder"
	"github.com/yavdr/vdr/internal/metrics"
	"github.com/yavdr/vdr/internal/runtime"
)

var version = "dev"

func main() {
	var (
		metricsAddr  = pflag.StringP("metrics-addr", "m", "", "Prometheus metrics listen address (overrides VDR_METRICS_ADDR).")
		recDir       = pflag.StringP("recordings-dir", "d", "", "Recordings directory (overrides VDR_RECORDINGS_DIR).")
		resumeBackup = pflag.BoolP("resume-backup", "b", true, "Resume-backup setting (overrides VDR_RESUME_BACKUP); stored in the configuration, not read by any component.")
		logLevel     = pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error (overrides VDR_LOG_LEVEL).")
		showVersion  = pflag.BoolP("version", "v", false, "Print version and exit.")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println("vdr", version)
		return
	}

	banner := charmlog.New(os.Stderr)
	banner.SetLevel(charmlog.InfoLevel)
	banner.SetReportTimestamp(false)
	banner.Info("vdr starting", "version", version)

	cfg, err := config.Load()
	if err != nil {
		banner.Fatal("configuration error", "error", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *recDir != "" {
		cfg.RecordingsDir = *recDir
	}
	if pflag.CommandLine.Changed("resume-backup") {
		cfg.ResumeBackup = *resumeBackup
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level := parseLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	banner.Info("card topology", "cards", len(cfg.Cards), "recordings_dir", cfg.RecordingsDir)
	for i, cc := range cfg.Cards {
		banner.Info("card registered", "index", i, "driver", cc.Driver, "primary", cc.Primary)
	}

	reg := metrics.New()

	devices, err := buildDevices(cfg, reg, log)
	if err != nil {
		banner.Fatal("device construction failed", "error", err)
	}

	rc, err := runtime.New(devices, nil, nil, nil, log)
	if err != nil {
		banner.Fatal("runtime construction failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	rc.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: reg.Handler(),
	}
	g.Go(func() error {
		log.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return rc.Close()
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	if err := rc.Wait(); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// buildDevices constructs one device.Device per configured card,
// selecting its Driver implementation from cc.Driver and giving it a
// software decoder stand-in (no real output hardware is wired up by
// this process).
func buildDevices(cfg *config.Config, reg *metrics.Registry, log *slog.Logger) ([]*device.Device, error) {
	devices := make([]*device.Device, 0, len(cfg.Cards))
	for i, cc := range cfg.Cards {
		var drv contracts.Driver
		switch cc.Driver {
		case config.DriverDummy:
			drv = dummy.New()
		case config.DriverSRT:
			drv = srttuner.New(cc.Addr, log.With("card", i))
		case config.DriverQUIC:
			drv = quictuner.New(cc.Addr, log.With("card", i))
		default:
			return nil, fmt.Errorf("cmd/vdr: card %d has unhandled driver %q", i, cc.Driver)
		}

		d := device.New(i, drv, swdecoder.New(), nil, log.With("card", i))
		d.Primary = cc.Primary
		devices = append(devices, d)
		reg.SetDeviceActive(cardLabel(i), true)
	}
	return devices, nil
}

func cardLabel(i int) string { return fmt.Sprintf("%d", i) }

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
