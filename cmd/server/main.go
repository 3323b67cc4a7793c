// Command server runs the signaling and media-routing control plane
// process: it loads configuration, boots the media engine's worker
// pool, wires the Manager, and serves the HTTP surface until a
// termination signal drains every connected peer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/logger"
	"github.com/meshcast/sfu/pkg/rtc"
	"github.com/meshcast/sfu/pkg/service"
	"github.com/meshcast/sfu/pkg/sfu"
	"github.com/meshcast/sfu/pkg/telemetry"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to a YAML config file",
		EnvVars: []string{"SFU_CONFIG"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log level to debug and enables zap's development encoder",
	},
}

func main() {
	app := &cli.App{
		Name:   "sfu-server",
		Usage:  "multi-party WebRTC signaling and media-routing control plane",
		Flags:  flags,
		Action: startServer,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func startServer(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Bool("dev") {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := logger.Init(cfg.Logging.Development, cfg.Logging.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	engine := sfu.NewEngine(sfu.EngineConfig{
		WorkerCount: cfg.RTC.WorkerCount,
		ListenIP:    cfg.RTC.ListenIP,
		AnnouncedIP: cfg.RTC.AnnouncedIP,
		UDPPortMin:  cfg.RTC.UDPPortMin,
		UDPPortMax:  cfg.RTC.UDPPortMax,
		PreferUDP:   cfg.RTC.PreferUDP,
		TCPEnabled:  cfg.RTC.TCPEnabled,
	})
	ctx := context.Background()
	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize media engine: %w", err)
	}

	metrics := telemetry.New()
	manager := rtc.NewManager(engine, sfu.DefaultCodecs(), cfg.RTC, metrics)

	// A dead worker takes every room it hosts with it; peers have been
	// notified by the time this fires, so exit after a short grace window
	// and let the process supervisor restart us.
	manager.OnFatalError(func(err error) {
		logger.Errorw("fatal media engine failure, exiting", err)
		time.AfterFunc(3*time.Second, func() {
			logger.Sync()
			os.Exit(1)
		})
	})

	router := service.NewRouter(manager, metrics, cfg)
	srv := &http.Server{Addr: cfg.BindAddr, Handler: router}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infow("shutdown requested", "signal", sig.String())
		manager.DrainAll(context.Background())
		_ = srv.Close()
	}()

	logger.Infow("listening", "addr", cfg.BindAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
