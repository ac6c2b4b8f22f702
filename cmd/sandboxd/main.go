// Package main is the entry point for the sandtable streaming daemon. It
// runs the simulated wave tank and serves grid snapshots to remote viewers.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/sandtable/internal/config"
	"github.com/Faultbox/sandtable/internal/logger"
	"github.com/Faultbox/sandtable/internal/remote"
	"github.com/Faultbox/sandtable/internal/sim"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Sandtable Daemon ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	tank := sim.NewTank(cfg.Server.Geometry())

	srv, err := remote.NewServer(remote.ServerOptions{
		Port:            cfg.Server.Port,
		Geometry:        cfg.Server.Geometry(),
		RequestInterval: cfg.Server.RequestInterval.Seconds(),
	}, tank)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	if err := run(srv, tank); err != nil {
		logger.Error("daemon error", zap.Error(err))
		os.Exit(1)
	}

	srv.Close()
	tank.Close()
	logger.Info("daemon closed normally")
}

// run drives the frame tick until a termination signal arrives.
func run(srv *remote.Server, tank *sim.Tank) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	const frameInterval = 16 * time.Millisecond
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	start := time.Now()
	lastReport := start
	for {
		select {
		case <-stop:
			logger.Info("shutdown signal received")
			return nil
		case now := <-ticker.C:
			tank.Advance(frameInterval.Seconds())
			srv.Frame(now.Sub(start).Seconds())

			if now.Sub(lastReport) >= 5*time.Second {
				lastReport = now
				logger.Info("status",
					zap.Int("streaming_peers", srv.StreamingPeers()),
					zap.Int("tracked_poses", len(srv.Poses())))
			}
		}
	}
}
