// Package main is the entry point for the headless sandtable viewer. It
// connects to a daemon, receives grid snapshots, and reports a moving
// viewpoint back, logging stream statistics as it goes.
package main

import (
	"fmt"
	gomath "math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/sandtable/internal/config"
	"github.com/Faultbox/sandtable/internal/geom"
	"github.com/Faultbox/sandtable/internal/logger"
	"github.com/Faultbox/sandtable/internal/remote"
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

	logger.Info("=== Sandtable Viewer ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	c, err := remote.Dial(cfg.Client.Server)
	if err != nil {
		logger.Error("failed to connect", zap.Error(err))
		os.Exit(1)
	}
	defer c.Close()

	if err := run(c, cfg.Client.TickRate); err != nil {
		logger.Error("viewer error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("viewer closed normally")
}

// run ticks the viewer until the stream dies or a termination signal
// arrives: lock the latest grids, orbit the viewpoint around the grid
// center, and send the pose.
func run(c *remote.Client, tickRate time.Duration) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	g := c.Geometry()
	extentW, extentH := g.Extent()
	center := geom.Vec3{extentW / 2, extentH / 2, 0}
	orbitRadius := extentW / 2
	height := g.MaxElevation

	var snapshots int
	wasUnderwater := false
	start := time.Now()
	lastReport := start
	for {
		select {
		case <-stop:
			logger.Info("shutdown signal received")
			return nil
		case now := <-ticker.C:
			if !c.Connected() {
				return fmt.Errorf("stream ended")
			}
			if c.LockGrids() {
				snapshots++
			}

			// One orbit every 20 seconds, looking at the grid center.
			angle := now.Sub(start).Seconds() * 2 * gomath.Pi / 20
			pos := center.Add(geom.Vec3{
				orbitRadius * float32(gomath.Cos(angle)),
				orbitRadius * float32(gomath.Sin(angle)),
				height,
			})
			dir := center.Sub(pos).Normalize()
			if err := c.SendPose(pos, dir); err != nil {
				return fmt.Errorf("pose send failed: %w", err)
			}

			if under := c.Underwater(pos); under != wasUnderwater {
				wasUnderwater = under
				logger.Info("viewpoint crossed the water surface",
					zap.Bool("underwater", under))
			}

			if now.Sub(lastReport) >= 5*time.Second {
				lastReport = now
				logger.Info("status",
					zap.Int("snapshots", snapshots),
					zap.Uint32("grid_version", c.GridVersion()))
			}
		}
	}
}
