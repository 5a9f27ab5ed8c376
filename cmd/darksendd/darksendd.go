// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/drkcore/darksend/internal/lockdb"
	"github.com/drkcore/darksend/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var cfg *config

// darksendMain is the real main function for darksendd.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func darksendMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	tcfg, _, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// the simulation finishing.
	ctx := shutdownListener()
	defer dsndLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	dsndLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	dsndLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		dsndLog.Info("File logging disabled")
	}
	dsndLog.Infof("Mixing %s, instant locks %s, %d rounds",
		enabled(!cfg.NoDarksend), enabled(!cfg.NoInstantX), cfg.rounds)

	// Serve metrics if requested.  The stop call is always deferred so the
	// server is stopped during process shutdown.
	var metricsSrv metricsServer
	defer metricsSrv.Stop()
	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metricsSrv.Start(cfg.MetricsListen, reg); err != nil {
			dsndLog.Errorf("Unable to start metrics server: %v", err)
			return err
		}
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Load the lock database.
	db, err := lockdb.Open(cfg.DataDir)
	if err != nil {
		dsndLog.Errorf("%v", err)
		return err
	}
	defer func() {
		dsndLog.Infof("Gracefully shutting down the lock database...")
		db.Close()
	}()

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	sim := newSimulation(cfg, db)
	if err := sim.build(ctx); err != nil {
		dsndLog.Errorf("Unable to create the simulated network: %v", err)
		return err
	}

	// Run the simulation.  This blocks until every wallet finished or the
	// context is canceled.
	err = sim.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		dsndLog.Errorf("Simulation failed: %v", err)
		return err
	}
	dsndLog.Info("Simulation finished")
	requestShutdown()
	return nil
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func main() {
	// Work around defer not working after os.Exit()
	if err := darksendMain(); err != nil {
		os.Exit(1)
	}
}
