// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// shutdownRequestChannel is closed by requestShutdown to stop the process from
// within, through the same path as an interrupt signal.
var (
	shutdownRequestChannel = make(chan struct{})
	shutdownRequestOnce    sync.Once
)

// interruptSignals defines the default signals to catch in order to do a proper
// shutdown.  This may be modified during init depending on the platform.
var interruptSignals = []os.Signal{os.Interrupt}

// requestShutdown initiates a shutdown.  It may be called any number of times.
func requestShutdown() {
	shutdownRequestOnce.Do(func() {
		close(shutdownRequestChannel)
	})
}

// shutdownListener returns a context that is canceled on the first interrupt
// signal or shutdown request.  Later signals are logged so the user knows the
// shutdown is in progress.
func shutdownListener() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, interruptSignals...)

	go func() {
		select {
		case sig := <-interruptChannel:
			dsndLog.Infof("Received signal (%s).  Shutting down...", sig)
		case <-shutdownRequestChannel:
			dsndLog.Info("Shutdown requested.  Shutting down...")
		}
		cancel()

		for sig := range interruptChannel {
			dsndLog.Infof("Received signal (%s).  Already shutting "+
				"down...", sig)
		}
	}()

	return ctx
}

// shutdownRequested returns true when the context returned by shutdownListener
// was canceled.
func shutdownRequested(ctx context.Context) bool {
	return ctx.Err() != nil
}
