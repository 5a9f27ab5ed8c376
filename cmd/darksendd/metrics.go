// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/drkcore/darksend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// portToLocalHostAddr prepends a default host of 127.0.0.1 when the provided
// address is solely a port number.
func portToLocalHostAddr(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		addr = net.JoinHostPort("127.0.0.1", addr)
	}
	return addr
}

// validateListenAddr ensures the provided address is of the form "host:port"
// and that the port is between 1024 and 65535.
func validateListenAddr(addr string) error {
	// Ensure the address is valid host:port syntax.
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	// Ensure the port is in range.
	if port, _ := strconv.Atoi(portStr); port < 1024 || port > 65535 {
		str := "address %q: port must be between 1024 and 65535"
		return fmt.Errorf(str, addr)
	}

	return nil
}

// metricsServer serves the prometheus metrics of the process over HTTP.
type metricsServer struct {
	wg       sync.WaitGroup
	mtx      sync.Mutex
	server   *http.Server
	listener string
}

// Start registers the collectors with reg and serves them at /metrics on
// listenAddr in the background.  It has no effect when the server is already
// running.
//
// It is the caller's responsibility to call the Stop method to shutdown the
// server.
func (s *metricsServer) Start(listenAddr string, reg *prometheus.Registry) error {
	defer s.mtx.Unlock()
	s.mtx.Lock()

	// Nothing to do when the server is already running.
	if s.server != nil {
		return nil
	}

	if err := metrics.Register(reg); err != nil {
		return err
	}

	listenAddr = portToLocalHostAddr(listenAddr)
	if err := validateListenAddr(listenAddr); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", listenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	s.server = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 3,
	}
	s.listener = listener.Addr().String()

	dsndLog.Infof("Metrics server listening on %s", listener.Addr())
	s.wg.Add(1)
	go func(httpServer *http.Server) {
		defer s.wg.Done()

		err := httpServer.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dsndLog.Errorf("Metrics server listening on %s exited with "+
				"unexpected error: %v", listener.Addr(), err)
		}
	}(s.server)

	return nil
}

// Stop immediately closes the listener and any connections to the metrics
// server.  It has no effect when the server is not running.
func (s *metricsServer) Stop() error {
	defer s.mtx.Unlock()
	s.mtx.Lock()

	// Nothing to do when the server is not running.
	if s.server == nil {
		return nil
	}

	err := s.server.Close()
	s.server = nil
	s.listener = ""
	s.wg.Wait()
	if err != nil {
		dsndLog.Errorf("Metrics server stopped with unexpected error: %v", err)
		return err
	}

	dsndLog.Info("Metrics server stopped")
	return nil
}

// Listener returns the address the server listens on, or an empty string
// when it is not running.
func (s *metricsServer) Listener() string {
	defer s.mtx.Unlock()
	s.mtx.Lock()

	return s.listener
}
