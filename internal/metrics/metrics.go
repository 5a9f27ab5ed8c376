// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics defines the prometheus collectors updated by the mixing
// pool, the mixing client and the transaction lock manager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "darksend"

var (
	// Sessions counts mixing sessions that reached a terminal state by
	// outcome.
	Sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "sessions_total",
		Help:      "Mixing sessions by final state.",
	}, []string{"state"})

	// ActiveSessions is the number of sessions a masternode coordinates.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "active_sessions",
		Help:      "Sessions collecting contributions or signatures.",
	})

	// Contributions counts contributions received by a masternode.
	Contributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "contributions_total",
		Help:      "Contributions by acceptance result.",
	}, []string{"result"})

	// Offences counts protocol violations charged to peers.
	Offences = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "offences_total",
		Help:      "Protocol violations charged to peers.",
	})

	// CollateralCharged counts collateral transactions published by a
	// masternode, either as a penalty or as the mixing fee.
	CollateralCharged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "collateral_charged_total",
		Help:      "Published collateral transactions by reason.",
	}, []string{"reason"})

	// Rounds counts mixing rounds attempted by clients by outcome.
	Rounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "rounds_total",
		Help:      "Client mixing rounds by result.",
	}, []string{"result"})

	// Breakers is the state of the client circuit breaker per
	// masternode: 0 closed, 1 half-open, 2 open.
	Breakers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "masternode_breaker_state",
		Help:      "Circuit breaker state per masternode.",
	}, []string{"masternode"})

	// LockRequests counts transaction lock requests by resolution.
	LockRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "instantx",
		Name:      "lock_requests_total",
		Help:      "Transaction lock requests by resolution.",
	}, []string{"status"})

	// LockVotes counts accepted lock votes by kind.
	LockVotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "instantx",
		Name:      "lock_votes_total",
		Help:      "Accepted lock votes by kind.",
	}, []string{"kind"})

	// Masternodes is the size of the masternode registry.
	Masternodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "masternodes",
		Help:      "Masternodes in the registry.",
	})
)

var collectors = []prometheus.Collector{
	Sessions,
	ActiveSessions,
	Contributions,
	Offences,
	CollateralCharged,
	Rounds,
	Breakers,
	LockRequests,
	LockVotes,
	Masternodes,
}

// Register registers every collector with reg.  It returns the first error
// other than a collector already being registered.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		err := reg.Register(c)
		if err == nil {
			continue
		}
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			continue
		}
		return err
	}
	return nil
}

// Handler returns an HTTP handler serving the collectors of g in the
// prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
