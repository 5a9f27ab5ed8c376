// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"testing"
	"time"

	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/internal/lockdb"
)

func TestSimulatedLockedPayments(t *testing.T) {
	setLogLevels("off")

	c := defaultConfig()
	c.NoDarksend = true
	c.SimMasternodes = 3
	c.SimParticipants = 2
	c.SimFunds = 10
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}

	db, err := lockdb.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sim := newSimulation(&c, db)
	if err := sim.build(ctx); err != nil {
		t.Fatal(err)
	}
	if n := sim.registry.Count(); n != 3 {
		t.Fatalf("%d masternodes registered, want 3", n)
	}
	if err := sim.run(ctx); err != nil {
		t.Fatal(err)
	}

	// Every wallet received the payment of the other.
	for _, n := range sim.wallets {
		found := false
		for _, u := range n.wallet.Outputs().Outputs() {
			if u.Amount == paymentAmount && !u.Change {
				found = true
			}
		}
		if !found {
			t.Errorf("%s did not receive a payment", n.addr)
		}
	}

	// Mined payments no longer hold stored locks.
	locks, err := db.Locks()
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 0 {
		t.Fatalf("%d locks remain stored", len(locks))
	}
}

func TestSimulationWithoutMasternodes(t *testing.T) {
	setLogLevels("off")

	c := defaultConfig()
	c.NoDarksend = true
	c.SimMasternodes = 0
	c.SimParticipants = 1
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	db, err := lockdb.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sim := newSimulation(&c, db)
	if err := sim.build(ctx); err != nil {
		t.Fatal(err)
	}
	// Payments fail without a lock quorum and the funds are released.
	if err := sim.run(ctx); err != nil {
		t.Fatal(err)
	}
	for _, u := range sim.wallets[0].wallet.Outputs().Outputs() {
		if u.Amount != c.simFunds {
			t.Fatalf("unexpected output of %v", u.Amount)
		}
		if u.State != coinselect.Free {
			t.Fatalf("output left %v", u.State)
		}
	}
}

// TestPaymentFee ensures payments only pay the minimum fee when their
// priority is below the free threshold.
func TestPaymentFee(t *testing.T) {
	policy := coinselect.DefaultPolicy
	const size = 250
	aged := []coinselect.UnspentOutput{{Amount: 1e8, Confirmations: 144}}
	fresh := []coinselect.UnspentOutput{{Amount: 1e8, Confirmations: 1}}

	if fee := paymentFee(policy, aged, size); fee != 0 {
		t.Fatalf("aged inputs paid %v", fee)
	}
	if fee := paymentFee(policy, fresh, size); fee != policy.MinFee(size) {
		t.Fatalf("fresh inputs paid %v, want %v", fee, policy.MinFee(size))
	}

	policy.FreePriority = coinselect.DefaultFreePriority * 2
	if fee := paymentFee(policy, aged, size); fee != policy.MinFee(size) {
		t.Fatalf("raised threshold: paid %v, want %v", fee, policy.MinFee(size))
	}
}
