// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"context"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/mixing"
)

const (
	// collateralOutput is the value of the outputs created by Denominate to
	// fund collateral transactions.  Each pays for several sessions.
	collateralOutput = mixing.MaxCollateralAmount

	// maxCollateralOutputs is the number of collateral outputs kept by
	// the wallet.
	maxCollateralOutputs = 2
)

// Denominate splits the wallet's confirmed non-denominated funds into
// denominated outputs, first creating collateral outputs when the wallet
// holds fewer than two.  Masternode collateral and outputs that could only
// serve as collateral are never spent.  The published transaction is
// returned.
func (c *Client) Denominate(ctx context.Context) (*wire.MsgTx, error) {
	lock := c.cfg.Wallet.LockState()
	if lock == coinselect.WalletLocked {
		return nil, mixing.RuleErrorf(mixing.ErrWalletLocked,
			"wallet must be unlocked to denominate")
	}

	var coinControl []wire.OutPoint
	var total dcrutil.Amount
	collaterals := 0
	for _, u := range c.set.Outputs() {
		if u.State != coinselect.Free || u.Locked || u.Confirmations < 1 ||
			c.catalog.IsDenominated(u.Amount) ||
			mixing.IsMasternodeCollateral(u.Amount) {
			continue
		}
		if u.Amount <= collateralOutput {
			if u.Amount >= mixing.CollateralAmount {
				collaterals++
			}
			continue
		}
		coinControl = append(coinControl, u.OutPoint)
		total += u.Amount
	}
	if len(coinControl) == 0 {
		return nil, c.insufficientFunds()
	}

	inputs, total, err := c.set.Select(total, coinselect.Constraints{
		Purpose:                     coinselect.PurposeMix,
		WalletLock:                  lock,
		CoinControl:                 coinControl,
		MinConfirmations:            1,
		ExcludeDenominated:          true,
		ExcludeMasternodeCollateral: true,
	})
	if err != nil {
		return nil, err
	}
	release := func() {
		for i := range inputs {
			c.set.Release(inputs[i].OutPoint)
		}
	}

	var amounts []dcrutil.Amount
	avail := total
	for n := collaterals; n < maxCollateralOutputs && avail > collateralOutput; n++ {
		amounts = append(amounts, collateralOutput)
		avail -= collateralOutput
	}

	// The fee depends on the number of outputs, which depends on the
	// fee.  A few iterations settle it.
	var fee dcrutil.Amount
	for i := 0; i < 4; i++ {
		denoms, _ := c.catalog.Split(avail-fee, 0)
		n := len(amounts) + len(denoms) + 1
		size := coinselect.EstimateSize(len(inputs), scriptSizes(n))
		next := c.cfg.Policy.MinFee(size)
		if next <= fee {
			break
		}
		fee = next
	}
	if avail <= fee {
		release()
		return nil, c.insufficientFunds()
	}
	denoms, change := c.catalog.Split(avail-fee, 0)
	amounts = append(amounts, denoms...)
	if len(denoms) == 0 && len(amounts) == 0 {
		release()
		return nil, c.insufficientFunds()
	}
	if !c.cfg.Policy.IsDust(change, mixing.P2PKHv0ScriptSize) {
		amounts = append(amounts, change)
	}
	rand.Shuffle(len(amounts), func(i, j int) {
		amounts[i], amounts[j] = amounts[j], amounts[i]
	})

	tx := wire.NewMsgTx()
	for i := range inputs {
		tx.AddTxIn(wire.NewTxIn(&inputs[i].OutPoint, int64(inputs[i].Amount), nil))
	}
	for _, a := range amounts {
		script, err := c.cfg.Wallet.NewOutputScript()
		if err != nil {
			release()
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(a), script))
	}
	for i := range inputs {
		if err := c.cfg.Wallet.SignInput(tx, i, inputs[i].PkScript); err != nil {
			release()
			return nil, err
		}
	}
	if err := c.cfg.Wallet.PublishTransaction(ctx, tx); err != nil {
		release()
		return nil, err
	}
	for i := range inputs {
		c.set.Spend(inputs[i].OutPoint)
	}

	log.Infof("Denominated %v into %d %s (tx %v)", total, len(denoms),
		pickNoun(len(denoms), "output", "outputs"), tx.TxHash())
	return tx, nil
}

func scriptSizes(n int) []int {
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = mixing.P2PKHv0ScriptSize
	}
	return sizes
}
