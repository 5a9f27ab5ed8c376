// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
)

// round is a single contribution to a masternode session.
type round struct {
	denom  mixing.Denomination
	amount dcrutil.Amount
	mn     masternode.Entry
	mnPub  [33]byte

	inputs    []coinselect.UnspentOutput
	minRounds int

	collateral   *wire.MsgTx
	collateralIn wire.OutPoint

	idPriv *secp256k1.PrivateKey
	idPub  [33]byte

	// sid is set when the masternode accepts the contribution.  It is
	// protected by the client mutex.
	sid [32]byte

	outputs []*wire.TxOut
	outIdx  []uint32
	txHash  chainhash.Hash

	msgs chan mixing.Message
}

func (r *round) verify(m mixing.SignedMessage) bool {
	return bytes.Equal(m.Pub(), r.mnPub[:]) && mixing.VerifySignedMessage(m)
}

func (r *round) push(m mixing.Message) {
	select {
	case r.msgs <- m:
	default:
		log.Debugf("Dropped %s message for busy round", m.Command())
	}
}

// deliver passes a message signed by the round's masternode to the round.
// Messages for unknown rounds or with invalid signatures are ignored.
func (r *round) deliver(m mixing.SignedMessage) {
	if r == nil || !r.verify(m) {
		return
	}
	r.push(m)
}

func (r *round) inputOutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(r.inputs))
	for i := range r.inputs {
		ops[i] = r.inputs[i].OutPoint
	}
	return ops
}

// release returns every output reserved by the round to the wallet.
func (r *round) release(set *coinselect.Set) {
	set.Release(r.inputOutPoints()...)
	set.Release(r.collateralIn)
}

// complete credits the outputs of the mixed transaction with one round more
// than the least mixed input and removes the spent inputs.
func (r *round) complete(set *coinselect.Set) {
	for _, idx := range r.outIdx {
		op := wire.OutPoint{Hash: r.txHash, Index: idx, Tree: wire.TxTreeRegular}
		if err := set.SetRounds(op, r.minRounds+1); err != nil {
			log.Errorf("Failed to record rounds of %v: %v", op, err)
		}
	}
	set.Spend(r.inputOutPoints()...)
}

// prepare chooses the denomination and masternode of the next round and
// reserves its inputs and collateral.
func (c *Client) prepare(ctx context.Context) (*round, error) {
	queued := c.queuedDenominations()
	denom, ok := c.chooseDenomination(queued)
	if !ok {
		return nil, c.insufficientFunds()
	}
	mn, err := c.chooseMasternode(denom, queued[denom])
	if err != nil {
		return nil, err
	}
	amount, _ := c.catalog.Amount(denom)

	inputs, err := c.set.SelectDenominated(denom, mixing.MaxEntryInputs,
		c.mixConstraints())
	if err != nil {
		return nil, err
	}
	r := &round{
		denom:     denom,
		amount:    amount,
		mn:        mn,
		inputs:    inputs,
		minRounds: inputs[0].Rounds,
		msgs:      make(chan mixing.Message, 4),
	}
	copy(r.mnPub[:], mn.SerializedPubKey())
	for i := range inputs {
		if inputs[i].Rounds < r.minRounds {
			r.minRounds = inputs[i].Rounds
		}
	}

	col, err := c.set.SelectSmallest(mixing.CollateralAmount, coinselect.Constraints{
		Purpose:                     coinselect.PurposeMix,
		WalletLock:                  c.cfg.Wallet.LockState(),
		MinConfirmations:            1,
		ExcludeDenominated:          true,
		ExcludeMasternodeCollateral: true,
	})
	if err != nil {
		r.release(c.set)
		return nil, fmt.Errorf("collateral: %w", err)
	}
	r.collateralIn = col.OutPoint
	r.collateral, err = c.collateralTx(&col)
	if err != nil {
		r.release(c.set)
		return nil, err
	}
	return r, nil
}

// collateralTx creates a transaction spending u that pays the collateral
// amount as fee and the rest back to the wallet.
func (c *Client) collateralTx(u *coinselect.UnspentOutput) (*wire.MsgTx, error) {
	script, err := c.cfg.Wallet.NewOutputScript()
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx()
	tx.AddTxIn(wire.NewTxIn(&u.OutPoint, int64(u.Amount), nil))
	tx.AddTxOut(wire.NewTxOut(int64(u.Amount-mixing.CollateralAmount), script))
	if err := c.cfg.Wallet.SignInput(tx, 0, u.PkScript); err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *round) next(ctx context.Context, timeout time.Duration, phase string) (mixing.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-r.msgs:
		return m, nil
	case <-t.C:
		return nil, mixing.RuleErrorf(mixing.ErrTimeout,
			"timed out waiting for %s from %s", phase, r.mn.Addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exchange contributes the round's inputs to a session of its masternode,
// signs the proposed transaction and waits for the session to complete.
func (c *Client) exchange(ctx context.Context, r *round) error {
	w := c.cfg.Wallet

	id, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}
	r.idPriv = id
	copy(r.idPub[:], id.PubKey().SerializeCompressed())

	msg := &mixing.MsgContribution{
		Identity:   r.idPub,
		Denom:      r.denom,
		Collateral: r.collateral,
	}
	for i := range r.inputs {
		u := &r.inputs[i]
		pub, proof, err := w.ProveOwnership(u.PkScript, r.idPub[:])
		if err != nil {
			return err
		}
		msg.Inputs = append(msg.Inputs, mixing.ContributedInput{
			OutPoint: u.OutPoint,
			PubKey:   pub,
			Proof:    proof,
		})

		script, err := w.NewOutputScript()
		if err != nil {
			return err
		}
		out := wire.NewTxOut(int64(r.amount), script)
		msg.Outputs = append(msg.Outputs, out)
		r.outputs = append(r.outputs, out)
	}
	if err := mixing.SignMessage(msg, id); err != nil {
		return err
	}

	c.register(r)
	if c.testHook(hookBeforeContribute, r, msg) {
		if err := c.cfg.Network.SendMessage(ctx, r.mn.Addr, msg); err != nil {
			return err
		}
	}

	timeout := c.cfg.PhaseTimeout
	var proposal *mixing.MsgProposedTx
	for proposal == nil {
		m, err := r.next(ctx, 2*timeout, "session progress")
		if err != nil {
			return err
		}
		switch m := m.(type) {
		case *mixing.MsgContributionStatus:
			if !m.Accepted {
				return fmt.Errorf("%w: %s", ErrRejected, m.Reason)
			}
			log.Debugf("Contribution accepted by %s into session %x",
				r.mn.Addr, m.SessionID[:8])
		case *mixing.MsgSessionStatus:
			return fmt.Errorf("%w: %s", ErrSessionFailed, m.Reason)
		case *mixing.MsgProposedTx:
			proposal = m
		}
	}

	tx := proposal.Tx.Copy()
	if err := r.verifyProposal(tx); err != nil {
		return err
	}
	for i, in := range tx.TxIn {
		for j := range r.inputs {
			if in.PreviousOutPoint != r.inputs[j].OutPoint {
				continue
			}
			if err := w.SignInput(tx, i, r.inputs[j].PkScript); err != nil {
				return err
			}
		}
	}
	r.txHash = tx.TxHash()

	c.mtx.Lock()
	sid := r.sid
	c.mtx.Unlock()
	ps := &mixing.MsgPartialSig{
		SessionID: sid,
		Identity:  r.idPub,
		Tx:        tx,
	}
	if err := mixing.SignMessage(ps, id); err != nil {
		return err
	}
	c.setStatus(func(s *Status) { s.State = "signing" })
	if c.testHook(hookBeforeSign, r, ps) {
		if err := c.cfg.Network.SendMessage(ctx, r.mn.Addr, ps); err != nil {
			return err
		}
	}

	for {
		m, err := r.next(ctx, 2*timeout, "session completion")
		if err != nil {
			return err
		}
		status, ok := m.(*mixing.MsgSessionStatus)
		if !ok {
			continue
		}
		if !status.Complete {
			return fmt.Errorf("%w: %s", ErrSessionFailed, status.Reason)
		}
		if status.TxHash != r.txHash {
			return fmt.Errorf("%w: completed transaction %v, signed %v",
				ErrSessionFailed, status.TxHash, r.txHash)
		}
		return nil
	}
}

// verifyProposal checks that tx is a mix of the round's denomination in
// session order that spends every contributed input once and pays every
// contributed output once.
func (r *round) verifyProposal(tx *wire.MsgTx) error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrBadProposal, fmt.Sprintf(format, args...))
	}
	if tx == nil {
		return bad("missing transaction")
	}
	if err := mixing.ValidateOrder(tx); err != nil {
		return bad("%v", err)
	}
	if len(tx.TxIn) != len(tx.TxOut) {
		return bad("%d inputs and %d outputs", len(tx.TxIn), len(tx.TxOut))
	}
	for i, out := range tx.TxOut {
		if dcrutil.Amount(out.Value) != r.amount {
			return bad("output %d pays %v", i, dcrutil.Amount(out.Value))
		}
	}

	for j := range r.inputs {
		n := 0
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint == r.inputs[j].OutPoint {
				n++
			}
		}
		if n != 1 {
			return bad("input %v spent %d times", r.inputs[j].OutPoint, n)
		}
	}

	r.outIdx = r.outIdx[:0]
	for _, want := range r.outputs {
		idx := -1
		for i, out := range tx.TxOut {
			if out.Value == want.Value && out.Version == want.Version &&
				bytes.Equal(out.PkScript, want.PkScript) {
				if idx != -1 {
					return bad("output paid twice")
				}
				idx = i
			}
		}
		if idx == -1 {
			return bad("missing output")
		}
		r.outIdx = append(r.outIdx, uint32(idx))
	}
	return nil
}
