// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package collateral validates the collateral transactions that mixing
// participants attach to their contributions.
//
// A collateral transaction spends a single confirmed output controlled by
// the participant and pays a fee between the configured minimum and maximum.
// It is never broadcast while the participant follows the protocol.  When the
// participant misbehaves, the masternode broadcasts it and the fee is
// forfeited.
package collateral

import (
	"fmt"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// Result is the outcome of validating a collateral transaction.
type Result int

// Validation results.
const (
	Accepted Result = iota
	InsufficientValue
	AlreadySpent
	NotYetConfirmed
	Invalid
)

var resultStrings = map[Result]string{
	Accepted:          "accepted",
	InsufficientValue: "insufficient value",
	AlreadySpent:      "already spent",
	NotYetConfirmed:   "not yet confirmed",
	Invalid:           "invalid",
}

func (r Result) String() string {
	if s, ok := resultStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Kind maps a rejected result to the kind of error it represents.  Value and
// confirmation shortfalls are precondition failures the participant can fix;
// spent or invalid collateral is a protocol violation.
func (r Result) Kind() mixing.ErrorKind {
	switch r {
	case InsufficientValue, NotYetConfirmed:
		return mixing.ErrResourceExhaustion
	default:
		return mixing.ErrProtocolViolation
	}
}

// Policy bounds the fee paid by a collateral transaction.
type Policy struct {
	Min              dcrutil.Amount
	Max              dcrutil.Amount
	MinConfirmations int64
}

// DefaultPolicy is the network collateral policy.
var DefaultPolicy = Policy{
	Min:              mixing.CollateralAmount,
	Max:              mixing.MaxCollateralAmount,
	MinConfirmations: 1,
}

const verifyFlags = txscript.ScriptDiscourageUpgradableNops |
	txscript.ScriptVerifyCleanStack |
	txscript.ScriptVerifyCheckLockTimeVerify |
	txscript.ScriptVerifyCheckSequenceVerify |
	txscript.ScriptVerifySHA256

// Validator checks collateral transactions against the UTXO set.
type Validator struct {
	chain  mixing.BlockChain
	utxos  mixing.UtxoFetcher
	policy Policy
}

// NewValidator returns a validator that looks up collateral inputs with
// utxos and counts confirmations against the tip of chain.
func NewValidator(chain mixing.BlockChain, utxos mixing.UtxoFetcher, policy Policy) *Validator {
	return &Validator{
		chain:  chain,
		utxos:  utxos,
		policy: policy,
	}
}

// Policy returns the collateral policy of the validator.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate checks that tx is acceptable collateral.  The error is only
// non-nil when the UTXO set could not be queried; rule failures are reported
// through the result.
func (v *Validator) Validate(tx *wire.MsgTx) (Result, error) {
	if tx == nil || len(tx.TxIn) != 1 || len(tx.TxOut) == 0 {
		return Invalid, nil
	}

	prevOut := tx.TxIn[0].PreviousOutPoint
	entry, err := v.utxos.FetchUtxoEntry(prevOut)
	if err != nil {
		return Invalid, err
	}
	if entry == nil || entry.IsSpent() {
		return AlreadySpent, nil
	}

	_, tipHeight := v.chain.CurrentTip()
	if mixing.Confirmations(entry.BlockHeight(), tipHeight) < v.policy.MinConfirmations {
		return NotYetConfirmed, nil
	}

	var outputs int64
	for _, out := range tx.TxOut {
		if out.Value < 0 || !mixing.MixableScript(out.Version, out.PkScript) {
			return Invalid, nil
		}
		outputs += out.Value
	}
	fee := dcrutil.Amount(entry.Amount() - outputs)
	switch {
	case fee < v.policy.Min:
		return InsufficientValue, nil
	case fee > v.policy.Max:
		return Invalid, nil
	}

	vm, err := txscript.NewEngine(entry.PkScript(), tx, 0, verifyFlags,
		entry.ScriptVersion(), nil)
	if err != nil {
		return Invalid, nil
	}
	if err := vm.Execute(); err != nil {
		return Invalid, nil
	}

	return Accepted, nil
}

// Check validates tx and converts any rejection into a mixing.RuleError.
func (v *Validator) Check(tx *wire.MsgTx) error {
	result, err := v.Validate(tx)
	if err != nil {
		return err
	}
	if result != Accepted {
		return mixing.RuleErrorf(result.Kind(), "collateral %s", result)
	}
	return nil
}

// Fee returns the fee paid by collateral tx spending an output of value
// prevValue.
func Fee(tx *wire.MsgTx, prevValue dcrutil.Amount) dcrutil.Amount {
	fee := prevValue
	for _, out := range tx.TxOut {
		fee -= dcrutil.Amount(out.Value)
	}
	return fee
}
