// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2016-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

const (
	// DefaultMinRelayTxFee is the minimum fee in atoms that is required
	// for a transaction to be treated as free for relay and mining
	// purposes.  It is also used to help determine if a transaction is
	// considered dust and as a base for calculating minimum required fees
	// for larger transactions.  This value is in Atoms/1000 bytes.
	DefaultMinRelayTxFee = dcrutil.Amount(1e4)

	// freeTxMaxSize is the largest transaction that may be relayed
	// without a fee when its priority is high enough.
	freeTxMaxSize = 1000

	// priorityMedium is the priority of a one coin input with one day of
	// confirmations spent by a 250 byte transaction.
	priorityMedium = dcrutil.AtomsPerCoin * 144 / 250.0

	// DefaultFreePriority is the lowest priority that still qualifies a
	// small transaction as free.
	DefaultFreePriority = priorityMedium

	// redeemP2PKHv0InputSize is the worst case size of an input
	// redeeming a version 0 P2PKH output with a compressed pubkey.
	redeemP2PKHv0InputSize = 32 + 4 + 1 + 8 + 4 + 4 + 1 + 108 + 4
)

// Policy houses the fee and dust policy applied to transactions built by the
// wallet.
type Policy struct {
	MinRelayTxFee dcrutil.Amount

	// FreePriority is the priority threshold below which transactions
	// must pay a fee.  Zero selects DefaultFreePriority.
	FreePriority float64
}

// DefaultPolicy is the network fee policy.
var DefaultPolicy = Policy{
	MinRelayTxFee: DefaultMinRelayTxFee,
	FreePriority:  DefaultFreePriority,
}

// CalcPriority returns a transaction priority given the outputs it spends
// and its serialized size.  The priority is the sum of each input value
// multiplied by its confirmations, divided by the size.
func CalcPriority(inputs []UnspentOutput, serializedSize int) float64 {
	if serializedSize <= 0 {
		return 0
	}
	var valueAge float64
	for i := range inputs {
		valueAge += float64(inputs[i].Amount) * float64(inputs[i].Confirmations)
	}
	return valueAge / float64(serializedSize)
}

// PriorityLabel returns the human-readable bucket of a priority, from
// "lowest" to "highest".
func PriorityLabel(priority float64) string {
	switch {
	case priority >= priorityMedium*1000000:
		return "highest"
	case priority >= priorityMedium*100000:
		return "higher"
	case priority >= priorityMedium*10000:
		return "high"
	case priority >= priorityMedium*1000:
		return "medium-high"
	case priority >= priorityMedium:
		return "medium"
	case priority >= priorityMedium/10:
		return "low-medium"
	case priority >= priorityMedium/100:
		return "low"
	case priority >= priorityMedium/1000:
		return "lower"
	}
	return "lowest"
}

// RequiresFee returns whether a transaction of the given priority and size
// must pay at least MinFee to be relayed.
func (p Policy) RequiresFee(priority float64, serializedSize int) bool {
	threshold := p.FreePriority
	if threshold == 0 {
		threshold = DefaultFreePriority
	}
	return serializedSize >= freeTxMaxSize || priority < threshold
}

// MinFee returns the minimum fee a transaction of serializedSize bytes must
// pay to be relayed.
func (p Policy) MinFee(serializedSize int) dcrutil.Amount {
	// minTxRelayFee is in Atom/KB, so multiply by serializedSize (which is
	// in bytes) and divide by 1000 to get minimum Atoms.
	minFee := (int64(serializedSize) * int64(p.MinRelayTxFee)) / 1000

	if minFee == 0 && p.MinRelayTxFee > 0 {
		minFee = int64(p.MinRelayTxFee)
	}

	// Set the minimum fee to the maximum possible value if the calculated
	// fee is not in the valid range for monetary amounts.
	if minFee < 0 || minFee > dcrutil.MaxAmount {
		minFee = dcrutil.MaxAmount
	}

	return dcrutil.Amount(minFee)
}

// IsDust returns whether an output of the given amount and script size costs
// more than a third of its value in relay fees to redeem.
func (p Policy) IsDust(amount dcrutil.Amount, scriptSize int) bool {
	// The total serialized size consists of the output and the associated
	// input script to redeem it.
	totalSize := estimateOutputSize(scriptSize) + 165

	// The output is considered dust if the cost to the network to spend the
	// coins is more than 1/3 of the minimum free transaction relay fee.
	// minFreeTxRelayFee is in Atom/KB, so multiply by 1000 to convert to
	// bytes.
	return int64(amount)*1000/(3*int64(totalSize)) < int64(p.MinRelayTxFee)
}

// estimateOutputSize returns the worst case serialize size estimate for a tx
// output.
func estimateOutputSize(scriptSize int) int {
	return 8 + // amount
		2 + // version
		wire.VarIntSerializeSize(uint64(scriptSize)) + // size of script
		scriptSize // script itself
}

// EstimateSize returns the worst case serialized size of a transaction
// spending the given number of P2PKH inputs to outputs of the given script
// sizes.
func EstimateSize(inputs int, outputScriptSizes []int) int {
	// Sum the estimated sizes of the inputs and outputs.
	txInsSize := inputs * redeemP2PKHv0InputSize

	var txOutsSize int
	for _, sz := range outputScriptSizes {
		txOutsSize += estimateOutputSize(sz)
	}

	// 12 additional bytes are for version, locktime and expiry.
	return 12 + (2 * wire.VarIntSerializeSize(uint64(inputs))) +
		wire.VarIntSerializeSize(uint64(len(outputScriptSizes))) +
		txInsSize + txOutsSize
}
