// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixpool

import (
	"errors"

	"github.com/drkcore/darksend/mixing"
)

func violation(desc string) error {
	return mixing.RuleError{Description: desc, Err: mixing.ErrProtocolViolation}
}

func exhaustion(desc string) error {
	return mixing.RuleError{Description: desc, Err: mixing.ErrResourceExhaustion}
}

// Protocol violations.  The peer that sent a message rejected with one of
// these errors is charged an offence and deprioritized once it reaches the
// configured limit.
var (
	// ErrInvalidSignature is returned when a message is not properly
	// signed for the claimed identity.
	ErrInvalidSignature = violation("invalid message signature")

	// ErrInvalidDenomination is returned when a contribution does not
	// name exactly one known denomination.
	ErrInvalidDenomination = violation("invalid denomination")

	// ErrMissingInputs is returned when a contribution spends no inputs.
	ErrMissingInputs = violation("contribution contains no inputs")

	// ErrTooManyInputs is returned when a contribution spends more than
	// mixing.MaxEntryInputs inputs.
	ErrTooManyInputs = violation("contribution contains too many inputs")

	// ErrInputOutputCount is returned when a contribution does not create
	// one output per input.
	ErrInputOutputCount = violation("contribution input and output counts differ")

	// ErrWrongOutputValue is returned when an output does not pay exactly
	// the session denomination.
	ErrWrongOutputValue = violation("output value is not the denomination")

	// ErrWrongInputValue is returned when an input does not spend exactly
	// the session denomination.
	ErrWrongInputValue = violation("input value is not the denomination")

	// ErrInvalidScript is returned when an output script is not a P2PKH
	// script.
	ErrInvalidScript = violation("invalid script")

	// ErrDuplicateInput is returned when an input appears twice in a
	// contribution or was already contributed to a session.
	ErrDuplicateInput = violation("input already contributed")

	// ErrDuplicateIdentity is returned when an identity is reused for a
	// second contribution.
	ErrDuplicateIdentity = violation("identity already contributed")

	// ErrMissingUTXO is returned when an input is not an unspent output.
	ErrMissingUTXO = violation("input is not unspent")

	// ErrInvalidUTXOProof is returned when a contribution fails to prove
	// ownership of an input.
	ErrInvalidUTXOProof = violation("invalid UTXO ownership proof")

	// ErrSignedWrongTx is returned when a partial signature signs a
	// transaction other than the session's proposal.
	ErrSignedWrongTx = violation("signed a different transaction")

	// ErrInvalidInputSignature is returned when a participant's signature
	// script does not satisfy the previous output script.
	ErrInvalidInputSignature = violation("invalid input signature")
)

// Precondition failures.
var (
	// ErrPeerDeprioritized is returned for contributions from peers that
	// exceeded the offence limit.
	ErrPeerDeprioritized = exhaustion("peer is deprioritized")

	// ErrUnknownSession is returned for signatures naming a session that
	// is not collecting signatures.
	ErrUnknownSession = exhaustion("unknown session")

	// ErrNotParticipant is returned for signatures from an identity that
	// did not contribute to the session.
	ErrNotParticipant = exhaustion("identity is not a session participant")
)

// ErrSessionTimeout is the failure reason of sessions that missed a phase
// deadline.
var ErrSessionTimeout = mixing.RuleError{
	Description: "session phase timed out",
	Err:         mixing.ErrTimeout,
}

// IsOffence returns whether err should be charged against the peer that
// caused it.
func IsOffence(err error) bool {
	return mixing.IsProtocolViolation(err) && !errors.Is(err, mixing.ErrTimeout)
}
