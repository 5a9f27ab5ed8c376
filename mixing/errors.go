// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"errors"
	"fmt"
)

var (
	errInvalidOrder = errors.New("transaction is not in session order")

	errInvalidSessionID = errors.New("invalid session ID")
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific RuleError.
const (
	// ErrProtocolViolation indicates a message that breaks the mixing or
	// locking protocol, such as a wrong denomination or a duplicate input.
	// The peer that sent it is deprioritized.
	ErrProtocolViolation = ErrorKind("ErrProtocolViolation")

	// ErrResourceExhaustion indicates a local precondition failure, such
	// as insufficient denominated funds or collateral, or a full session.
	ErrResourceExhaustion = ErrorKind("ErrResourceExhaustion")

	// ErrTimeout indicates a protocol phase deadline passed before the
	// required messages were received.
	ErrTimeout = ErrorKind("ErrTimeout")

	// ErrConflict indicates inputs that are already bound to a different
	// locked or first-seen transaction.
	ErrConflict = ErrorKind("ErrConflict")

	// ErrNoMasternodes indicates that no eligible masternode could be
	// found to coordinate a session or serve in a lock quorum.
	ErrNoMasternodes = ErrorKind("ErrNoMasternodes")

	// ErrWalletLocked indicates the wallet is locked, or unlocked for
	// mixing only, and cannot perform the requested spend.
	ErrWalletLocked = ErrorKind("ErrWalletLocked")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation.  It has full support for errors.Is
// and errors.As, so the caller can ascertain the specific reason for the
// error by checking the underlying error.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// RuleErrorf creates a RuleError given a set of arguments.
func RuleErrorf(kind ErrorKind, format string, args ...interface{}) RuleError {
	return RuleError{Err: kind, Description: fmt.Sprintf(format, args...)}
}

// IsProtocolViolation returns whether err was caused by a peer breaking the
// protocol.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}
