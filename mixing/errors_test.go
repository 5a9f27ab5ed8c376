// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"errors"
	"io"
	"testing"
)

// TestErrorKindStringer tests the stringized output for the ErrorKind type.
func TestErrorKindStringer(t *testing.T) {
	tests := []struct {
		in   ErrorKind
		want string
	}{
		{ErrProtocolViolation, "ErrProtocolViolation"},
		{ErrResourceExhaustion, "ErrResourceExhaustion"},
		{ErrTimeout, "ErrTimeout"},
		{ErrConflict, "ErrConflict"},
		{ErrNoMasternodes, "ErrNoMasternodes"},
		{ErrWalletLocked, "ErrWalletLocked"},
	}

	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("#%d\n got: %s want: %s", i, result, test.want)
		}
	}
}

// TestErrorKindIsAs ensures both ErrorKind and RuleError can be identified as
// being a specific error kind via errors.Is and unwrapped via errors.As.
func TestErrorKindIsAs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
		wantAs    ErrorKind
	}{{
		name:      "ErrTimeout == ErrTimeout",
		err:       ErrTimeout,
		target:    ErrTimeout,
		wantMatch: true,
		wantAs:    ErrTimeout,
	}, {
		name:      "RuleErrorf(ErrConflict) == ErrConflict",
		err:       RuleErrorf(ErrConflict, "input %d locked", 1),
		target:    ErrConflict,
		wantMatch: true,
		wantAs:    ErrConflict,
	}, {
		name:      "RuleErrorf(ErrConflict) != ErrTimeout",
		err:       RuleErrorf(ErrConflict, "input locked"),
		target:    ErrTimeout,
		wantMatch: false,
		wantAs:    ErrConflict,
	}, {
		name:      "ErrProtocolViolation != io.EOF",
		err:       ErrProtocolViolation,
		target:    io.EOF,
		wantMatch: false,
		wantAs:    ErrProtocolViolation,
	}}

	for _, test := range tests {
		result := errors.Is(test.err, test.target)
		if result != test.wantMatch {
			t.Errorf("%s: incorrect error identification -- got %v, want %v",
				test.name, result, test.wantMatch)
			continue
		}

		var kind ErrorKind
		if !errors.As(test.err, &kind) {
			t.Errorf("%s: unable to unwrap to error kind", test.name)
			continue
		}
		if kind != test.wantAs {
			t.Errorf("%s: unexpected unwrapped error kind -- got %v, "+
				"want %v", test.name, kind, test.wantAs)
		}
	}

	if got := RuleErrorf(ErrConflict, "input %d locked", 1).Error(); got != "input 1 locked" {
		t.Errorf("RuleError description: got: %q", got)
	}
	if !IsProtocolViolation(RuleErrorf(ErrProtocolViolation, "bad")) {
		t.Error("IsProtocolViolation")
	}
}
