// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"sort"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// Purpose is the kind of spend outputs are selected for.
type Purpose int

// Selection purposes.
const (
	PurposeSend Purpose = iota
	PurposeMix
)

// DefaultCoinbaseMaturity is the number of confirmations a coinbase output
// needs before it is spendable when Constraints leaves it unset.
const DefaultCoinbaseMaturity = 100

// Constraints restrict which outputs a selection may use.  The zero value
// excludes unconfirmed change and immature coinbase outputs.
type Constraints struct {
	Purpose    Purpose
	WalletLock WalletLock

	// CoinControl, when not empty, limits selection to exactly these
	// outputs.  Outputs locked with LockUnspent may be chosen this way.
	CoinControl []wire.OutPoint

	MinConfirmations int32

	// AllowUnconfirmedChange permits spending the wallet's own
	// unconfirmed change regardless of MinConfirmations.
	AllowUnconfirmedChange bool

	// CoinbaseMaturity overrides DefaultCoinbaseMaturity when positive.
	CoinbaseMaturity int32

	OnlyDenominated    bool
	ExcludeDenominated bool

	// ExcludeMasternodeCollateral skips outputs of exactly the masternode
	// collateral amount.
	ExcludeMasternodeCollateral bool

	// MinRounds requires outputs mixed at least this many rounds.
	MinRounds int

	// MaxRounds, when positive, requires outputs mixed fewer rounds.
	MaxRounds int

	// MaxInputs, when positive, limits the number of selected outputs.
	MaxInputs int
}

func (c *Constraints) checkWalletLock() error {
	switch {
	case c.WalletLock == WalletLocked:
		return mixing.RuleErrorf(mixing.ErrWalletLocked, "wallet is locked")
	case c.Purpose == PurposeSend && c.WalletLock != WalletUnlocked:
		return mixing.RuleErrorf(mixing.ErrWalletLocked,
			"wallet is unlocked for mixing only")
	}
	return nil
}

func (c *Constraints) coinbaseMaturity() int32 {
	if c.CoinbaseMaturity > 0 {
		return c.CoinbaseMaturity
	}
	return DefaultCoinbaseMaturity
}

func (c *Constraints) reservation() State {
	if c.Purpose == PurposeMix {
		return ReservedForMix
	}
	return ReservedForSend
}

func (s *Set) eligible(u *UnspentOutput, c *Constraints, coinControl map[wire.OutPoint]struct{}) bool {
	if u.State != Free {
		return false
	}
	if coinControl != nil {
		if _, ok := coinControl[u.OutPoint]; !ok {
			return false
		}
	} else if u.Locked {
		return false
	}
	switch {
	case u.Change && c.AllowUnconfirmedChange:
	case u.Change && u.Confirmations == 0:
		return false
	case u.Confirmations < c.MinConfirmations:
		return false
	}
	if u.Coinbase && u.Confirmations < c.coinbaseMaturity() {
		return false
	}
	if c.ExcludeMasternodeCollateral && mixing.IsMasternodeCollateral(u.Amount) {
		return false
	}
	denominated := s.catalog.IsDenominated(u.Amount)
	if c.OnlyDenominated && !denominated {
		return false
	}
	if c.ExcludeDenominated && denominated {
		return false
	}
	if u.Rounds < c.MinRounds {
		return false
	}
	if c.MaxRounds > 0 && u.Rounds >= c.MaxRounds {
		return false
	}
	return true
}

func (s *Set) candidates(c *Constraints) []*UnspentOutput {
	var coinControl map[wire.OutPoint]struct{}
	if len(c.CoinControl) != 0 {
		coinControl = make(map[wire.OutPoint]struct{}, len(c.CoinControl))
		for _, op := range c.CoinControl {
			coinControl[op] = struct{}{}
		}
	}
	var us []*UnspentOutput
	for _, u := range s.outputs {
		if s.eligible(u, c, coinControl) {
			us = append(us, u)
		}
	}
	return us
}

func reserveAll(us []*UnspentOutput, state State) []UnspentOutput {
	selected := make([]UnspentOutput, len(us))
	for i, u := range us {
		u.State = state
		selected[i] = *u
	}
	return selected
}

// Select chooses outputs worth at least target and reserves them for the
// constraint's purpose in a single step, so that concurrent selections never
// return the same output.  Outputs with more mixing rounds are preferred,
// then larger amounts.  The caller must Release the outputs if the spend is
// abandoned.
func (s *Set) Select(target dcrutil.Amount, c Constraints) ([]UnspentOutput, dcrutil.Amount, error) {
	if err := c.checkWalletLock(); err != nil {
		return nil, 0, err
	}
	if target <= 0 {
		return nil, 0, mixing.RuleErrorf(mixing.ErrResourceExhaustion,
			"invalid selection target %v", target)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	us := s.candidates(&c)
	sort.Slice(us, func(i, j int) bool {
		a, b := us[i], us[j]
		if a.Rounds != b.Rounds {
			return a.Rounds > b.Rounds
		}
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return lessOutPoint(&a.OutPoint, &b.OutPoint)
	})

	var total dcrutil.Amount
	var n int
	for n < len(us) && total < target {
		if c.MaxInputs > 0 && n == c.MaxInputs {
			break
		}
		total += us[n].Amount
		n++
	}
	if total < target {
		return nil, 0, mixing.RuleErrorf(mixing.ErrResourceExhaustion,
			"insufficient funds: selected %v of %v", total, target)
	}

	selected := reserveAll(us[:n], c.reservation())
	log.Debugf("Selected %d outputs worth %v for %v", n, total, target)
	return selected, total, nil
}

// SelectDenominated reserves up to max eligible outputs of exactly the
// amount of a single denomination.  Outputs with the fewest mixing rounds
// are preferred.
func (s *Set) SelectDenominated(denom mixing.Denomination, max int, c Constraints) ([]UnspentOutput, error) {
	if err := c.checkWalletLock(); err != nil {
		return nil, err
	}
	if _, ok := s.catalog.Amount(denom); !ok {
		return nil, mixing.RuleErrorf(mixing.ErrProtocolViolation,
			"%v is not a single denomination", denom)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	c.OnlyDenominated = true
	us := s.candidates(&c)
	matching := us[:0]
	for _, u := range us {
		if d, _ := s.catalog.Classify(u.Amount); d == denom {
			matching = append(matching, u)
		}
	}
	if len(matching) == 0 {
		return nil, mixing.RuleErrorf(mixing.ErrResourceExhaustion,
			"no unmixed outputs of denomination %v", denom)
	}
	sort.Slice(matching, func(i, j int) bool {
		a, b := matching[i], matching[j]
		if a.Rounds != b.Rounds {
			return a.Rounds < b.Rounds
		}
		return lessOutPoint(&a.OutPoint, &b.OutPoint)
	})
	if max > 0 && len(matching) > max {
		matching = matching[:max]
	}
	return reserveAll(matching, c.reservation()), nil
}

// SelectSmallest reserves the smallest eligible output worth at least min.
func (s *Set) SelectSmallest(min dcrutil.Amount, c Constraints) (UnspentOutput, error) {
	if err := c.checkWalletLock(); err != nil {
		return UnspentOutput{}, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	var best *UnspentOutput
	for _, u := range s.candidates(&c) {
		if u.Amount < min {
			continue
		}
		if best == nil || u.Amount < best.Amount ||
			(u.Amount == best.Amount && lessOutPoint(&u.OutPoint, &best.OutPoint)) {
			best = u
		}
	}
	if best == nil {
		return UnspentOutput{}, mixing.RuleErrorf(mixing.ErrResourceExhaustion,
			"no output worth at least %v", min)
	}
	return reserveAll([]*UnspentOutput{best}, c.reservation())[0], nil
}

// DenominationCounts returns, for each single denomination, the number of
// outputs that satisfy c.
func (s *Set) DenominationCounts(c Constraints) map[mixing.Denomination]int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	c.OnlyDenominated = true
	counts := make(map[mixing.Denomination]int)
	for _, u := range s.candidates(&c) {
		if d, ok := s.catalog.Classify(u.Amount); ok {
			counts[d]++
		}
	}
	return counts
}
