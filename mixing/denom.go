// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrutil/v4"
)

// Denomination is a bit set of denominations from a Catalog.  Bit i refers
// to the i-th largest amount of the catalog.  Mixing sessions and
// contributions always use a denomination with exactly one bit set.
type Denomination uint32

// Bits of the standard denominations in DefaultCatalog.
const (
	Denom100 Denomination = 1 << iota
	Denom10
	Denom1
	DenomTenth
)

// maxDenominations is the number of bits available in a Denomination.
const maxDenominations = 32

// IsSingle returns whether exactly one denomination bit is set.
func (d Denomination) IsSingle() bool {
	return d != 0 && d&(d-1) == 0
}

// Split returns each set bit of d as a single denomination, largest amount
// first.
func (d Denomination) Split() []Denomination {
	var ds []Denomination
	for i := 0; i < maxDenominations; i++ {
		if bit := Denomination(1) << i; d&bit != 0 {
			ds = append(ds, bit)
		}
	}
	return ds
}

// String describes the denomination using the amounts of DefaultCatalog.
func (d Denomination) String() string {
	return DefaultCatalog.Describe(d)
}

// Catalog is an ordered set of standard output amounts.  Only outputs of
// exactly one of these amounts may take part in a mix.
type Catalog struct {
	amounts   []dcrutil.Amount // descending
	tolerance dcrutil.Amount
}

// DefaultCatalog holds the standard network denominations of 100, 10, 1 and
// 0.1 coins, matched exactly.
var DefaultCatalog = mustCatalog(0, 100e8, 10e8, 1e8, 1e7)

func mustCatalog(tolerance dcrutil.Amount, amounts ...dcrutil.Amount) *Catalog {
	c, err := NewCatalog(tolerance, amounts...)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog creates a catalog of the given denomination amounts.  An amount
// classifies as a denomination when it is within tolerance of it.  The
// tolerance must be smaller than half the gap between any two neighboring
// amounts so that no amount can match two denominations.
func NewCatalog(tolerance dcrutil.Amount, amounts ...dcrutil.Amount) (*Catalog, error) {
	if len(amounts) == 0 {
		return nil, errors.New("catalog requires at least one denomination")
	}
	if len(amounts) > maxDenominations {
		return nil, fmt.Errorf("catalog may not hold more than %d "+
			"denominations", maxDenominations)
	}
	if tolerance < 0 {
		return nil, errors.New("negative denomination tolerance")
	}
	sorted := make([]dcrutil.Amount, len(amounts))
	copy(sorted, amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	for i, a := range sorted {
		if a <= 0 {
			return nil, fmt.Errorf("non-positive denomination %v", a)
		}
		if a <= tolerance {
			return nil, fmt.Errorf("denomination %v within tolerance "+
				"of zero", a)
		}
		if i > 0 && sorted[i-1]-a <= 2*tolerance {
			return nil, fmt.Errorf("denominations %v and %v overlap",
				sorted[i-1], a)
		}
	}
	return &Catalog{amounts: sorted, tolerance: tolerance}, nil
}

// Denominations returns every single denomination of the catalog, largest
// amount first.
func (c *Catalog) Denominations() []Denomination {
	ds := make([]Denomination, len(c.amounts))
	for i := range c.amounts {
		ds[i] = Denomination(1) << i
	}
	return ds
}

// StandardDenominations returns the denomination amounts, largest first.
func (c *Catalog) StandardDenominations() []dcrutil.Amount {
	a := make([]dcrutil.Amount, len(c.amounts))
	copy(a, c.amounts)
	return a
}

// All returns the bit set of every catalog denomination.
func (c *Catalog) All() Denomination {
	return Denomination(1)<<len(c.amounts) - 1
}

// Smallest returns the smallest denomination amount.
func (c *Catalog) Smallest() dcrutil.Amount {
	return c.amounts[len(c.amounts)-1]
}

// Amount returns the amount of a single denomination.
func (c *Catalog) Amount(d Denomination) (dcrutil.Amount, bool) {
	if !d.IsSingle() {
		return 0, false
	}
	for i, a := range c.amounts {
		if d == Denomination(1)<<i {
			return a, true
		}
	}
	return 0, false
}

// Classify returns the denomination matched by amount.  The boolean is false
// when amount is not a standard denomination.
func (c *Catalog) Classify(amount dcrutil.Amount) (Denomination, bool) {
	for i, a := range c.amounts {
		diff := amount - a
		if diff < 0 {
			diff = -diff
		}
		if diff <= c.tolerance {
			return Denomination(1) << i, true
		}
	}
	return 0, false
}

// IsDenominated returns whether amount classifies as any denomination.
func (c *Catalog) IsDenominated(amount dcrutil.Amount) bool {
	_, ok := c.Classify(amount)
	return ok
}

// Split breaks amount into denomination amounts, largest first.  At most
// maxPerDenom outputs of each denomination are created, or without limit
// when maxPerDenom is not positive.  The part of amount that could not be
// denominated is returned as the remainder.
func (c *Catalog) Split(amount dcrutil.Amount, maxPerDenom int) (outputs []dcrutil.Amount, remainder dcrutil.Amount) {
	remainder = amount
	for _, a := range c.amounts {
		for n := 0; remainder >= a; n++ {
			if maxPerDenom > 0 && n == maxPerDenom {
				break
			}
			outputs = append(outputs, a)
			remainder -= a
		}
	}
	return outputs, remainder
}

// Describe formats each denomination of d, for example "10+1".  Amounts are
// written in coins.
func (c *Catalog) Describe(d Denomination) string {
	var parts []string
	for _, single := range d.Split() {
		a, ok := c.Amount(single)
		if !ok {
			parts = append(parts, "0x"+strconv.FormatUint(uint64(single), 16))
			continue
		}
		parts = append(parts, strconv.FormatFloat(a.ToCoin(), 'f', -1, 64))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}
