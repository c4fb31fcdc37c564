package domain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is a commission bracket over lifetime uploaded leads. MaxLeads < 0
// marks the open-ended top band.
type Tier struct {
	Name     string          `json:"name"`
	MinLeads int64           `json:"min_leads"`
	MaxLeads int64           `json:"max_leads"`
	Rate     decimal.Decimal `json:"rate"`
}

// Contains reports whether lifetime falls inside the band. Both bounds are
// inclusive.
func (t Tier) Contains(lifetime int64) bool {
	if lifetime < t.MinLeads {
		return false
	}
	return t.MaxLeads < 0 || lifetime <= t.MaxLeads
}

// Split divides a gross sale into partner commission and platform fee. The
// commission is rounded to the nearest minor unit; the fee is the remainder so
// the two always sum to gross.
func (t Tier) Split(grossCents int64) (commissionCents, feeCents int64) {
	commission := decimal.NewFromInt(grossCents).Mul(t.Rate).Round(0).IntPart()
	if commission > grossCents {
		commission = grossCents
	}
	if commission < 0 {
		commission = 0
	}
	return commission, grossCents - commission
}

// TierTable is an ordered set of contiguous, non-overlapping tiers.
type TierTable []Tier

// Errors returned by NewTierTable.
var (
	ErrEmptyTierTable  = errors.New("tier table is empty")
	ErrTierGap         = errors.New("tiers must be contiguous and start at zero")
	ErrTierRateInvalid = errors.New("tier rate must be within [0,1]")
)

// NewTierTable sorts tiers by lower bound and checks that they cover
// [0, +inf) without gaps or overlaps.
func NewTierTable(tiers ...Tier) (TierTable, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyTierTable
	}
	out := make(TierTable, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].MinLeads < out[j].MinLeads })

	if out[0].MinLeads != 0 {
		return nil, ErrTierGap
	}
	for i, t := range out {
		if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: %s", ErrTierRateInvalid, t.Name)
		}
		last := i == len(out)-1
		if last {
			if t.MaxLeads >= 0 {
				return nil, fmt.Errorf("%w: top tier %s must be open-ended", ErrTierGap, t.Name)
			}
			continue
		}
		if t.MaxLeads < t.MinLeads || out[i+1].MinLeads != t.MaxLeads+1 {
			return nil, fmt.Errorf("%w: %s -> %s", ErrTierGap, t.Name, out[i+1].Name)
		}
	}
	return out, nil
}

// DefaultTiers builds Bronze 0–999, Silver 1,000–4,999 and Gold 5,000+ with
// the given rates.
func DefaultTiers(silverMin, goldMin int64, bronze, silver, gold decimal.Decimal) (TierTable, error) {
	return NewTierTable(
		Tier{Name: "bronze", MinLeads: 0, MaxLeads: silverMin - 1, Rate: bronze},
		Tier{Name: "silver", MinLeads: silverMin, MaxLeads: goldMin - 1, Rate: silver},
		Tier{Name: "gold", MinLeads: goldMin, MaxLeads: -1, Rate: gold},
	)
}

// For returns the tier for a lifetime lead count. Negative counts are
// treated as zero.
func (tt TierTable) For(lifetime int64) Tier {
	if lifetime < 0 {
		lifetime = 0
	}
	for i := len(tt) - 1; i >= 0; i-- {
		if lifetime >= tt[i].MinLeads {
			return tt[i]
		}
	}
	return tt[0]
}

// Next returns the tier above the one containing lifetime, if any.
func (tt TierTable) Next(lifetime int64) (Tier, bool) {
	cur := tt.For(lifetime)
	for _, t := range tt {
		if t.MinLeads > cur.MinLeads {
			return t, true
		}
	}
	return Tier{}, false
}
