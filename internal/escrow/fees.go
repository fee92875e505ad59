package escrow

import (
	"fmt"
	"math/bits"

	"github.com/lox/duelescrow/internal/address"
)

const (
	// BasisPoints is the denominator of fee rates.
	BasisPoints = 10_000

	// DefaultFeeRateBps is the protocol fee, 5%.
	DefaultFeeRateBps = 500
)

// FeeSchedule is the protocol fee configuration. It is fixed for the
// lifetime of a Manager.
type FeeSchedule struct {
	RateBps   uint64
	Collector address.Address
}

// Validate checks the schedule can be applied.
func (f FeeSchedule) Validate() error {
	if f.RateBps > BasisPoints {
		return fmt.Errorf("fee rate %d bps exceeds %d", f.RateBps, BasisPoints)
	}
	if f.Collector.IsEmpty() {
		return fmt.Errorf("fee collector address is required")
	}
	return nil
}

// Split partitions an escrow balance into the protocol fee and the winner's
// payout. The fee is floor(balance * rate / 10000) and the remainder goes to
// the winner, so fee + payout == balance.
func (f FeeSchedule) Split(balance uint64) (fee, payout uint64) {
	rate := min(f.RateBps, BasisPoints)
	// 128-bit intermediate so large balances cannot overflow.
	hi, lo := bits.Mul64(balance, rate)
	fee, _ = bits.Div64(hi, lo, BasisPoints)
	return fee, balance - fee
}
