package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/duelescrow/internal/address"
)

var genesisKey = []byte("meta-genesis")

// ApplyGenesis credits the given balances exactly once per database. It
// reports whether the balances were applied by this call.
func (l *Ledger) ApplyGenesis(balances map[address.Address]uint64) (bool, error) {
	tx := l.Begin()
	defer tx.Rollback()

	if _, err := tx.Get(genesisKey); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	var total uint64
	for addr, amount := range balances {
		if err := tx.Credit(addr, amount); err != nil {
			return false, err
		}
		if total > math.MaxUint64-amount {
			return false, fmt.Errorf("%w: genesis total", ErrOverflow)
		}
		total += amount
	}
	if err := tx.Put(genesisKey, encodeBalance(total)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	l.logger.Info("Applied genesis balances", "accounts", len(balances), "total", total)
	return true, nil
}
