package ledger

import (
	"fmt"
	"math"

	"github.com/lox/duelescrow/internal/address"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Tx stages balance changes and record writes. Reads through a Tx see its own
// staged writes. Nothing is visible to other readers until Commit.
type Tx struct {
	ledger   *Ledger
	batch    *leveldb.Batch
	balances map[address.Address]uint64
	records  map[string][]byte
	moves    int
	done     bool
}

// BalanceOf returns the balance of addr including staged changes.
func (tx *Tx) BalanceOf(addr address.Address) (uint64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	if bal, ok := tx.balances[addr]; ok {
		return bal, nil
	}
	return tx.ledger.readBalance(addr)
}

// Get returns the record stored under key including staged writes.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if value, ok := tx.records[string(key)]; ok {
		return value, nil
	}
	return tx.ledger.Get(key)
}

// Put stages a record write.
func (tx *Tx) Put(key, value []byte) error {
	if tx.done {
		return ErrTxDone
	}
	tx.records[string(key)] = value
	tx.batch.Put(key, value)
	return nil
}

// Transfer stages moving amount between two addresses. A failed transfer
// leaves the staged state untouched.
func (tx *Tx) Transfer(from, to address.Address, amount uint64) error {
	if tx.done {
		return ErrTxDone
	}
	if from.IsEmpty() || to.IsEmpty() {
		return fmt.Errorf("%w: empty address", ErrInvalidAccount)
	}
	if from == to {
		return fmt.Errorf("%w: %s sends to itself", ErrInvalidAccount, from.Short())
	}

	fromBal, err := tx.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Short(), fromBal, amount)
	}
	toBal, err := tx.BalanceOf(to)
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, to.Short())
	}

	tx.setBalance(from, fromBal-amount)
	tx.setBalance(to, toBal+amount)
	tx.moves++
	return nil
}

// Credit stages adding amount to addr without a source account.
func (tx *Tx) Credit(addr address.Address, amount uint64) error {
	if tx.done {
		return ErrTxDone
	}
	if addr.IsEmpty() {
		return fmt.Errorf("%w: empty address", ErrInvalidAccount)
	}
	bal, err := tx.BalanceOf(addr)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, addr.Short())
	}
	tx.setBalance(addr, bal+amount)
	tx.moves++
	return nil
}

// Commit writes every staged change in one atomic batch and releases the
// writer lock.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish()

	if tx.batch.Len() == 0 {
		return nil
	}
	if err := tx.ledger.db.Write(tx.batch, &opt.WriteOptions{Sync: tx.ledger.sync}); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	tx.ledger.logger.Debug("Committed transaction", "moves", tx.moves, "writes", tx.batch.Len())
	return nil
}

// Rollback discards staged changes. It is a no-op after Commit, so it is safe
// to defer.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) setBalance(addr address.Address, amount uint64) {
	tx.balances[addr] = amount
	tx.batch.Put(balanceKey(addr), encodeBalance(amount))
}

func (tx *Tx) finish() {
	tx.done = true
	tx.ledger.writeMu.Unlock()
}
