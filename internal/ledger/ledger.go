// Package ledger stores account balances and records in a goleveldb database
// and moves funds between addresses. All mutations go through a Tx so that a
// group of transfers and record writes commit as one batch.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/lox/duelescrow/internal/address"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrInsufficientFunds is returned when the source balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAccount is returned for transfers to or from the empty
	// address, or from an address to itself.
	ErrInvalidAccount = errors.New("ledger: invalid account")

	// ErrOverflow is returned when a credit would overflow a balance.
	ErrOverflow = errors.New("ledger: balance overflow")

	// ErrNotFound is returned when a record key does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrTxDone is returned when a committed or rolled back Tx is used again.
	ErrTxDone = errors.New("ledger: transaction already finished")
)

var balancePrefix = []byte("bal-")

// Ledger is a balance store with a single writer at a time.
type Ledger struct {
	db     *leveldb.DB
	logger *log.Logger
	sync   bool

	// writeMu is held by an open Tx from Begin until Commit or Rollback.
	writeMu sync.Mutex
}

// Open opens or creates an on-disk ledger at path.
func Open(path string, logger *log.Logger) (*Ledger, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     16 * opt.MiB,
		WriteBuffer:            8 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		logger.Warn("Ledger database corrupted, attempting recovery", "path", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &Ledger{db: db, logger: logger.WithPrefix("ledger"), sync: true}, nil
}

// OpenMemory opens a ledger backed by memory only.
func OpenMemory(logger *log.Logger) (*Ledger, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory ledger: %w", err)
	}
	return &Ledger{db: db, logger: logger.WithPrefix("ledger")}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BalanceOf returns the committed balance of addr. Unknown addresses have a
// zero balance.
func (l *Ledger) BalanceOf(addr address.Address) (uint64, error) {
	return l.readBalance(addr)
}

// Get returns the committed record stored under key.
func (l *Ledger) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, lerrors.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Scan calls fn for every committed record whose key starts with prefix.
// Iteration stops at the first error returned by fn.
func (l *Ledger) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Mint credits amount to addr out of thin air. Used for genesis balances and
// development faucets.
func (l *Ledger) Mint(addr address.Address, amount uint64) error {
	tx := l.Begin()
	defer tx.Rollback()

	if err := tx.Credit(addr, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Begin starts a transaction. It blocks until any other open transaction is
// finished. Callers must Commit or Rollback.
func (l *Ledger) Begin() *Tx {
	l.writeMu.Lock()
	return &Tx{
		ledger:   l,
		batch:    new(leveldb.Batch),
		balances: make(map[address.Address]uint64),
		records:  make(map[string][]byte),
	}
}

func (l *Ledger) readBalance(addr address.Address) (uint64, error) {
	value, err := l.db.Get(balanceKey(addr), nil)
	if errors.Is(err, lerrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", addr, err)
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("read balance %s: corrupt value of %d bytes", addr, len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func balanceKey(addr address.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+address.Size)
	key = append(key, balancePrefix...)
	return append(key, addr[:]...)
}

func encodeBalance(amount uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	return buf[:]
}
