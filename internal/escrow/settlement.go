package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/duelescrow/internal/address"
)

// Caller is the authenticated identity invoking a settlement. Oracle is set by
// the host when the caller proved it is a registered settlement oracle.
type Caller struct {
	Address address.Address
	Oracle  bool
}

// Settlement describes a completed payout.
type Settlement struct {
	RoomID       string          `json:"roomId"`
	Winner       address.Address `json:"winner"`
	Escrow       uint64          `json:"escrow"`
	Payout       uint64          `json:"payout"`
	Fee          uint64          `json:"fee"`
	FeeCollector address.Address `json:"feeCollector"`
	SettledAt    time.Time       `json:"settledAt"`
}

// Payout settles a full room: the winner receives the escrow balance minus
// the protocol fee and the fee goes to the collector. Both legs and the
// settled marker commit as one transaction, so a room pays out at most once
// and a failed leg moves no funds.
func (m *Manager) Payout(ctx context.Context, roomID string, caller Caller, winner address.Address) (*Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	room, err := getRoom(tx, roomID)
	if err != nil {
		return nil, err
	}
	if !m.canSettle(room, caller) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, caller.Address.Short())
	}
	switch room.State {
	case StateSettled:
		return nil, ErrAlreadySettled
	case StateOpen:
		return nil, ErrRoomNotFull
	case StateCancelled:
		return nil, ErrRoomClosed
	}
	if !room.IsPlayer(winner) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWinner, winner.Short())
	}

	escrow := room.Escrow()
	balance, err := tx.BalanceOf(escrow)
	if err != nil {
		return nil, fmt.Errorf("%w: read escrow: %w", ErrTransferFailure, err)
	}
	fee, payout := m.fees.Split(balance)

	if err := tx.Transfer(escrow, winner, payout); err != nil {
		return nil, fmt.Errorf("%w: winner leg: %w", ErrTransferFailure, err)
	}
	if err := tx.Transfer(escrow, m.fees.Collector, fee); err != nil {
		return nil, fmt.Errorf("%w: fee leg: %w", ErrTransferFailure, err)
	}

	now := m.clock.Now()
	room.State = StateSettled
	room.Winner = winner
	room.Fee = fee
	room.Payout = payout
	room.SettledAt = now

	if err := putRoom(tx, room); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailure, err)
	}

	m.logger.Info("Room settled",
		"room", room.ID,
		"winner", winner.Short(),
		"escrow", balance,
		"payout", payout,
		"fee", fee)

	return &Settlement{
		RoomID:       room.ID,
		Winner:       winner,
		Escrow:       balance,
		Payout:       payout,
		Fee:          fee,
		FeeCollector: m.fees.Collector,
		SettledAt:    now,
	}, nil
}

func (m *Manager) canSettle(room *Room, caller Caller) bool {
	if caller.Address.IsEmpty() {
		return false
	}
	if caller.Oracle {
		return true
	}
	return !m.oracleOnly && caller.Address == room.Authority
}
