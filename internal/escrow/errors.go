package escrow

import (
	"errors"
	"fmt"

	"github.com/lox/duelescrow/internal/ledger"
)

var (
	// ErrRoomNotFound is returned when no room record exists for an id.
	ErrRoomNotFound = errors.New("escrow: room not found")

	// ErrRoomFull is returned when the second seat is already taken.
	ErrRoomFull = errors.New("escrow: room already has two players")

	// ErrAlreadySeated is returned when the creator tries to take the second seat.
	ErrAlreadySeated = errors.New("escrow: player already seated in room")

	// ErrInsufficientFunds is returned when a participant cannot cover the bet.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")

	// ErrInvalidPlayer is returned for the empty address used as a participant.
	ErrInvalidPlayer = errors.New("escrow: invalid player address")

	// ErrRoomClosed is returned when joining or settling a cancelled room.
	ErrRoomClosed = errors.New("escrow: room is cancelled")

	// ErrBalanceOverflow is returned when a stake would overflow the escrow
	// balance.
	ErrBalanceOverflow = errors.New("escrow: balance overflow")

	// ErrRoomNotFull is returned when settling a room that never filled.
	ErrRoomNotFull = errors.New("escrow: room is not full")

	// ErrAlreadySettled is returned when settling a room a second time.
	ErrAlreadySettled = errors.New("escrow: room already settled")

	// ErrUnauthorized is returned when the caller may not settle or cancel
	// the room.
	ErrUnauthorized = errors.New("escrow: caller not authorized for room")

	// ErrInvalidWinner is returned when the winner is not one of the players.
	ErrInvalidWinner = errors.New("escrow: winner is not a player in room")

	// ErrTransferFailure is returned when a payout leg cannot be applied. No
	// funds move when it is returned.
	ErrTransferFailure = errors.New("escrow: transfer failed")
)

// stakeError maps a failed stake transfer onto the escrow error taxonomy.
func stakeError(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	if errors.Is(err, ledger.ErrInvalidAccount) {
		return fmt.Errorf("%w: %w", ErrInvalidPlayer, err)
	}
	if errors.Is(err, ledger.ErrOverflow) {
		return fmt.Errorf("%w: %w", ErrBalanceOverflow, err)
	}
	return err
}
