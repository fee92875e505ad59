// Package escrow implements two-seat wager rooms: staking into a per-room
// escrow fund holder and settling it to a winner minus the protocol fee.
package escrow

import (
	"time"

	"github.com/lox/duelescrow/internal/address"
)

// State is the lifecycle position of a room.
type State string

const (
	// StateOpen rooms have only the creator seated and hold one stake.
	StateOpen State = "open"
	// StateFull rooms have both seats filled and hold both stakes.
	StateFull State = "full"
	// StateSettled rooms have paid out; the escrow is drained.
	StateSettled State = "settled"
	// StateCancelled rooms were closed by their creator before anyone joined.
	// The stake went back to the creator.
	StateCancelled State = "cancelled"
)

func (s State) String() string {
	return string(s)
}

// Room is the persistent record of one wager.
type Room struct {
	ID        string          `json:"id"`
	Authority address.Address `json:"authority"`
	Player1   address.Address `json:"player1"`
	Player2   address.Address `json:"player2"`
	BetAmount uint64          `json:"betAmount"`
	TotalPot  uint64          `json:"totalPot"`

	State     State           `json:"state"`
	Winner    address.Address `json:"winner"`
	Fee       uint64          `json:"fee"`
	Payout    uint64          `json:"payout"`
	CreatedAt time.Time       `json:"createdAt"`
	JoinedAt  time.Time       `json:"joinedAt"`
	SettledAt time.Time       `json:"settledAt"`

	CancelledAt time.Time `json:"cancelledAt,omitempty"`
}

// Escrow returns the address of the fund holder that backs this room.
func (r *Room) Escrow() address.Address {
	return address.EscrowOf(r.ID)
}

// IsPlayer reports whether a occupies one of the two seats.
func (r *Room) IsPlayer(a address.Address) bool {
	if a.IsEmpty() {
		return false
	}
	return a == r.Player1 || a == r.Player2
}

func roomKey(id string) []byte {
	return append([]byte(roomPrefix), id...)
}

const roomPrefix = "room-"
