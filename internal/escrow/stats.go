package escrow

import (
	"context"

	"github.com/lox/duelescrow/internal/address"
)

// Stats summarises room activity across the ledger.
type Stats struct {
	Rooms    map[State]int `json:"rooms"`
	Escrowed uint64        `json:"escrowed"`
	Volume   uint64        `json:"volume"`
	Fees     uint64        `json:"fees"`

	FeeRateBps   uint64          `json:"feeRateBps"`
	FeeCollector address.Address `json:"feeCollector"`
}

// Stats counts rooms by state and totals the funds they hold or paid out.
// Escrowed covers unsettled rooms; Volume and Fees cover settled ones.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	rooms, err := m.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Rooms:        map[State]int{StateOpen: 0, StateFull: 0, StateSettled: 0, StateCancelled: 0},
		FeeRateBps:   m.fees.RateBps,
		FeeCollector: m.fees.Collector,
	}
	for _, r := range rooms {
		stats.Rooms[r.State]++
		switch r.State {
		case StateOpen:
			stats.Escrowed += r.BetAmount
		case StateFull:
			stats.Escrowed += r.TotalPot
		case StateSettled:
			stats.Volume += r.Payout + r.Fee
			stats.Fees += r.Fee
		}
	}
	return stats, nil
}
