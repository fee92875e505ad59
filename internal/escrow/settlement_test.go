package escrow

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullRoom creates a room between alice and bob with the given bet.
func (f *fixture) fullRoom(t *testing.T, bet uint64) *Room {
	t.Helper()
	ctx := context.Background()
	f.fund(t, alice, bet)
	f.fund(t, bob, bet)

	room, err := f.manager.CreateRoom(ctx, alice, bet)
	require.NoError(t, err)
	room, err = f.manager.JoinRoom(ctx, room.ID, bob)
	require.NoError(t, err)
	return room
}

func TestPayoutScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	room := f.fullRoom(t, 1000)
	require.Equal(t, uint64(2000), room.TotalPot)
	require.Equal(t, uint64(2000), f.balance(t, room.Escrow()))

	settlement, err := f.manager.Payout(ctx, room.ID, Caller{Address: alice}, bob)
	require.NoError(t, err)

	assert.Equal(t, uint64(2000), settlement.Escrow)
	assert.Equal(t, uint64(100), settlement.Fee)
	assert.Equal(t, uint64(1900), settlement.Payout)
	assert.Equal(t, collector, settlement.FeeCollector)

	assert.Equal(t, uint64(1900), f.balance(t, bob))
	assert.Equal(t, uint64(100), f.balance(t, collector))
	assert.Zero(t, f.balance(t, room.Escrow()))
	assert.Zero(t, f.balance(t, alice))

	stored, err := f.manager.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, stored.State)
	assert.Equal(t, bob, stored.Winner)
	assert.Equal(t, uint64(100), stored.Fee)
	assert.Equal(t, uint64(1900), stored.Payout)
	assert.True(t, stored.SettledAt.Equal(f.clock.Now()))
	// Record fields fixed at creation stay as they were.
	assert.Equal(t, uint64(1000), stored.BetAmount)
	assert.Equal(t, uint64(2000), stored.TotalPot)
}

func TestPayoutMinimalEscrow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	room := f.fullRoom(t, 0)
	f.fund(t, room.Escrow(), 1)

	settlement, err := f.manager.Payout(ctx, room.ID, Caller{Address: alice}, alice)
	require.NoError(t, err)
	assert.Zero(t, settlement.Fee)
	assert.Equal(t, uint64(1), settlement.Payout)
	assert.Equal(t, uint64(1), f.balance(t, alice))
	assert.Zero(t, f.balance(t, room.Escrow()))
}

func TestPayoutTwiceIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	room := f.fullRoom(t, 1000)
	_, err := f.manager.Payout(ctx, room.ID, Caller{Address: alice}, bob)
	require.NoError(t, err)

	// Refill the escrow to prove a second call cannot drain it again.
	f.fund(t, room.Escrow(), 500)

	_, err = f.manager.Payout(ctx, room.ID, Caller{Address: alice}, bob)
	require.ErrorIs(t, err, ErrAlreadySettled)

	assert.Equal(t, uint64(1900), f.balance(t, bob))
	assert.Equal(t, uint64(100), f.balance(t, collector))
	assert.Equal(t, uint64(500), f.balance(t, room.Escrow()))
}

func TestPayoutBeforeFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.fund(t, alice, 1000)
	ctx := context.Background()

	room, err := f.manager.CreateRoom(ctx, alice, 1000)
	require.NoError(t, err)

	_, err = f.manager.Payout(ctx, room.ID, Caller{Address: alice}, alice)
	require.ErrorIs(t, err, ErrRoomNotFull)
	assert.Equal(t, uint64(1000), f.balance(t, room.Escrow()))
}

func TestPayoutAuthorization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []Option
		caller  Caller
		wantErr error
	}{
		{"authority", nil, Caller{Address: alice}, nil},
		{"oracle", nil, Caller{Address: oracle, Oracle: true}, nil},
		{"other player", nil, Caller{Address: bob}, ErrUnauthorized},
		{"stranger", nil, Caller{Address: carol}, ErrUnauthorized},
		{"empty caller", nil, Caller{Oracle: true}, ErrUnauthorized},
		{"authority in oracle only mode", []Option{WithOracleOnly()}, Caller{Address: alice}, ErrUnauthorized},
		{"oracle in oracle only mode", []Option{WithOracleOnly()}, Caller{Address: oracle, Oracle: true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.opts...)
			room := f.fullRoom(t, 100)

			_, err := f.manager.Payout(context.Background(), room.ID, tt.caller, bob)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, uint64(200), f.balance(t, room.Escrow()))
				return
			}
			require.NoError(t, err)
			assert.Zero(t, f.balance(t, room.Escrow()))
		})
	}
}

func TestPayoutRejectsNonPlayerWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	room := f.fullRoom(t, 100)

	for _, winner := range []address.Address{carol, address.Empty, room.Escrow()} {
		_, err := f.manager.Payout(context.Background(), room.ID, Caller{Address: alice}, winner)
		require.ErrorIs(t, err, ErrInvalidWinner)
	}
	assert.Equal(t, uint64(200), f.balance(t, room.Escrow()))
}

func TestPayoutUnknownRoom(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.manager.Payout(context.Background(), "missing", Caller{Address: alice}, bob)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPayoutFailedFeeLegMovesNothing(t *testing.T) {
	t.Parallel()

	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	l, err := ledger.OpenMemory(logger)
	require.NoError(t, err)
	defer l.Close()

	// A collector that the ledger refuses to credit.
	m := NewManager(l, FeeSchedule{RateBps: DefaultFeeRateBps}, logger, WithClock(quartz.NewMock(t)))
	f := &fixture{ledger: l, manager: m}
	room := f.fullRoom(t, 1000)

	_, err = m.Payout(context.Background(), room.ID, Caller{Address: alice}, bob)
	require.ErrorIs(t, err, ErrTransferFailure)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)

	// Winner leg was staged before the fee leg failed; both rolled back.
	assert.Zero(t, f.balance(t, bob))
	assert.Equal(t, uint64(2000), f.balance(t, room.Escrow()))

	stored, err := m.Room(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFull, stored.State)
	assert.True(t, stored.Winner.IsEmpty())
}

func TestConcurrentPayoutsSettleOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	room := f.fullRoom(t, 1000)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Payout(context.Background(), room.ID, Caller{Address: oracle, Oracle: true}, alice)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadySettled)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, uint64(1900), f.balance(t, alice))
	assert.Equal(t, uint64(100), f.balance(t, collector))
	assert.Zero(t, f.balance(t, room.Escrow()))
}
