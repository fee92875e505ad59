package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/ledger"
)

// Manager creates, fills and settles rooms against a ledger.
type Manager struct {
	ledger     *ledger.Ledger
	fees       FeeSchedule
	clock      quartz.Clock
	logger     *log.Logger
	oracleOnly bool
	newID      func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for room timestamps.
func WithClock(clock quartz.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithOracleOnly restricts settlement to registered oracles; the room
// authority alone is no longer enough.
func WithOracleOnly() Option {
	return func(m *Manager) {
		m.oracleOnly = true
	}
}

// WithIDGenerator overrides room id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a room manager. The fee schedule is used as given.
func NewManager(l *ledger.Ledger, fees FeeSchedule, logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		ledger: l,
		fees:   fees,
		clock:  quartz.NewReal(),
		logger: logger.WithPrefix("escrow"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRoom opens a room with the creator in seat one. The creator's stake is
// moved into the room's escrow in the same transaction that stores the room.
// A zero bet is allowed.
func (m *Manager) CreateRoom(ctx context.Context, creator address.Address, bet uint64) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if creator.IsEmpty() {
		return nil, ErrInvalidPlayer
	}

	room := &Room{
		ID:        m.newID(),
		Authority: creator,
		Player1:   creator,
		Player2:   address.Empty,
		BetAmount: bet,
		TotalPot:  0,
		State:     StateOpen,
		CreatedAt: m.clock.Now(),
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	if _, err := tx.Get(roomKey(room.ID)); err == nil {
		return nil, fmt.Errorf("room %s already exists", room.ID)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	if err := tx.Transfer(creator, room.Escrow(), bet); err != nil {
		return nil, stakeError(err)
	}
	if err := putRoom(tx, room); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.logger.Info("Room created", "room", room.ID, "creator", creator.Short(), "bet", bet)
	return room, nil
}

// JoinRoom fills the second seat. The joiner's stake transfer and the room
// update commit together; on any failure the room is unchanged.
func (m *Manager) JoinRoom(ctx context.Context, roomID string, joiner address.Address) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if joiner.IsEmpty() {
		return nil, ErrInvalidPlayer
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	room, err := getRoom(tx, roomID)
	if err != nil {
		return nil, err
	}
	if room.State == StateCancelled {
		return nil, ErrRoomClosed
	}
	if !room.Player2.IsEmpty() {
		return nil, ErrRoomFull
	}
	if joiner == room.Player1 {
		return nil, ErrAlreadySeated
	}

	if err := tx.Transfer(joiner, room.Escrow(), room.BetAmount); err != nil {
		return nil, stakeError(err)
	}

	room.Player2 = joiner
	room.TotalPot += room.BetAmount * 2
	room.State = StateFull
	room.JoinedAt = m.clock.Now()

	if err := putRoom(tx, room); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.logger.Info("Room joined", "room", room.ID, "player", joiner.Short(), "pot", room.TotalPot)
	return room, nil
}

// CancelRoom closes an open room and returns the creator's stake. Only the
// room authority may cancel, and only before a second player joins. The
// refund and the room update commit together.
func (m *Manager) CancelRoom(ctx context.Context, roomID string, caller Caller) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	room, err := getRoom(tx, roomID)
	if err != nil {
		return nil, err
	}
	if caller.Address.IsEmpty() || caller.Address != room.Authority {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, caller.Address.Short())
	}
	switch room.State {
	case StateCancelled:
		return nil, ErrRoomClosed
	case StateFull, StateSettled:
		return nil, ErrRoomFull
	}

	if err := tx.Transfer(room.Escrow(), room.Player1, room.BetAmount); err != nil {
		return nil, fmt.Errorf("%w: refund: %w", ErrTransferFailure, err)
	}

	room.State = StateCancelled
	room.CancelledAt = m.clock.Now()

	if err := putRoom(tx, room); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailure, err)
	}

	m.logger.Info("Room cancelled", "room", room.ID, "refund", room.BetAmount, "player", room.Player1.Short())
	return room, nil
}

// Room returns the stored room record.
func (m *Manager) Room(ctx context.Context, roomID string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getRoom(m.ledger, roomID)
}

// ListRooms returns rooms ordered by creation time. With no states given,
// every room is returned.
func (m *Manager) ListRooms(ctx context.Context, states ...State) ([]*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	var rooms []*Room
	err := m.ledger.Scan([]byte(roomPrefix), func(_, value []byte) error {
		var room Room
		if err := json.Unmarshal(value, &room); err != nil {
			return fmt.Errorf("decode room: %w", err)
		}
		if len(want) == 0 || want[room.State] {
			rooms = append(rooms, &room)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// Balance returns the committed balance of any address.
func (m *Manager) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.ledger.BalanceOf(addr)
}

// EscrowBalance returns the balance currently held for a room.
func (m *Manager) EscrowBalance(ctx context.Context, roomID string) (uint64, error) {
	room, err := m.Room(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return m.ledger.BalanceOf(room.Escrow())
}

type recordReader interface {
	Get(key []byte) ([]byte, error)
}

func getRoom(r recordReader, roomID string) (*Room, error) {
	value, err := r.Get(roomKey(roomID))
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return nil, err
	}

	var room Room
	if err := json.Unmarshal(value, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

func putRoom(tx *ledger.Tx, room *Room) error {
	value, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}
	return tx.Put(roomKey(room.ID), value)
}
