// Package tui renders a live view of a room until it settles.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/lox/duelescrow/internal/protocol"
)

// RoomMsg carries a fresh room snapshot into the model.
type RoomMsg struct {
	Room protocol.RoomInfo
}

// SettledMsg reports the room's settlement.
type SettledMsg struct {
	Settlement protocol.SettlementData
}

// ErrMsg reports a connection failure.
type ErrMsg struct {
	Err error
}

// AmountFormatter renders base units for display.
type AmountFormatter func(uint64) string

// WatchModel follows one room until it settles or the user quits.
type WatchModel struct {
	room       protocol.RoomInfo
	settlement *protocol.SettlementData
	err        error
	spinner    spinner.Model
	format     AmountFormatter
	quitting   bool
}

// NewWatchModel creates a model showing room.
func NewWatchModel(room protocol.RoomInfo, format AmountFormatter) *WatchModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = InfoStyle
	if format == nil {
		format = func(v uint64) string { return fmt.Sprintf("%d", v) }
	}
	return &WatchModel{room: room, spinner: s, format: format}
}

// Settlement returns the settlement once observed.
func (m *WatchModel) Settlement() *protocol.SettlementData {
	return m.settlement
}

// Err returns the error that ended the watch, if any.
func (m *WatchModel) Err() error {
	return m.err
}

// finished reports whether the room can no longer change.
func (m *WatchModel) finished() bool {
	return m.room.State == "settled" || m.room.State == "cancelled"
}

// Init starts the spinner. A room that is already settled or cancelled quits
// at once.
func (m *WatchModel) Init() tea.Cmd {
	if m.finished() {
		return tea.Quit
	}
	return m.spinner.Tick
}

// Update handles room events and key presses.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case RoomMsg:
		if msg.Room.ID != m.room.ID {
			return m, nil
		}
		m.room = msg.Room
		if m.finished() {
			return m, tea.Quit
		}

	case SettledMsg:
		if msg.Settlement.Room.ID != m.room.ID {
			return m, nil
		}
		m.room = msg.Settlement.Room
		m.settlement = &msg.Settlement
		return m, tea.Quit

	case ErrMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the room and its status line.
func (m *WatchModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("Room "+m.room.ID) + "\n\n")
	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(label) + " " + value + "\n")
	}
	row("state", m.room.State)
	row("player 1", AddressStyle.Render(m.room.Player1))
	player2 := m.room.Player2
	if player2 == "" {
		player2 = "-"
	}
	row("player 2", AddressStyle.Render(player2))
	row("bet", AmountStyle.Render(m.format(m.room.BetAmount)))
	row("escrow", AmountStyle.Render(m.format(m.room.EscrowBalance)))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(ErrorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.settlement != nil:
		s := m.settlement
		b.WriteString(SuccessStyle.Render("Settled") + "\n")
		row("winner", AddressStyle.Render(s.Winner))
		row("payout", AmountStyle.Render(m.format(s.Payout)))
		row("fee", AmountStyle.Render(m.format(s.Fee)))
	case m.room.State == "settled":
		b.WriteString(SuccessStyle.Render("Settled") + "\n")
		row("winner", AddressStyle.Render(m.room.Winner))
		row("payout", AmountStyle.Render(m.format(m.room.Payout)))
		row("fee", AmountStyle.Render(m.format(m.room.Fee)))
	case m.room.State == "cancelled":
		b.WriteString(ErrorStyle.Render("Cancelled, stake returned to player 1") + "\n")
	case m.quitting:
	default:
		waiting := "Waiting for an opponent"
		if m.room.State == "full" {
			waiting = "Waiting for settlement"
		}
		b.WriteString(m.spinner.View() + " " + InfoStyle.Render(waiting+" (q to quit)") + "\n")
	}

	return b.String()
}
