package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/lox/duelescrow/internal/protocol"
	"github.com/shopspring/decimal"
)

// coinDecimals is the number of base units per coin, as a power of ten.
const coinDecimals = 9

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	addressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	amountStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	winStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	stateStyles = map[string]lipgloss.Style{
		"open":      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		"full":      lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"settled":   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

// formatCoins renders base units as a coin amount.
func formatCoins(units uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(units), -coinDecimals)
	return d.String()
}

// parseCoins converts a coin amount such as "1.5" into base units.
func parseCoins(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}
	units := d.Mul(decimal.New(1, coinDecimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, coinDecimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, errors.New("amount out of range")
	}
	return n.Uint64(), nil
}

func renderState(state string) string {
	if style, ok := stateStyles[state]; ok {
		return style.Render(state)
	}
	return state
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printRoom(r *protocol.RoomInfo) {
	row := func(label, value string) {
		fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
	}
	row("id", r.ID)
	row("state", renderState(r.State))
	row("authority", addressStyle.Render(r.Authority))
	row("player 1", addressStyle.Render(r.Player1))
	row("player 2", addressStyle.Render(orDash(r.Player2)))
	row("bet", amountStyle.Render(formatCoins(r.BetAmount)))
	row("pot", amountStyle.Render(formatCoins(r.TotalPot)))
	row("escrow", fmt.Sprintf("%s %s", addressStyle.Render(r.Escrow), amountStyle.Render(formatCoins(r.EscrowBalance))))
	if r.Winner != "" {
		row("winner", winStyle.Render(r.Winner))
	}
}

func printSettlement(s *protocol.SettlementData) {
	fmt.Println(titleStyle.Render("Room settled"))
	fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", "room")), s.Room.ID)
	fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", "winner")), winStyle.Render(s.Winner))
	fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", "escrow")), amountStyle.Render(formatCoins(s.Escrow)))
	fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", "payout")), amountStyle.Render(formatCoins(s.Payout)))
	fmt.Printf("  %s %s -> %s\n", labelStyle.Render(fmt.Sprintf("%-10s", "fee")), amountStyle.Render(formatCoins(s.Fee)), addressStyle.Render(s.FeeCollector))
}

func printRooms(w io.Writer, rooms []protocol.RoomInfo) {
	if len(rooms) == 0 {
		_, _ = fmt.Fprintln(w, labelStyle.Render("No rooms"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROOM\tSTATE\tBET\tPOT\tPLAYER 1\tPLAYER 2")
	for _, r := range rooms {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.State, formatCoins(r.BetAmount), formatCoins(r.TotalPot), r.Player1, orDash(r.Player2))
	}
	_ = tw.Flush()
}
