package main

import (
	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	NoColor bool             `env:"DUELESCROW_NO_COLOR" help:"Disable colored output"`
	Server  ServerCmd        `cmd:"" help:"Run the escrow server"`
	Create  CreateCmd        `cmd:"" help:"Open a room and stake the bet"`
	Join    JoinCmd          `cmd:"" help:"Take the second seat of an open room"`
	Cancel  CancelCmd        `cmd:"" help:"Cancel an open room and take back the stake"`
	Payout  PayoutCmd        `cmd:"" help:"Settle a full room in favour of a player"`
	Rooms   RoomsCmd         `cmd:"" help:"List rooms"`
	Room    RoomCmd          `cmd:"" help:"Show a room, optionally following updates"`
	Balance BalanceCmd       `cmd:"" help:"Show an account balance"`
	Address AddressCmd       `cmd:"" help:"Derive the address and key for a seed phrase"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("duelescrow"),
		kong.Description("Two-player wager escrow with fee-taking settlement"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	if cli.NoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
