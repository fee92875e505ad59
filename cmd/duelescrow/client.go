package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lox/duelescrow/cmd/duelescrow/shared"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/client"
	"github.com/lox/duelescrow/internal/protocol"
	"github.com/lox/duelescrow/internal/tui"
)

// ClientFlags are shared by every command that talks to a server. Flags
// override the client configuration file.
type ClientFlags struct {
	Config  string        `default:"duelescrow-client.hcl" env:"DUELESCROW_CLIENT_CONFIG" help:"Path to client HCL configuration file"`
	Server  string        `env:"DUELESCROW_SERVER" help:"WebSocket server URL"`
	Key     string        `env:"DUELESCROW_KEY" help:"Base58 private key to sign in with"`
	Seed    string        `env:"DUELESCROW_SEED" help:"Seed phrase to derive the signing key from"`
	Token   string        `env:"DUELESCROW_ORACLE_TOKEN" help:"Oracle token"`
	Timeout time.Duration `help:"Request timeout"`
	Debug   bool          `help:"Enable debug logging"`

	cfg *client.ClientConfig `kong:"-"`
}

// load reads the configuration file and applies flag overrides.
func (f *ClientFlags) load() (*client.ClientConfig, error) {
	if f.cfg != nil {
		return f.cfg, nil
	}

	cfg, err := client.LoadClientConfig(f.Config)
	if err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}

	if f.Server != "" {
		cfg.Server.URL = strings.TrimSpace(f.Server)
	}
	if f.Key != "" && f.Seed != "" {
		return nil, errors.New("--key and --seed are mutually exclusive")
	}
	if f.Key != "" || f.Seed != "" || f.Token != "" {
		var id client.IdentityConfig
		if cfg.Identity != nil {
			id = *cfg.Identity
		}
		if f.Key != "" {
			id.Key, id.Seed = f.Key, ""
		}
		if f.Seed != "" {
			id.Key, id.Seed = "", f.Seed
		}
		if f.Token != "" {
			id.OracleToken = f.Token
		}
		cfg.Identity = &id
	}
	if f.Timeout > 0 {
		cfg.Server.RequestTimeout = int(f.Timeout.Round(time.Second) / time.Second)
		if cfg.Server.RequestTimeout == 0 {
			cfg.Server.RequestTimeout = 1
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	f.cfg = cfg
	return cfg, nil
}

// connect dials the server and authenticates when an identity is given.
func (f *ClientFlags) connect(ctx context.Context, requireIdentity bool) (*client.Client, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	logger := shared.SetupLogger(cfg.LogLevel, f.Debug)

	key, err := cfg.Signer()
	if err != nil {
		return nil, err
	}
	token := cfg.OracleToken()
	if requireIdentity && key == nil && token == "" {
		return nil, errors.New("one of --key, --seed or --token is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	c, err := client.Dial(dialCtx, cfg.Server.URL, logger)
	if err != nil {
		return nil, err
	}

	if key != nil || token != "" {
		resp, err := c.Auth(ctx, key, token)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		logger.Debug("Authenticated", "address", resp.Address, "oracle", resp.Oracle)
	}
	return c, nil
}

func (f *ClientFlags) requestContext() (context.Context, context.CancelFunc) {
	timeout := 30 * time.Second
	if cfg, err := f.load(); err == nil {
		timeout = cfg.RequestTimeout()
	}
	return context.WithTimeout(context.Background(), timeout)
}

type CreateCmd struct {
	ClientFlags `embed:""`
	Bet         string `arg:"" help:"Bet in coins, e.g. 1.5"`
}

func (c *CreateCmd) Run() error {
	bet, err := parseCoins(c.Bet)
	if err != nil {
		return err
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	room, err := cl.CreateRoom(ctx, bet)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Room created"))
	printRoom(room)
	return nil
}

type JoinCmd struct {
	ClientFlags `embed:""`
	RoomID      string `arg:"" name:"room" help:"Room to join"`
}

func (c *JoinCmd) Run() error {
	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	room, err := cl.JoinRoom(ctx, c.RoomID)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Joined room"))
	printRoom(room)
	return nil
}

type CancelCmd struct {
	ClientFlags `embed:""`
	RoomID      string `arg:"" name:"room" help:"Open room to cancel"`
}

func (c *CancelCmd) Run() error {
	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	room, err := cl.CancelRoom(ctx, c.RoomID)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Room cancelled, stake returned"))
	printRoom(room)
	return nil
}

type PayoutCmd struct {
	ClientFlags `embed:""`
	RoomID      string `arg:"" name:"room" help:"Room to settle"`
	Winner      string `arg:"" help:"Winning player's address"`
}

func (c *PayoutCmd) Run() error {
	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	settlement, err := cl.Payout(ctx, c.RoomID, c.Winner)
	if err != nil {
		return err
	}
	printSettlement(settlement)
	return nil
}

type RoomsCmd struct {
	ClientFlags `embed:""`
	State       string `default:"open" enum:"open,full,settled,all" help:"Room state to list (open, full, settled, all)"`
}

func (c *RoomsCmd) Run() error {
	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	rooms, err := cl.ListRooms(ctx, c.State)
	if err != nil {
		return err
	}
	printRooms(os.Stdout, rooms)
	return nil
}

type RoomCmd struct {
	ClientFlags `embed:""`
	RoomID      string `arg:"" name:"room" help:"Room to show"`
	Follow      bool   `short:"f" help:"Watch the room live until it settles"`
}

func (c *RoomCmd) Run() error {
	if !c.Follow {
		ctx, cancel := c.requestContext()
		defer cancel()

		cl, err := c.connect(ctx, false)
		if err != nil {
			return err
		}
		defer func() { _ = cl.Close() }()

		room, err := cl.Room(ctx, c.RoomID)
		if err != nil {
			return err
		}
		printRoom(room)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, err := c.connect(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	model := tui.NewWatchModel(protocol.RoomInfo{ID: c.RoomID}, formatCoins)
	program := tea.NewProgram(model)

	cl.OnEvent(protocol.TypeRoomUpdated, func(msg *protocol.Message) {
		var data protocol.RoomData
		if err := msg.Decode(&data); err == nil {
			program.Send(tui.RoomMsg{Room: data.Room})
		}
	})
	cl.OnEvent(protocol.TypeRoomSettled, func(msg *protocol.Message) {
		var data protocol.SettlementData
		if err := msg.Decode(&data); err == nil {
			program.Send(tui.SettledMsg{Settlement: data})
		}
	})

	go func() {
		reqCtx, cancel := c.requestContext()
		defer cancel()
		room, err := cl.Room(reqCtx, c.RoomID)
		if err != nil {
			program.Send(tui.ErrMsg{Err: err})
			return
		}
		program.Send(tui.RoomMsg{Room: *room})
	}()

	go func() {
		<-cl.Done()
		program.Send(tui.ErrMsg{Err: client.ErrClosed})
	}()

	if _, err := program.Run(); err != nil {
		return err
	}
	return model.Err()
}

type BalanceCmd struct {
	ClientFlags `embed:""`
	Of          string `arg:"" optional:"" name:"address" help:"Address to query (defaults to your own)"`
}

func (c *BalanceCmd) Run() error {
	ctx, cancel := c.requestContext()
	defer cancel()

	cl, err := c.connect(ctx, c.Of == "")
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	bal, err := cl.Balance(ctx, c.Of)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", addressStyle.Render(bal.Address), amountStyle.Render(formatCoins(bal.Balance)))
	return nil
}

type AddressCmd struct {
	Seed    string `arg:"" help:"Seed phrase"`
	ShowKey bool   `help:"Also print the base58 private key for --key"`
}

func (c *AddressCmd) Run() error {
	key := address.KeyFromSeed(c.Seed)
	fmt.Println(address.FromKey(key).String())
	if c.ShowKey {
		fmt.Println(address.EncodeKey(key))
	}
	return nil
}
