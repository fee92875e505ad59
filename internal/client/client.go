// Package client is a request/response websocket client for the escrow server.
package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/protocol"
)

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("client: connection closed")

// Error is an error reply from the server.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a server error with the given code.
func IsCode(err error, code string) bool {
	var serverErr *Error
	return errors.As(err, &serverErr) && serverErr.Code == code
}

// EventHandler handles server pushed messages such as room updates.
type EventHandler func(*protocol.Message)

// Client is a connection to the escrow server.
type Client struct {
	conn     *websocket.Conn
	logger   *log.Logger
	writeMu  sync.Mutex
	mu       sync.Mutex
	pending  map[string]chan *protocol.Message
	handlers map[protocol.MessageType][]EventHandler
	seq      uint64
	done     chan struct{}

	// challenged is closed once the server's auth nonce has arrived.
	challenged chan struct{}
	nonce      string
}

// Dial connects to the server. http(s) URLs are converted to ws(s), and a
// bare host gets the /ws path.
func Dial(ctx context.Context, serverURL string, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	logger = logger.WithPrefix("client")
	logger.Debug("Connecting to server", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		pending:  make(map[string]chan *protocol.Message),
		handlers:   make(map[protocol.MessageType][]EventHandler),
		done:       make(chan struct{}),
		challenged: make(chan struct{}),
	}
	go c.readMessages()
	return c, nil
}

// OnEvent registers a handler for unsolicited messages of a type.
func (c *Client) OnEvent(msgType protocol.MessageType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
}

// Done is closed once the connection has stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

// Auth authenticates as the address of key by signing the server's
// challenge, and as an oracle when token is set. Either may be omitted.
func (c *Client) Auth(ctx context.Context, key ed25519.PrivateKey, token string) (*protocol.AuthResponseData, error) {
	data := protocol.AuthData{Token: token}
	if key != nil {
		select {
		case <-c.challenged:
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		data.Address = address.FromKey(key).String()
		data.Signature = address.Sign(key, protocol.AuthPayload(c.nonce))
	}

	var resp protocol.AuthResponseData
	err := c.request(ctx, protocol.TypeAuth, data, protocol.TypeAuthResponse, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom opens a room staking bet.
func (c *Client) CreateRoom(ctx context.Context, bet uint64) (*protocol.RoomInfo, error) {
	var resp protocol.RoomData
	if err := c.request(ctx, protocol.TypeCreateRoom, protocol.CreateRoomData{BetAmount: bet}, protocol.TypeRoomCreated, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

// JoinRoom takes the second seat of a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (*protocol.RoomInfo, error) {
	var resp protocol.RoomData
	if err := c.request(ctx, protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: roomID}, protocol.TypeRoomJoined, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

// CancelRoom closes an open room created by this client and refunds the stake.
func (c *Client) CancelRoom(ctx context.Context, roomID string) (*protocol.RoomInfo, error) {
	var resp protocol.RoomData
	if err := c.request(ctx, protocol.TypeCancelRoom, protocol.CancelRoomData{RoomID: roomID}, protocol.TypeRoomCancelled, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

// Payout settles a room in favour of winner.
func (c *Client) Payout(ctx context.Context, roomID, winner string) (*protocol.SettlementData, error) {
	var resp protocol.SettlementData
	if err := c.request(ctx, protocol.TypePayout, protocol.PayoutData{RoomID: roomID, Winner: winner}, protocol.TypeRoomSettled, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRooms lists rooms in a state; empty means open, "all" means every room.
func (c *Client) ListRooms(ctx context.Context, state string) ([]protocol.RoomInfo, error) {
	var resp protocol.RoomListData
	if err := c.request(ctx, protocol.TypeListRooms, protocol.ListRoomsData{State: state}, protocol.TypeRoomList, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Room fetches a room and subscribes to its updates.
func (c *Client) Room(ctx context.Context, roomID string) (*protocol.RoomInfo, error) {
	var resp protocol.RoomData
	if err := c.request(ctx, protocol.TypeGetRoom, protocol.GetRoomData{RoomID: roomID}, protocol.TypeRoom, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

// Balance returns the balance of address, or of the authenticated address
// when empty.
func (c *Client) Balance(ctx context.Context, address string) (*protocol.BalanceInfoData, error) {
	var resp protocol.BalanceInfoData
	if err := c.request(ctx, protocol.TypeBalance, protocol.BalanceData{Address: address}, protocol.TypeBalanceInfo, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) request(ctx context.Context, msgType protocol.MessageType, data any, want protocol.MessageType, out any) error {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		return err
	}

	replies := make(chan *protocol.Message, 1)
	c.mu.Lock()
	c.seq++
	msg.RequestID = strconv.FormatUint(c.seq, 10)
	c.pending[msg.RequestID] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case reply := <-replies:
		if reply.Type == protocol.TypeError {
			var e protocol.ErrorData
			if err := reply.Decode(&e); err != nil {
				return fmt.Errorf("decode error reply: %w", err)
			}
			return &Error{Code: e.Code, Message: e.Message}
		}
		if reply.Type != want {
			return fmt.Errorf("unexpected reply %s to %s", reply.Type, msgType)
		}
		return reply.Decode(out)
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readMessages() {
	defer close(c.done)

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *protocol.Message) {
	if msg.Type == protocol.TypeChallenge {
		var data protocol.ChallengeData
		if err := msg.Decode(&data); err != nil {
			c.logger.Warn("Malformed challenge", "error", err)
			return
		}
		select {
		case <-c.challenged:
			c.logger.Warn("Ignoring repeated challenge")
		default:
			c.nonce = data.Nonce
			close(c.challenged)
		}
		return
	}

	c.mu.Lock()
	if msg.RequestID != "" {
		if ch, ok := c.pending[msg.RequestID]; ok {
			c.mu.Unlock()
			ch <- msg
			return
		}
	}
	handlers := c.handlers[msg.Type]
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(msg)
	}
}
