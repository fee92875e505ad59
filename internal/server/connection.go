package server

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/auth"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/protocol"
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	conn      *websocket.Conn
	send      chan *protocol.Message
	server    *Server
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once

	nonce    string
	addr     address.Address
	oracle   bool
	watching map[string]bool
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(server.ctx)

	return &Connection{
		nonce:    newNonce(),
		conn:     conn,
		send:     make(chan *protocol.Message, 256),
		server:   server,
		logger:   logger.WithPrefix("conn"),
		ctx:      ctx,
		cancel:   cancel,
		watching: make(map[string]bool),
	}
}

// Start sends the auth challenge and begins handling the connection.
func (c *Connection) Start() {
	challenge, err := protocol.NewMessage(protocol.TypeChallenge, protocol.ChallengeData{Nonce: c.nonce})
	if err == nil {
		_ = c.SendMessage(challenge)
	}
	go c.writePump()
	go c.readPump()
}

func newNonce() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("server: read random nonce: " + err.Error())
	}
	return base58.Encode(buf[:])
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client.
func (c *Connection) SendMessage(msg *protocol.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// Address returns the authenticated address, or Empty.
func (c *Connection) Address() address.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

func (c *Connection) caller() escrow.Caller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return escrow.Caller{Address: c.addr, Oracle: c.oracle}
}

// Watch subscribes the connection to updates for a room.
func (c *Connection) Watch(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching[roomID] = true
}

// Watching reports whether the connection receives updates for a room.
func (c *Connection) Watching(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching[roomID]
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var (
	ErrConnectionClosed = errors.New("connection closed")
)

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *protocol.Message) {
	c.logger.Debug("Received message", "type", msg.Type, "player", c.Address().Short())

	switch msg.Type {
	case protocol.TypeAuth:
		var data protocol.AuthData
		if !c.decode(msg, &data) {
			return
		}
		c.handleAuth(msg, data)

	case protocol.TypeCreateRoom:
		var data protocol.CreateRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleCreateRoom(msg, data)

	case protocol.TypeJoinRoom:
		var data protocol.JoinRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleJoinRoom(msg, data)

	case protocol.TypeCancelRoom:
		var data protocol.CancelRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleCancelRoom(msg, data)

	case protocol.TypePayout:
		var data protocol.PayoutData
		if !c.decode(msg, &data) {
			return
		}
		c.handlePayout(msg, data)

	case protocol.TypeListRooms:
		var data protocol.ListRoomsData
		if !c.decode(msg, &data) {
			return
		}
		c.handleListRooms(msg, data)

	case protocol.TypeGetRoom:
		var data protocol.GetRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleGetRoom(msg, data)

	case protocol.TypeBalance:
		var data protocol.BalanceData
		if !c.decode(msg, &data) {
			return
		}
		c.handleBalance(msg, data)

	default:
		c.sendError(msg, protocol.CodeUnknownType, "Unknown message type: "+msg.Type.String())
	}
}

func (c *Connection) decode(msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.sendError(msg, protocol.CodeInvalidMessage, "Failed to parse "+msg.Type.String()+" data")
		return false
	}
	return true
}

// reply sends a response that echoes the request id.
func (c *Connection) reply(req *protocol.Message, msgType protocol.MessageType, data any) {
	response, err := protocol.NewMessage(msgType, data)
	if err != nil {
		c.logger.Error("Failed to create message", "type", msgType, "error", err)
		return
	}
	response.RequestID = req.RequestID
	_ = c.SendMessage(response)
}

// sendError sends an error message to the client
func (c *Connection) sendError(req *protocol.Message, code, message string) {
	c.reply(req, protocol.TypeError, protocol.ErrorData{
		Code:    code,
		Message: message,
	})
}

func (c *Connection) sendEscrowError(req *protocol.Message, err error) {
	code := ErrorCode(err)
	if code == protocol.CodeInternal {
		c.logger.Error("Request failed", "type", req.Type, "error", err)
	}
	c.sendError(req, code, err.Error())
}

// requireAuth returns the authenticated address or replies with an error.
func (c *Connection) requireAuth(req *protocol.Message) (address.Address, bool) {
	addr := c.Address()
	if addr.IsEmpty() {
		c.sendError(req, protocol.CodeNotAuthenticated, "Must authenticate first")
		return address.Empty, false
	}
	return addr, true
}

func (c *Connection) handleAuth(req *protocol.Message, data protocol.AuthData) {
	var claimed address.Address
	if data.Address != "" {
		parsed, err := address.Parse(data.Address)
		if err != nil {
			c.sendError(req, protocol.CodeInvalidAddress, err.Error())
			return
		}
		if !parsed.Verify(protocol.AuthPayload(c.nonce), data.Signature) {
			c.logger.Warn("Rejected unsigned address claim", "address", parsed.Short())
			c.sendError(req, protocol.CodeInvalidAuth, "Invalid signature for address")
			return
		}
		claimed = parsed
	}

	var oracle *auth.Identity
	if data.Token != "" {
		id, err := c.server.validator.Validate(c.ctx, data.Token)
		switch {
		case errors.Is(err, auth.ErrUnavailable):
			c.logger.Warn("Oracle registry unavailable", "error", err)
			c.sendError(req, protocol.CodeAuthUnavailable, "Oracle registry unavailable")
			return
		case err != nil || id == nil:
			c.sendError(req, protocol.CodeInvalidAuth, "Invalid oracle token")
			return
		}
		if !claimed.IsEmpty() && claimed != id.Address {
			c.sendError(req, protocol.CodeInvalidAuth, "Token does not belong to address")
			return
		}
		oracle = id
		claimed = id.Address
	}

	if claimed.IsEmpty() {
		c.sendError(req, protocol.CodeInvalidAuth, "Address required")
		return
	}

	c.mu.Lock()
	c.addr = claimed
	c.oracle = oracle != nil
	c.mu.Unlock()

	c.logger.Info("Authenticated", "address", claimed.Short(), "oracle", oracle != nil)

	resp := protocol.AuthResponseData{
		Success: true,
		Address: claimed.String(),
		Oracle:  oracle != nil,
	}
	if oracle != nil {
		resp.OracleName = oracle.Name
	}
	c.reply(req, protocol.TypeAuthResponse, resp)
}

func (c *Connection) handleCreateRoom(req *protocol.Message, data protocol.CreateRoomData) {
	creator, ok := c.requireAuth(req)
	if !ok {
		return
	}

	room, err := c.server.rooms.CreateRoom(c.ctx, creator, data.BetAmount)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}

	c.Watch(room.ID)
	c.reply(req, protocol.TypeRoomCreated, protocol.RoomData{Room: c.server.roomInfo(room)})
	c.server.broadcastOpenRooms()
}

func (c *Connection) handleJoinRoom(req *protocol.Message, data protocol.JoinRoomData) {
	joiner, ok := c.requireAuth(req)
	if !ok {
		return
	}

	room, err := c.server.rooms.JoinRoom(c.ctx, data.RoomID, joiner)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}

	info := c.server.roomInfo(room)
	c.Watch(room.ID)
	c.reply(req, protocol.TypeRoomJoined, protocol.RoomData{Room: info})
	c.server.notifyRoom(room.ID, protocol.TypeRoomUpdated, protocol.RoomData{Room: info})
	c.server.broadcastOpenRooms()
}

func (c *Connection) handleCancelRoom(req *protocol.Message, data protocol.CancelRoomData) {
	if _, ok := c.requireAuth(req); !ok {
		return
	}

	room, err := c.server.rooms.CancelRoom(c.ctx, data.RoomID, c.caller())
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}

	info := c.server.roomInfo(room)
	c.reply(req, protocol.TypeRoomCancelled, protocol.RoomData{Room: info})
	c.server.notifyRoom(room.ID, protocol.TypeRoomUpdated, protocol.RoomData{Room: info})
	c.server.broadcastOpenRooms()
}

func (c *Connection) handlePayout(req *protocol.Message, data protocol.PayoutData) {
	if _, ok := c.requireAuth(req); !ok {
		return
	}

	winner, err := address.Parse(data.Winner)
	if err != nil {
		c.sendError(req, protocol.CodeInvalidWinner, err.Error())
		return
	}

	settlement, err := c.server.rooms.Payout(c.ctx, data.RoomID, c.caller(), winner)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}

	room, err := c.server.rooms.Room(c.ctx, data.RoomID)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}

	result := SettlementDataFrom(settlement, c.server.roomInfo(room))
	c.reply(req, protocol.TypeRoomSettled, result)
	c.server.notifyRoom(room.ID, protocol.TypeRoomSettled, result)
}

func (c *Connection) handleListRooms(req *protocol.Message, data protocol.ListRoomsData) {
	var states []escrow.State
	switch data.State {
	case "":
		states = []escrow.State{escrow.StateOpen}
	case "all":
	case string(escrow.StateOpen), string(escrow.StateFull), string(escrow.StateSettled), string(escrow.StateCancelled):
		states = []escrow.State{escrow.State(data.State)}
	default:
		c.sendError(req, protocol.CodeInvalidMessage, "Unknown room state: "+data.State)
		return
	}

	rooms, err := c.server.rooms.ListRooms(c.ctx, states...)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}
	c.reply(req, protocol.TypeRoomList, protocol.RoomListData{Rooms: c.server.roomInfos(rooms)})
}

func (c *Connection) handleGetRoom(req *protocol.Message, data protocol.GetRoomData) {
	room, err := c.server.rooms.Room(c.ctx, data.RoomID)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}
	c.Watch(room.ID)
	c.reply(req, protocol.TypeRoom, protocol.RoomData{Room: c.server.roomInfo(room)})
}

func (c *Connection) handleBalance(req *protocol.Message, data protocol.BalanceData) {
	addr := c.Address()
	if data.Address != "" {
		parsed, err := address.Parse(data.Address)
		if err != nil {
			c.sendError(req, protocol.CodeInvalidAddress, err.Error())
			return
		}
		addr = parsed
	}
	if addr.IsEmpty() {
		c.sendError(req, protocol.CodeNotAuthenticated, "Address required")
		return
	}

	bal, err := c.server.rooms.Balance(c.ctx, addr)
	if err != nil {
		c.sendEscrowError(req, err)
		return
	}
	c.reply(req, protocol.TypeBalanceInfo, protocol.BalanceInfoData{Address: addr.String(), Balance: bal})
}
