// Package protocol defines the JSON websocket messages exchanged between the
// escrow server and its clients.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload carried by a Message.
type MessageType string

const (
	// Client to server messages
	TypeAuth       MessageType = "auth"
	TypeCreateRoom MessageType = "create_room"
	TypeJoinRoom   MessageType = "join_room"
	TypePayout     MessageType = "payout"
	TypeListRooms  MessageType = "list_rooms"
	TypeGetRoom    MessageType = "get_room"
	TypeBalance    MessageType = "balance"
	TypeCancelRoom MessageType = "cancel_room"

	// Server to client messages
	TypeChallenge     MessageType = "challenge"
	TypeAuthResponse  MessageType = "auth_response"
	TypeRoomCreated   MessageType = "room_created"
	TypeRoomJoined    MessageType = "room_joined"
	TypeRoomSettled   MessageType = "room_settled"
	TypeRoomCancelled MessageType = "room_cancelled"
	TypeRoomUpdated   MessageType = "room_updated"
	TypeRoomList      MessageType = "room_list"
	TypeRoom          MessageType = "room"
	TypeBalanceInfo   MessageType = "balance_info"
	TypeError         MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// Error codes carried in ErrorData.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeUnknownType      = "unknown_message_type"
	CodeInvalidAuth      = "invalid_auth"
	CodeAuthUnavailable  = "auth_unavailable"
	CodeNotAuthenticated = "not_authenticated"
	CodeInvalidAddress   = "invalid_address"
	CodeRoomNotFound     = "room_not_found"
	CodeRoomFull         = "room_full"
	CodeAlreadySeated    = "already_seated"
	CodeInsufficientFund = "insufficient_funds"
	CodeRoomNotFull      = "room_not_full"
	CodeRoomClosed       = "room_closed"
	CodeOverflow         = "balance_overflow"
	CodeAlreadySettled   = "already_settled"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidWinner    = "invalid_winner"
	CodeTransferFailure  = "transfer_failure"
	CodeInternal         = "internal_error"
)

// Message is the envelope for every websocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Data, v)
}

// Client → Server

// AuthData claims an identity. A claimed address must carry a signature of
// AuthPayload over the connection's challenge nonce.
type AuthData struct {
	Address   string `json:"address,omitempty"`
	Signature string `json:"signature,omitempty"`
	Token     string `json:"token,omitempty"`
}

// AuthPayload is the message signed to answer a challenge.
func AuthPayload(nonce string) []byte {
	return []byte("duelescrow-auth:" + nonce)
}

type CreateRoomData struct {
	BetAmount uint64 `json:"betAmount"`
}

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type CancelRoomData struct {
	RoomID string `json:"roomId"`
}

type PayoutData struct {
	RoomID string `json:"roomId"`
	Winner string `json:"winner"`
}

type ListRoomsData struct {
	// State filters the listing; empty means open rooms only.
	State string `json:"state,omitempty"`
}

type GetRoomData struct {
	RoomID string `json:"roomId"`
}

type BalanceData struct {
	// Address defaults to the authenticated address.
	Address string `json:"address,omitempty"`
}

// Server → Client

// ChallengeData is pushed once per connection before any request is read.
type ChallengeData struct {
	Nonce string `json:"nonce"`
}

type AuthResponseData struct {
	Success    bool   `json:"success"`
	Address    string `json:"address,omitempty"`
	Oracle     bool   `json:"oracle"`
	OracleName string `json:"oracleName,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomInfo is the wire view of a room.
type RoomInfo struct {
	ID            string    `json:"id"`
	Authority     string    `json:"authority"`
	Player1       string    `json:"player1"`
	Player2       string    `json:"player2,omitempty"`
	BetAmount     uint64    `json:"betAmount"`
	TotalPot      uint64    `json:"totalPot"`
	State         string    `json:"state"`
	Escrow        string    `json:"escrow"`
	EscrowBalance uint64    `json:"escrowBalance"`
	Winner        string    `json:"winner,omitempty"`
	Fee           uint64    `json:"fee,omitempty"`
	Payout        uint64    `json:"payout,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type RoomData struct {
	Room RoomInfo `json:"room"`
}

type RoomListData struct {
	Rooms []RoomInfo `json:"rooms"`
}

type SettlementData struct {
	Room         RoomInfo  `json:"room"`
	Winner       string    `json:"winner"`
	Escrow       uint64    `json:"escrow"`
	Payout       uint64    `json:"payout"`
	Fee          uint64    `json:"fee"`
	FeeCollector string    `json:"feeCollector"`
	SettledAt    time.Time `json:"settledAt"`
}

type BalanceInfoData struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}
