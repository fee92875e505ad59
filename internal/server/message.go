package server

import (
	"errors"

	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/protocol"
)

// errorCodes maps escrow errors to wire error codes. Order matters where
// errors wrap each other.
var errorCodes = []struct {
	err  error
	code string
}{
	{escrow.ErrRoomNotFound, protocol.CodeRoomNotFound},
	{escrow.ErrRoomFull, protocol.CodeRoomFull},
	{escrow.ErrAlreadySeated, protocol.CodeAlreadySeated},
	{escrow.ErrInsufficientFunds, protocol.CodeInsufficientFund},
	{escrow.ErrInvalidPlayer, protocol.CodeInvalidAddress},
	{escrow.ErrRoomNotFull, protocol.CodeRoomNotFull},
	{escrow.ErrRoomClosed, protocol.CodeRoomClosed},
	{escrow.ErrBalanceOverflow, protocol.CodeOverflow},
	{escrow.ErrAlreadySettled, protocol.CodeAlreadySettled},
	{escrow.ErrUnauthorized, protocol.CodeUnauthorized},
	{escrow.ErrInvalidWinner, protocol.CodeInvalidWinner},
	{escrow.ErrTransferFailure, protocol.CodeTransferFailure},
	{address.ErrInvalidAddress, protocol.CodeInvalidAddress},
}

// ErrorCode returns the wire code for an error returned by the escrow layer.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return protocol.CodeInternal
}

func addressString(a address.Address) string {
	if a.IsEmpty() {
		return ""
	}
	return a.String()
}

// RoomInfoFromRoom converts a room record to its wire form.
func RoomInfoFromRoom(r *escrow.Room, escrowBalance uint64) protocol.RoomInfo {
	return protocol.RoomInfo{
		ID:            r.ID,
		Authority:     addressString(r.Authority),
		Player1:       addressString(r.Player1),
		Player2:       addressString(r.Player2),
		BetAmount:     r.BetAmount,
		TotalPot:      r.TotalPot,
		State:         r.State.String(),
		Escrow:        r.Escrow().String(),
		EscrowBalance: escrowBalance,
		Winner:        addressString(r.Winner),
		Fee:           r.Fee,
		Payout:        r.Payout,
		CreatedAt:     r.CreatedAt,
	}
}

func (s *Server) roomInfo(r *escrow.Room) protocol.RoomInfo {
	bal, err := s.rooms.Balance(s.ctx, r.Escrow())
	if err != nil {
		s.logger.Warn("Failed to read escrow balance", "room", r.ID, "error", err)
	}
	return RoomInfoFromRoom(r, bal)
}

func (s *Server) roomInfos(rooms []*escrow.Room) []protocol.RoomInfo {
	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, s.roomInfo(r))
	}
	return infos
}

// SettlementDataFrom converts a settlement to its wire form.
func SettlementDataFrom(st *escrow.Settlement, room protocol.RoomInfo) protocol.SettlementData {
	return protocol.SettlementData{
		Room:         room,
		Winner:       st.Winner.String(),
		Escrow:       st.Escrow,
		Payout:       st.Payout,
		Fee:          st.Fee,
		FeeCollector: st.FeeCollector.String(),
		SettledAt:    st.SettledAt,
	}
}
