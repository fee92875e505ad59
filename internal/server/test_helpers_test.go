package server

import (
	"context"
	"crypto/ed25519"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/ledger"
	"github.com/lox/duelescrow/internal/protocol"
	"github.com/stretchr/testify/require"
)

var (
	alice     = address.FromSeed("alice")
	bob       = address.FromSeed("bob")
	carol     = address.FromSeed("carol")
	oracle    = address.FromSeed("oracle")
	collector = address.FromSeed("fee-collector")
)

// keyFor returns the private key behind one of the test identities.
func keyFor(t *testing.T, addr address.Address) ed25519.PrivateKey {
	t.Helper()
	for _, seed := range []string{"alice", "bob", "carol", "oracle"} {
		if address.FromSeed(seed) == addr {
			return address.KeyFromSeed(seed)
		}
	}
	t.Fatalf("no test key for %s", addr.Short())
	return nil
}

const (
	defaultWait  = 2 * time.Second
	pollInterval = 10 * time.Millisecond
)

// testLogger creates a logger that discards output for tests
func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

type testServer struct {
	srv     *Server
	ledger  *ledger.Ledger
	manager *escrow.Manager
	wsURL   string
}

func newTestServer(t *testing.T, managerOpts []escrow.Option, opts ...Option) *testServer {
	t.Helper()

	logger := testLogger()
	l, err := ledger.OpenMemory(logger)
	require.NoError(t, err)

	fees := escrow.FeeSchedule{RateBps: escrow.DefaultFeeRateBps, Collector: collector}
	manager := escrow.NewManager(l, fees, logger, managerOpts...)
	srv := NewServer(manager, logger, opts...)
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
		_ = l.Close()
	})

	return &testServer{
		srv:     srv,
		ledger:  l,
		manager: manager,
		wsURL:   "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
	}
}

func (ts *testServer) fund(t *testing.T, addr address.Address, amount uint64) {
	t.Helper()
	require.NoError(t, ts.ledger.Mint(addr, amount))
}

func (ts *testServer) balance(t *testing.T, addr address.Address) uint64 {
	t.Helper()
	bal, err := ts.ledger.BalanceOf(addr)
	require.NoError(t, err)
	return bal
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialChallenge dials and reads the auth challenge the server sends first.
func (ts *testServer) dialChallenge(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	conn := ts.dial(t)
	var challenge protocol.ChallengeData
	expectPush(t, conn, protocol.TypeChallenge, &challenge)
	require.NotEmpty(t, challenge.Nonce)
	return conn, challenge.Nonce
}

// signedAuth returns auth data for addr answering nonce.
func signedAuth(t *testing.T, addr address.Address, nonce string) protocol.AuthData {
	t.Helper()
	return protocol.AuthData{
		Address:   addr.String(),
		Signature: address.Sign(keyFor(t, addr), protocol.AuthPayload(nonce)),
	}
}

// dialAs dials and authenticates as addr.
func (ts *testServer) dialAs(t *testing.T, addr address.Address) *websocket.Conn {
	t.Helper()
	conn, nonce := ts.dialChallenge(t)
	send(t, conn, "auth", protocol.TypeAuth, signedAuth(t, addr, nonce))
	var resp protocol.AuthResponseData
	expectReply(t, conn, "auth", protocol.TypeAuthResponse, &resp)
	require.True(t, resp.Success)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, requestID string, msgType protocol.MessageType, data any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, data)
	require.NoError(t, err)
	msg.RequestID = requestID
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until match returns true, skipping pushes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*protocol.Message) bool) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(defaultWait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg), "no matching message before deadline")
		if match(&msg) {
			return &msg
		}
	}
}

func expectReply(t *testing.T, conn *websocket.Conn, requestID string, want protocol.MessageType, out any) {
	t.Helper()
	msg := readUntil(t, conn, func(m *protocol.Message) bool { return m.RequestID == requestID })
	if msg.Type == protocol.TypeError {
		var e protocol.ErrorData
		require.NoError(t, msg.Decode(&e))
		t.Fatalf("request %s failed: %s: %s", requestID, e.Code, e.Message)
	}
	require.Equal(t, want, msg.Type)
	if out != nil {
		require.NoError(t, msg.Decode(out))
	}
}

func expectError(t *testing.T, conn *websocket.Conn, requestID string) protocol.ErrorData {
	t.Helper()
	msg := readUntil(t, conn, func(m *protocol.Message) bool { return m.RequestID == requestID })
	require.Equal(t, protocol.TypeError, msg.Type)
	var e protocol.ErrorData
	require.NoError(t, msg.Decode(&e))
	return e
}

func expectPush(t *testing.T, conn *websocket.Conn, want protocol.MessageType, out any) {
	t.Helper()
	msg := readUntil(t, conn, func(m *protocol.Message) bool { return m.RequestID == "" && m.Type == want })
	if out != nil {
		require.NoError(t, msg.Decode(out))
	}
}

// fullRoom creates a room staked by alice and joined by bob.
func (ts *testServer) fullRoom(t *testing.T, bet uint64) (aliceConn, bobConn *websocket.Conn, roomID string) {
	t.Helper()
	ts.fund(t, alice, bet)
	ts.fund(t, bob, bet)

	aliceConn = ts.dialAs(t, alice)
	bobConn = ts.dialAs(t, bob)

	var created protocol.RoomData
	send(t, aliceConn, "create", protocol.TypeCreateRoom, protocol.CreateRoomData{BetAmount: bet})
	expectReply(t, aliceConn, "create", protocol.TypeRoomCreated, &created)

	send(t, bobConn, "join", protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: created.Room.ID})
	expectReply(t, bobConn, "join", protocol.TypeRoomJoined, nil)

	return aliceConn, bobConn, created.Room.ID
}
