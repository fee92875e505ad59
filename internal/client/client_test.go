package client

import (
	"context"
	"crypto/ed25519"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/auth"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/ledger"
	"github.com/lox/duelescrow/internal/protocol"
	"github.com/lox/duelescrow/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice     = address.FromSeed("alice")
	bob       = address.FromSeed("bob")
	oracle    = address.FromSeed("oracle")
	collector = address.FromSeed("fee-collector")
)

func keyFor(t *testing.T, addr address.Address) ed25519.PrivateKey {
	t.Helper()
	for _, seed := range []string{"alice", "bob", "oracle"} {
		if address.FromSeed(seed) == addr {
			return address.KeyFromSeed(seed)
		}
	}
	t.Fatalf("no test key for %s", addr.Short())
	return nil
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// startServer runs an escrow server with alice and bob funded.
func startServer(t *testing.T) string {
	t.Helper()

	logger := testLogger()
	l, err := ledger.OpenMemory(logger)
	require.NoError(t, err)
	_, err = l.ApplyGenesis(map[address.Address]uint64{alice: 10_000, bob: 10_000})
	require.NoError(t, err)

	manager := escrow.NewManager(l, escrow.FeeSchedule{RateBps: escrow.DefaultFeeRateBps, Collector: collector}, logger)
	validator := auth.NewStaticValidator(map[string]auth.Identity{
		"oracle-token": {Address: oracle, Name: "referee"},
	})
	srv := server.NewServer(manager, logger, server.WithValidator(validator))
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
		_ = l.Close()
	})
	return hs.URL
}

func dial(t *testing.T, url string, addr address.Address) *Client {
	t.Helper()
	ctx := context.Background()
	c, err := Dial(ctx, url, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Auth(ctx, keyFor(t, addr), "")
	require.NoError(t, err)
	return c
}

func TestClientWager(t *testing.T) {
	t.Parallel()
	url := startServer(t)
	ctx := context.Background()

	aliceClient := dial(t, url, alice)
	bobClient := dial(t, url, bob)

	updates := make(chan protocol.RoomInfo, 1)
	aliceClient.OnEvent(protocol.TypeRoomUpdated, func(msg *protocol.Message) {
		var data protocol.RoomData
		if err := msg.Decode(&data); err == nil {
			updates <- data.Room
		}
	})

	room, err := aliceClient.CreateRoom(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, "open", room.State)

	open, err := bobClient.ListRooms(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, room.ID, open[0].ID)

	joined, err := bobClient.JoinRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), joined.TotalPot)

	select {
	case update := <-updates:
		assert.Equal(t, bob.String(), update.Player2)
	case <-time.After(2 * time.Second):
		t.Fatal("no room update received")
	}

	settlement, err := aliceClient.Payout(ctx, room.ID, alice.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), settlement.Escrow)
	assert.Equal(t, uint64(250), settlement.Fee)
	assert.Equal(t, uint64(4750), settlement.Payout)

	bal, err := aliceClient.Balance(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(12_250), bal.Balance)

	fee, err := bobClient.Balance(ctx, collector.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(250), fee.Balance)

	got, err := bobClient.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "settled", got.State)
	assert.Equal(t, alice.String(), got.Winner)
}

func TestClientServerErrors(t *testing.T) {
	t.Parallel()
	url := startServer(t)
	ctx := context.Background()

	c := dial(t, url, alice)

	_, err := c.JoinRoom(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsCode(err, protocol.CodeRoomNotFound))

	_, err = c.CreateRoom(ctx, 1_000_000)
	assert.True(t, IsCode(err, protocol.CodeInsufficientFund))

	_, err = c.Auth(ctx, nil, "bogus")
	assert.True(t, IsCode(err, protocol.CodeInvalidAuth))
}

func TestClientOracleSettles(t *testing.T) {
	t.Parallel()
	url := startServer(t)
	ctx := context.Background()

	aliceClient := dial(t, url, alice)
	bobClient := dial(t, url, bob)

	room, err := aliceClient.CreateRoom(ctx, 100)
	require.NoError(t, err)
	_, err = bobClient.JoinRoom(ctx, room.ID)
	require.NoError(t, err)

	ref, err := Dial(ctx, url, testLogger())
	require.NoError(t, err)
	defer ref.Close()

	resp, err := ref.Auth(ctx, nil, "oracle-token")
	require.NoError(t, err)
	assert.True(t, resp.Oracle)

	settlement, err := ref.Payout(ctx, room.ID, bob.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(190), settlement.Payout)

	_, err = ref.Payout(ctx, room.ID, bob.String())
	assert.True(t, IsCode(err, protocol.CodeAlreadySettled))
}

func TestClientClosed(t *testing.T) {
	t.Parallel()
	url := startServer(t)

	c, err := Dial(context.Background(), url, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Balance(context.Background(), alice.String())
	assert.Error(t, err)
}

func TestDialNormalizesURL(t *testing.T) {
	t.Parallel()
	url := startServer(t)

	// httptest hands out http:// URLs without a path.
	c, err := Dial(context.Background(), url, testLogger())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Auth(context.Background(), keyFor(t, alice), "")
	assert.NoError(t, err)
}

func TestClientCancelRoom(t *testing.T) {
	t.Parallel()
	url := startServer(t)
	ctx := context.Background()

	aliceClient := dial(t, url, alice)
	bobClient := dial(t, url, bob)

	room, err := aliceClient.CreateRoom(ctx, 4000)
	require.NoError(t, err)

	_, err = bobClient.CancelRoom(ctx, room.ID)
	assert.True(t, IsCode(err, protocol.CodeUnauthorized))

	cancelled, err := aliceClient.CancelRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.State)
	assert.Zero(t, cancelled.EscrowBalance)

	bal, err := aliceClient.Balance(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), bal.Balance)

	_, err = bobClient.JoinRoom(ctx, room.ID)
	assert.True(t, IsCode(err, protocol.CodeRoomClosed))
}

func TestClientAuthNeedsChallenge(t *testing.T) {
	t.Parallel()
	url := startServer(t)

	c, err := Dial(context.Background(), url, testLogger())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-c.challenged:
	case <-time.After(2 * time.Second):
		t.Fatal("no challenge received")
	}
	assert.NotEmpty(t, c.nonce)
}
