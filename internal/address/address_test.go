package address

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	a := FromSeed("alice")
	parsed, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not base58", "0OIl"},
		{"too short", "3mJr7AoUXx2Wqd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("expected ErrInvalidAddress, got %v", err)
			}
		})
	}
}

func TestEscrowOfIsDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EscrowOf("room-1"), EscrowOf("room-1"))
	assert.NotEqual(t, EscrowOf("room-1"), EscrowOf("room-2"))
	assert.NotEqual(t, EscrowOf("room-1"), FromSeed("room-1"))
	assert.False(t, EscrowOf("room-1").IsEmpty())
}

func TestEmptySentinel(t *testing.T) {
	t.Parallel()

	assert.True(t, Empty.IsEmpty())
	assert.False(t, FromSeed("bob").IsEmpty())
}

func TestJSONEncoding(t *testing.T) {
	t.Parallel()

	type record struct {
		Player1 Address `json:"player1"`
		Player2 Address `json:"player2"`
	}

	in := record{Player1: FromSeed("alice")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"player1":"`+in.Player1.String()+`","player2":""}`, string(data))

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
	assert.True(t, out.Player2.IsEmpty())
}
