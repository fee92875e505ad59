package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lox/duelescrow/internal/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

server {
  url             = "wss://escrow.example.com/ws"
  request_timeout = 5
}

identity {
  seed         = "alice"
  oracle_token = "tok"
}
`), 0o600))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wss://escrow.example.com/ws", cfg.Server.URL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, alice.String(), cfg.AddressString())
	assert.Equal(t, "tok", cfg.OracleToken())
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Server.URL)
	assert.Empty(t, cfg.AddressString())
	assert.Empty(t, cfg.OracleToken())
}

func TestClientConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr string
	}{
		{"no url", func(c *ClientConfig) { c.Server.URL = "" }, "server URL"},
		{"bad timeout", func(c *ClientConfig) { c.Server.RequestTimeout = 0 }, "request timeout"},
		{"bad log level", func(c *ClientConfig) { c.LogLevel = "loud" }, "log level"},
		{"key and seed", func(c *ClientConfig) {
			c.Identity = &IdentityConfig{Key: address.EncodeKey(address.KeyFromSeed("alice")), Seed: "alice"}
		}, "mutually exclusive"},
		{"bad key", func(c *ClientConfig) {
			c.Identity = &IdentityConfig{Key: "zzz"}
		}, "identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestClientConfigSigner(t *testing.T) {
	t.Parallel()

	key := address.KeyFromSeed("bob")
	cfg := DefaultClientConfig()
	cfg.Identity = &IdentityConfig{Key: address.EncodeKey(key)}
	require.NoError(t, cfg.Validate())

	signer, err := cfg.Signer()
	require.NoError(t, err)
	assert.Equal(t, key, signer)
	assert.Equal(t, bob.String(), cfg.AddressString())

	cfg.Identity = &IdentityConfig{OracleToken: "tok"}
	signer, err = cfg.Signer()
	require.NoError(t, err)
	assert.Nil(t, signer)
	assert.Empty(t, cfg.AddressString())
}
