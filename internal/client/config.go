package client

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/lox/duelescrow/internal/address"
)

// ClientConfig represents the complete client configuration
type ClientConfig struct {
	Server   ServerConnection `hcl:"server,block"`
	Identity *IdentityConfig  `hcl:"identity,block"`
	LogLevel string           `hcl:"log_level,optional"`
}

// ServerConnection contains server connection settings
type ServerConnection struct {
	URL            string `hcl:"url"`
	ConnectTimeout int    `hcl:"connect_timeout,optional"`
	RequestTimeout int    `hcl:"request_timeout,optional"`
}

// IdentityConfig names the account the client acts as. Key is a base58
// private key and seed a phrase to derive one from; they are alternatives. A
// token additionally claims oracle rights.
type IdentityConfig struct {
	Key         string `hcl:"key,optional"`
	Seed        string `hcl:"seed,optional"`
	OracleToken string `hcl:"oracle_token,optional"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server: ServerConnection{
			URL:            "ws://localhost:8080/ws",
			ConnectTimeout: 10,
			RequestTimeout: 30,
		},
		LogLevel: "warn",
	}
}

// LoadClientConfig loads client configuration from HCL file
func LoadClientConfig(filename string) (*ClientConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultClientConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ClientConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	// Apply defaults for missing values
	defaults := DefaultClientConfig()

	if config.Server.URL == "" {
		config.Server.URL = defaults.Server.URL
	}
	if config.Server.ConnectTimeout == 0 {
		config.Server.ConnectTimeout = defaults.Server.ConnectTimeout
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}

	return &config, nil
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}

	if c.Server.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if id := c.Identity; id != nil {
		if id.Key != "" && id.Seed != "" {
			return errors.New("identity: key and seed are mutually exclusive")
		}
		if id.Key != "" {
			if _, err := address.ParseKey(id.Key); err != nil {
				return fmt.Errorf("identity: %w", err)
			}
		}
	}

	return nil
}

// ConnectTimeout returns the dial timeout
func (c *ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.Server.ConnectTimeout) * time.Second
}

// RequestTimeout returns the per-request timeout
func (c *ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// Signer returns the configured private key, or nil when the identity has
// neither key nor seed.
func (c *ClientConfig) Signer() (ed25519.PrivateKey, error) {
	switch {
	case c.Identity == nil:
		return nil, nil
	case c.Identity.Seed != "":
		return address.KeyFromSeed(c.Identity.Seed), nil
	case c.Identity.Key != "":
		return address.ParseKey(c.Identity.Key)
	}
	return nil, nil
}

// AddressString returns the address of the configured key. It is empty when
// no key is configured.
func (c *ClientConfig) AddressString() string {
	key, err := c.Signer()
	if err != nil || key == nil {
		return ""
	}
	return address.FromKey(key).String()
}

// OracleToken returns the configured oracle token, if any.
func (c *ClientConfig) OracleToken() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.OracleToken
}
