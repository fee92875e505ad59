package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/lox/duelescrow/internal/address"
	"github.com/lox/duelescrow/internal/auth"
	"github.com/lox/duelescrow/internal/escrow"
)

// Config is the complete server configuration file.
type Config struct {
	Server   ServerSettings  `hcl:"server,block"`
	Fees     *FeeSettings    `hcl:"fees,block"`
	Registry *RegistryConfig `hcl:"oracle_registry,block"`
	Oracles  []OracleConfig  `hcl:"oracle,block"`
	Accounts []AccountConfig `hcl:"account,block"`
}

// ServerSettings contains listener, logging and storage settings.
type ServerSettings struct {
	Address    string `hcl:"address,optional"`
	Port       int    `hcl:"port,optional"`
	LogLevel   string `hcl:"log_level,optional"`
	DataDir    string `hcl:"data_dir,optional"`
	OracleOnly bool   `hcl:"oracle_only_settlement,optional"`
}

// FeeSettings configures the protocol fee.
type FeeSettings struct {
	RateBps   *uint64 `hcl:"rate_bps,optional"`
	Collector string  `hcl:"collector"`
}

// RegistryConfig points at an external oracle registry.
type RegistryConfig struct {
	URL         string `hcl:"url"`
	AdminSecret string `hcl:"admin_secret,optional"`
}

// OracleConfig registers a settlement oracle with a static token.
type OracleConfig struct {
	Name    string `hcl:"name,label"`
	Address string `hcl:"address"`
	Token   string `hcl:"token"`
}

// AccountConfig seeds a genesis balance on first start.
type AccountConfig struct {
	Address string `hcl:"address,label"`
	Balance uint64 `hcl:"balance"`
}

// DefaultFeeCollector is used when no fees block is configured. Its key is
// derived from a public seed, so it is only fit for development.
var DefaultFeeCollector = address.FromSeed("fee-collector")

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	rate := uint64(escrow.DefaultFeeRateBps)
	return &Config{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
			DataDir:  "duelescrow-data",
		},
		Fees: &FeeSettings{
			RateBps:   &rate,
			Collector: DefaultFeeCollector.String(),
		},
	}
}

// LoadConfig loads configuration from an HCL file. A missing file yields
// the defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults(filepath.Dir(filename))
	return &config, nil
}

func (c *Config) applyDefaults(baseDir string) {
	defaults := DefaultConfig()

	if c.Server.Address == "" {
		c.Server.Address = defaults.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = defaults.Server.DataDir
	}
	// Relative data dirs are resolved against the config file location.
	if c.Server.DataDir != ":memory:" && !filepath.IsAbs(c.Server.DataDir) {
		c.Server.DataDir = filepath.Join(baseDir, c.Server.DataDir)
	}

	if c.Fees == nil {
		c.Fees = defaults.Fees
	}
	if c.Fees.RateBps == nil {
		c.Fees.RateBps = defaults.Fees.RateBps
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := c.FeeSchedule(); err != nil {
		return err
	}

	if c.Registry != nil && c.Registry.URL == "" {
		return fmt.Errorf("oracle_registry: url is required")
	}

	tokens := make(map[string]string, len(c.Oracles))
	for _, o := range c.Oracles {
		if _, err := address.Parse(o.Address); err != nil {
			return fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if o.Token == "" {
			return fmt.Errorf("oracle %s: token is required", o.Name)
		}
		if other, ok := tokens[o.Token]; ok {
			return fmt.Errorf("oracle %s: token already used by oracle %s", o.Name, other)
		}
		tokens[o.Token] = o.Name
	}

	for _, a := range c.Accounts {
		if _, err := address.Parse(a.Address); err != nil {
			return fmt.Errorf("account %q: %w", a.Address, err)
		}
	}

	return nil
}

// ListenAddress returns the host:port to listen on.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// FeeSchedule converts the fees block into an escrow fee schedule.
func (c *Config) FeeSchedule() (escrow.FeeSchedule, error) {
	fees := c.Fees
	if fees == nil {
		fees = DefaultConfig().Fees
	}
	collector, err := address.Parse(fees.Collector)
	if err != nil {
		return escrow.FeeSchedule{}, fmt.Errorf("fees: collector: %w", err)
	}
	rate := uint64(escrow.DefaultFeeRateBps)
	if fees.RateBps != nil {
		rate = *fees.RateBps
	}
	schedule := escrow.FeeSchedule{RateBps: rate, Collector: collector}
	if err := schedule.Validate(); err != nil {
		return escrow.FeeSchedule{}, fmt.Errorf("fees: %w", err)
	}
	return schedule, nil
}

// Validator builds the oracle validator described by the configuration.
func (c *Config) Validator() auth.Validator {
	var chain auth.ChainValidator

	if len(c.Oracles) > 0 {
		oracles := make(map[string]auth.Identity, len(c.Oracles))
		for _, o := range c.Oracles {
			oracles[o.Token] = auth.Identity{Address: address.MustParse(o.Address), Name: o.Name}
		}
		chain = append(chain, auth.NewStaticValidator(oracles))
	}
	if c.Registry != nil {
		chain = append(chain, auth.NewHTTPValidator(c.Registry.URL, c.Registry.AdminSecret))
	}

	if len(chain) == 0 {
		return auth.NewNoopValidator()
	}
	return chain
}

// GenesisBalances returns the configured genesis accounts.
func (c *Config) GenesisBalances() map[address.Address]uint64 {
	balances := make(map[address.Address]uint64, len(c.Accounts))
	for _, a := range c.Accounts {
		balances[address.MustParse(a.Address)] += a.Balance
	}
	return balances
}
