package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lox/duelescrow/cmd/duelescrow/shared"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/ledger"
	"github.com/lox/duelescrow/internal/server"
	"golang.org/x/sync/errgroup"
)

// ServerCmd runs the escrow server from an HCL configuration file.
type ServerCmd struct {
	Config   string `short:"c" default:"duelescrow.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" help:"Server address to bind to (overrides config)"`
	LogLevel string `short:"l" help:"Log level (overrides config)"`
	DataDir  string `help:"Ledger directory, or :memory: (overrides config)"`
	Debug    bool   `help:"Enable debug logging"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply command line overrides
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if c.DataDir != "" {
		cfg.Server.DataDir = c.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	listen := cfg.ListenAddress()
	if c.Addr != "" {
		listen = c.Addr
	}

	logger := shared.SetupLogger(cfg.Server.LogLevel, c.Debug)

	var l *ledger.Ledger
	if cfg.Server.DataDir == ":memory:" {
		l, err = ledger.OpenMemory(logger)
	} else {
		l, err = ledger.Open(cfg.Server.DataDir, logger)
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Error("Failed to close ledger", "error", err)
		}
	}()

	applied, err := l.ApplyGenesis(cfg.GenesisBalances())
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("Applied genesis balances", "accounts", len(cfg.Accounts))
	}

	fees, err := cfg.FeeSchedule()
	if err != nil {
		return err
	}
	if fees.Collector == server.DefaultFeeCollector {
		logger.Warn("Using the development fee collector; configure a fees block for real deployments")
	}
	var opts []escrow.Option
	if cfg.Server.OracleOnly {
		opts = append(opts, escrow.WithOracleOnly())
	}
	rooms := escrow.NewManager(l, fees, logger, opts...)

	s := server.NewServer(rooms, logger, server.WithValidator(cfg.Validator()))

	logger.Info("Starting duelescrow server",
		"address", listen,
		"data_dir", cfg.Server.DataDir,
		"fee_bps", fees.RateBps,
		"fee_collector", fees.Collector.Short(),
		"oracles", len(cfg.Oracles),
		"oracle_only", cfg.Server.OracleOnly)

	ctx := shared.SetupSignalHandler(logger)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
