package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"nftmarket/crypto"
	"nftmarket/native/market"
)

// Validate checks the static configuration. Market addresses are only checked
// when present since a node may start before the market is bootstrapped.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	switch cfg.IndexerDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported IndexerDriver %q", cfg.IndexerDriver)
	}
	if cfg.IndexerDriver != "" && strings.TrimSpace(cfg.IndexerDSN) == "" {
		return fmt.Errorf("config: IndexerDSN required for driver %s", cfg.IndexerDriver)
	}
	if cfg.Market.FeeRate > market.MaxFeeRate {
		return fmt.Errorf("config: Market.FeeRate %d above ceiling %d", cfg.Market.FeeRate, market.MaxFeeRate)
	}
	if _, err := parseUintAmount(cfg.Market.MinBid); err != nil {
		return fmt.Errorf("config: Market.MinBid: %w", err)
	}
	for _, alloc := range cfg.Allocations {
		if _, err := crypto.ParseIdentity(alloc.Address, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("config: allocation %q: %w", alloc.Address, err)
		}
		if _, err := parseUintAmount(alloc.Amount); err != nil {
			return fmt.Errorf("config: allocation %s amount: %w", alloc.Address, err)
		}
	}
	return nil
}

// Genesis converts the [Market] table into the engine bootstrap record.
func (m Market) Genesis() (market.Genesis, error) {
	var (
		genesis market.Genesis
		err     error
	)
	if genesis.Owner, err = crypto.ParseIdentity(m.Owner, crypto.AccountPrefix); err != nil {
		return genesis, fmt.Errorf("Market.Owner: %w", err)
	}
	if genesis.FeeReceiver, err = crypto.ParseIdentity(m.FeeReceiver, crypto.AccountPrefix); err != nil {
		return genesis, fmt.Errorf("Market.FeeReceiver: %w", err)
	}
	if genesis.MarketAddress, err = crypto.ParseIdentity(m.MarketAddress, crypto.AccountPrefix); err != nil {
		return genesis, fmt.Errorf("Market.MarketAddress: %w", err)
	}
	genesis.FeeRate = m.FeeRate
	if genesis.MinBid, err = parseUintAmount(m.MinBid); err != nil {
		return genesis, fmt.Errorf("Market.MinBid: %w", err)
	}
	for _, raw := range m.SupportedContracts {
		contract, err := crypto.ParseIdentity(raw, crypto.ContractPrefix)
		if err != nil {
			return genesis, fmt.Errorf("Market.SupportedContracts %q: %w", raw, err)
		}
		genesis.SupportedContracts = append(genesis.SupportedContracts, contract)
	}
	return genesis, nil
}

// ParseAmount parses a decimal base-unit amount.
func ParseAmount(raw string) (*uint256.Int, error) {
	return parseUintAmount(raw)
}

func parseUintAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}
