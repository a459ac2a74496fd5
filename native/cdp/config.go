package cdp

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config captures the deploy-time configuration for the CDP engine. Amounts
// expressed as WAD fractions are decoded from decimal strings in the TOML
// source.
type Config struct {
	// EngineAddress is the identity the engine's aggregate position is held
	// under at the external market.
	EngineAddress string `toml:"EngineAddress"`
	// Admin is the administrator identity gating configuration and revenue
	// withdrawal.
	Admin string `toml:"Admin"`
	// BorrowToken is the single stable borrow asset.
	BorrowToken string `toml:"BorrowToken"`
	// BorrowDecimals is the borrow token's native decimal precision.
	BorrowDecimals uint8 `toml:"BorrowDecimals"`
	// MarketDebtDecimals is the decimal precision of the external market's
	// debt token for the borrow asset.
	MarketDebtDecimals uint8 `toml:"MarketDebtDecimals"`
	// WrappedNativeToken is the wrapped representation of the chain's native
	// asset accepted by the market.
	WrappedNativeToken string `toml:"WrappedNativeToken"`
	// CooldownSeconds seeds the mutation cooldown until changed by the admin.
	CooldownSeconds uint64 `toml:"CooldownSeconds"`
	// AprMarkupWad seeds the protocol spread on market interest.
	AprMarkupWad *big.Int `toml:"AprMarkupWad"`
	// LiquidationFeeWad seeds the protocol cut of seized collateral.
	LiquidationFeeWad *big.Int `toml:"LiquidationFeeWad"`
}

const (
	// maxCooldownSeconds bounds administrator cooldown settings.
	maxCooldownSeconds = 86_400
)

var (
	// minAprMarkupWad is the floor for the protocol spread (0.1%).
	minAprMarkupWad = big.NewInt(1_000_000_000_000_000)
	// minLiquidationFeeWad is the floor for the liquidation fee (0.5%).
	minLiquidationFeeWad = big.NewInt(5_000_000_000_000_000)

	// dangerBandWad marks the health-factor band below which a position is
	// flagged as endangered (1.1).
	dangerBandWad = big.NewInt(1_100_000_000_000_000_000)
	// closeFactorBandWad is the health-factor boundary above which only half
	// of a position's debt may be liquidated in one call (0.95).
	closeFactorBandWad = big.NewInt(950_000_000_000_000_000)
	// aggregateRiskBandWad is the minimum projected health factor the
	// engine's own market position must keep after a borrow (1.05).
	aggregateRiskBandWad = big.NewInt(1_050_000_000_000_000_000)
)

const closeFactorHalfBps = 5_000

// LoadConfig reads the engine TOML configuration from disk and validates it.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("cdp config: path required")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("cdp config: decode %s: %w", path, err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults populates unset fields with conservative defaults.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.BorrowDecimals == 0 {
		c.BorrowDecimals = 6
	}
	if c.MarketDebtDecimals == 0 {
		c.MarketDebtDecimals = c.BorrowDecimals
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 3_600
	}
	if c.AprMarkupWad == nil || c.AprMarkupWad.Sign() == 0 {
		c.AprMarkupWad = big.NewInt(5_000_000_000_000_000) // 0.5%
	}
	if c.LiquidationFeeWad == nil || c.LiquidationFeeWad.Sign() == 0 {
		c.LiquidationFeeWad = big.NewInt(10_000_000_000_000_000) // 1%
	}
}

// Validate enforces the administrative floors and address syntax.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("cdp config: configuration is missing")
	}
	for name, raw := range map[string]string{
		"EngineAddress":      c.EngineAddress,
		"Admin":              c.Admin,
		"BorrowToken":        c.BorrowToken,
		"WrappedNativeToken": c.WrappedNativeToken,
	} {
		if !common.IsHexAddress(strings.TrimSpace(raw)) {
			return fmt.Errorf("cdp config: %s %q is not a valid address", name, raw)
		}
	}
	if c.CooldownSeconds > maxCooldownSeconds {
		return fmt.Errorf("cdp config: cooldown %ds exceeds maximum %ds", c.CooldownSeconds, maxCooldownSeconds)
	}
	if c.AprMarkupWad.Cmp(minAprMarkupWad) < 0 {
		return fmt.Errorf("cdp config: apr markup %s below floor %s", c.AprMarkupWad, minAprMarkupWad)
	}
	if c.LiquidationFeeWad.Cmp(minLiquidationFeeWad) < 0 {
		return fmt.Errorf("cdp config: liquidation fee %s below floor %s", c.LiquidationFeeWad, minLiquidationFeeWad)
	}
	return nil
}

func (c *Config) engineAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.EngineAddress))
}

func (c *Config) adminAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Admin))
}

func (c *Config) borrowToken() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.BorrowToken))
}

func (c *Config) wrappedNative() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.WrappedNativeToken))
}

// Params derives the initial mutable protocol parameters from the config.
func (c *Config) Params() *ProtocolParams {
	if c == nil {
		return nil
	}
	return &ProtocolParams{
		CooldownSeconds:   c.CooldownSeconds,
		AprMarkupWad:      new(big.Int).Set(c.AprMarkupWad),
		LiquidationFeeWad: new(big.Int).Set(c.LiquidationFeeWad),
	}
}
