package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAsset captures the registration record for a collateral token.
// Amount values are denominated in the token's own decimals and expressed as
// big integers to match on-chain precision.
type CollateralAsset struct {
	// Token is the asset identifier within the external market.
	Token common.Address
	// Symbol is the human readable ticker used in logs and query output.
	Symbol string
	// Decimals is the token's native decimal precision.
	Decimals uint8
	// Supported marks the asset as allow-listed for deposits.
	Supported bool
	// Paused disables deposits and redemptions for this asset only.
	Paused bool
	// Native marks the wrapped representation of the chain's native asset.
	Native bool
	// TotalSupplied is the aggregate amount deposited across all accounts.
	TotalSupplied *big.Int
}

// CollateralBalance pairs a collateral token with a deposited amount. The
// slice representation keeps Position RLP-encodable.
type CollateralBalance struct {
	Token  common.Address
	Amount *big.Int
}

// Position maintains the engine-side record for an individual account.
type Position struct {
	// Account is the unique account identifier.
	Account common.Address
	// Collateral records the per-asset deposited amounts.
	Collateral []CollateralBalance
	// DebtShares is this account's proportional claim on the shared debt
	// pool, expressed with WAD precision.
	DebtShares *big.Int
	// CooldownExpiry is the unix second after which the account may mutate
	// collateral or debt again.
	CooldownExpiry uint64
}

// CollateralOf returns the deposited amount for token, zero when absent.
func (p *Position) CollateralOf(token common.Address) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	for i := range p.Collateral {
		if p.Collateral[i].Token == token {
			if p.Collateral[i].Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(p.Collateral[i].Amount)
		}
	}
	return big.NewInt(0)
}

func (p *Position) setCollateral(token common.Address, amount *big.Int) {
	if p == nil {
		return
	}
	for i := range p.Collateral {
		if p.Collateral[i].Token == token {
			p.Collateral[i].Amount = new(big.Int).Set(amount)
			return
		}
	}
	p.Collateral = append(p.Collateral, CollateralBalance{Token: token, Amount: new(big.Int).Set(amount)})
}

// HasCollateral reports whether any collateral balance is positive.
func (p *Position) HasCollateral() bool {
	if p == nil {
		return false
	}
	for i := range p.Collateral {
		if p.Collateral[i].Amount != nil && p.Collateral[i].Amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Account: p.Account, CooldownExpiry: p.CooldownExpiry}
	for i := range p.Collateral {
		entry := CollateralBalance{Token: p.Collateral[i].Token}
		if p.Collateral[i].Amount != nil {
			entry.Amount = new(big.Int).Set(p.Collateral[i].Amount)
		}
		clone.Collateral = append(clone.Collateral, entry)
	}
	if p.DebtShares != nil {
		clone.DebtShares = new(big.Int).Set(p.DebtShares)
	}
	return clone
}

// DebtPool captures the global debt accounting state. The pool mirrors the
// external market's owed balance and layers the protocol markup on top.
type DebtPool struct {
	// TotalShares is the sum of all account debt shares, WAD precision.
	TotalShares *big.Int
	// MarketDebt mirrors the external market's current owed balance in the
	// market's native debt-token units.
	MarketDebt *big.Int
	// DebtWithMarkup is MarketDebt scaled by 1 + protocol APR markup.
	DebtWithMarkup *big.Int
}

// Clone returns a deep copy of the pool.
func (p *DebtPool) Clone() *DebtPool {
	if p == nil {
		return nil
	}
	clone := &DebtPool{}
	if p.TotalShares != nil {
		clone.TotalShares = new(big.Int).Set(p.TotalShares)
	}
	if p.MarketDebt != nil {
		clone.MarketDebt = new(big.Int).Set(p.MarketDebt)
	}
	if p.DebtWithMarkup != nil {
		clone.DebtWithMarkup = new(big.Int).Set(p.DebtWithMarkup)
	}
	return clone
}

// LiquidationRevenue pairs a collateral token with accrued liquidation fees.
type LiquidationRevenue struct {
	Token  common.Address
	Amount *big.Int
}

// FeeAccrual captures the in-flight protocol revenue totals.
type FeeAccrual struct {
	// BorrowAssetFees is the repayment spread revenue, borrow-asset units.
	BorrowAssetFees *big.Int
	// Liquidation holds per-asset liquidation fee revenue.
	Liquidation []LiquidationRevenue
}

// LiquidationOf returns the accrued liquidation revenue for token.
func (f *FeeAccrual) LiquidationOf(token common.Address) *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	for i := range f.Liquidation {
		if f.Liquidation[i].Token == token {
			if f.Liquidation[i].Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(f.Liquidation[i].Amount)
		}
	}
	return big.NewInt(0)
}

func (f *FeeAccrual) setLiquidation(token common.Address, amount *big.Int) {
	if f == nil {
		return
	}
	for i := range f.Liquidation {
		if f.Liquidation[i].Token == token {
			f.Liquidation[i].Amount = new(big.Int).Set(amount)
			return
		}
	}
	f.Liquidation = append(f.Liquidation, LiquidationRevenue{Token: token, Amount: new(big.Int).Set(amount)})
}

// Clone returns a deep copy of the fee accrual structure.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	clone := &FeeAccrual{}
	if f.BorrowAssetFees != nil {
		clone.BorrowAssetFees = new(big.Int).Set(f.BorrowAssetFees)
	}
	for i := range f.Liquidation {
		entry := LiquidationRevenue{Token: f.Liquidation[i].Token}
		if f.Liquidation[i].Amount != nil {
			entry.Amount = new(big.Int).Set(f.Liquidation[i].Amount)
		}
		clone.Liquidation = append(clone.Liquidation, entry)
	}
	return clone
}

// ProtocolParams groups the administrator controlled settings that survive
// restarts alongside the ledger state.
type ProtocolParams struct {
	// CooldownSeconds is the minimum wait between mutating actions.
	CooldownSeconds uint64
	// AprMarkupWad is the protocol spread on top of market interest, as a
	// WAD fraction.
	AprMarkupWad *big.Int
	// LiquidationFeeWad is the protocol cut of seized collateral, as a WAD
	// fraction.
	LiquidationFeeWad *big.Int
}

// Clone returns a deep copy of the protocol parameters.
func (p *ProtocolParams) Clone() *ProtocolParams {
	if p == nil {
		return nil
	}
	clone := &ProtocolParams{CooldownSeconds: p.CooldownSeconds}
	if p.AprMarkupWad != nil {
		clone.AprMarkupWad = new(big.Int).Set(p.AprMarkupWad)
	}
	if p.LiquidationFeeWad != nil {
		clone.LiquidationFeeWad = new(big.Int).Set(p.LiquidationFeeWad)
	}
	return clone
}

// AggregatePosition summarises the engine's own position at the external
// market, as reported by the market adapter. USD figures use the oracle's
// 8-decimal scale; percentages are basis points.
type AggregatePosition struct {
	CollateralUSD           *big.Int
	DebtUSD                 *big.Int
	AvailableBorrowUSD      *big.Int
	LiquidationThresholdBps uint64
	LtvBps                  uint64
	HealthFactor            *big.Int
}

// HealthStatus classifies an account's solvency ratio.
type HealthStatus string

const (
	StatusLiquidatable HealthStatus = "liquidatable"
	StatusDanger       HealthStatus = "danger"
	StatusHealthy      HealthStatus = "healthy"
)
