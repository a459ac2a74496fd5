package cdp

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// refreshPlatformRatios derives the engine's LTV and liquidation LTV from the
// external market's aggregate figures, minus a fixed safety margin so the
// engine's own position never reaches the market's liquidation boundary.
func (e *Engine) refreshPlatformRatios(ctx context.Context) error {
	agg, err := e.market.AggregatePosition(ctx, e.self)
	if err != nil {
		return err
	}
	lltvBps := agg.LiquidationThresholdBps
	if lltvBps > safetyMarginBps {
		lltvBps -= safetyMarginBps
	} else {
		lltvBps = 0
	}
	ltvBps := agg.LtvBps
	if ltvBps > safetyMarginBps {
		ltvBps -= safetyMarginBps
	} else {
		ltvBps = 0
	}
	e.platformLltvWad = bpsToWad(lltvBps)
	e.platformLtvWad = bpsToWad(ltvBps)
	return nil
}

// PlatformRatios reports the most recently derived LTV/LLTV pair.
func (e *Engine) PlatformRatios() (ltv, lltv *big.Int) {
	if e == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return new(big.Int).Set(e.platformLtvWad), new(big.Int).Set(e.platformLltvWad)
}

// collateralValueUSD prices the position's collateral, WAD precision. Any
// missing or zero price aborts the calling operation.
func (e *Engine) collateralValueUSD(ctx context.Context, position *Position) (*big.Int, error) {
	total := big.NewInt(0)
	if position == nil {
		return total, nil
	}
	for i := range position.Collateral {
		amount := position.Collateral[i].Amount
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		asset, err := e.state.GetAsset(position.Collateral[i].Token)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, ErrTokenNotSupported
		}
		price, err := e.price(ctx, position.Collateral[i].Token)
		if err != nil {
			return nil, err
		}
		total.Add(total, usdValue(amount, asset.Decimals, price))
	}
	return total, nil
}

// debtValueUSD prices the position's market-debt portion, WAD precision. The
// protocol markup is excluded from solvency math; it is only owed on
// repayment.
func (e *Engine) debtValueUSD(ctx context.Context, position *Position, pool *DebtPool) (*big.Int, error) {
	marketPortion, _ := e.owed(position, pool)
	if marketPortion.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := e.price(ctx, e.borrowToken)
	if err != nil {
		return nil, err
	}
	return usdValue(marketPortion, e.borrowDecimals, price), nil
}

// healthFactor computes the solvency ratio for a position: the liquidation
// threshold adjusted collateral value over the debt value, WAD precision. A
// position with no debt returns the maximum sentinel.
func (e *Engine) healthFactor(ctx context.Context, position *Position, pool *DebtPool) (*big.Int, error) {
	if position == nil || position.DebtShares == nil || position.DebtShares.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	debtUsd, err := e.debtValueUSD(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	if debtUsd.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	collUsd, err := e.collateralValueUSD(ctx, position)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(collUsd, e.platformLltvWad)
	adjusted.Quo(adjusted, wad)
	ratio := new(big.Int).Mul(adjusted, wad)
	return ratio.Quo(ratio, debtUsd), nil
}

// HealthFactor refreshes the platform ratios and reports the account's
// current solvency ratio. Queries serialise with mutations; the refreshed
// ratio fields are shared engine state.
func (e *Engine) HealthFactor(ctx context.Context, account common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.market == nil {
		return nil, ErrNilMarket
	}
	release := e.lock()
	defer release()
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return nil, err
	}
	return e.healthFactor(ctx, position, pool)
}

// Status classifies a health-factor ratio.
func Status(ratio *big.Int) HealthStatus {
	if ratio == nil || ratio.Cmp(wad) < 0 {
		return StatusLiquidatable
	}
	if ratio.Cmp(dangerBandWad) < 0 {
		return StatusDanger
	}
	return StatusHealthy
}

// maxSafeBorrow returns the remaining safe borrow capacity in WAD USD. A
// position already at or past its LTV-adjusted collateral value has no
// capacity left.
func (e *Engine) maxSafeBorrow(ctx context.Context, position *Position, pool *DebtPool) (*big.Int, error) {
	collUsd, err := e.collateralValueUSD(ctx, position)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(collUsd, e.platformLtvWad)
	adjusted.Quo(adjusted, wad)
	debtUsd, err := e.debtValueUSD(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	if debtUsd.Cmp(adjusted) >= 0 {
		return nil, ErrAlreadyAtBreakingPoint
	}
	return adjusted.Sub(adjusted, debtUsd), nil
}

// maxSafeWithdraw caps a voluntary withdrawal so the position keeps
// respecting LTV, a stricter bar than the liquidation boundary. With no debt
// the cap is the full balance of the asset.
func (e *Engine) maxSafeWithdraw(ctx context.Context, position *Position, asset *CollateralAsset, pool *DebtPool) (*big.Int, error) {
	balance := position.CollateralOf(asset.Token)
	if position.DebtShares == nil || position.DebtShares.Sign() == 0 {
		return balance, nil
	}
	price, err := e.price(ctx, asset.Token)
	if err != nil {
		return nil, err
	}
	balanceUsd := usdValue(balance, asset.Decimals, price)
	collUsd, err := e.collateralValueUSD(ctx, position)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(collUsd, e.platformLtvWad)
	adjusted.Quo(adjusted, wad)
	debtUsd, err := e.debtValueUSD(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	headroom := new(big.Int).Sub(adjusted, debtUsd)
	if headroom.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	capUsd := minBig(balanceUsd, headroom)
	return usdToAmount(capUsd, asset.Decimals, price), nil
}

// assertSolvent fails when the position's health factor is below 1. Called
// after every borrow, withdrawal, and liquidation.
func (e *Engine) assertSolvent(ctx context.Context, position *Position, pool *DebtPool) error {
	ratio, err := e.healthFactor(ctx, position, pool)
	if err != nil {
		return err
	}
	if ratio.Cmp(wad) < 0 {
		return ErrBreaksHealthFactor
	}
	return nil
}
