package cdp

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// IsLiquidatable reports whether the account's loan-to-value ratio has
// reached the platform liquidation boundary. Positions with no debt or no
// collateral are never liquidatable.
func (e *Engine) IsLiquidatable(ctx context.Context, account common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	if e.market == nil {
		return false, ErrNilMarket
	}
	release := e.lock()
	defer release()
	position, err := e.ensurePosition(account)
	if err != nil {
		return false, err
	}
	pool, err := e.syncPool(ctx)
	if err != nil {
		return false, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return false, err
	}
	return e.isLiquidatable(ctx, position, pool)
}

func (e *Engine) isLiquidatable(ctx context.Context, position *Position, pool *DebtPool) (bool, error) {
	if position == nil || position.DebtShares == nil || position.DebtShares.Sign() == 0 {
		return false, nil
	}
	if !position.HasCollateral() {
		return false, nil
	}
	debtUsd, err := e.debtValueUSD(ctx, position, pool)
	if err != nil {
		return false, err
	}
	if debtUsd.Sign() == 0 {
		return false, nil
	}
	collUsd, err := e.collateralValueUSD(ctx, position)
	if err != nil {
		return false, err
	}
	if collUsd.Sign() == 0 {
		return false, nil
	}
	ltv := new(big.Int).Mul(debtUsd, wad)
	ltv.Quo(ltv, collUsd)
	return ltv.Cmp(e.platformLltvWad) >= 0, nil
}

// Liquidate lets a third party repay part of an undercollateralized
// account's debt in exchange for a bonus-inflated share of its collateral.
// The repay amount is capped by the close factor; the operation fails unless
// the resulting position is solvent again.
func (e *Engine) Liquidate(ctx context.Context, liquidator, account, collateralToken common.Address, repayRequested *big.Int, wantNative bool) (*big.Int, *big.Int, error) {
	release := e.lock()
	defer release()
	if err := e.guard(); err != nil {
		return nil, nil, err
	}
	if liquidator == (common.Address{}) || account == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	if repayRequested == nil || repayRequested.Sign() <= 0 {
		return nil, nil, ErrNeedsMoreThanZero
	}
	asset, err := e.state.GetAsset(collateralToken)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil || !asset.Supported {
		return nil, nil, ErrTokenNotSupported
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, nil, err
	}
	liquidatorPos, err := e.ensurePosition(liquidator)
	if err != nil {
		return nil, nil, err
	}
	if err := e.assertEligible(liquidatorPos); err != nil {
		return nil, nil, err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, nil, err
	}

	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return nil, nil, err
	}
	eligible, err := e.isLiquidatable(ctx, position, pool)
	if err != nil {
		return nil, nil, err
	}
	if !eligible {
		return nil, nil, ErrUserNotLiquidatable
	}

	ratio, err := e.healthFactor(ctx, position, pool)
	if err != nil {
		return nil, nil, err
	}
	// A still mostly solvent position may only be half closed; deeply
	// underwater positions permit full liquidation.
	closeBps := uint64(basisPoints.Uint64())
	if ratio.Cmp(closeFactorBandWad) >= 0 {
		closeBps = closeFactorHalfBps
	}
	marketDebt, _ := e.owed(position, pool)
	maxRepay := new(big.Int).Mul(marketDebt, new(big.Int).SetUint64(closeBps))
	maxRepay.Quo(maxRepay, basisPoints)
	repay := minBig(repayRequested, maxRepay)
	if repay.Sign() == 0 {
		return nil, nil, ErrUserNotLiquidatable
	}
	fullRepayment := repay.Cmp(marketDebt) == 0

	borrowPrice, err := e.price(ctx, e.borrowToken)
	if err != nil {
		return nil, nil, err
	}
	assetPrice, err := e.price(ctx, collateralToken)
	if err != nil {
		return nil, nil, err
	}
	bonusBps, err := e.market.ReserveLiquidationBonusBps(ctx, collateralToken)
	if err != nil {
		return nil, nil, err
	}

	repayUsd := usdValue(repay, e.borrowDecimals, borrowPrice)
	seize := usdToAmount(repayUsd, asset.Decimals, assetPrice)
	seize.Mul(seize, new(big.Int).SetUint64(bonusBps))
	seize.Quo(seize, basisPoints)
	if position.CollateralOf(collateralToken).Cmp(seize) < 0 {
		return nil, nil, ErrInsufficientCollateral
	}

	if err := e.tokens.Pull(ctx, e.borrowToken, liquidator, repay); err != nil {
		return nil, nil, err
	}
	if _, err := e.market.Repay(ctx, e.borrowToken, repay, e.self); err != nil {
		return nil, nil, err
	}

	burned := sharesFromAmount(repay, pool, e.borrowDecimals, e.marketDecimals)
	if fullRepayment || burned.Cmp(position.DebtShares) > 0 {
		burned = new(big.Int).Set(position.DebtShares)
	}
	position.DebtShares = new(big.Int).Sub(position.DebtShares, burned)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, burned)
	pool.MarketDebt = new(big.Int).Sub(pool.MarketDebt, rescale(repay, e.borrowDecimals, e.marketDecimals))
	if pool.MarketDebt.Sign() < 0 {
		pool.MarketDebt = big.NewInt(0)
	}
	pool.DebtWithMarkup = applyMarkup(pool.MarketDebt, params.AprMarkupWad)

	withdrawn, err := e.market.Withdraw(ctx, collateralToken, seize, e.self)
	if err != nil {
		return nil, nil, err
	}
	if withdrawn == nil || withdrawn.Cmp(seize) < 0 {
		return nil, nil, ErrInsufficientCollateral
	}

	liquidatorShare, fee := splitFee(seize, params.LiquidationFeeWad)
	if wantNative && asset.Native {
		if err := e.tokens.Unwrap(ctx, liquidator, liquidatorShare); err != nil {
			return nil, nil, err
		}
	} else {
		if err := e.tokens.Push(ctx, collateralToken, liquidator, liquidatorShare); err != nil {
			return nil, nil, err
		}
	}

	position.setCollateral(collateralToken, new(big.Int).Sub(position.CollateralOf(collateralToken), seize))
	asset.TotalSupplied = new(big.Int).Sub(asset.TotalSupplied, seize)

	fees, err := e.ensureFeeAccrual()
	if err != nil {
		return nil, nil, err
	}
	fees.setLiquidation(collateralToken, new(big.Int).Add(fees.LiquidationOf(collateralToken), fee))

	// Liquidation must restore solvency; a liquidation that leaves the
	// account unsafe fails outright.
	if err := e.assertSolvent(ctx, position, pool); err != nil {
		return nil, nil, err
	}

	if err := e.state.PutPosition(position); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutAsset(asset); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutFeeAccrual(fees); err != nil {
		return nil, nil, err
	}
	return repay, seize, nil
}
