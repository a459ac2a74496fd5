package cdp

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RevenueBalances reports the accrued protocol revenue: the repayment spread
// bucket in borrow-asset units and the per-asset liquidation fee buckets.
func (e *Engine) RevenueBalances() (*FeeAccrual, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	fees, err := e.ensureFeeAccrual()
	if err != nil {
		return nil, err
	}
	return fees.Clone(), nil
}

// WithdrawRevenue transfers accrued protocol revenue to the recipient. The
// borrow asset draws from the repayment spread bucket; any other supported
// collateral draws from its liquidation fee bucket. Administrator only.
func (e *Engine) WithdrawRevenue(ctx context.Context, caller, to, token common.Address, amount *big.Int) error {
	release := e.lock()
	defer release()
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.admin {
		return ErrNotAdmin
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNeedsMoreThanZero
	}
	fees, err := e.ensureFeeAccrual()
	if err != nil {
		return err
	}

	if token == e.borrowToken {
		if fees.BorrowAssetFees.Cmp(amount) < 0 {
			return ErrInsufficientAmountToWithdraw
		}
		fees.BorrowAssetFees = new(big.Int).Sub(fees.BorrowAssetFees, amount)
	} else {
		asset, err := e.state.GetAsset(token)
		if err != nil {
			return err
		}
		if asset == nil || !asset.Supported {
			return ErrTokenNotSupported
		}
		bucket := fees.LiquidationOf(token)
		if bucket.Cmp(amount) < 0 {
			return ErrInsufficientAmountToWithdraw
		}
		fees.setLiquidation(token, bucket.Sub(bucket, amount))
	}

	if err := e.tokens.Push(ctx, token, to, amount); err != nil {
		return err
	}
	return e.state.PutFeeAccrual(fees)
}
