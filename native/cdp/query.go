package cdp

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSnapshot summarises the debt pool and platform ratios for read-only
// queries.
type PoolSnapshot struct {
	TotalShares     *big.Int
	MarketDebt      *big.Int
	DebtWithMarkup  *big.Int
	PlatformLtvWad  *big.Int
	PlatformLltvWad *big.Int
}

// AccountView summarises an account's position for read-only queries.
type AccountView struct {
	Account        common.Address
	Collateral     []CollateralBalance
	DebtShares     *big.Int
	MarketDebtOwed *big.Int
	TotalDebtOwed  *big.Int
	HealthFactor   *big.Int
	Status         HealthStatus
	CooldownExpiry uint64
}

// Pool refreshes the pool from the market and reports a snapshot.
func (e *Engine) Pool(ctx context.Context) (*PoolSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.market == nil {
		return nil, ErrNilMarket
	}
	release := e.lock()
	defer release()
	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return nil, err
	}
	ltv, lltv := e.PlatformRatios()
	return &PoolSnapshot{
		TotalShares:     new(big.Int).Set(pool.TotalShares),
		MarketDebt:      new(big.Int).Set(pool.MarketDebt),
		DebtWithMarkup:  new(big.Int).Set(pool.DebtWithMarkup),
		PlatformLtvWad:  ltv,
		PlatformLltvWad: lltv,
	}, nil
}

// Account reports the account's balances, owed amounts, and solvency status.
func (e *Engine) Account(ctx context.Context, account common.Address) (*AccountView, error) {
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
	marketOwed, totalOwed := e.owed(position, pool)
	ratio, err := e.healthFactor(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	view := &AccountView{
		Account:        account,
		DebtShares:     new(big.Int).Set(position.DebtShares),
		MarketDebtOwed: marketOwed,
		TotalDebtOwed:  totalOwed,
		HealthFactor:   ratio,
		Status:         Status(ratio),
		CooldownExpiry: position.CooldownExpiry,
	}
	for i := range position.Collateral {
		entry := CollateralBalance{Token: position.Collateral[i].Token}
		if position.Collateral[i].Amount != nil {
			entry.Amount = new(big.Int).Set(position.Collateral[i].Amount)
		}
		view.Collateral = append(view.Collateral, entry)
	}
	return view, nil
}

// Assets lists the registered collateral assets.
func (e *Engine) Assets() ([]*CollateralAsset, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.ListAssets()
}
