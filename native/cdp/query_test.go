package cdp

import (
	"context"
	"math/big"
	"sync"
	"testing"
)

func TestPoolSnapshotReflectsMarketAndRatios(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	snap, err := engine.Pool(ctx)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if snap.TotalShares.Cmp(units(5_000, 18)) != 0 {
		t.Fatalf("shares = %s, want %s", snap.TotalShares, units(5_000, 18))
	}
	if snap.MarketDebt.Cmp(units(5_000, 6)) != 0 {
		t.Fatalf("market debt = %s, want %s", snap.MarketDebt, units(5_000, 6))
	}
	if snap.DebtWithMarkup.Cmp(units(5_025, 6)) != 0 {
		t.Fatalf("marked-up debt = %s, want %s", snap.DebtWithMarkup, units(5_025, 6))
	}
	// Market thresholds of 7500/8000 bps minus the 1000 bps margin.
	if snap.PlatformLtvWad.Cmp(big.NewInt(650_000_000_000_000_000)) != 0 {
		t.Fatalf("ltv = %s, want 0.65", snap.PlatformLtvWad)
	}
	if snap.PlatformLltvWad.Cmp(big.NewInt(700_000_000_000_000_000)) != 0 {
		t.Fatalf("lltv = %s, want 0.70", snap.PlatformLltvWad)
	}
}

func TestAccountViewSummarisesPosition(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	view, err := engine.Account(ctx, testUser)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if view.Account != testUser {
		t.Fatalf("account = %s, want %s", view.Account, testUser)
	}
	if len(view.Collateral) != 1 || view.Collateral[0].Token != testCollateral {
		t.Fatalf("unexpected collateral listing: %+v", view.Collateral)
	}
	if view.Collateral[0].Amount.Cmp(units(10, 18)) != 0 {
		t.Fatalf("collateral = %s, want %s", view.Collateral[0].Amount, units(10, 18))
	}
	if view.MarketDebtOwed.Cmp(units(5_000, 6)) != 0 {
		t.Fatalf("market owed = %s, want %s", view.MarketDebtOwed, units(5_000, 6))
	}
	if view.TotalDebtOwed.Cmp(units(5_025, 6)) != 0 {
		t.Fatalf("total owed = %s, want %s", view.TotalDebtOwed, units(5_025, 6))
	}
	if view.HealthFactor.Cmp(big.NewInt(2_800_000_000_000_000_000)) != 0 {
		t.Fatalf("health factor = %s, want 2.8", view.HealthFactor)
	}
	if view.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", view.Status)
	}
	if view.CooldownExpiry == 0 {
		t.Fatalf("expected a cooldown expiry after borrowing")
	}
}

func TestAccountViewEmptyAccount(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)

	view, err := engine.Account(context.Background(), testLiquidator)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if view.DebtShares.Sign() != 0 || len(view.Collateral) != 0 {
		t.Fatalf("expected an empty view, got %+v", view)
	}
	if view.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", view.Status)
	}
}

func TestAssetsListsRegistrationOrder(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)

	assets, err := engine.Assets()
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("asset count = %d, want 2", len(assets))
	}
	if assets[0].Token != testCollateral || assets[1].Token != testWrappedToken {
		t.Fatalf("unexpected ordering: %s, %s", assets[0].Token, assets[1].Token)
	}
	if !assets[1].Native {
		t.Fatalf("wrapped native asset must be flagged native")
	}
}

func TestQueriesSerialiseWithMutations(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	// Read paths refresh the shared platform ratios; they must hold the
	// engine lock so concurrent queries and repayments never interleave.
	var wg sync.WaitGroup
	errs := make(chan error, 5*50)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := engine.HealthFactor(ctx, testUser); err != nil {
					errs <- err
					return
				}
				if _, err := engine.Pool(ctx); err != nil {
					errs <- err
					return
				}
				if _, err := engine.IsLiquidatable(ctx, testUser); err != nil {
					errs <- err
					return
				}
				if _, err := engine.Account(ctx, testUser); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := engine.Repay(ctx, testUser, units(1, 6)); err != nil {
				errs <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access: %v", err)
	}

	ltv, lltv := engine.PlatformRatios()
	if ltv.Cmp(big.NewInt(650_000_000_000_000_000)) != 0 || lltv.Cmp(big.NewInt(700_000_000_000_000_000)) != 0 {
		t.Fatalf("ratios = %s/%s, want 0.65/0.70", ltv, lltv)
	}
}
