package cdp

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// seedBorrower deposits 10 collateral tokens at 2000 USD and borrows the full
// 13000 safe capacity, leaving a position one price move away from the
// liquidation boundary.
func seedBorrower(t *testing.T, engine *Engine, clock *testClock) {
	t.Helper()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))
	if _, err := engine.Borrow(context.Background(), testUser, units(13_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	clock.advance(time.Hour)
}

func TestIsLiquidatableTracksPriceMoves(t *testing.T) {
	engine, _, _, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	eligible, err := engine.IsLiquidatable(ctx, testUser)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if eligible {
		t.Fatalf("position at 0.65 LTV must not be liquidatable")
	}

	// 13000 debt over 13000 collateral value crosses the 0.70 boundary.
	oracle.prices[testCollateral] = usd8(1_300)
	eligible, err = engine.IsLiquidatable(ctx, testUser)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if !eligible {
		t.Fatalf("position at 1.0 LTV must be liquidatable")
	}
}

func TestIsLiquidatableFalseWithoutDebt(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	eligible, err := engine.IsLiquidatable(context.Background(), testUser)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if eligible {
		t.Fatalf("debt-free position must not be liquidatable")
	}
}

func TestLiquidateFullCloseClearsPosition(t *testing.T) {
	engine, state, market, oracle, bridge, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	oracle.prices[testCollateral] = usd8(1_300)
	market.bonusBps = 10_000

	repaid, seized, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(50_000, 6), false)
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	// Health factor 0.7 is under the half-close band, so the whole market
	// debt may be repaid; at 1300 USD the matching seizure is exactly the
	// full 10 token balance.
	if repaid.Cmp(units(13_000, 6)) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, units(13_000, 6))
	}
	if seized.Cmp(units(10, 18)) != 0 {
		t.Fatalf("seized = %s, want %s", seized, units(10, 18))
	}

	position := state.positions[testUser]
	if position.DebtShares.Sign() != 0 {
		t.Fatalf("debt shares = %s, want 0", position.DebtShares)
	}
	if got := position.CollateralOf(testCollateral); got.Sign() != 0 {
		t.Fatalf("collateral = %s, want 0", got)
	}
	if state.pool.MarketDebt.Sign() != 0 {
		t.Fatalf("pool market debt = %s, want 0", state.pool.MarketDebt)
	}
	if got := state.assets[testCollateral].TotalSupplied; got.Sign() != 0 {
		t.Fatalf("asset total supplied = %s, want 0", got)
	}

	// 1% of the seizure stays behind as protocol revenue.
	wantFee := new(big.Int).Sub(units(10, 18), mustBigInt("9900990099009900990"))
	if got := state.fees.LiquidationOf(testCollateral); got.Cmp(wantFee) != 0 {
		t.Fatalf("liquidation revenue = %s, want %s", got, wantFee)
	}
	// Deposit and repay pull, borrow and liquidator payout push.
	if bridge.pulls != 2 {
		t.Fatalf("pulls = %d, want 2", bridge.pulls)
	}
	if bridge.pushes != 2 {
		t.Fatalf("pushes = %d, want 2", bridge.pushes)
	}
}

func TestLiquidateHalfCloseNearBoundary(t *testing.T) {
	engine, state, market, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	// 13000 debt against 18200 collateral value: LTV 0.714 is past the
	// boundary, but the 0.98 health factor keeps the close factor at half.
	oracle.prices[testCollateral] = usd8(1_820)
	market.bonusBps = 10_500

	repaid, seized, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(13_000, 6), false)
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if repaid.Cmp(units(6_500, 6)) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, units(6_500, 6))
	}
	// 6500 USD of collateral at 1820 plus a 5% bonus, floor rounded.
	wantSeize := mustBigInt("3749999999999999999")
	if seized.Cmp(wantSeize) != 0 {
		t.Fatalf("seized = %s, want %s", seized, wantSeize)
	}

	position := state.positions[testUser]
	if position.DebtShares.Cmp(units(6_500, 18)) != 0 {
		t.Fatalf("debt shares = %s, want %s", position.DebtShares, units(6_500, 18))
	}
	if state.pool.MarketDebt.Cmp(units(6_500, 6)) != 0 {
		t.Fatalf("pool market debt = %s, want %s", state.pool.MarketDebt, units(6_500, 6))
	}
	wantCollateral := new(big.Int).Sub(units(10, 18), wantSeize)
	if got := position.CollateralOf(testCollateral); got.Cmp(wantCollateral) != 0 {
		t.Fatalf("collateral = %s, want %s", got, wantCollateral)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(1_000, 6), false); !errors.Is(err, ErrUserNotLiquidatable) {
		t.Fatalf("got %v, want ErrUserNotLiquidatable", err)
	}
}

func TestLiquidateRequiresLiquidatorCooldown(t *testing.T) {
	engine, _, market, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)
	oracle.prices[testCollateral] = usd8(1_300)
	market.bonusBps = 10_000

	// A deposit right before the attempt restarts the liquidator's own
	// cooldown.
	if err := engine.Deposit(ctx, testLiquidator, testCollateral, units(1, 18)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(1_000, 6), false); !errors.Is(err, ErrCoolDownActive) {
		t.Fatalf("got %v, want ErrCoolDownActive", err)
	}
	clock.advance(time.Hour)
	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(50_000, 6), false); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestLiquidateInsufficientCollateral(t *testing.T) {
	engine, _, market, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	// At 500 USD the seizure for a full close would need 26 tokens against
	// a 10 token balance.
	oracle.prices[testCollateral] = usd8(500)
	market.bonusBps = 10_000

	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(13_000, 6), false); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestLiquidateMustRestoreSolvency(t *testing.T) {
	engine, _, market, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	// Repaying 6000 of 13000 at 1400 USD leaves 8000 of collateral value
	// against 7000 of debt, still under the boundary.
	oracle.prices[testCollateral] = usd8(1_400)
	market.bonusBps = 10_000

	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(6_000, 6), false); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("got %v, want ErrBreaksHealthFactor", err)
	}
}

func TestLiquidateIgnoresCollateralPause(t *testing.T) {
	engine, _, market, oracle, _, clock := newTestEngine(t)
	ctx := context.Background()
	seedBorrower(t, engine, clock)

	oracle.prices[testCollateral] = usd8(1_300)
	market.bonusBps = 10_000
	if err := engine.PauseCollateral(testAdminAddr, testCollateral); err != nil {
		t.Fatalf("PauseCollateral: %v", err)
	}

	// Pausing an asset stops deposits and redemptions, never liquidations.
	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, units(50_000, 6), false); err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
}

func TestLiquidateZeroInputs(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := engine.Liquidate(ctx, common.Address{}, testUser, testCollateral, big.NewInt(1), false); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero liquidator: got %v, want ErrZeroAddress", err)
	}
	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, testCollateral, big.NewInt(0), false); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("zero repay: got %v, want ErrNeedsMoreThanZero", err)
	}
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000D9")
	if _, _, err := engine.Liquidate(ctx, testLiquidator, testUser, unknown, big.NewInt(1), false); !errors.Is(err, ErrTokenNotSupported) {
		t.Fatalf("unknown token: got %v, want ErrTokenNotSupported", err)
	}
}
