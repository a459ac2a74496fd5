package cdp

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testEngineAddr   = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	testAdminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000Ad")
	testBorrowToken  = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	testWrappedToken = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	testCollateral   = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	testUser         = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testLiquidator   = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

func usd8(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(100_000_000))
}

func units(v int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), pow10(decimals))
}

type mockState struct {
	pool      *DebtPool
	positions map[common.Address]*Position
	assets    map[common.Address]*CollateralAsset
	order     []common.Address
	fees      *FeeAccrual
	params    *ProtocolParams
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[common.Address]*Position),
		assets:    make(map[common.Address]*CollateralAsset),
	}
}

func (s *mockState) GetPool() (*DebtPool, error)         { return s.pool.Clone(), nil }
func (s *mockState) PutPool(pool *DebtPool) error        { s.pool = pool.Clone(); return nil }
func (s *mockState) GetFeeAccrual() (*FeeAccrual, error) { return s.fees.Clone(), nil }
func (s *mockState) PutFeeAccrual(fees *FeeAccrual) error {
	s.fees = fees.Clone()
	return nil
}
func (s *mockState) GetParams() (*ProtocolParams, error) { return s.params.Clone(), nil }
func (s *mockState) PutParams(params *ProtocolParams) error {
	s.params = params.Clone()
	return nil
}

func (s *mockState) GetPosition(account common.Address) (*Position, error) {
	return s.positions[account].Clone(), nil
}

func (s *mockState) PutPosition(position *Position) error {
	s.positions[position.Account] = position.Clone()
	return nil
}

func (s *mockState) GetAsset(token common.Address) (*CollateralAsset, error) {
	asset, ok := s.assets[token]
	if !ok {
		return nil, nil
	}
	clone := *asset
	if asset.TotalSupplied != nil {
		clone.TotalSupplied = new(big.Int).Set(asset.TotalSupplied)
	}
	return &clone, nil
}

func (s *mockState) PutAsset(asset *CollateralAsset) error {
	if _, ok := s.assets[asset.Token]; !ok {
		s.order = append(s.order, asset.Token)
	}
	clone := *asset
	if asset.TotalSupplied != nil {
		clone.TotalSupplied = new(big.Int).Set(asset.TotalSupplied)
	}
	s.assets[asset.Token] = &clone
	return nil
}

func (s *mockState) ListAssets() ([]*CollateralAsset, error) {
	assets := make([]*CollateralAsset, 0, len(s.order))
	for _, token := range s.order {
		asset, _ := s.GetAsset(token)
		assets = append(assets, asset)
	}
	return assets, nil
}

type fakeMarket struct {
	debt     *big.Int
	agg      AggregatePosition
	bonusBps uint64

	supplyErr   error
	withdrawErr error

	supplied  *big.Int
	withdrawn *big.Int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		debt: big.NewInt(0),
		agg: AggregatePosition{
			CollateralUSD:           usd8(20_000),
			DebtUSD:                 big.NewInt(0),
			AvailableBorrowUSD:      usd8(15_000),
			LiquidationThresholdBps: 8_000,
			LtvBps:                  7_500,
			HealthFactor:            big.NewInt(0),
		},
		bonusBps:  11_000,
		supplied:  big.NewInt(0),
		withdrawn: big.NewInt(0),
	}
}

func (m *fakeMarket) Supply(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if m.supplyErr != nil {
		return m.supplyErr
	}
	m.supplied = new(big.Int).Add(m.supplied, amount)
	return nil
}

func (m *fakeMarket) Withdraw(ctx context.Context, token common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if m.withdrawErr != nil {
		return nil, m.withdrawErr
	}
	m.withdrawn = new(big.Int).Add(m.withdrawn, amount)
	return new(big.Int).Set(amount), nil
}

func (m *fakeMarket) Borrow(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error {
	m.debt = new(big.Int).Add(m.debt, amount)
	return nil
}

func (m *fakeMarket) Repay(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) (*big.Int, error) {
	m.debt = new(big.Int).Sub(m.debt, amount)
	if m.debt.Sign() < 0 {
		m.debt = big.NewInt(0)
	}
	return new(big.Int).Set(amount), nil
}

func (m *fakeMarket) AggregatePosition(ctx context.Context, who common.Address) (AggregatePosition, error) {
	return m.agg, nil
}

func (m *fakeMarket) ReserveDebtBalance(ctx context.Context, who, token common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.debt), nil
}

func (m *fakeMarket) ReserveSupplyBalance(ctx context.Context, who, token common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.supplied), nil
}

func (m *fakeMarket) ReserveLiquidationBonusBps(ctx context.Context, token common.Address) (uint64, error) {
	return m.bonusBps, nil
}

type fakeOracle struct {
	prices map[common.Address]*big.Int
}

func (o *fakeOracle) Price(ctx context.Context, token common.Address) (*big.Int, error) {
	price, ok := o.prices[token]
	if !ok {
		return nil, ErrInvalidPrice
	}
	return new(big.Int).Set(price), nil
}

type fakeBridge struct {
	pulls   int
	pushes  int
	wraps   int
	unwraps int
	pullErr error
	pushErr error
}

func (b *fakeBridge) Pull(ctx context.Context, token, from common.Address, amount *big.Int) error {
	if b.pullErr != nil {
		return b.pullErr
	}
	b.pulls++
	return nil
}

func (b *fakeBridge) Push(ctx context.Context, token, to common.Address, amount *big.Int) error {
	if b.pushErr != nil {
		return b.pushErr
	}
	b.pushes++
	return nil
}

func (b *fakeBridge) Wrap(ctx context.Context, amount *big.Int) error {
	b.wraps++
	return nil
}

func (b *fakeBridge) Unwrap(ctx context.Context, to common.Address, amount *big.Int) error {
	b.unwraps++
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testConfig() Config {
	return Config{
		EngineAddress:      testEngineAddr.Hex(),
		Admin:              testAdminAddr.Hex(),
		BorrowToken:        testBorrowToken.Hex(),
		BorrowDecimals:     6,
		MarketDebtDecimals: 6,
		WrappedNativeToken: testWrappedToken.Hex(),
		CooldownSeconds:    3_600,
		AprMarkupWad:       big.NewInt(5_000_000_000_000_000),  // 0.5%
		LiquidationFeeWad:  big.NewInt(10_000_000_000_000_000), // 1%
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *fakeMarket, *fakeOracle, *fakeBridge, *testClock) {
	t.Helper()
	cfg := testConfig()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	state := newMockState()
	state.params = cfg.Params()
	state.PutAsset(&CollateralAsset{
		Token:         testCollateral,
		Symbol:        "WETH",
		Decimals:      18,
		Supported:     true,
		TotalSupplied: big.NewInt(0),
	})
	state.PutAsset(&CollateralAsset{
		Token:         testWrappedToken,
		Symbol:        "WNAT",
		Decimals:      18,
		Supported:     true,
		Native:        true,
		TotalSupplied: big.NewInt(0),
	})
	market := newFakeMarket()
	oracle := &fakeOracle{prices: map[common.Address]*big.Int{
		testBorrowToken:  usd8(1),
		testCollateral:   usd8(2_000),
		testWrappedToken: usd8(2_000),
	}}
	bridge := &fakeBridge{}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}

	engine.SetState(state)
	engine.SetMarket(market)
	engine.SetOracle(oracle)
	engine.SetTokenBridge(bridge)
	engine.SetClock(func() time.Time { return clock.now })
	return engine, state, market, oracle, bridge, clock
}

// depositAndWait seeds collateral and steps the clock past the cooldown so
// the next mutation is eligible.
func depositAndWait(t *testing.T, engine *Engine, clock *testClock, token common.Address, amount *big.Int) {
	t.Helper()
	if err := engine.Deposit(context.Background(), testUser, token, amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	clock.advance(time.Hour)
}

func TestDepositRecordsCollateralAndCooldown(t *testing.T) {
	engine, state, market, _, bridge, clock := newTestEngine(t)

	amount := units(10, 18)
	if err := engine.Deposit(context.Background(), testUser, testCollateral, amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	position := state.positions[testUser]
	if position == nil {
		t.Fatalf("expected persisted position")
	}
	if got := position.CollateralOf(testCollateral); got.Cmp(amount) != 0 {
		t.Fatalf("collateral = %s, want %s", got, amount)
	}
	wantExpiry := uint64(clock.now.Unix()) + 3_600
	if position.CooldownExpiry != wantExpiry {
		t.Fatalf("cooldown expiry = %d, want %d", position.CooldownExpiry, wantExpiry)
	}
	if bridge.pulls != 1 {
		t.Fatalf("expected one bridge pull, got %d", bridge.pulls)
	}
	if market.supplied.Cmp(amount) != 0 {
		t.Fatalf("market supplied = %s, want %s", market.supplied, amount)
	}
	if got := state.assets[testCollateral].TotalSupplied; got.Cmp(amount) != 0 {
		t.Fatalf("asset total supplied = %s, want %s", got, amount)
	}
}

func TestDepositRejectsZeroAmountAndUnknownToken(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.Deposit(ctx, testUser, testCollateral, big.NewInt(0)); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("zero amount: got %v, want ErrNeedsMoreThanZero", err)
	}
	if err := engine.Deposit(ctx, testUser, testCollateral, big.NewInt(-5)); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("negative amount: got %v, want ErrNeedsMoreThanZero", err)
	}
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000D9")
	if err := engine.Deposit(ctx, testUser, unknown, big.NewInt(1)); !errors.Is(err, ErrTokenNotSupported) {
		t.Fatalf("unknown token: got %v, want ErrTokenNotSupported", err)
	}
	if err := engine.Deposit(ctx, common.Address{}, testCollateral, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero account: got %v, want ErrZeroAddress", err)
	}
}

func TestDepositNativeRequiresExactValue(t *testing.T) {
	engine, state, _, _, bridge, _ := newTestEngine(t)
	ctx := context.Background()

	amount := units(2, 18)
	if err := engine.DepositNative(ctx, testUser, amount, big.NewInt(1)); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("mismatched value: got %v, want ErrValueMismatch", err)
	}
	if err := engine.DepositNative(ctx, testUser, amount, amount); err != nil {
		t.Fatalf("DepositNative: %v", err)
	}
	if bridge.wraps != 1 {
		t.Fatalf("expected one wrap, got %d", bridge.wraps)
	}
	if got := state.positions[testUser].CollateralOf(testWrappedToken); got.Cmp(amount) != 0 {
		t.Fatalf("wrapped collateral = %s, want %s", got, amount)
	}
}

func TestBorrowMintsSharesAgainstPool(t *testing.T) {
	engine, state, _, _, bridge, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	borrowed, err := engine.Borrow(ctx, testUser, units(5_000, 6))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if borrowed.Cmp(units(5_000, 6)) != 0 {
		t.Fatalf("borrowed = %s, want %s", borrowed, units(5_000, 6))
	}

	pool := state.pool
	if pool.TotalShares.Cmp(units(5_000, 18)) != 0 {
		t.Fatalf("total shares = %s, want %s", pool.TotalShares, units(5_000, 18))
	}
	if pool.MarketDebt.Cmp(units(5_000, 6)) != 0 {
		t.Fatalf("market debt = %s, want %s", pool.MarketDebt, units(5_000, 6))
	}
	// 0.5% markup on 5000.
	if pool.DebtWithMarkup.Cmp(units(5_025, 6)) != 0 {
		t.Fatalf("debt with markup = %s, want %s", pool.DebtWithMarkup, units(5_025, 6))
	}
	if bridge.pushes != 1 {
		t.Fatalf("expected borrow push, got %d", bridge.pushes)
	}

	// 20000 collateral at 0.7 adjusted threshold over 5000 debt.
	ratio, err := engine.HealthFactor(ctx, testUser)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	want := big.NewInt(2_800_000_000_000_000_000)
	if ratio.Cmp(want) != 0 {
		t.Fatalf("health factor = %s, want %s", ratio, want)
	}
	if Status(ratio) != StatusHealthy {
		t.Fatalf("status = %s, want healthy", Status(ratio))
	}
}

func TestBorrowTwiceSplitsSharesProportionally(t *testing.T) {
	engine, state, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	clock.advance(time.Hour)
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("second borrow: %v", err)
	}

	pool := state.pool
	if pool.TotalShares.Cmp(units(10_000, 18)) != 0 {
		t.Fatalf("total shares = %s, want %s", pool.TotalShares, units(10_000, 18))
	}
	if pool.MarketDebt.Cmp(units(10_000, 6)) != 0 {
		t.Fatalf("market debt = %s, want %s", pool.MarketDebt, units(10_000, 6))
	}
	if pool.DebtWithMarkup.Cmp(units(10_050, 6)) != 0 {
		t.Fatalf("debt with markup = %s, want %s", pool.DebtWithMarkup, units(10_050, 6))
	}

	market, total, err := engine.DebtOwed(ctx, testUser)
	if err != nil {
		t.Fatalf("DebtOwed: %v", err)
	}
	if market.Cmp(units(10_000, 6)) != 0 {
		t.Fatalf("market owed = %s, want %s", market, units(10_000, 6))
	}
	if total.Cmp(units(10_050, 6)) != 0 {
		t.Fatalf("total owed = %s, want %s", total, units(10_050, 6))
	}
}

func TestBorrowCapsAtMaxSafeBorrow(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	// Adjusted LTV is 65% of 20000 = 13000; requesting far more caps there.
	borrowed, err := engine.Borrow(ctx, testUser, units(50_000, 6))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if borrowed.Cmp(units(13_000, 6)) != 0 {
		t.Fatalf("borrowed = %s, want %s", borrowed, units(13_000, 6))
	}

	clock.advance(time.Hour)
	if _, err := engine.Borrow(ctx, testUser, big.NewInt(1)); !errors.Is(err, ErrAlreadyAtBreakingPoint) {
		t.Fatalf("follow-up borrow: got %v, want ErrAlreadyAtBreakingPoint", err)
	}
}

func TestBorrowRequiresCollateralAndEligibility(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Borrow(ctx, testUser, units(100, 6)); !errors.Is(err, ErrNoCollateralSupplied) {
		t.Fatalf("no collateral: got %v, want ErrNoCollateralSupplied", err)
	}

	if err := engine.Deposit(ctx, testUser, testCollateral, units(10, 18)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	// Cooldown is still open right after the deposit.
	if _, err := engine.Borrow(ctx, testUser, units(100, 6)); !errors.Is(err, ErrCoolDownActive) {
		t.Fatalf("inside cooldown: got %v, want ErrCoolDownActive", err)
	}
	// Eligibility begins exactly at expiry.
	clock.advance(time.Hour)
	if _, err := engine.Borrow(ctx, testUser, units(100, 6)); err != nil {
		t.Fatalf("at expiry: %v", err)
	}
}

func TestBorrowRespectsMarketLimits(t *testing.T) {
	engine, _, market, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	market.agg.AvailableBorrowUSD = usd8(1_000)
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); !errors.Is(err, ErrExceedsMaxBorrow) {
		t.Fatalf("got %v, want ErrExceedsMaxBorrow", err)
	}

	// Projected aggregate ratio of 20000*0.8/20000 = 0.8 is under the band.
	market.agg.AvailableBorrowUSD = usd8(25_000)
	market.agg.DebtUSD = usd8(15_000)
	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); !errors.Is(err, ErrRiskyHealthFactor) {
		t.Fatalf("got %v, want ErrRiskyHealthFactor", err)
	}
}

func TestRepayCapsAtTotalOwedAndAccruesSpread(t *testing.T) {
	engine, state, market, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	if _, err := engine.Borrow(ctx, testUser, units(10_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	repaid, err := engine.Repay(ctx, testUser, units(50_000, 6))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	// Total owed is 10000 plus the 0.5% markup.
	if repaid.Cmp(units(10_050, 6)) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, units(10_050, 6))
	}

	position := state.positions[testUser]
	if position.DebtShares.Sign() != 0 {
		t.Fatalf("debt shares = %s, want 0", position.DebtShares)
	}
	if state.pool.TotalShares.Sign() != 0 {
		t.Fatalf("pool shares = %s, want 0", state.pool.TotalShares)
	}
	if state.pool.MarketDebt.Sign() != 0 {
		t.Fatalf("market debt = %s, want 0", state.pool.MarketDebt)
	}
	// The 50 markup units stay behind as protocol revenue.
	if state.fees.BorrowAssetFees.Cmp(units(50, 6)) != 0 {
		t.Fatalf("spread revenue = %s, want %s", state.fees.BorrowAssetFees, units(50, 6))
	}
	if market.debt.Sign() != 0 {
		t.Fatalf("market debt balance = %s, want 0", market.debt)
	}
}

func TestRepayPartialBurnsProportionalShares(t *testing.T) {
	engine, state, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	if _, err := engine.Borrow(ctx, testUser, units(10_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	// 5025 gross splits into 5000 market and 25 spread at 0.5%.
	repaid, err := engine.Repay(ctx, testUser, units(5_025, 6))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if repaid.Cmp(units(5_025, 6)) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, units(5_025, 6))
	}
	if state.pool.MarketDebt.Cmp(units(5_000, 6)) != 0 {
		t.Fatalf("market debt = %s, want %s", state.pool.MarketDebt, units(5_000, 6))
	}
	if state.positions[testUser].DebtShares.Cmp(units(5_000, 18)) != 0 {
		t.Fatalf("debt shares = %s, want %s", state.positions[testUser].DebtShares, units(5_000, 18))
	}
	if state.fees.BorrowAssetFees.Cmp(units(25, 6)) != 0 {
		t.Fatalf("spread revenue = %s, want %s", state.fees.BorrowAssetFees, units(25, 6))
	}
}

func TestRepayWithoutDebtFails(t *testing.T) {
	engine, _, _, _, _, _ := newTestEngine(t)
	if _, err := engine.Repay(context.Background(), testUser, units(100, 6)); !errors.Is(err, ErrNoAssetBorrowed) {
		t.Fatalf("got %v, want ErrNoAssetBorrowed", err)
	}
}

func TestRedeemWithoutDebtReturnsFullBalance(t *testing.T) {
	engine, state, _, _, bridge, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	withdrawn, err := engine.Redeem(ctx, testUser, testCollateral, units(100, 18), false)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if withdrawn.Cmp(units(10, 18)) != 0 {
		t.Fatalf("withdrawn = %s, want %s", withdrawn, units(10, 18))
	}
	if got := state.positions[testUser].CollateralOf(testCollateral); got.Sign() != 0 {
		t.Fatalf("remaining collateral = %s, want 0", got)
	}
	if bridge.pushes != 1 {
		t.Fatalf("expected one push, got %d", bridge.pushes)
	}
}

func TestRedeemCapsAtSafeWithdrawal(t *testing.T) {
	engine, state, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	if _, err := engine.Borrow(ctx, testUser, units(5_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	clock.advance(time.Hour)

	// Headroom is 13000-5000 = 8000 USD, or 4 ETH at 2000.
	withdrawn, err := engine.Redeem(ctx, testUser, testCollateral, units(100, 18), false)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if withdrawn.Cmp(units(4, 18)) != 0 {
		t.Fatalf("withdrawn = %s, want %s", withdrawn, units(4, 18))
	}
	if got := state.positions[testUser].CollateralOf(testCollateral); got.Cmp(units(6, 18)) != 0 {
		t.Fatalf("remaining collateral = %s, want %s", got, units(6, 18))
	}
}

func TestRedeemBlockedWhenNoHeadroom(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	depositAndWait(t, engine, clock, testCollateral, units(10, 18))

	if _, err := engine.Borrow(ctx, testUser, units(13_000, 6)); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	clock.advance(time.Hour)

	if _, err := engine.Redeem(ctx, testUser, testCollateral, units(1, 18), false); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("got %v, want ErrBreaksHealthFactor", err)
	}
}

func TestRedeemRequiresCooldownAndBalance(t *testing.T) {
	engine, _, _, _, _, clock := newTestEngine(t)
	ctx := context.Background()

	if err := engine.Deposit(ctx, testUser, testCollateral, units(10, 18)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := engine.Redeem(ctx, testUser, testCollateral, units(1, 18), false); !errors.Is(err, ErrCoolDownActive) {
		t.Fatalf("inside cooldown: got %v, want ErrCoolDownActive", err)
	}
	clock.advance(time.Hour)
	if _, err := engine.Redeem(ctx, testUser, testWrappedToken, units(1, 18), false); !errors.Is(err, ErrNoCollateralSupplied) {
		t.Fatalf("no balance: got %v, want ErrNoCollateralSupplied", err)
	}
}

func TestRedeemNativeUnwraps(t *testing.T) {
	engine, _, _, _, bridge, clock := newTestEngine(t)
	ctx := context.Background()

	amount := units(3, 18)
	if err := engine.DepositNative(ctx, testUser, amount, amount); err != nil {
		t.Fatalf("DepositNative: %v", err)
	}
	clock.advance(time.Hour)

	withdrawn, err := engine.Redeem(ctx, testUser, testWrappedToken, amount, true)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if withdrawn.Cmp(amount) != 0 {
		t.Fatalf("withdrawn = %s, want %s", withdrawn, amount)
	}
	if bridge.unwraps != 1 {
		t.Fatalf("expected one unwrap, got %d", bridge.unwraps)
	}
	if bridge.pushes != 0 {
		t.Fatalf("expected no pushes for native redemption, got %d", bridge.pushes)
	}
}

func TestDebtOwedZeroWithoutShares(t *testing.T) {
	engine, _, market, _, _, _ := newTestEngine(t)
	market.debt = units(7_500, 6) // other debt at the market must not leak in

	owedMarket, owedTotal, err := engine.DebtOwed(context.Background(), testUser)
	if err != nil {
		t.Fatalf("DebtOwed: %v", err)
	}
	if owedMarket.Sign() != 0 || owedTotal.Sign() != 0 {
		t.Fatalf("owed = %s/%s, want 0/0", owedMarket, owedTotal)
	}
}
