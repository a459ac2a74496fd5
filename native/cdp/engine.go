package cdp

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "cdpengine/native/common"
)

const moduleName = "cdp"

// engineState is the persistence boundary for the ledger records. All
// mutating operations load records, mutate clones, and persist only after
// every validation (including solvency postconditions) has passed.
type engineState interface {
	GetPool() (*DebtPool, error)
	PutPool(pool *DebtPool) error
	GetPosition(account common.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAsset(token common.Address) (*CollateralAsset, error)
	PutAsset(asset *CollateralAsset) error
	ListAssets() ([]*CollateralAsset, error)
	GetFeeAccrual() (*FeeAccrual, error)
	PutFeeAccrual(fees *FeeAccrual) error
	GetParams() (*ProtocolParams, error)
	PutParams(params *ProtocolParams) error
}

// Market is the external lending market consumed by the engine. It custodies
// supplied collateral and issued debt on the engine's behalf.
type Market interface {
	Supply(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, token common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	Borrow(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error
	Repay(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) (*big.Int, error)
	AggregatePosition(ctx context.Context, who common.Address) (AggregatePosition, error)
	ReserveDebtBalance(ctx context.Context, who, token common.Address) (*big.Int, error)
	ReserveSupplyBalance(ctx context.Context, who, token common.Address) (*big.Int, error)
	ReserveLiquidationBonusBps(ctx context.Context, token common.Address) (uint64, error)
}

// PriceOracle resolves a token to a USD price with 8-decimal scale. A zero or
// unset price is an error, never a silent zero.
type PriceOracle interface {
	Price(ctx context.Context, token common.Address) (*big.Int, error)
}

// TokenBridge abstracts the token movement primitives. Transfers either
// succeed fully or abort the calling operation.
type TokenBridge interface {
	Pull(ctx context.Context, token, from common.Address, amount *big.Int) error
	Push(ctx context.Context, token, to common.Address, amount *big.Int) error
	Wrap(ctx context.Context, amount *big.Int) error
	Unwrap(ctx context.Context, to common.Address, amount *big.Int) error
}

// Engine orchestrates the collateral vault, the debt share ledger, and the
// liquidation flow on top of the external market and oracle adapters.
type Engine struct {
	mu   sync.Mutex
	busy atomic.Bool

	state  engineState
	market Market
	oracle PriceOracle
	tokens TokenBridge
	pauses nativecommon.PauseView
	halted atomic.Bool

	self          common.Address
	admin         common.Address
	borrowToken   common.Address
	wrappedNative common.Address

	borrowDecimals uint8
	marketDecimals uint8

	// Platform ratios derived from the market's aggregate position, WAD
	// fractions. Refreshed before every solvency-sensitive read.
	platformLtvWad  *big.Int
	platformLltvWad *big.Int

	markupModel *MarkupModel

	now func() time.Time
}

// NewEngine constructs an engine from a validated configuration. State and
// adapters are wired afterwards via the setters.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		self:            cfg.engineAddress(),
		admin:           cfg.adminAddress(),
		borrowToken:     cfg.borrowToken(),
		wrappedNative:   cfg.wrappedNative(),
		borrowDecimals:  cfg.BorrowDecimals,
		marketDecimals:  cfg.MarketDebtDecimals,
		platformLtvWad:  big.NewInt(0),
		platformLltvWad: big.NewInt(0),
		now:             time.Now,
	}, nil
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetMarket wires the external lending market adapter.
func (e *Engine) SetMarket(market Market) { e.market = market }

// SetOracle wires the price oracle adapter.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetTokenBridge wires the token movement primitives.
func (e *Engine) SetTokenBridge(tokens TokenBridge) { e.tokens = tokens }

// SetPauses wires the operator pause view consulted on every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the engine clock. Tests use this to step the cooldown.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// BorrowToken returns the configured borrow asset identifier.
func (e *Engine) BorrowToken() common.Address { return e.borrowToken }

// Admin returns the configured administrator identity.
func (e *Engine) Admin() common.Address { return e.admin }

// lock serialises engine entry points, mutations and ratio-refreshing
// queries alike, and flags the engine busy for the duration of the call. The
// returned release runs on every exit path.
func (e *Engine) lock() func() {
	e.mu.Lock()
	e.busy.Store(true)
	return func() {
		e.busy.Store(false)
		e.mu.Unlock()
	}
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.market == nil {
		return ErrNilMarket
	}
	if e.oracle == nil {
		return ErrNilOracle
	}
	if e.tokens == nil {
		return ErrNilTokenBridge
	}
	if e.halted.Load() {
		return nativecommon.ErrModulePaused
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// Deposit locks collateral for an account, forwards it to the external
// market, and resets the account cooldown.
func (e *Engine) Deposit(ctx context.Context, account, token common.Address, amount *big.Int) error {
	release := e.lock()
	defer release()
	return e.deposit(ctx, account, token, amount, false)
}

// DepositNative accepts the chain's native asset, wraps it into the market's
// accepted representation, and supplies it as collateral. The attached value
// must equal amount exactly.
func (e *Engine) DepositNative(ctx context.Context, account common.Address, amount, attachedValue *big.Int) error {
	release := e.lock()
	defer release()
	if attachedValue == nil || amount == nil || attachedValue.Cmp(amount) != 0 {
		return ErrValueMismatch
	}
	return e.deposit(ctx, account, e.wrappedNative, amount, true)
}

func (e *Engine) deposit(ctx context.Context, account, token common.Address, amount *big.Int, native bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNeedsMoreThanZero
	}
	asset, err := e.requireActiveAsset(token)
	if err != nil {
		return err
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return err
	}

	if native {
		if err := e.tokens.Wrap(ctx, amount); err != nil {
			return err
		}
	} else {
		if err := e.tokens.Pull(ctx, token, account, amount); err != nil {
			return err
		}
	}
	if err := e.market.Supply(ctx, token, amount, e.self); err != nil {
		return err
	}

	position.setCollateral(token, new(big.Int).Add(position.CollateralOf(token), amount))
	e.refreshCooldown(position, params)
	asset.TotalSupplied = new(big.Int).Add(asset.TotalSupplied, amount)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutAsset(asset)
}

// Redeem withdraws collateral back to the account. The requested amount is
// capped at the account's max-safe-withdraw so "redeem everything" can be
// expressed as a very large number; the resulting position is re-validated.
func (e *Engine) Redeem(ctx context.Context, account, token common.Address, amount *big.Int, wantNative bool) (*big.Int, error) {
	release := e.lock()
	defer release()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrNeedsMoreThanZero
	}
	asset, err := e.requireActiveAsset(token)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	if err := e.assertEligible(position); err != nil {
		return nil, err
	}
	if position.CollateralOf(token).Sign() == 0 {
		return nil, ErrNoCollateralSupplied
	}

	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return nil, err
	}
	cap, err := e.maxSafeWithdraw(ctx, position, asset, pool)
	if err != nil {
		return nil, err
	}
	if cap.Sign() == 0 {
		return nil, ErrBreaksHealthFactor
	}
	amount = minBig(amount, cap)

	withdrawn, err := e.market.Withdraw(ctx, token, amount, e.self)
	if err != nil {
		return nil, err
	}
	if withdrawn == nil || withdrawn.Sign() <= 0 {
		return nil, ErrInsufficientAmountToWithdraw
	}
	if withdrawn.Cmp(amount) > 0 {
		withdrawn = new(big.Int).Set(amount)
	}
	if wantNative && asset.Native {
		if err := e.tokens.Unwrap(ctx, account, withdrawn); err != nil {
			return nil, err
		}
	} else {
		if err := e.tokens.Push(ctx, token, account, withdrawn); err != nil {
			return nil, err
		}
	}

	position.setCollateral(token, new(big.Int).Sub(position.CollateralOf(token), withdrawn))
	asset.TotalSupplied = new(big.Int).Sub(asset.TotalSupplied, withdrawn)

	// Defense in depth: the cap already respects LTV, re-check the
	// liquidation boundary on the mutated position.
	if err := e.assertSolvent(ctx, position, pool); err != nil {
		return nil, err
	}

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutAsset(asset); err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// Borrow issues the borrow asset against the account's collateral. The
// requested amount is capped at the account's max safe borrow; shares are
// minted proportionally to the pool's current debt.
func (e *Engine) Borrow(ctx context.Context, account common.Address, amountRequested *big.Int) (*big.Int, error) {
	release := e.lock()
	defer release()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amountRequested == nil || amountRequested.Sign() <= 0 {
		return nil, ErrNeedsMoreThanZero
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	if err := e.assertEligible(position); err != nil {
		return nil, err
	}
	if !position.HasCollateral() {
		return nil, ErrNoCollateralSupplied
	}

	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.refreshPlatformRatios(ctx); err != nil {
		return nil, err
	}

	capUsd, err := e.maxSafeBorrow(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	borrowPrice, err := e.price(ctx, e.borrowToken)
	if err != nil {
		return nil, err
	}
	capAmount := usdToAmount(capUsd, e.borrowDecimals, borrowPrice)
	if capAmount.Sign() == 0 {
		return nil, ErrAlreadyAtBreakingPoint
	}
	amount := minBig(amountRequested, capAmount)

	if err := e.preValidateBorrow(ctx, amount, borrowPrice); err != nil {
		return nil, err
	}

	shares := sharesFromAmount(amount, pool, e.borrowDecimals, e.marketDecimals)
	position.DebtShares = new(big.Int).Add(position.DebtShares, shares)
	pool.TotalShares = new(big.Int).Add(pool.TotalShares, shares)
	pool.MarketDebt = new(big.Int).Add(pool.MarketDebt, rescale(amount, e.borrowDecimals, e.marketDecimals))
	pool.DebtWithMarkup = applyMarkup(pool.MarketDebt, params.AprMarkupWad)

	if err := e.market.Borrow(ctx, e.borrowToken, amount, e.self); err != nil {
		return nil, err
	}
	if err := e.tokens.Push(ctx, e.borrowToken, account, amount); err != nil {
		return nil, err
	}

	if err := e.assertSolvent(ctx, position, pool); err != nil {
		return nil, err
	}
	e.refreshCooldown(position, params)

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amount, nil
}

// preValidateBorrow rejects a borrow that would exceed the external market's
// available-borrow limit or push the engine's aggregate position into the
// risky band.
func (e *Engine) preValidateBorrow(ctx context.Context, amount, borrowPrice *big.Int) error {
	agg, err := e.market.AggregatePosition(ctx, e.self)
	if err != nil {
		return err
	}
	borrowUsd := usdValue(amount, e.borrowDecimals, borrowPrice)
	availUsd := usd8ToWad(agg.AvailableBorrowUSD)
	if borrowUsd.Cmp(availUsd) > 0 {
		return ErrExceedsMaxBorrow
	}
	debtUsd := usd8ToWad(agg.DebtUSD)
	projected := new(big.Int).Add(debtUsd, borrowUsd)
	if projected.Sign() == 0 {
		return nil
	}
	collUsd := usd8ToWad(agg.CollateralUSD)
	adjusted := new(big.Int).Mul(collUsd, bpsToWad(agg.LiquidationThresholdBps))
	adjusted.Quo(adjusted, wad)
	ratio := new(big.Int).Mul(adjusted, wad)
	ratio.Quo(ratio, projected)
	if ratio.Cmp(aggregateRiskBandWad) < 0 {
		return ErrRiskyHealthFactor
	}
	return nil
}

// Repay settles debt for an account. The amount is capped at the account's
// total owed (market share plus protocol markup); the markup portion is
// retained as protocol revenue and the rest is forwarded to the market.
func (e *Engine) Repay(ctx context.Context, account common.Address, amountRequested *big.Int) (*big.Int, error) {
	release := e.lock()
	defer release()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amountRequested == nil || amountRequested.Sign() <= 0 {
		return nil, ErrNeedsMoreThanZero
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	if position.DebtShares.Sign() == 0 {
		return nil, ErrNoAssetBorrowed
	}

	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, err
	}
	_, owedTotal := e.owed(position, pool)
	amount := minBig(amountRequested, owedTotal)
	if amount.Sign() == 0 {
		return nil, ErrNoAssetBorrowed
	}
	fullRepayment := amount.Cmp(owedTotal) == 0

	marketCut, protocolCut := splitFee(amount, params.AprMarkupWad)

	burned := sharesFromAmount(marketCut, pool, e.borrowDecimals, e.marketDecimals)
	if fullRepayment || burned.Cmp(position.DebtShares) > 0 {
		burned = new(big.Int).Set(position.DebtShares)
	}

	if err := e.tokens.Pull(ctx, e.borrowToken, account, amount); err != nil {
		return nil, err
	}
	if _, err := e.market.Repay(ctx, e.borrowToken, marketCut, e.self); err != nil {
		return nil, err
	}

	position.DebtShares = new(big.Int).Sub(position.DebtShares, burned)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, burned)
	pool.MarketDebt = new(big.Int).Sub(pool.MarketDebt, rescale(marketCut, e.borrowDecimals, e.marketDecimals))
	if pool.MarketDebt.Sign() < 0 {
		pool.MarketDebt = big.NewInt(0)
	}
	pool.DebtWithMarkup = applyMarkup(pool.MarketDebt, params.AprMarkupWad)

	fees, err := e.ensureFeeAccrual()
	if err != nil {
		return nil, err
	}
	fees.BorrowAssetFees = new(big.Int).Add(fees.BorrowAssetFees, protocolCut)

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutFeeAccrual(fees); err != nil {
		return nil, err
	}
	return amount, nil
}

// DebtOwed refreshes the pool from the market and reports the account's
// market-debt portion and its total owed including the protocol markup. Both
// are zero when the account holds no shares.
func (e *Engine) DebtOwed(ctx context.Context, account common.Address) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if e.market == nil {
		return nil, nil, ErrNilMarket
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, nil, err
	}
	pool, err := e.syncPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	marketPortion, totalPortion := e.owed(position, pool)
	return marketPortion, totalPortion, nil
}

// owed converts the position's shares into borrow-asset amounts against the
// current pool balances. A position with no shares owes nothing; this is the
// canonical "no debt" sentinel and avoids division by zero.
func (e *Engine) owed(position *Position, pool *DebtPool) (*big.Int, *big.Int) {
	if position == nil || position.DebtShares == nil || position.DebtShares.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	market := amountFromShares(position.DebtShares, pool.MarketDebt, pool.TotalShares, e.borrowDecimals, e.marketDecimals)
	total := amountFromShares(position.DebtShares, pool.DebtWithMarkup, pool.TotalShares, e.borrowDecimals, e.marketDecimals)
	return market, total
}

// syncPool mirrors the market's owed balance into the pool record and
// re-derives the marked-up total.
func (e *Engine) syncPool(ctx context.Context) (*DebtPool, error) {
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	debt, err := e.market.ReserveDebtBalance(ctx, e.self, e.borrowToken)
	if err != nil {
		return nil, err
	}
	if debt == nil {
		debt = big.NewInt(0)
	}
	pool.MarketDebt = new(big.Int).Set(debt)
	pool.DebtWithMarkup = applyMarkup(pool.MarketDebt, params.AprMarkupWad)
	return pool, nil
}

func (e *Engine) price(ctx context.Context, token common.Address) (*big.Int, error) {
	price, err := e.oracle.Price(ctx, token)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// requireActiveAsset loads a collateral asset and enforces allow-listing and
// the asset-level pause flag.
func (e *Engine) requireActiveAsset(token common.Address) (*CollateralAsset, error) {
	if token == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	asset, err := e.state.GetAsset(token)
	if err != nil {
		return nil, err
	}
	if asset == nil || !asset.Supported {
		return nil, ErrTokenNotSupported
	}
	if asset.Paused {
		return nil, ErrCollateralActivityPaused
	}
	if asset.TotalSupplied == nil {
		asset.TotalSupplied = big.NewInt(0)
	}
	return asset, nil
}

func (e *Engine) ensurePosition(account common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.state.GetPosition(account)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Account: account}
	}
	if position.DebtShares == nil {
		position.DebtShares = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensurePool() (*DebtPool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &DebtPool{}
	}
	if pool.TotalShares == nil {
		pool.TotalShares = big.NewInt(0)
	}
	if pool.MarketDebt == nil {
		pool.MarketDebt = big.NewInt(0)
	}
	if pool.DebtWithMarkup == nil {
		pool.DebtWithMarkup = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) ensureFeeAccrual() (*FeeAccrual, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	fees, err := e.state.GetFeeAccrual()
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.BorrowAssetFees == nil {
		fees.BorrowAssetFees = big.NewInt(0)
	}
	return fees, nil
}

func (e *Engine) ensureParams() (*ProtocolParams, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.state.GetParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &ProtocolParams{CooldownSeconds: 3_600}
	}
	if params.AprMarkupWad == nil {
		params.AprMarkupWad = new(big.Int).Set(minAprMarkupWad)
	}
	if params.LiquidationFeeWad == nil {
		params.LiquidationFeeWad = new(big.Int).Set(minLiquidationFeeWad)
	}
	return params, nil
}
