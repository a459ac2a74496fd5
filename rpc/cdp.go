package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"cdpengine/native/cdp"
	"cdpengine/observability"
)

// Module adapts the vault engine to the JSON-RPC surface. It owns parameter
// parsing and the engine metrics; all domain validation stays in the engine.
type Module struct {
	engine  *cdp.Engine
	metrics *observability.EngineMetrics
	now     func() time.Time
}

func NewModule(engine *cdp.Engine) *Module {
	return &Module{engine: engine, metrics: observability.Engine(), now: time.Now}
}

type txParams struct {
	Account string `json:"account"`
	Token   string `json:"token,omitempty"`
	Amount  string `json:"amount"`
	Value   string `json:"value,omitempty"`
	Native  bool   `json:"native,omitempty"`
}

type liquidateParams struct {
	Liquidator string `json:"liquidator"`
	Account    string `json:"account"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Native     bool   `json:"native,omitempty"`
}

type accountParams struct {
	Account string `json:"account"`
}

type registerParams struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type revenueWithdrawParams struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type settingParams struct {
	Seconds uint64 `json:"seconds,omitempty"`
	WadStr  string `json:"wad,omitempty"`
}

type txResult struct {
	TxHash string `json:"txHash"`
	Amount string `json:"amount,omitempty"`
}

type liquidateResult struct {
	TxHash string `json:"txHash"`
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

func parseAddress(field, value string) (common.Address, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidParams(fmt.Sprintf("invalid %s address", field))
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(fmt.Sprintf("%s is required", field))
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field))
	}
	return amount, nil
}

func (m *Module) Deposit(ctx context.Context, params txParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	err := m.engine.Deposit(ctx, account, token, amount)
	m.metrics.ObserveOperation("deposit", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.recordPool(ctx)
	return &txResult{TxHash: m.makeTxHash("deposit", params.Account, amount)}, nil
}

func (m *Module) DepositNative(ctx context.Context, params txParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	value, merr := parseAmount("value", params.Value)
	if merr != nil {
		return nil, merr
	}
	err := m.engine.DepositNative(ctx, account, amount, value)
	m.metrics.ObserveOperation("deposit_native", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.recordPool(ctx)
	return &txResult{TxHash: m.makeTxHash("deposit-native", params.Account, amount)}, nil
}

func (m *Module) Redeem(ctx context.Context, params txParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	withdrawn, err := m.engine.Redeem(ctx, account, token, amount, params.Native)
	m.metrics.ObserveOperation("redeem", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.recordPool(ctx)
	return &txResult{
		TxHash: m.makeTxHash("redeem", params.Account, amount, withdrawn),
		Amount: withdrawn.String(),
	}, nil
}

func (m *Module) Borrow(ctx context.Context, params txParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	borrowed, err := m.engine.Borrow(ctx, account, amount)
	m.metrics.ObserveOperation("borrow", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.recordPool(ctx)
	return &txResult{
		TxHash: m.makeTxHash("borrow", params.Account, amount, borrowed),
		Amount: borrowed.String(),
	}, nil
}

func (m *Module) Repay(ctx context.Context, params txParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	repaid, err := m.engine.Repay(ctx, account, amount)
	m.metrics.ObserveOperation("repay", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.recordPool(ctx)
	return &txResult{
		TxHash: m.makeTxHash("repay", params.Account, amount, repaid),
		Amount: repaid.String(),
	}, nil
}

func (m *Module) Liquidate(ctx context.Context, params liquidateParams) (*liquidateResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	liquidator, merr := parseAddress("liquidator", params.Liquidator)
	if merr != nil {
		return nil, merr
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	repaid, seized, err := m.engine.Liquidate(ctx, liquidator, account, token, amount, params.Native)
	m.metrics.ObserveOperation("liquidate", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.metrics.RecordLiquidation(params.Token, seized)
	m.recordPool(ctx)
	primary := fmt.Sprintf("%s:%s", params.Liquidator, params.Account)
	return &liquidateResult{
		TxHash: m.makeTxHash("liquidate", primary, repaid, seized),
		Repaid: repaid.String(),
		Seized: seized.String(),
	}, nil
}

type healthResult struct {
	HealthFactor string `json:"healthFactor"`
	Status       string `json:"status"`
}

func (m *Module) HealthFactor(ctx context.Context, params accountParams) (*healthResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	ratio, err := m.engine.HealthFactor(ctx, account)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &healthResult{HealthFactor: ratio.String(), Status: statusLabel(cdp.Status(ratio))}, nil
}

type debtResult struct {
	MarketDebt string `json:"marketDebt"`
	TotalDebt  string `json:"totalDebt"`
}

func (m *Module) DebtOwed(ctx context.Context, params accountParams) (*debtResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	market, total, err := m.engine.DebtOwed(ctx, account)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &debtResult{MarketDebt: market.String(), TotalDebt: total.String()}, nil
}

type collateralView struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type accountResult struct {
	Account        string           `json:"account"`
	Collateral     []collateralView `json:"collateral"`
	DebtShares     string           `json:"debtShares"`
	MarketDebtOwed string           `json:"marketDebtOwed"`
	TotalDebtOwed  string           `json:"totalDebtOwed"`
	HealthFactor   string           `json:"healthFactor"`
	Status         string           `json:"status"`
	CooldownExpiry uint64           `json:"cooldownExpiry"`
}

func (m *Module) Account(ctx context.Context, params accountParams) (*accountResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	view, err := m.engine.Account(ctx, account)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	result := &accountResult{
		Account:        view.Account.Hex(),
		Collateral:     make([]collateralView, 0, len(view.Collateral)),
		DebtShares:     view.DebtShares.String(),
		MarketDebtOwed: view.MarketDebtOwed.String(),
		TotalDebtOwed:  view.TotalDebtOwed.String(),
		HealthFactor:   view.HealthFactor.String(),
		Status:         statusLabel(view.Status),
		CooldownExpiry: view.CooldownExpiry,
	}
	for _, entry := range view.Collateral {
		result.Collateral = append(result.Collateral, collateralView{Token: entry.Token.Hex(), Amount: entry.Amount.String()})
	}
	return result, nil
}

type poolResult struct {
	TotalShares     string `json:"totalShares"`
	MarketDebt      string `json:"marketDebt"`
	DebtWithMarkup  string `json:"debtWithMarkup"`
	PlatformLtvWad  string `json:"platformLtvWad"`
	PlatformLltvWad string `json:"platformLltvWad"`
}

func (m *Module) Pool(ctx context.Context) (*poolResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	snapshot, err := m.engine.Pool(ctx)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	m.metrics.RecordPool(snapshot.TotalShares, snapshot.MarketDebt, snapshot.DebtWithMarkup)
	return &poolResult{
		TotalShares:     snapshot.TotalShares.String(),
		MarketDebt:      snapshot.MarketDebt.String(),
		DebtWithMarkup:  snapshot.DebtWithMarkup.String(),
		PlatformLtvWad:  snapshot.PlatformLtvWad.String(),
		PlatformLltvWad: snapshot.PlatformLltvWad.String(),
	}, nil
}

type assetResult struct {
	Token         string `json:"token"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	Supported     bool   `json:"supported"`
	Paused        bool   `json:"paused"`
	Native        bool   `json:"native"`
	TotalSupplied string `json:"totalSupplied"`
}

func (m *Module) Assets(ctx context.Context) ([]assetResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	assets, err := m.engine.Assets()
	if err != nil {
		return nil, wrapEngineError(err)
	}
	results := make([]assetResult, 0, len(assets))
	for _, asset := range assets {
		supplied := "0"
		if asset.TotalSupplied != nil {
			supplied = asset.TotalSupplied.String()
		}
		results = append(results, assetResult{
			Token:         asset.Token.Hex(),
			Symbol:        asset.Symbol,
			Decimals:      asset.Decimals,
			Supported:     asset.Supported,
			Paused:        asset.Paused,
			Native:        asset.Native,
			TotalSupplied: supplied,
		})
	}
	return results, nil
}

type liquidatableResult struct {
	Liquidatable bool `json:"liquidatable"`
}

func (m *Module) IsLiquidatable(ctx context.Context, params accountParams) (*liquidatableResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	account, merr := parseAddress("account", params.Account)
	if merr != nil {
		return nil, merr
	}
	eligible, err := m.engine.IsLiquidatable(ctx, account)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &liquidatableResult{Liquidatable: eligible}, nil
}

type markupResult struct {
	SuggestedMarkupWad string `json:"suggestedMarkupWad"`
}

func (m *Module) SuggestedMarkup(ctx context.Context) (*markupResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	markup, err := m.engine.SuggestedMarkup(ctx)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &markupResult{SuggestedMarkupWad: markup.String()}, nil
}

type revenueEntry struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type revenueResult struct {
	BorrowAssetFees string         `json:"borrowAssetFees"`
	Liquidation     []revenueEntry `json:"liquidation"`
}

func (m *Module) Revenue(ctx context.Context) (*revenueResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	fees, err := m.engine.RevenueBalances()
	if err != nil {
		return nil, wrapEngineError(err)
	}
	result := &revenueResult{BorrowAssetFees: fees.BorrowAssetFees.String()}
	for _, entry := range fees.Liquidation {
		amount := "0"
		if entry.Amount != nil {
			amount = entry.Amount.String()
		}
		result.Liquidation = append(result.Liquidation, revenueEntry{Token: entry.Token.Hex(), Amount: amount})
	}
	return result, nil
}

func (m *Module) WithdrawRevenue(ctx context.Context, params revenueWithdrawParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	to, merr := parseAddress("to", params.To)
	if merr != nil {
		return nil, merr
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	amount, merr := parseAmount("amount", params.Amount)
	if merr != nil {
		return nil, merr
	}
	err := m.engine.WithdrawRevenue(ctx, m.engine.Admin(), to, token, amount)
	m.metrics.ObserveOperation("withdraw_revenue", err)
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("withdraw-revenue", params.To, amount)}, nil
}

func (m *Module) RegisterCollateral(ctx context.Context, params registerParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	if strings.TrimSpace(params.Symbol) == "" {
		return nil, invalidParams("symbol is required")
	}
	if err := m.engine.RegisterCollateral(m.engine.Admin(), token, params.Symbol, params.Decimals); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("register-collateral", params.Token, nil)}, nil
}

func (m *Module) PauseCollateral(ctx context.Context, params tokenParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	if err := m.engine.PauseCollateral(m.engine.Admin(), token); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("pause-collateral", params.Token, nil)}, nil
}

func (m *Module) UnpauseCollateral(ctx context.Context, params tokenParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	token, merr := parseAddress("token", params.Token)
	if merr != nil {
		return nil, merr
	}
	if err := m.engine.UnpauseCollateral(m.engine.Admin(), token); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("unpause-collateral", params.Token, nil)}, nil
}

func (m *Module) Halt(ctx context.Context) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	if err := m.engine.Halt(m.engine.Admin()); err != nil {
		return nil, wrapEngineError(err)
	}
	m.metrics.SetPause(true)
	return &txResult{TxHash: m.makeTxHash("halt", "engine", nil)}, nil
}

func (m *Module) Resume(ctx context.Context) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	if err := m.engine.Resume(m.engine.Admin()); err != nil {
		return nil, wrapEngineError(err)
	}
	m.metrics.SetPause(false)
	return &txResult{TxHash: m.makeTxHash("resume", "engine", nil)}, nil
}

func (m *Module) SetCooldownPeriod(ctx context.Context, params settingParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	if err := m.engine.SetCooldownPeriod(m.engine.Admin(), params.Seconds); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("set-cooldown", fmt.Sprintf("%d", params.Seconds), nil)}, nil
}

func (m *Module) SetAprMarkup(ctx context.Context, params settingParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	markup, merr := parseAmount("wad", params.WadStr)
	if merr != nil {
		return nil, merr
	}
	if err := m.engine.SetAprMarkup(m.engine.Admin(), markup); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("set-apr-markup", markup.String(), nil)}, nil
}

func (m *Module) SetLiquidationFee(ctx context.Context, params settingParams) (*txResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	fee, merr := parseAmount("wad", params.WadStr)
	if merr != nil {
		return nil, merr
	}
	if err := m.engine.SetLiquidationFee(m.engine.Admin(), fee); err != nil {
		return nil, wrapEngineError(err)
	}
	return &txResult{TxHash: m.makeTxHash("set-liquidation-fee", fee.String(), nil)}, nil
}

type paramsResult struct {
	CooldownSeconds   uint64 `json:"cooldownSeconds"`
	AprMarkupWad      string `json:"aprMarkupWad"`
	LiquidationFeeWad string `json:"liquidationFeeWad"`
}

func (m *Module) Params(ctx context.Context) (*paramsResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, moduleUnavailable()
	}
	params, err := m.engine.Params()
	if err != nil {
		return nil, wrapEngineError(err)
	}
	return &paramsResult{
		CooldownSeconds:   params.CooldownSeconds,
		AprMarkupWad:      params.AprMarkupWad.String(),
		LiquidationFeeWad: params.LiquidationFeeWad.String(),
	}, nil
}

func statusLabel(status cdp.HealthStatus) string {
	switch status {
	case cdp.StatusLiquidatable:
		return "liquidatable"
	case cdp.StatusDanger:
		return "danger"
	default:
		return "healthy"
	}
}

// recordPool refreshes the pool gauges after a mutation. Gauge staleness is
// tolerable, so failures are ignored.
func (m *Module) recordPool(ctx context.Context) {
	snapshot, err := m.engine.Pool(ctx)
	if err != nil {
		return
	}
	m.metrics.RecordPool(snapshot.TotalShares, snapshot.MarketDebt, snapshot.DebtWithMarkup)
}

func (m *Module) makeTxHash(kind, primary string, amount *big.Int, extras ...*big.Int) string {
	parts := []string{kind, primary}
	if amount != nil {
		parts = append(parts, amount.String())
	}
	for _, extra := range extras {
		if extra != nil {
			parts = append(parts, extra.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", m.now().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}
