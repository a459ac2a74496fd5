package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpengine/native/cdp"
)

// Adapter exposes the external lending market over the JSON-RPC client. All
// amounts cross the wire as base-10 strings to keep big integers lossless.
type Adapter struct {
	client *Client
}

// NewAdapter wraps a transport client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

var _ cdp.Market = (*Adapter)(nil)

type amountParams struct {
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
	To         string `json:"to,omitempty"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type aggregateResult struct {
	CollateralUSD           string `json:"collateralUsd"`
	DebtUSD                 string `json:"debtUsd"`
	AvailableBorrowUSD      string `json:"availableBorrowUsd"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LtvBps                  uint64 `json:"ltvBps"`
	HealthFactor            string `json:"healthFactor"`
}

type balanceParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type bonusResult struct {
	BonusBps uint64 `json:"bonusBps"`
}

func encodeAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func decodeAmount(field, value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("market adapter: invalid %s %q", field, value)
	}
	return parsed, nil
}

func (a *Adapter) Supply(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error {
	params := amountParams{Token: token.Hex(), Amount: encodeAmount(amount), OnBehalfOf: onBehalfOf.Hex()}
	return a.client.Call(ctx, "market_supply", params, nil)
}

func (a *Adapter) Withdraw(ctx context.Context, token common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	params := amountParams{Token: token.Hex(), Amount: encodeAmount(amount), To: to.Hex()}
	var result amountResult
	if err := a.client.Call(ctx, "market_withdraw", params, &result); err != nil {
		return nil, err
	}
	return decodeAmount("withdrawn amount", result.Amount)
}

func (a *Adapter) Borrow(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) error {
	params := amountParams{Token: token.Hex(), Amount: encodeAmount(amount), OnBehalfOf: onBehalfOf.Hex()}
	return a.client.Call(ctx, "market_borrow", params, nil)
}

func (a *Adapter) Repay(ctx context.Context, token common.Address, amount *big.Int, onBehalfOf common.Address) (*big.Int, error) {
	params := amountParams{Token: token.Hex(), Amount: encodeAmount(amount), OnBehalfOf: onBehalfOf.Hex()}
	var result amountResult
	if err := a.client.Call(ctx, "market_repay", params, &result); err != nil {
		return nil, err
	}
	return decodeAmount("repaid amount", result.Amount)
}

func (a *Adapter) AggregatePosition(ctx context.Context, who common.Address) (cdp.AggregatePosition, error) {
	var result aggregateResult
	params := balanceParams{Account: who.Hex()}
	if err := a.client.Call(ctx, "market_aggregatePosition", params, &result); err != nil {
		return cdp.AggregatePosition{}, err
	}
	collateral, err := decodeAmount("collateral usd", result.CollateralUSD)
	if err != nil {
		return cdp.AggregatePosition{}, err
	}
	debt, err := decodeAmount("debt usd", result.DebtUSD)
	if err != nil {
		return cdp.AggregatePosition{}, err
	}
	available, err := decodeAmount("available borrow usd", result.AvailableBorrowUSD)
	if err != nil {
		return cdp.AggregatePosition{}, err
	}
	health, err := decodeAmount("health factor", result.HealthFactor)
	if err != nil {
		return cdp.AggregatePosition{}, err
	}
	return cdp.AggregatePosition{
		CollateralUSD:           collateral,
		DebtUSD:                 debt,
		AvailableBorrowUSD:      available,
		LiquidationThresholdBps: result.LiquidationThresholdBps,
		LtvBps:                  result.LtvBps,
		HealthFactor:            health,
	}, nil
}

func (a *Adapter) ReserveDebtBalance(ctx context.Context, who, token common.Address) (*big.Int, error) {
	params := balanceParams{Account: who.Hex(), Token: token.Hex()}
	var result amountResult
	if err := a.client.Call(ctx, "market_reserveDebtBalance", params, &result); err != nil {
		return nil, err
	}
	return decodeAmount("debt balance", result.Amount)
}

func (a *Adapter) ReserveSupplyBalance(ctx context.Context, who, token common.Address) (*big.Int, error) {
	params := balanceParams{Account: who.Hex(), Token: token.Hex()}
	var result amountResult
	if err := a.client.Call(ctx, "market_reserveSupplyBalance", params, &result); err != nil {
		return nil, err
	}
	return decodeAmount("supply balance", result.Amount)
}

func (a *Adapter) ReserveLiquidationBonusBps(ctx context.Context, token common.Address) (uint64, error) {
	params := balanceParams{Token: token.Hex()}
	var result bonusResult
	if err := a.client.Call(ctx, "market_reserveLiquidationBonusBps", params, &result); err != nil {
		return 0, err
	}
	return result.BonusBps, nil
}
