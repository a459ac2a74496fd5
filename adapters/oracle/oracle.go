package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cdpengine/native/cdp"
)

// Caller performs a JSON-RPC request. The market transport client satisfies
// this; tests substitute a fake.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// GuardConfig bounds the quotes the adapter will accept.
type GuardConfig struct {
	// MaxAgeSeconds rejects observations older than this window. Zero
	// disables the staleness check.
	MaxAgeSeconds uint64
}

// Adapter resolves token prices from the upstream feed and enforces the
// configured guardrails. Prices are USD with 8-decimal scale; a zero, unset,
// or stale quote is an error, never a silent zero.
type Adapter struct {
	caller Caller
	guard  GuardConfig
	now    func() time.Time
}

// NewAdapter constructs the guarded price adapter.
func NewAdapter(caller Caller, guard GuardConfig) (*Adapter, error) {
	if caller == nil {
		return nil, fmt.Errorf("oracle: caller required")
	}
	return &Adapter{caller: caller, guard: guard, now: time.Now}, nil
}

var _ cdp.PriceOracle = (*Adapter)(nil)

// SetClock overrides the adapter clock. Tests use this to step staleness.
func (a *Adapter) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.now = now
}

type priceParams struct {
	Token string `json:"token"`
}

type priceResult struct {
	PriceUSD  string `json:"priceUsd"`
	Timestamp int64  `json:"timestamp"`
}

// Price resolves the latest USD quote for token.
func (a *Adapter) Price(ctx context.Context, token common.Address) (*big.Int, error) {
	if a == nil {
		return nil, fmt.Errorf("oracle: adapter not initialised")
	}
	var result priceResult
	if err := a.caller.Call(ctx, "oracle_price", priceParams{Token: token.Hex()}, &result); err != nil {
		return nil, err
	}
	price, ok := new(big.Int).SetString(result.PriceUSD, 10)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid price %q for %s", result.PriceUSD, token.Hex())
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: non-positive price for %s: %w", token.Hex(), cdp.ErrInvalidPrice)
	}
	if a.guard.MaxAgeSeconds > 0 {
		if result.Timestamp <= 0 {
			return nil, fmt.Errorf("oracle: missing observation timestamp for %s: %w", token.Hex(), cdp.ErrInvalidPrice)
		}
		if age := ageSeconds(time.Unix(result.Timestamp, 0), a.now()); age > a.guard.MaxAgeSeconds {
			return nil, fmt.Errorf("oracle: stale quote for %s: %w", token.Hex(), cdp.ErrInvalidPrice)
		}
	}
	return price, nil
}

func ageSeconds(observed, now time.Time) uint64 {
	observed = observed.UTC()
	now = now.UTC()
	if observed.After(now) {
		return 0
	}
	delta := now.Sub(observed)
	if delta <= 0 {
		return 0
	}
	return uint64(delta / time.Second)
}
