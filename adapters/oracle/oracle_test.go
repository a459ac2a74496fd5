package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"cdpengine/native/cdp"
)

type fakeCaller struct {
	price     string
	timestamp int64
	err       error
	method    string
}

func (c *fakeCaller) Call(ctx context.Context, method string, params any, result any) error {
	c.method = method
	if c.err != nil {
		return c.err
	}
	payload, _ := json.Marshal(map[string]any{"priceUsd": c.price, "timestamp": c.timestamp})
	return json.Unmarshal(payload, result)
}

var token = common.HexToAddress("0x00000000000000000000000000000000000000C1")

func TestPriceReturnsFreshQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	caller := &fakeCaller{price: "200000000000", timestamp: now.Unix() - 30}
	adapter, err := NewAdapter(caller, GuardConfig{MaxAgeSeconds: 60})
	require.NoError(t, err)
	adapter.SetClock(func() time.Time { return now })

	price, err := adapter.Price(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "200000000000", price.String())
	require.Equal(t, "oracle_price", caller.method)
}

func TestPriceRejectsStaleQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	caller := &fakeCaller{price: "200000000000", timestamp: now.Unix() - 61}
	adapter, err := NewAdapter(caller, GuardConfig{MaxAgeSeconds: 60})
	require.NoError(t, err)
	adapter.SetClock(func() time.Time { return now })

	_, err = adapter.Price(context.Background(), token)
	require.ErrorIs(t, err, cdp.ErrInvalidPrice)
	require.Contains(t, err.Error(), "stale")
}

func TestPriceAcceptsBoundaryAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	caller := &fakeCaller{price: "100000000", timestamp: now.Unix() - 60}
	adapter, err := NewAdapter(caller, GuardConfig{MaxAgeSeconds: 60})
	require.NoError(t, err)
	adapter.SetClock(func() time.Time { return now })

	_, err = adapter.Price(context.Background(), token)
	require.NoError(t, err)
}

func TestPriceToleratesFutureTimestamp(t *testing.T) {
	// Clock skew between the feed and the service must not reject a quote.
	now := time.Unix(1_700_000_000, 0)
	caller := &fakeCaller{price: "100000000", timestamp: now.Unix() + 10}
	adapter, err := NewAdapter(caller, GuardConfig{MaxAgeSeconds: 60})
	require.NoError(t, err)
	adapter.SetClock(func() time.Time { return now })

	_, err = adapter.Price(context.Background(), token)
	require.NoError(t, err)
}

func TestPriceRejectsMissingTimestamp(t *testing.T) {
	caller := &fakeCaller{price: "100000000", timestamp: 0}
	adapter, err := NewAdapter(caller, GuardConfig{MaxAgeSeconds: 60})
	require.NoError(t, err)

	_, err = adapter.Price(context.Background(), token)
	require.ErrorIs(t, err, cdp.ErrInvalidPrice)
}

func TestPriceSkipsStalenessWhenDisabled(t *testing.T) {
	caller := &fakeCaller{price: "100000000", timestamp: 0}
	adapter, err := NewAdapter(caller, GuardConfig{})
	require.NoError(t, err)

	_, err = adapter.Price(context.Background(), token)
	require.NoError(t, err)
}

func TestPriceRejectsNonPositive(t *testing.T) {
	for _, raw := range []string{"0", "-5"} {
		caller := &fakeCaller{price: raw, timestamp: time.Now().Unix()}
		adapter, err := NewAdapter(caller, GuardConfig{})
		require.NoError(t, err)

		_, err = adapter.Price(context.Background(), token)
		require.ErrorIs(t, err, cdp.ErrInvalidPrice)
	}
}

func TestPriceRejectsMalformed(t *testing.T) {
	caller := &fakeCaller{price: "2.5e8", timestamp: time.Now().Unix()}
	adapter, err := NewAdapter(caller, GuardConfig{})
	require.NoError(t, err)

	_, err = adapter.Price(context.Background(), token)
	require.Error(t, err)
}

func TestPricePropagatesTransportError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection refused")}
	adapter, err := NewAdapter(caller, GuardConfig{})
	require.NoError(t, err)

	_, err = adapter.Price(context.Background(), token)
	require.ErrorContains(t, err, "connection refused")
}

func TestNewAdapterRequiresCaller(t *testing.T) {
	_, err := NewAdapter(nil, GuardConfig{})
	require.Error(t, err)
}
