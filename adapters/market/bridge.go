package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpengine/native/cdp"
)

// Bridge drives the custodian's token movement endpoints. Transfers either
// settle fully or return an error; the engine aborts the surrounding
// operation on any failure.
type Bridge struct {
	client *Client
}

// NewBridge wraps a transport client.
func NewBridge(client *Client) *Bridge {
	return &Bridge{client: client}
}

var _ cdp.TokenBridge = (*Bridge)(nil)

type transferParams struct {
	Token  string `json:"token,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

func (b *Bridge) Pull(ctx context.Context, token, from common.Address, amount *big.Int) error {
	params := transferParams{Token: token.Hex(), From: from.Hex(), Amount: encodeAmount(amount)}
	return b.client.Call(ctx, "bridge_pull", params, nil)
}

func (b *Bridge) Push(ctx context.Context, token, to common.Address, amount *big.Int) error {
	params := transferParams{Token: token.Hex(), To: to.Hex(), Amount: encodeAmount(amount)}
	return b.client.Call(ctx, "bridge_push", params, nil)
}

func (b *Bridge) Wrap(ctx context.Context, amount *big.Int) error {
	params := transferParams{Amount: encodeAmount(amount)}
	return b.client.Call(ctx, "bridge_wrap", params, nil)
}

func (b *Bridge) Unwrap(ctx context.Context, to common.Address, amount *big.Int) error {
	params := transferParams{To: to.Hex(), Amount: encodeAmount(amount)}
	return b.client.Call(ctx, "bridge_unwrap", params, nil)
}
