package market

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*Bridge, *[]recordedCall) {
	t.Helper()
	server, calls := newRPCServer(t, nil)
	client, err := NewClient(Config{BaseURL: server.URL, AllowInsecure: true})
	require.NoError(t, err)
	return NewBridge(client), calls
}

func TestBridgePullAndPush(t *testing.T) {
	bridge, calls := newTestBridge(t)
	ctx := context.Background()
	account := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	require.NoError(t, bridge.Pull(ctx, token, account, big.NewInt(500)))
	require.NoError(t, bridge.Push(ctx, token, account, big.NewInt(300)))

	require.Len(t, *calls, 2)
	require.Equal(t, "bridge_pull", (*calls)[0].Method)
	var pull transferParams
	require.NoError(t, json.Unmarshal((*calls)[0].Params, &pull))
	require.Equal(t, token.Hex(), pull.Token)
	require.Equal(t, account.Hex(), pull.From)
	require.Equal(t, "500", pull.Amount)

	require.Equal(t, "bridge_push", (*calls)[1].Method)
	var push transferParams
	require.NoError(t, json.Unmarshal((*calls)[1].Params, &push))
	require.Equal(t, account.Hex(), push.To)
	require.Equal(t, "300", push.Amount)
}

func TestBridgeWrapAndUnwrap(t *testing.T) {
	bridge, calls := newTestBridge(t)
	ctx := context.Background()
	account := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	require.NoError(t, bridge.Wrap(ctx, big.NewInt(42)))
	require.NoError(t, bridge.Unwrap(ctx, account, big.NewInt(42)))

	require.Equal(t, "bridge_wrap", (*calls)[0].Method)
	var wrap transferParams
	require.NoError(t, json.Unmarshal((*calls)[0].Params, &wrap))
	require.Equal(t, "42", wrap.Amount)
	require.Empty(t, wrap.Token)

	require.Equal(t, "bridge_unwrap", (*calls)[1].Method)
	var unwrap transferParams
	require.NoError(t, json.Unmarshal((*calls)[1].Params, &unwrap))
	require.Equal(t, account.Hex(), unwrap.To)
}
