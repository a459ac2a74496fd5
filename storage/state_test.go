package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"cdpengine/native/cdp"
)

func TestStatePoolRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())

	pool, err := state.GetPool()
	require.NoError(t, err)
	require.Nil(t, pool)

	in := &cdp.DebtPool{
		TotalShares:    big.NewInt(1_000),
		MarketDebt:     big.NewInt(500),
		DebtWithMarkup: big.NewInt(505),
	}
	require.NoError(t, state.PutPool(in))

	out, err := state.GetPool()
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Zero(t, out.TotalShares.Cmp(in.TotalShares))
	require.Zero(t, out.MarketDebt.Cmp(in.MarketDebt))
	require.Zero(t, out.DebtWithMarkup.Cmp(in.DebtWithMarkup))

	require.Error(t, state.PutPool(nil))
}

func TestStatePositionRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())
	account := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	token := common.HexToAddress("0x00000000000000000000000000000000000000C1")

	missing, err := state.GetPosition(account)
	require.NoError(t, err)
	require.Nil(t, missing)

	in := &cdp.Position{
		Account: account,
		Collateral: []cdp.CollateralBalance{
			{Token: token, Amount: big.NewInt(42)},
		},
		DebtShares:     big.NewInt(7),
		CooldownExpiry: 1_700_000_000,
	}
	require.NoError(t, state.PutPosition(in))

	out, err := state.GetPosition(account)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, account, out.Account)
	require.Len(t, out.Collateral, 1)
	require.Zero(t, out.Collateral[0].Amount.Cmp(big.NewInt(42)))
	require.Zero(t, out.DebtShares.Cmp(big.NewInt(7)))
	require.Equal(t, uint64(1_700_000_000), out.CooldownExpiry)
}

func TestStateAssetIndex(t *testing.T) {
	state := NewState(NewMemDB())
	first := common.HexToAddress("0x00000000000000000000000000000000000000C1")
	second := common.HexToAddress("0x00000000000000000000000000000000000000C2")

	require.NoError(t, state.PutAsset(&cdp.CollateralAsset{
		Token: first, Symbol: "WETH", Decimals: 18, Supported: true, TotalSupplied: big.NewInt(0),
	}))
	require.NoError(t, state.PutAsset(&cdp.CollateralAsset{
		Token: second, Symbol: "WBTC", Decimals: 8, Supported: true, TotalSupplied: big.NewInt(0),
	}))

	// Rewriting an asset must not duplicate its index entry.
	require.NoError(t, state.PutAsset(&cdp.CollateralAsset{
		Token: first, Symbol: "WETH", Decimals: 18, Supported: true, Paused: true, TotalSupplied: big.NewInt(9),
	}))

	assets, err := state.ListAssets()
	require.NoError(t, err)
	require.Len(t, assets, 2)
	require.Equal(t, first, assets[0].Token)
	require.Equal(t, second, assets[1].Token)
	require.True(t, assets[0].Paused)
	require.Zero(t, assets[0].TotalSupplied.Cmp(big.NewInt(9)))

	asset, err := state.GetAsset(second)
	require.NoError(t, err)
	require.Equal(t, "WBTC", asset.Symbol)

	unknown, err := state.GetAsset(common.HexToAddress("0x00000000000000000000000000000000000000D9"))
	require.NoError(t, err)
	require.Nil(t, unknown)
}

func TestStateFeeAccrualRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())
	token := common.HexToAddress("0x00000000000000000000000000000000000000C1")

	in := &cdp.FeeAccrual{
		BorrowAssetFees: big.NewInt(50),
		Liquidation: []cdp.LiquidationRevenue{
			{Token: token, Amount: big.NewInt(9)},
		},
	}
	require.NoError(t, state.PutFeeAccrual(in))

	out, err := state.GetFeeAccrual()
	require.NoError(t, err)
	require.Zero(t, out.BorrowAssetFees.Cmp(big.NewInt(50)))
	require.Zero(t, out.LiquidationOf(token).Cmp(big.NewInt(9)))
}

func TestStateParamsRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())

	missing, err := state.GetParams()
	require.NoError(t, err)
	require.Nil(t, missing)

	in := &cdp.ProtocolParams{
		CooldownSeconds:   600,
		AprMarkupWad:      big.NewInt(5_000_000_000_000_000),
		LiquidationFeeWad: big.NewInt(10_000_000_000_000_000),
	}
	require.NoError(t, state.PutParams(in))

	out, err := state.GetParams()
	require.NoError(t, err)
	require.Equal(t, uint64(600), out.CooldownSeconds)
	require.Zero(t, out.AprMarkupWad.Cmp(in.AprMarkupWad))
	require.Zero(t, out.LiquidationFeeWad.Cmp(in.LiquidationFeeWad))
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	state := NewState(db)
	require.NoError(t, state.PutPool(&cdp.DebtPool{
		TotalShares:    big.NewInt(1),
		MarketDebt:     big.NewInt(2),
		DebtWithMarkup: big.NewInt(3),
	}))
	out, err := state.GetPool()
	require.NoError(t, err)
	require.Zero(t, out.MarketDebt.Cmp(big.NewInt(2)))
}
