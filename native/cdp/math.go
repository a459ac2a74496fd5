package cdp

import "math/big"

var (
	wad         = mustBigInt("1000000000000000000") // 1e18 share and ratio precision
	usdScale    = big.NewInt(100_000_000)           // oracle 8-decimal USD scale
	basisPoints = big.NewInt(10_000)

	// maxHealthFactor is the sentinel returned for positions with no debt.
	maxHealthFactor = new(big.Int).Lsh(big.NewInt(1), 128)
)

const (
	shareDecimals = 18
	// safetyMarginBps is subtracted from the market's liquidation threshold
	// and LTV so the engine's aggregate position never reaches the market's
	// own liquidation boundary.
	safetyMarginBps = 1_000
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// rescale converts amount between decimal precisions, rounding down.
func rescale(amount *big.Int, from, to uint8) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	if from == to {
		return new(big.Int).Set(amount)
	}
	if to > from {
		return new(big.Int).Mul(amount, pow10(to-from))
	}
	return new(big.Int).Quo(amount, pow10(from-to))
}

// sharesFromAmount converts a borrow-asset amount into debt shares at the
// pool's current share price. The division rounds down so minting always
// favours the pool. An empty pool prices shares one-to-one with the amount
// rescaled to share precision.
func sharesFromAmount(amount *big.Int, pool *DebtPool, borrowDecimals, marketDecimals uint8) *big.Int {
	if amount == nil || amount.Sign() <= 0 || pool == nil {
		return big.NewInt(0)
	}
	if pool.TotalShares == nil || pool.TotalShares.Sign() == 0 {
		return rescale(amount, borrowDecimals, shareDecimals)
	}
	if pool.MarketDebt == nil || pool.MarketDebt.Sign() == 0 {
		return rescale(amount, borrowDecimals, shareDecimals)
	}
	num := new(big.Int).Mul(amount, pool.TotalShares)
	num.Mul(num, pow10(marketDecimals))
	den := new(big.Int).Mul(pool.MarketDebt, pow10(borrowDecimals))
	return num.Quo(num, den)
}

// amountFromShares converts debt shares back into debt units against the
// supplied pool balance (market debt or debt with markup), rounding down.
func amountFromShares(shares, poolDebt, totalShares *big.Int, borrowDecimals, marketDecimals uint8) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	if poolDebt == nil || poolDebt.Sign() == 0 || totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(shares, poolDebt)
	num.Mul(num, pow10(marketDecimals))
	den := new(big.Int).Mul(totalShares, pow10(borrowDecimals))
	return num.Quo(num, den)
}

// applyMarkup scales amount by 1 + markup (a WAD fraction), rounding down.
func applyMarkup(amount, markupWad *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	if markupWad == nil || markupWad.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	factor := new(big.Int).Add(wad, markupWad)
	scaled := new(big.Int).Mul(amount, factor)
	return scaled.Quo(scaled, wad)
}

// splitFee removes a WAD-fraction fee that was layered multiplicatively on
// top of base units: base = amount * 1e18 / (1e18 + fee), cut = amount - base.
// Used for both the repayment spread and the liquidation fee so the fee is
// recovered exactly from a marked-up amount.
func splitFee(amount, feeWad *big.Int) (base, cut *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if feeWad == nil || feeWad.Sign() == 0 {
		return new(big.Int).Set(amount), big.NewInt(0)
	}
	den := new(big.Int).Add(wad, feeWad)
	base = new(big.Int).Mul(amount, wad)
	base.Quo(base, den)
	cut = new(big.Int).Sub(amount, base)
	return base, cut
}

// usdValue converts a token amount into WAD-precision USD using an 8-decimal
// oracle price.
func usdValue(amount *big.Int, decimals uint8, price *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, wad)
	den := new(big.Int).Mul(pow10(decimals), usdScale)
	return num.Quo(num, den)
}

// usdToAmount converts a WAD-precision USD value back into token units at an
// 8-decimal oracle price, rounding down.
func usdToAmount(usdWad *big.Int, decimals uint8, price *big.Int) *big.Int {
	if usdWad == nil || usdWad.Sign() == 0 || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(usdWad, pow10(decimals))
	num.Mul(num, usdScale)
	den := new(big.Int).Mul(price, wad)
	return num.Quo(num, den)
}

// usd8ToWad lifts an 8-decimal USD figure to WAD precision.
func usd8ToWad(usd *big.Int) *big.Int {
	if usd == nil || usd.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(usd, wad)
	return scaled.Quo(scaled, usdScale)
}

// bpsToWad converts a basis-point percentage into a WAD fraction.
func bpsToWad(bps uint64) *big.Int {
	v := new(big.Int).SetUint64(bps)
	v.Mul(v, wad)
	return v.Quo(v, basisPoints)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
