package cdp

import (
	"context"
	"math/big"
)

// MarkupModel shapes the suggested protocol spread as a function of how
// leveraged the engine's aggregate market position is. It is advisory: the
// accounting always uses the fixed markup from ProtocolParams, the model
// only feeds the read-only suggestion surface.
type MarkupModel struct {
	// BaseMarkup is the minimum suggested spread at zero utilisation.
	BaseMarkup *big.Rat
	// Slope1 is the spread increase per unit of utilisation up to the kink.
	Slope1 *big.Rat
	// Slope2 governs the steeper increase beyond the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// NewMarkupModel constructs a markup model from decimal inputs, e.g. a 0.5%
// base markup is 0.005 and an 80% kink is 0.8.
func NewMarkupModel(base, slope1, slope2, kink float64) *MarkupModel {
	model := &MarkupModel{
		BaseMarkup: new(big.Rat),
		Slope1:     new(big.Rat),
		Slope2:     new(big.Rat),
		Kink:       new(big.Rat),
	}
	model.BaseMarkup.SetFloat64(base)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the model.
func (m *MarkupModel) Clone() *MarkupModel {
	if m == nil {
		return nil
	}
	clone := &MarkupModel{
		BaseMarkup: new(big.Rat),
		Slope1:     new(big.Rat),
		Slope2:     new(big.Rat),
		Kink:       new(big.Rat),
	}
	if m.BaseMarkup != nil {
		clone.BaseMarkup.Set(m.BaseMarkup)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Suggest derives the markup for a utilisation ratio, as a WAD fraction.
func (m *MarkupModel) Suggest(utilisation *big.Rat) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	rate := new(big.Rat)
	if m.BaseMarkup != nil {
		rate.Set(m.BaseMarkup)
	}
	if utilisation == nil || utilisation.Sign() <= 0 {
		return ratToWad(rate)
	}
	kink := new(big.Rat)
	if m.Kink != nil {
		kink.Set(m.Kink)
	}
	slope1 := new(big.Rat)
	if m.Slope1 != nil {
		slope1.Set(m.Slope1)
	}
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return ratToWad(rate.Add(rate, new(big.Rat).Mul(slope1, utilisation)))
	}
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	slope2 := new(big.Rat)
	if m.Slope2 != nil {
		slope2.Set(m.Slope2)
	}
	excess := new(big.Rat).Sub(utilisation, kink)
	return ratToWad(rate.Add(rate, new(big.Rat).Mul(slope2, excess)))
}

func ratToWad(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// SetMarkupModel wires the advisory markup curve.
func (e *Engine) SetMarkupModel(model *MarkupModel) {
	if e == nil {
		return
	}
	e.markupModel = model.Clone()
}

// SuggestedMarkup reports the markup the configured model recommends for the
// engine's current aggregate leverage at the external market. Without a
// model the current fixed markup is returned.
func (e *Engine) SuggestedMarkup(ctx context.Context) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	if e.markupModel == nil {
		return new(big.Int).Set(params.AprMarkupWad), nil
	}
	if e.market == nil {
		return nil, ErrNilMarket
	}
	agg, err := e.market.AggregatePosition(ctx, e.self)
	if err != nil {
		return nil, err
	}
	utilisation := new(big.Rat)
	if agg.CollateralUSD != nil && agg.CollateralUSD.Sign() > 0 && agg.DebtUSD != nil && agg.DebtUSD.Sign() > 0 {
		utilisation.SetFrac(agg.DebtUSD, agg.CollateralUSD)
	}
	suggested := e.markupModel.Suggest(utilisation)
	if suggested.Cmp(minAprMarkupWad) < 0 {
		suggested = new(big.Int).Set(minAprMarkupWad)
	}
	return suggested, nil
}
