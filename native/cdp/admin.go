package cdp

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Administrative entry points. All are gated on the configured administrator
// identity and are not subject to the cooldown.

func (e *Engine) requireAdmin(caller common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if caller != e.admin {
		return ErrNotAdmin
	}
	return nil
}

// RegisterCollateral allow-lists a collateral token. Registering an existing
// token refreshes its metadata and re-enables it; assets are never removed,
// only paused.
func (e *Engine) RegisterCollateral(caller, token common.Address, symbol string, decimals uint8) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	asset, err := e.state.GetAsset(token)
	if err != nil {
		return err
	}
	if asset == nil {
		asset = &CollateralAsset{Token: token, TotalSupplied: big.NewInt(0)}
	}
	asset.Symbol = strings.TrimSpace(symbol)
	asset.Decimals = decimals
	asset.Supported = true
	asset.Native = token == e.wrappedNative
	if asset.TotalSupplied == nil {
		asset.TotalSupplied = big.NewInt(0)
	}
	return e.state.PutAsset(asset)
}

// PauseCollateral disables deposits and redemptions for one asset.
func (e *Engine) PauseCollateral(caller, token common.Address) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	asset, err := e.state.GetAsset(token)
	if err != nil {
		return err
	}
	if asset == nil || !asset.Supported {
		return ErrTokenNotSupported
	}
	if asset.Paused {
		return ErrCollateralAlreadyPaused
	}
	asset.Paused = true
	return e.state.PutAsset(asset)
}

// UnpauseCollateral re-enables a paused asset.
func (e *Engine) UnpauseCollateral(caller, token common.Address) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	asset, err := e.state.GetAsset(token)
	if err != nil {
		return err
	}
	if asset == nil || !asset.Supported {
		return ErrTokenNotSupported
	}
	if !asset.Paused {
		return ErrCollateralNotPaused
	}
	asset.Paused = false
	return e.state.PutAsset(asset)
}

// Halt atomically disables every mutating entry point.
func (e *Engine) Halt(caller common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.halted.Store(true)
	return nil
}

// Resume re-enables mutating entry points.
func (e *Engine) Resume(caller common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.halted.Store(false)
	return nil
}

// Halted reports whether the engine-wide pause flag is set.
func (e *Engine) Halted() bool {
	if e == nil {
		return false
	}
	return e.halted.Load()
}

// SetCooldownPeriod updates the mutation cooldown, capped at the fixed
// maximum.
func (e *Engine) SetCooldownPeriod(caller common.Address, seconds uint64) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if seconds > maxCooldownSeconds {
		return ErrExceedsMaxCoolDown
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.CooldownSeconds = seconds
	return e.state.PutParams(params)
}

// SetAprMarkup updates the protocol spread, floored at the base APR.
func (e *Engine) SetAprMarkup(caller common.Address, markupWad *big.Int) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if markupWad == nil || markupWad.Cmp(minAprMarkupWad) < 0 {
		return ErrBelowBaseApr
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.AprMarkupWad = new(big.Int).Set(markupWad)
	return e.state.PutParams(params)
}

// SetLiquidationFee updates the protocol cut of seized collateral, floored.
func (e *Engine) SetLiquidationFee(caller common.Address, feeWad *big.Int) error {
	release := e.lock()
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if feeWad == nil || feeWad.Cmp(minLiquidationFeeWad) < 0 {
		return ErrBelowMinimumFee
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.LiquidationFeeWad = new(big.Int).Set(feeWad)
	return e.state.PutParams(params)
}

// Params reports the current mutable protocol parameters.
func (e *Engine) Params() (*ProtocolParams, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}
