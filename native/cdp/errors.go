package cdp

import "errors"

var (
	ErrNilState       = errors.New("cdp engine: state not configured")
	ErrNilMarket      = errors.New("cdp engine: market adapter not configured")
	ErrNilOracle      = errors.New("cdp engine: price oracle not configured")
	ErrNilTokenBridge = errors.New("cdp engine: token bridge not configured")

	ErrNeedsMoreThanZero = errors.New("cdp engine: amount must be positive")
	ErrZeroAddress       = errors.New("cdp engine: zero address")
	ErrTokenNotSupported = errors.New("cdp engine: token not supported")
	ErrTokenNotAllowed   = errors.New("cdp engine: token not allowed")
	ErrValueMismatch     = errors.New("cdp engine: attached value does not match amount")

	ErrCollateralActivityPaused = errors.New("cdp engine: collateral activity paused")
	ErrCollateralAlreadyPaused  = errors.New("cdp engine: collateral already paused")
	ErrCollateralNotPaused      = errors.New("cdp engine: collateral not paused")

	ErrCoolDownActive = errors.New("cdp engine: cooldown active")

	ErrNoCollateralSupplied         = errors.New("cdp engine: no collateral supplied")
	ErrNoAssetBorrowed              = errors.New("cdp engine: no asset borrowed")
	ErrUserNotLiquidatable          = errors.New("cdp engine: borrower not eligible for liquidation")
	ErrInsufficientCollateral       = errors.New("cdp engine: insufficient collateral to seize")
	ErrInsufficientAmountToWithdraw = errors.New("cdp engine: insufficient amount to withdraw")
	ErrAlreadyAtBreakingPoint       = errors.New("cdp engine: no remaining safe borrow capacity")
	ErrBreaksHealthFactor           = errors.New("cdp engine: health factor below 1")
	ErrExceedsMaxBorrow             = errors.New("cdp engine: exceeds market available borrow")
	ErrRiskyHealthFactor            = errors.New("cdp engine: aggregate position health too low")
	ErrInvalidPrice                 = errors.New("cdp engine: invalid oracle price")

	ErrBelowBaseApr       = errors.New("cdp engine: markup below base apr floor")
	ErrBelowMinimumFee    = errors.New("cdp engine: liquidation fee below floor")
	ErrExceedsMaxCoolDown = errors.New("cdp engine: cooldown exceeds maximum")
	ErrNotAdmin           = errors.New("cdp engine: caller is not the administrator")
)
