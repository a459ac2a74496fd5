package cdp

// assertEligible fails while the account's cooldown window is still open.
// Eligibility is granted exactly at expiry.
func (e *Engine) assertEligible(position *Position) error {
	if position == nil {
		return nil
	}
	if uint64(e.now().Unix()) < position.CooldownExpiry {
		return ErrCoolDownActive
	}
	return nil
}

// refreshCooldown resets, never extends, the account's cooldown window.
// Deposit and borrow refresh it; redeem and liquidate only require it so a
// withdrawal cannot re-lock itself.
func (e *Engine) refreshCooldown(position *Position, params *ProtocolParams) {
	if position == nil || params == nil {
		return
	}
	position.CooldownExpiry = uint64(e.now().Unix()) + params.CooldownSeconds
}
