// Package errs defines the settlement engine's error taxonomy.
//
// Every mutating entry point in the vault and the position book fails with
// exactly one of these sentinel kinds, wrapped with operation context via
// fmt.Errorf("...: %w", ...). Callers match with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress rejects the zero account and self-referential accounts.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidParameter rejects out-of-bounds configuration values.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidLeverage rejects leverage outside [1, max].
	ErrInvalidLeverage = errors.New("invalid leverage")

	// ErrExcessiveSlippage means the computed output is worse than the
	// caller-supplied bound.
	ErrExcessiveSlippage = errors.New("excessive slippage")

	// ErrWouldBreachCollateralization means the operation would push a
	// collateralization or margin ratio below its floor.
	ErrWouldBreachCollateralization = errors.New("would breach collateralization")

	// ErrWouldExceedLimit means the operation would overdraw a counter or
	// exceed a protocol capacity limit.
	ErrWouldExceedLimit = errors.New("would exceed limit")

	// ErrBelowThreshold means an amount is under a configured minimum floor.
	ErrBelowThreshold = errors.New("below threshold")

	// ErrNotAuthorized means the caller lacks the required role.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidCondition is a state-machine precondition failure: acting on
	// a non-active position, re-executing a completed action, and similar.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrOraclePriceInvalid means the price gateway reported a stale or
	// invalid quote.
	ErrOraclePriceInvalid = errors.New("oracle price invalid")

	// ErrPaused means the emergency pause is active.
	ErrPaused = errors.New("protocol paused")

	// ErrReentrancy means a nested call re-entered a guarded entry point.
	ErrReentrancy = errors.New("reentrant call")
)
