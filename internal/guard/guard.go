// Package guard holds the flash-loan balance-delta check and the shared
// reentry flag used by the collateral vault and the position book.
package guard

// ValidateBalanceChange reports whether a balance transition is acceptable.
// Any increase is acceptable. A decrease is acceptable only while it does not
// exceed maxDecrease; a decrease of exactly maxDecrease passes.
func ValidateBalanceChange(before, after, maxDecrease int64) bool {
	if after >= before {
		return true
	}
	return before-after <= maxDecrease
}

// ReentryGuard is an explicit call-depth flag. One instance is shared by
// every cooperating entry point, so a callee that re-enters the protocol
// mid-transition is rejected even across components.
//
// Not safe for concurrent use; the settlement engine serializes top-level
// calls before the guard is consulted.
type ReentryGuard struct {
	entered bool
}

func NewReentryGuard() *ReentryGuard {
	return &ReentryGuard{}
}

// Enter marks the guard as held. Returns false when already held.
func (g *ReentryGuard) Enter() bool {
	if g.entered {
		return false
	}
	g.entered = true
	return true
}

// Exit releases the guard. Callers pair it with a successful Enter.
func (g *ReentryGuard) Exit() {
	g.entered = false
}

// Held reports whether a guarded call is in progress.
func (g *ReentryGuard) Held() bool {
	return g.entered
}
