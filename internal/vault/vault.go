// Package vault implements the collateral ledger: reserve-asset deposits
// minting a pegged synthetic unit, redemptions burning it, and the global
// collateralization floor that every state change must respect.
package vault

import (
	"fmt"

	"github.com/google/uuid"

	"PegVault/internal/access"
	"PegVault/internal/errs"
	"PegVault/internal/guard"
	"PegVault/internal/math"
	"PegVault/internal/oracle"
	"PegVault/internal/token"
)

// Config carries the vault's construction parameters.
type Config struct {
	// Account is the vault's own reserve-asset account. It holds user
	// collateral and hedger margin deposits.
	Account uuid.UUID

	// MinMintRatio is the collateralization floor new mints must clear
	// (ratio scale, >= CriticalRatio).
	MinMintRatio int64

	// CriticalRatio is the solvency floor for margin availability
	// (ratio scale, >= 100%).
	CriticalRatio int64
}

// ValidateConfig checks threshold ordering and bounds.
func ValidateConfig(cfg Config) error {
	if cfg.Account == uuid.Nil {
		return fmt.Errorf("vault account is zero: %w", errs.ErrInvalidAddress)
	}
	return validateThresholds(cfg.MinMintRatio, cfg.CriticalRatio)
}

func validateThresholds(minRatio, criticalRatio int64) error {
	if minRatio < math.OneHundredPercent {
		return fmt.Errorf("min mint ratio %d below 100%%: %w", minRatio, errs.ErrInvalidParameter)
	}
	if criticalRatio < math.OneHundredPercent {
		return fmt.Errorf("critical ratio %d below 100%%: %w", criticalRatio, errs.ErrInvalidParameter)
	}
	if criticalRatio > minRatio {
		return fmt.Errorf("critical ratio %d above min mint ratio %d: %w",
			criticalRatio, minRatio, errs.ErrInvalidParameter)
	}
	return nil
}

// Vault is the collateral ledger. Not safe for concurrent use; the engine
// serializes top-level operations.
type Vault struct {
	account uuid.UUID

	reserve token.Reserve
	synth   token.Synthetic
	gateway oracle.Gateway
	reentry *guard.ReentryGuard
	acl     *access.Controller

	totalMinted     int64 // Outstanding synthetic supply issued by this vault
	totalCollateral int64 // User collateral held, reserve units
	hedgerDeposits  int64 // Hedger margin held on behalf of the position book

	minMintRatio  int64
	criticalRatio int64

	devMode bool
	paused  bool
}

// New builds a vault. The reentry guard is shared with the position book so
// cross-component reentrancy is rejected.
func New(cfg Config, reserve token.Reserve, synth token.Synthetic,
	gateway oracle.Gateway, reentry *guard.ReentryGuard, acl *access.Controller) (*Vault, error) {

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return &Vault{
		account:       cfg.Account,
		reserve:       reserve,
		synth:         synth,
		gateway:       gateway,
		reentry:       reentry,
		acl:           acl,
		minMintRatio:  cfg.MinMintRatio,
		criticalRatio: cfg.CriticalRatio,
	}, nil
}

// === Read accessors ===

func (v *Vault) Account() uuid.UUID     { return v.account }
func (v *Vault) TotalMinted() int64     { return v.totalMinted }
func (v *Vault) TotalCollateral() int64 { return v.totalCollateral }
func (v *Vault) HedgerDeposits() int64  { return v.hedgerDeposits }
func (v *Vault) MinMintRatio() int64    { return v.minMintRatio }
func (v *Vault) CriticalRatio() int64   { return v.criticalRatio }
func (v *Vault) DevMode() bool          { return v.devMode }
func (v *Vault) IsPaused() bool         { return v.paused }

// CollateralRatio returns the current global collateralization at ratio
// scale, or MaxRatio when nothing is minted or no price is usable.
func (v *Vault) CollateralRatio() int64 {
	price, err := v.currentPrice()
	if err != nil {
		return math.MaxRatio
	}
	return math.CollateralRatio(v.totalCollateral+v.hedgerDeposits, v.totalMinted, price)
}

// IsProtocolCollateralized reports whether aggregate collateral clears the
// critical floor, and how much reserve value sits above it. The surplus is
// the bound on what the position book may pay out as hedger profit.
func (v *Vault) IsProtocolCollateralized() (bool, int64) {
	price, err := v.currentPrice()
	if err != nil {
		// No usable rate: report no spendable surplus.
		return v.totalMinted == 0, 0
	}

	collateralValue := v.totalCollateral + v.hedgerDeposits
	required := math.RequiredCollateral(v.totalMinted, price, v.criticalRatio)
	if collateralValue < required {
		return false, 0
	}
	return true, collateralValue - required
}

// === Mint / Redeem ===

// Mint pulls collateralIn reserve units from the caller and issues synthetic
// units at the current rate, rounded down. minSyntheticOut bounds acceptable
// slippage. All checks precede all state changes; any failure leaves every
// balance and counter untouched.
func (v *Vault) Mint(caller uuid.UUID, collateralIn, minSyntheticOut int64) (int64, error) {
	if v.paused {
		return 0, fmt.Errorf("mint: %w", errs.ErrPaused)
	}
	if !v.reentry.Enter() {
		return 0, fmt.Errorf("mint: %w", errs.ErrReentrancy)
	}
	defer v.reentry.Exit()

	if caller == uuid.Nil {
		return 0, fmt.Errorf("mint: %w", errs.ErrInvalidAddress)
	}
	if collateralIn <= 0 {
		return 0, fmt.Errorf("mint amount %d: %w", collateralIn, errs.ErrInvalidAmount)
	}

	price, err := v.currentPrice()
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	syntheticOut := math.SyntheticFromCollateral(collateralIn, price)
	if syntheticOut <= 0 {
		return 0, fmt.Errorf("mint of %d yields no synthetic at rate %d: %w",
			collateralIn, price, errs.ErrInvalidAmount)
	}
	if syntheticOut < minSyntheticOut {
		return 0, fmt.Errorf("mint output %d below minimum %d: %w",
			syntheticOut, minSyntheticOut, errs.ErrExcessiveSlippage)
	}

	// Post-mint floor check against the mint threshold, which is at least
	// as strict as the critical floor.
	collateralValue := v.totalCollateral + collateralIn + v.hedgerDeposits
	required := math.RequiredCollateral(v.totalMinted+syntheticOut, price, v.minMintRatio)
	if collateralValue < required {
		return 0, fmt.Errorf("mint would leave collateral %d below required %d: %w",
			collateralValue, required, errs.ErrWouldBreachCollateralization)
	}

	if err := v.pullReserve(caller, collateralIn); err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	if err := v.synth.Mint(caller, syntheticOut); err != nil {
		v.refundReserve(caller, collateralIn)
		return 0, fmt.Errorf("mint: %w", err)
	}

	v.totalCollateral += collateralIn
	v.totalMinted += syntheticOut
	return syntheticOut, nil
}

// Redeem burns syntheticIn units from the caller and pays out collateral at
// the current rate, rounded down. minCollateralOut bounds acceptable
// slippage.
func (v *Vault) Redeem(caller uuid.UUID, syntheticIn, minCollateralOut int64) (int64, error) {
	if v.paused {
		return 0, fmt.Errorf("redeem: %w", errs.ErrPaused)
	}
	if !v.reentry.Enter() {
		return 0, fmt.Errorf("redeem: %w", errs.ErrReentrancy)
	}
	defer v.reentry.Exit()

	if caller == uuid.Nil {
		return 0, fmt.Errorf("redeem: %w", errs.ErrInvalidAddress)
	}
	if syntheticIn <= 0 {
		return 0, fmt.Errorf("redeem amount %d: %w", syntheticIn, errs.ErrInvalidAmount)
	}
	if syntheticIn > v.totalMinted {
		return 0, fmt.Errorf("redeem %d exceeds outstanding supply %d: %w",
			syntheticIn, v.totalMinted, errs.ErrWouldExceedLimit)
	}

	price, err := v.currentPrice()
	if err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}

	collateralOut := math.CollateralFromSynthetic(syntheticIn, price)
	if collateralOut <= 0 {
		return 0, fmt.Errorf("redeem of %d yields no collateral at rate %d: %w",
			syntheticIn, price, errs.ErrInvalidAmount)
	}
	if collateralOut < minCollateralOut {
		return 0, fmt.Errorf("redeem output %d below minimum %d: %w",
			collateralOut, minCollateralOut, errs.ErrExcessiveSlippage)
	}
	if collateralOut > v.totalCollateral {
		return 0, fmt.Errorf("redeem payout %d exceeds held collateral %d: %w",
			collateralOut, v.totalCollateral, errs.ErrWouldExceedLimit)
	}

	if err := v.synth.Burn(caller, syntheticIn); err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}

	if err := v.reserve.Transfer(v.account, caller, collateralOut); err != nil {
		// Restore the burned units; the caller keeps what they had.
		if mintErr := v.synth.Mint(caller, syntheticIn); mintErr != nil {
			panic(fmt.Sprintf("FATAL: redeem rollback failed: %v (payout error: %v)", mintErr, err))
		}
		return 0, fmt.Errorf("redeem: %w", err)
	}

	v.totalMinted -= syntheticIn
	v.totalCollateral -= collateralOut
	return collateralOut, nil
}

// === Hedger capacity (position book port) ===

// AddHedgerDeposit records margin the book has moved into the vault account.
func (v *Vault) AddHedgerDeposit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("hedger deposit %d: %w", amount, errs.ErrInvalidAmount)
	}
	v.hedgerDeposits += amount
	return nil
}

// WithdrawHedgerDeposit releases previously recorded hedger margin.
func (v *Vault) WithdrawHedgerDeposit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("hedger withdrawal %d: %w", amount, errs.ErrInvalidAmount)
	}
	if amount > v.hedgerDeposits {
		return fmt.Errorf("hedger withdrawal %d exceeds deposits %d: %w",
			amount, v.hedgerDeposits, errs.ErrWouldExceedLimit)
	}
	v.hedgerDeposits -= amount
	return nil
}

// SettleHedgerPnL settles a hedger's realized price PnL against protocol
// collateral and returns the amount actually settled. Profit (positive pnl)
// is capped by the collateral surplus above the critical floor, so a winning
// hedger can never pull the protocol under. Losses credit collateral in full.
func (v *Vault) SettleHedgerPnL(pnl int64) int64 {
	if pnl == 0 {
		return 0
	}

	if pnl < 0 {
		v.totalCollateral += -pnl
		return pnl
	}

	_, surplus := v.IsProtocolCollateralized()
	paid := pnl
	if paid > surplus {
		paid = surplus
	}
	if paid > v.totalCollateral {
		paid = v.totalCollateral
	}
	v.totalCollateral -= paid
	return paid
}

// === Administration ===

// UpdateCollateralizationThresholds replaces both ratio floors. Governor
// role required.
func (v *Vault) UpdateCollateralizationThresholds(caller uuid.UUID, minRatio, criticalRatio int64) error {
	if err := v.acl.Require(access.RoleGovernor, caller); err != nil {
		return fmt.Errorf("update thresholds: %w", err)
	}
	if err := validateThresholds(minRatio, criticalRatio); err != nil {
		return fmt.Errorf("update thresholds: %w", err)
	}
	v.minMintRatio = minRatio
	v.criticalRatio = criticalRatio
	return nil
}

// SetDevMode toggles dev mode. Dev mode relaxes only the price-validity
// check on mint and redeem; every collateralization check still applies.
// Governor role required.
func (v *Vault) SetDevMode(caller uuid.UUID, enabled bool) error {
	if err := v.acl.Require(access.RoleGovernor, caller); err != nil {
		return fmt.Errorf("set dev mode: %w", err)
	}
	v.devMode = enabled
	return nil
}

// Pause halts mint and redeem. Emergency role required.
func (v *Vault) Pause(caller uuid.UUID) error {
	if err := v.acl.Require(access.RoleEmergency, caller); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	v.paused = true
	return nil
}

// Unpause resumes operation. Governor role required.
func (v *Vault) Unpause(caller uuid.UUID) error {
	if err := v.acl.Require(access.RoleGovernor, caller); err != nil {
		return fmt.Errorf("unpause: %w", err)
	}
	v.paused = false
	return nil
}

// === Invariant checks ===

// Validate checks the vault's internal invariants. The engine treats a
// non-nil result as fatal.
func (v *Vault) Validate() error {
	if v.totalMinted < 0 {
		return fmt.Errorf("negative total minted: %d", v.totalMinted)
	}
	if v.totalCollateral < 0 {
		return fmt.Errorf("negative total collateral: %d", v.totalCollateral)
	}
	if v.hedgerDeposits < 0 {
		return fmt.Errorf("negative hedger deposits: %d", v.hedgerDeposits)
	}
	if held := v.reserve.BalanceOf(v.account); held < v.totalCollateral+v.hedgerDeposits {
		return fmt.Errorf("vault account holds %d, ledger expects %d",
			held, v.totalCollateral+v.hedgerDeposits)
	}
	return nil
}

// State is the vault's serializable counters for snapshot and restore.
type State struct {
	TotalMinted     int64 `json:"total_minted"`
	TotalCollateral int64 `json:"total_collateral"`
	HedgerDeposits  int64 `json:"hedger_deposits"`
	MinMintRatio    int64 `json:"min_mint_ratio"`
	CriticalRatio   int64 `json:"critical_ratio"`
	DevMode         bool  `json:"dev_mode"`
	Paused          bool  `json:"paused"`
}

// Snapshot captures the current counters.
func (v *Vault) Snapshot() State {
	return State{
		TotalMinted:     v.totalMinted,
		TotalCollateral: v.totalCollateral,
		HedgerDeposits:  v.hedgerDeposits,
		MinMintRatio:    v.minMintRatio,
		CriticalRatio:   v.criticalRatio,
		DevMode:         v.devMode,
		Paused:          v.paused,
	}
}

// Restore replaces the counters from a snapshot. Warm-restart path only.
func (v *Vault) Restore(s State) error {
	if err := validateThresholds(s.MinMintRatio, s.CriticalRatio); err != nil {
		return err
	}
	if s.TotalMinted < 0 || s.TotalCollateral < 0 || s.HedgerDeposits < 0 {
		return fmt.Errorf("negative counter in snapshot: %w", errs.ErrInvalidParameter)
	}
	v.totalMinted = s.TotalMinted
	v.totalCollateral = s.TotalCollateral
	v.hedgerDeposits = s.HedgerDeposits
	v.minMintRatio = s.MinMintRatio
	v.criticalRatio = s.CriticalRatio
	v.devMode = s.DevMode
	v.paused = s.Paused
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (v *Vault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 48)
	buf = appendInt64LE(buf, v.totalMinted)
	buf = appendInt64LE(buf, v.totalCollateral)
	buf = appendInt64LE(buf, v.hedgerDeposits)
	buf = appendInt64LE(buf, v.minMintRatio)
	buf = appendInt64LE(buf, v.criticalRatio)
	flags := byte(0)
	if v.devMode {
		flags |= 1
	}
	if v.paused {
		flags |= 2
	}
	buf = append(buf, flags)
	return buf
}

func appendInt64LE(buf []byte, val int64) []byte {
	return append(buf,
		byte(val),
		byte(val>>8),
		byte(val>>16),
		byte(val>>24),
		byte(val>>32),
		byte(val>>40),
		byte(val>>48),
		byte(val>>56),
	)
}

// === Internals ===

func (v *Vault) currentPrice() (int64, error) {
	price, ok := v.gateway.GetPrice()
	if !ok {
		if v.devMode && price > 0 {
			return price, nil
		}
		return 0, errs.ErrOraclePriceInvalid
	}
	return price, nil
}

// pullReserve moves amount from the caller into the vault account and
// validates the caller's balance delta with the flash-loan guard.
func (v *Vault) pullReserve(from uuid.UUID, amount int64) error {
	before := v.reserve.BalanceOf(from)
	if err := v.reserve.TransferFrom(from, v.account, amount); err != nil {
		return err
	}
	after := v.reserve.BalanceOf(from)

	if !guard.ValidateBalanceChange(before, after, amount) {
		v.refundReserve(from, amount)
		return fmt.Errorf("balance fell %d, at most %d allowed: %w",
			before-after, amount, errs.ErrWouldExceedLimit)
	}
	return nil
}

func (v *Vault) refundReserve(to uuid.UUID, amount int64) {
	if err := v.reserve.Transfer(v.account, to, amount); err != nil {
		panic(fmt.Sprintf("FATAL: collateral refund failed: %v", err))
	}
}
