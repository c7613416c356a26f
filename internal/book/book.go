// Package book implements the margin position book: leveraged hedger
// positions whose deposits back the synthetic supply and absorb the peg's
// exchange-rate risk.
package book

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"PegVault/internal/errs"
	"PegVault/internal/guard"
	"PegVault/internal/math"
	"PegVault/internal/oracle"
	"PegVault/internal/token"
)

// CollateralVault is the slice of the vault the book needs. Small
// consumer-side interface to avoid an import cycle.
type CollateralVault interface {
	Account() uuid.UUID
	IsPaused() bool
	AddHedgerDeposit(amount int64) error
	WithdrawHedgerDeposit(amount int64) error
	SettleHedgerPnL(pnl int64) int64
}

// Ticker supplies the logical tick cooldowns are measured in.
type Ticker interface {
	Tick() int64
}

// Config carries the book's risk parameters.
type Config struct {
	MinMargin            int64 // Smallest margin accepted at open (amount scale)
	MaxLeverage          int64 // Inclusive upper bound, plain multiplier
	CooldownTicks        int64 // Ticks between open/adjust and withdraw/exit
	MaintenanceRatio     int64 // Margin ratio floor after RemoveMargin (ratio scale)
	LiquidationThreshold int64 // Positions strictly below become liquidatable
	LiquidationPenalty   int64 // Fraction of equity charged on liquidation
	LiquidatorFraction   int64 // Share of the penalty paid to the liquidator
}

// ValidateConfig checks parameter bounds and ordering.
func ValidateConfig(cfg Config) error {
	if cfg.MinMargin <= 0 {
		return fmt.Errorf("min margin %d: %w", cfg.MinMargin, errs.ErrInvalidParameter)
	}
	if cfg.MaxLeverage < 1 {
		return fmt.Errorf("max leverage %d: %w", cfg.MaxLeverage, errs.ErrInvalidParameter)
	}
	if cfg.CooldownTicks < 0 {
		return fmt.Errorf("cooldown %d: %w", cfg.CooldownTicks, errs.ErrInvalidParameter)
	}
	if cfg.MaintenanceRatio <= 0 || cfg.MaintenanceRatio >= math.RatioConfig.Scale {
		return fmt.Errorf("maintenance ratio %d: %w", cfg.MaintenanceRatio, errs.ErrInvalidParameter)
	}
	if cfg.LiquidationThreshold <= 0 || cfg.LiquidationThreshold > cfg.MaintenanceRatio {
		return fmt.Errorf("liquidation threshold %d above maintenance %d: %w",
			cfg.LiquidationThreshold, cfg.MaintenanceRatio, errs.ErrInvalidParameter)
	}
	if cfg.LiquidationPenalty < 0 || cfg.LiquidationPenalty > math.RatioConfig.Scale {
		return fmt.Errorf("liquidation penalty %d: %w", cfg.LiquidationPenalty, errs.ErrInvalidParameter)
	}
	if cfg.LiquidatorFraction < 0 || cfg.LiquidatorFraction > math.RatioConfig.Scale {
		return fmt.Errorf("liquidator fraction %d: %w", cfg.LiquidatorFraction, errs.ErrInvalidParameter)
	}
	return nil
}

// Book maintains all hedger positions. Not safe for concurrent use; the
// engine serializes top-level operations.
type Book struct {
	cfg Config

	vault   CollateralVault
	reserve token.Reserve
	gateway oracle.Gateway
	reentry *guard.ReentryGuard
	ticker  Ticker

	positions map[int64]*Position
	nextID    int64

	totalMargin   int64
	totalExposure int64
	activeByOwner map[uuid.UUID]int
}

// New builds an empty book. The reentry guard is the same instance the vault
// holds, so hedger entry points cannot be re-entered from mint or redeem
// callbacks and vice versa.
func New(cfg Config, vault CollateralVault, reserve token.Reserve,
	gateway oracle.Gateway, reentry *guard.ReentryGuard, ticker Ticker) (*Book, error) {

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return &Book{
		cfg:           cfg,
		vault:         vault,
		reserve:       reserve,
		gateway:       gateway,
		reentry:       reentry,
		ticker:        ticker,
		positions:     make(map[int64]*Position),
		nextID:        1,
		activeByOwner: make(map[uuid.UUID]int),
	}, nil
}

// === Read accessors ===

func (b *Book) Config() Config       { return b.cfg }
func (b *Book) TotalMargin() int64   { return b.totalMargin }
func (b *Book) TotalExposure() int64 { return b.totalExposure }

// GetPosition returns a copy; mutations go through the operations.
func (b *Book) GetPosition(id int64) (Position, bool) {
	p, ok := b.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// HasActiveHedger reports whether the owner holds any active position.
func (b *Book) HasActiveHedger(owner uuid.UUID) bool {
	return b.activeByOwner[owner] > 0
}

// ActivePositionCount returns the number of active positions.
func (b *Book) ActivePositionCount() int {
	n := 0
	for _, p := range b.positions {
		if p.Status == PositionStatusActive {
			n++
		}
	}
	return n
}

// PositionsOf returns copies of the owner's positions, ordered by ID.
func (b *Book) PositionsOf(owner uuid.UUID) []Position {
	var out []Position
	for _, p := range b.positions {
		if p.Owner == owner {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// === Operations ===

// EnterPosition pulls marginIn from the caller, reserves it as hedger
// capacity in the vault, and opens a position with exposure
// marginIn * leverage at the current rate.
func (b *Book) EnterPosition(caller uuid.UUID, marginIn, leverage int64) (int64, error) {
	if b.vault.IsPaused() {
		return 0, fmt.Errorf("enter position: %w", errs.ErrPaused)
	}
	if !b.reentry.Enter() {
		return 0, fmt.Errorf("enter position: %w", errs.ErrReentrancy)
	}
	defer b.reentry.Exit()

	if caller == uuid.Nil {
		return 0, fmt.Errorf("enter position: %w", errs.ErrInvalidAddress)
	}
	if marginIn <= 0 {
		return 0, fmt.Errorf("margin %d: %w", marginIn, errs.ErrInvalidAmount)
	}
	if marginIn < b.cfg.MinMargin {
		return 0, fmt.Errorf("margin %d below floor %d: %w",
			marginIn, b.cfg.MinMargin, errs.ErrBelowThreshold)
	}
	if leverage < 1 || leverage > b.cfg.MaxLeverage {
		return 0, fmt.Errorf("leverage %d outside [1, %d]: %w",
			leverage, b.cfg.MaxLeverage, errs.ErrInvalidLeverage)
	}

	price, ok := b.gateway.GetPrice()
	if !ok {
		return 0, fmt.Errorf("enter position: %w", errs.ErrOraclePriceInvalid)
	}

	if err := b.pullReserve(caller, marginIn); err != nil {
		return 0, fmt.Errorf("enter position: %w", err)
	}
	if err := b.vault.AddHedgerDeposit(marginIn); err != nil {
		b.refundReserve(caller, marginIn)
		return 0, fmt.Errorf("enter position: %w", err)
	}

	tick := b.ticker.Tick()
	id := b.nextID
	b.nextID++

	b.positions[id] = &Position{
		ID:                 id,
		Owner:              caller,
		Margin:             marginIn,
		Leverage:           leverage,
		Exposure:           marginIn * leverage,
		EntryPrice:         price,
		OpenedAtTick:       tick,
		LastAdjustedAtTick: tick,
		Status:             PositionStatusActive,
	}

	b.totalMargin += marginIn
	b.totalExposure += marginIn * leverage
	b.activeByOwner[caller]++
	return id, nil
}

// AddMargin tops up an active position. Exposure is fixed at open, so added
// margin lowers effective leverage.
func (b *Book) AddMargin(caller uuid.UUID, positionID, amount int64) error {
	if b.vault.IsPaused() {
		return fmt.Errorf("add margin: %w", errs.ErrPaused)
	}
	if !b.reentry.Enter() {
		return fmt.Errorf("add margin: %w", errs.ErrReentrancy)
	}
	defer b.reentry.Exit()

	pos, err := b.activePosition(caller, positionID)
	if err != nil {
		return fmt.Errorf("add margin: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("add margin %d: %w", amount, errs.ErrInvalidAmount)
	}

	if err := b.pullReserve(caller, amount); err != nil {
		return fmt.Errorf("add margin: %w", err)
	}
	if err := b.vault.AddHedgerDeposit(amount); err != nil {
		b.refundReserve(caller, amount)
		return fmt.Errorf("add margin: %w", err)
	}

	pos.Margin += amount
	pos.LastAdjustedAtTick = b.ticker.Tick()
	b.totalMargin += amount
	return nil
}

// RemoveMargin withdraws part of an active position's margin. The cooldown
// must have elapsed, the remainder must stay at or above the margin floor,
// and the resulting margin ratio must stay at or above maintenance.
func (b *Book) RemoveMargin(caller uuid.UUID, positionID, amount int64) error {
	if b.vault.IsPaused() {
		return fmt.Errorf("remove margin: %w", errs.ErrPaused)
	}
	if !b.reentry.Enter() {
		return fmt.Errorf("remove margin: %w", errs.ErrReentrancy)
	}
	defer b.reentry.Exit()

	pos, err := b.activePosition(caller, positionID)
	if err != nil {
		return fmt.Errorf("remove margin: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("remove margin %d: %w", amount, errs.ErrInvalidAmount)
	}
	if err := b.checkCooldown(pos); err != nil {
		return fmt.Errorf("remove margin: %w", err)
	}
	if pos.Margin-amount < b.cfg.MinMargin {
		return fmt.Errorf("remaining margin %d below floor %d: %w",
			pos.Margin-amount, b.cfg.MinMargin, errs.ErrBelowThreshold)
	}

	price, ok := b.gateway.GetPrice()
	if !ok {
		return fmt.Errorf("remove margin: %w", errs.ErrOraclePriceInvalid)
	}
	ratio := math.MarginRatio(pos.Margin-amount+pos.PnL(price), pos.Exposure)
	if ratio < b.cfg.MaintenanceRatio {
		return fmt.Errorf("resulting margin ratio %d below maintenance %d: %w",
			ratio, b.cfg.MaintenanceRatio, errs.ErrWouldBreachCollateralization)
	}

	pos.Margin -= amount
	pos.LastAdjustedAtTick = b.ticker.Tick()
	b.totalMargin -= amount

	if err := b.vault.WithdrawHedgerDeposit(amount); err != nil {
		pos.Margin += amount
		b.totalMargin += amount
		return fmt.Errorf("remove margin: %w", err)
	}
	if err := b.reserve.Transfer(b.vault.Account(), caller, amount); err != nil {
		panic(fmt.Sprintf("FATAL: margin payout failed after withdrawal: %v", err))
	}
	return nil
}

// ExitPosition closes an active position after the cooldown, settling its
// price PnL against protocol collateral. Profit is bounded by the vault's
// surplus above the critical floor; losses beyond margin are absorbed.
func (b *Book) ExitPosition(caller uuid.UUID, positionID int64) (int64, error) {
	if b.vault.IsPaused() {
		return 0, fmt.Errorf("exit position: %w", errs.ErrPaused)
	}
	if !b.reentry.Enter() {
		return 0, fmt.Errorf("exit position: %w", errs.ErrReentrancy)
	}
	defer b.reentry.Exit()

	pos, err := b.activePosition(caller, positionID)
	if err != nil {
		return 0, fmt.Errorf("exit position: %w", err)
	}
	if err := b.checkCooldown(pos); err != nil {
		return 0, fmt.Errorf("exit position: %w", err)
	}

	price, ok := b.gateway.GetPrice()
	if !ok {
		return 0, fmt.Errorf("exit position: %w", errs.ErrOraclePriceInvalid)
	}

	pnl := pos.PnL(price)
	if pnl < -pos.Margin {
		pnl = -pos.Margin
	}

	settled := b.vault.SettleHedgerPnL(pnl)
	payout := pos.Margin + settled

	b.closePosition(pos, PositionStatusClosed)

	if err := b.vault.WithdrawHedgerDeposit(pos.Margin); err != nil {
		panic(fmt.Sprintf("FATAL: hedger deposit release failed: %v", err))
	}
	if payout > 0 {
		if err := b.reserve.Transfer(b.vault.Account(), caller, payout); err != nil {
			panic(fmt.Sprintf("FATAL: exit payout failed: %v", err))
		}
	}
	return payout, nil
}

// Liquidate closes an undercollateralized position. Anyone may call. The
// penalty is charged against remaining equity and split between the caller
// and the protocol; the rest of the equity is returned to the owner.
// Attempting to liquidate a non-active position fails without effect.
func (b *Book) Liquidate(caller uuid.UUID, positionID int64) (int64, error) {
	if b.vault.IsPaused() {
		return 0, fmt.Errorf("liquidate: %w", errs.ErrPaused)
	}
	if !b.reentry.Enter() {
		return 0, fmt.Errorf("liquidate: %w", errs.ErrReentrancy)
	}
	defer b.reentry.Exit()

	if caller == uuid.Nil {
		return 0, fmt.Errorf("liquidate: %w", errs.ErrInvalidAddress)
	}
	pos, ok := b.positions[positionID]
	if !ok {
		return 0, fmt.Errorf("liquidate: position %d not found: %w",
			positionID, errs.ErrInvalidCondition)
	}
	if pos.Status != PositionStatusActive {
		return 0, fmt.Errorf("liquidate: position %d is %s: %w",
			positionID, pos.Status, errs.ErrInvalidCondition)
	}

	price, priceOK := b.gateway.GetPrice()
	if !priceOK {
		return 0, fmt.Errorf("liquidate: %w", errs.ErrOraclePriceInvalid)
	}

	ratio := pos.MarginRatio(price)
	if ratio >= b.cfg.LiquidationThreshold {
		return 0, fmt.Errorf("liquidate: margin ratio %d at or above threshold %d: %w",
			ratio, b.cfg.LiquidationThreshold, errs.ErrInvalidCondition)
	}

	pnl := pos.PnL(price)
	if pnl < -pos.Margin {
		pnl = -pos.Margin
	}

	settled := b.vault.SettleHedgerPnL(pnl)
	equity := pos.Margin + settled

	penalty := math.ComputeLiquidationPenalty(equity, b.cfg.LiquidationPenalty)
	split := math.SplitPenalty(penalty, b.cfg.LiquidatorFraction)
	ownerRemainder := equity - penalty

	b.closePosition(pos, PositionStatusLiquidated)

	if err := b.vault.WithdrawHedgerDeposit(pos.Margin); err != nil {
		panic(fmt.Sprintf("FATAL: hedger deposit release failed: %v", err))
	}
	// Protocol share of the penalty stays in the vault account as collateral.
	if split.Protocol > 0 {
		b.vault.SettleHedgerPnL(-split.Protocol)
	}
	if split.Liquidator > 0 {
		if err := b.reserve.Transfer(b.vault.Account(), caller, split.Liquidator); err != nil {
			panic(fmt.Sprintf("FATAL: liquidator payout failed: %v", err))
		}
	}
	if ownerRemainder > 0 {
		if err := b.reserve.Transfer(b.vault.Account(), pos.Owner, ownerRemainder); err != nil {
			panic(fmt.Sprintf("FATAL: owner remainder payout failed: %v", err))
		}
	}
	return split.Liquidator, nil
}

// === Invariant checks ===

// Validate checks margin conservation: the aggregates must equal the sums
// over active positions. The engine treats a non-nil result as fatal.
func (b *Book) Validate() error {
	var margin, exposure int64
	active := make(map[uuid.UUID]int)

	for _, p := range b.positions {
		if p.Status != PositionStatusActive {
			continue
		}
		margin += p.Margin
		exposure += p.Exposure
		active[p.Owner]++
	}

	if margin != b.totalMargin {
		return fmt.Errorf("total margin %d, active positions sum to %d", b.totalMargin, margin)
	}
	if exposure != b.totalExposure {
		return fmt.Errorf("total exposure %d, active positions sum to %d", b.totalExposure, exposure)
	}
	for owner, n := range b.activeByOwner {
		if n != active[owner] {
			return fmt.Errorf("owner %s active count %d, positions show %d", owner, n, active[owner])
		}
	}
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing, positions
// ordered by ID.
func (b *Book) CanonicalBytes() []byte {
	ids := make([]int64, 0, len(b.positions))
	for id := range b.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, 32+len(ids)*80)
	buf = appendInt64LE(buf, b.nextID)
	buf = appendInt64LE(buf, b.totalMargin)
	buf = appendInt64LE(buf, b.totalExposure)
	for _, id := range ids {
		buf = append(buf, b.positions[id].CanonicalBytes()...)
	}
	return buf
}

// Snapshot returns copies of every position ordered by ID plus the next ID
// to assign. Warm-restart path.
func (b *Book) Snapshot() ([]Position, int64) {
	ids := make([]int64, 0, len(b.positions))
	for id := range b.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *b.positions[id])
	}
	return out, b.nextID
}

// Restore replaces the position set from a snapshot and rebuilds the
// aggregates. Warm-restart path only.
func (b *Book) Restore(positions []Position, nextID int64) error {
	restored := make(map[int64]*Position, len(positions))
	active := make(map[uuid.UUID]int)
	var margin, exposure int64

	for i := range positions {
		p := positions[i]
		if p.ID <= 0 || p.ID >= nextID {
			return fmt.Errorf("position id %d outside [1, %d): %w", p.ID, nextID, errs.ErrInvalidParameter)
		}
		if _, dup := restored[p.ID]; dup {
			return fmt.Errorf("duplicate position id %d: %w", p.ID, errs.ErrInvalidParameter)
		}
		restored[p.ID] = &p
		if p.Status == PositionStatusActive {
			margin += p.Margin
			exposure += p.Exposure
			active[p.Owner]++
		}
	}

	b.positions = restored
	b.nextID = nextID
	b.totalMargin = margin
	b.totalExposure = exposure
	b.activeByOwner = active
	return nil
}

// === Internals ===

func (b *Book) activePosition(caller uuid.UUID, positionID int64) (*Position, error) {
	if caller == uuid.Nil {
		return nil, errs.ErrInvalidAddress
	}
	pos, ok := b.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %d not found: %w", positionID, errs.ErrInvalidCondition)
	}
	if pos.Status != PositionStatusActive {
		return nil, fmt.Errorf("position %d is %s: %w", positionID, pos.Status, errs.ErrInvalidCondition)
	}
	if pos.Owner != caller {
		return nil, fmt.Errorf("position %d owned by %s: %w", positionID, pos.Owner, errs.ErrNotAuthorized)
	}
	return pos, nil
}

func (b *Book) checkCooldown(pos *Position) error {
	elapsed := b.ticker.Tick() - pos.LastAdjustedAtTick
	if elapsed < b.cfg.CooldownTicks {
		return fmt.Errorf("cooldown: %d of %d ticks elapsed: %w",
			elapsed, b.cfg.CooldownTicks, errs.ErrInvalidCondition)
	}
	return nil
}

func (b *Book) closePosition(pos *Position, next PositionStatus) {
	if !pos.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: invalid transition %s -> %s for position %d",
			pos.Status, next, pos.ID))
	}
	pos.Status = next
	b.totalMargin -= pos.Margin
	b.totalExposure -= pos.Exposure
	b.activeByOwner[pos.Owner]--
	if b.activeByOwner[pos.Owner] == 0 {
		delete(b.activeByOwner, pos.Owner)
	}
}

func (b *Book) pullReserve(from uuid.UUID, amount int64) error {
	before := b.reserve.BalanceOf(from)
	if err := b.reserve.TransferFrom(from, b.vault.Account(), amount); err != nil {
		return err
	}
	after := b.reserve.BalanceOf(from)

	if !guard.ValidateBalanceChange(before, after, amount) {
		b.refundReserve(from, amount)
		return fmt.Errorf("balance fell %d, at most %d allowed: %w",
			before-after, amount, errs.ErrWouldExceedLimit)
	}
	return nil
}

func (b *Book) refundReserve(to uuid.UUID, amount int64) {
	if err := b.reserve.Transfer(b.vault.Account(), to, amount); err != nil {
		panic(fmt.Sprintf("FATAL: margin refund failed: %v", err))
	}
}
